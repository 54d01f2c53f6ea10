package quant

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"sync"
)

// scalarBlockDTO is the gob-serializable form of scalarBlock (exported
// fields are required for encoding/gob).
type scalarBlockDTO struct {
	MinValues []float32
	MaxValues []float32
	Scales    []float32
	Offsets   []float32
}

// scalarBlock holds the per-dimension quantization range for one block of
// vectors.
type scalarBlock struct {
	minValues []float32
	maxValues []float32
	scales    []float32
	offsets   []float32
}

// ScalarQuantizer implements block-wise Scalar Quantization (SQ-8 by
// default). Rather than a single global min/max per dimension, vectors are
// grouped into blocks of config.BlockSize and each block keeps its own
// min/max range, so a block of outlier vectors doesn't blow out the
// precision available to every other block.
type ScalarQuantizer struct {
	mu sync.RWMutex

	config *QuantizationConfig

	trained   bool
	dimension int

	blocks []scalarBlock

	// insertCount assigns each compressed vector to a block in round-robin
	// order over the trained blocks. Compress has no positional context from
	// its caller, so this approximates "vectors inserted around the same
	// time share a range" without requiring the index to pass a block id.
	insertCount uint64

	maxLevel uint32

	memoryUsage int64
}

func NewScalarQuantizer() *ScalarQuantizer {
	return &ScalarQuantizer{trained: false}
}

func (sq *ScalarQuantizer) Configure(config *QuantizationConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if config.Type != ScalarQuantization {
		return fmt.Errorf("expected ScalarQuantization type, got %s", config.Type.String())
	}

	sq.mu.Lock()
	defer sq.mu.Unlock()

	if config.BlockSize <= 0 {
		config.BlockSize = 256
	}
	sq.config = config
	sq.maxLevel = (1 << config.Bits) - 1

	return nil
}

// Train computes one min/max range per dimension for each sequential block
// of config.BlockSize training vectors.
func (sq *ScalarQuantizer) Train(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("no training vectors provided")
	}
	if sq.config == nil {
		return fmt.Errorf("quantizer not configured")
	}

	sq.mu.Lock()
	defer sq.mu.Unlock()

	sq.dimension = len(vectors[0])
	for i, vec := range vectors {
		if len(vec) != sq.dimension {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), sq.dimension)
		}
	}

	numTraining := int(float64(len(vectors)) * sq.config.TrainRatio)
	if numTraining < 1 {
		numTraining = len(vectors)
	}
	trainingVectors := sq.sampleVectors(vectors, numTraining)

	blockSize := sq.config.BlockSize
	numBlocks := (len(trainingVectors) + blockSize - 1) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	sq.blocks = make([]scalarBlock, numBlocks)

	for b := 0; b < numBlocks; b++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := b * blockSize
		end := start + blockSize
		if end > len(trainingVectors) {
			end = len(trainingVectors)
		}
		chunk := trainingVectors[start:end]
		if len(chunk) == 0 {
			chunk = trainingVectors[len(trainingVectors)-1:]
		}

		block := scalarBlock{
			minValues: make([]float32, sq.dimension),
			maxValues: make([]float32, sq.dimension),
			scales:    make([]float32, sq.dimension),
			offsets:   make([]float32, sq.dimension),
		}
		copy(block.minValues, chunk[0])
		copy(block.maxValues, chunk[0])

		for _, vec := range chunk {
			for d := 0; d < sq.dimension; d++ {
				if vec[d] < block.minValues[d] {
					block.minValues[d] = vec[d]
				}
				if vec[d] > block.maxValues[d] {
					block.maxValues[d] = vec[d]
				}
			}
		}

		for d := 0; d < sq.dimension; d++ {
			r := block.maxValues[d] - block.minValues[d]
			if r == 0 {
				block.scales[d] = 1.0
				block.offsets[d] = block.minValues[d]
			} else {
				block.scales[d] = r / float32(sq.maxLevel)
				block.offsets[d] = block.minValues[d]
			}
		}

		sq.blocks[b] = block
	}

	sq.trained = true
	sq.updateMemoryUsage()

	return nil
}

func (sq *ScalarQuantizer) currentBlock() *scalarBlock {
	idx := int(sq.insertCount % uint64(len(sq.blocks)))
	return &sq.blocks[idx]
}

// Compress quantizes a vector using the block it round-robins into. The
// block id is packed into the first 2 bytes (little-endian) so Decompress
// and Distance can recover the right range without external bookkeeping.
func (sq *ScalarQuantizer) Compress(vector []float32) ([]byte, error) {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	if !sq.trained {
		return nil, fmt.Errorf("quantizer not trained")
	}
	if len(vector) != sq.dimension {
		return nil, fmt.Errorf("vector dimension %d does not match expected %d", len(vector), sq.dimension)
	}

	blockIdx := uint16(sq.insertCount % uint64(len(sq.blocks)))
	block := &sq.blocks[blockIdx]
	sq.insertCount++

	bitsPerValue := sq.config.Bits
	totalBits := sq.dimension * bitsPerValue
	numBytes := (totalBits + 7) / 8

	compressed := make([]byte, 2+numBytes)
	compressed[0] = byte(blockIdx)
	compressed[1] = byte(blockIdx >> 8)

	bitOffset := 0
	for d := 0; d < sq.dimension; d++ {
		value := vector[d]
		if value < block.minValues[d] {
			value = block.minValues[d]
		} else if value > block.maxValues[d] {
			value = block.maxValues[d]
		}

		normalized := (value - block.offsets[d]) / block.scales[d]
		quantized := uint32(normalized + 0.5)
		if quantized > sq.maxLevel {
			quantized = sq.maxLevel
		}

		sq.packBits(compressed[2:], bitOffset, bitsPerValue, quantized)
		bitOffset += bitsPerValue
	}

	return compressed, nil
}

func (sq *ScalarQuantizer) blockFor(data []byte) (*scalarBlock, []byte, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("compressed vector too short")
	}
	blockIdx := int(data[0]) | int(data[1])<<8
	if blockIdx >= len(sq.blocks) {
		return nil, nil, fmt.Errorf("block index %d out of range", blockIdx)
	}
	return &sq.blocks[blockIdx], data[2:], nil
}

func (sq *ScalarQuantizer) Decompress(data []byte) ([]float32, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()

	if !sq.trained {
		return nil, fmt.Errorf("quantizer not trained")
	}

	block, payload, err := sq.blockFor(data)
	if err != nil {
		return nil, err
	}

	vector := make([]float32, sq.dimension)
	bitOffset := 0
	bitsPerValue := sq.config.Bits

	for d := 0; d < sq.dimension; d++ {
		quantized := sq.unpackBits(payload, bitOffset, bitsPerValue)
		bitOffset += bitsPerValue
		vector[d] = block.offsets[d] + float32(quantized)*block.scales[d]
	}

	return vector, nil
}

// Distance dequantizes both sides (they may belong to different blocks with
// different scales, so quantized-space comparison would be meaningless) and
// computes Euclidean distance.
func (sq *ScalarQuantizer) Distance(compressed1, compressed2 []byte) (float32, error) {
	v1, err := sq.Decompress(compressed1)
	if err != nil {
		return 0, err
	}
	v2, err := sq.Decompress(compressed2)
	if err != nil {
		return 0, err
	}

	var distance float32
	for d := range v1 {
		diff := v1[d] - v2[d]
		distance += diff * diff
	}
	return float32(math.Sqrt(float64(distance))), nil
}

func (sq *ScalarQuantizer) DistanceToQuery(compressed []byte, query []float32) (float32, error) {
	sq.mu.RLock()
	if !sq.trained {
		sq.mu.RUnlock()
		return 0, fmt.Errorf("quantizer not trained")
	}
	if len(query) != sq.dimension {
		sq.mu.RUnlock()
		return 0, fmt.Errorf("query dimension %d does not match expected %d", len(query), sq.dimension)
	}
	block, payload, err := sq.blockFor(compressed)
	if err != nil {
		sq.mu.RUnlock()
		return 0, err
	}
	bitsPerValue := sq.config.Bits
	sq.mu.RUnlock()

	var distance float32
	bitOffset := 0
	for d := 0; d < sq.dimension; d++ {
		quantized := sq.unpackBits(payload, bitOffset, bitsPerValue)
		bitOffset += bitsPerValue
		dequantized := block.offsets[d] + float32(quantized)*block.scales[d]
		diff := query[d] - dequantized
		distance += diff * diff
	}
	return float32(math.Sqrt(float64(distance))), nil
}

func (sq *ScalarQuantizer) sampleVectors(vectors [][]float32, n int) [][]float32 {
	if n >= len(vectors) {
		return vectors
	}
	step := len(vectors) / n
	if step < 1 {
		step = 1
	}
	sampled := make([][]float32, 0, n)
	for i := 0; i < len(vectors) && len(sampled) < n; i += step {
		sampled = append(sampled, vectors[i])
	}
	return sampled
}

func (sq *ScalarQuantizer) packBits(data []byte, bitOffset, numBits int, value uint32) {
	for i := 0; i < numBits; i++ {
		byteIdx := (bitOffset + i) / 8
		bitIdx := (bitOffset + i) % 8
		if byteIdx >= len(data) {
			return
		}
		if (value>>i)&1 == 1 {
			data[byteIdx] |= 1 << bitIdx
		}
	}
}

func (sq *ScalarQuantizer) unpackBits(data []byte, bitOffset, numBits int) uint32 {
	value := uint32(0)
	for i := 0; i < numBits; i++ {
		byteIdx := (bitOffset + i) / 8
		bitIdx := (bitOffset + i) % 8
		if byteIdx >= len(data) {
			break
		}
		if (data[byteIdx]>>bitIdx)&1 == 1 {
			value |= 1 << i
		}
	}
	return value
}

func (sq *ScalarQuantizer) updateMemoryUsage() {
	usage := int64(0)
	for _, b := range sq.blocks {
		usage += int64(len(b.minValues)*4) * 4
	}
	sq.memoryUsage = usage
}

func (sq *ScalarQuantizer) CompressionRatio() float32 {
	if !sq.trained {
		return 0
	}
	originalBits := sq.dimension * 32
	compressedBits := sq.dimension*sq.config.Bits + 16
	return float32(originalBits) / float32(compressedBits)
}

func (sq *ScalarQuantizer) MemoryUsage() int64 {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return sq.memoryUsage
}

func (sq *ScalarQuantizer) IsTrained() bool {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return sq.trained
}

func (sq *ScalarQuantizer) Config() *QuantizationConfig {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	if sq.config == nil {
		return nil
	}
	configCopy := *sq.config
	return &configCopy
}

// Serialize gob-encodes the trained block ranges and the insertion counter
// so block assignment stays stable across a save/load cycle.
func (sq *ScalarQuantizer) Serialize() ([]byte, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()

	if !sq.trained {
		return nil, fmt.Errorf("quantizer not trained")
	}

	dtos := make([]scalarBlockDTO, len(sq.blocks))
	for i, b := range sq.blocks {
		dtos[i] = scalarBlockDTO{MinValues: b.minValues, MaxValues: b.maxValues, Scales: b.scales, Offsets: b.offsets}
	}

	var buf bytes.Buffer
	payload := struct {
		Dimension   int
		MaxLevel    uint32
		InsertCount uint64
		Blocks      []scalarBlockDTO
	}{sq.dimension, sq.maxLevel, sq.insertCount, dtos}

	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode scalar quantizer state: %w", err)
	}
	return buf.Bytes(), nil
}

func (sq *ScalarQuantizer) Deserialize(data []byte) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	if sq.config == nil {
		return fmt.Errorf("quantizer not configured")
	}

	var payload struct {
		Dimension   int
		MaxLevel    uint32
		InsertCount uint64
		Blocks      []scalarBlockDTO
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return fmt.Errorf("decode scalar quantizer state: %w", err)
	}

	sq.dimension = payload.Dimension
	sq.maxLevel = payload.MaxLevel
	sq.insertCount = payload.InsertCount
	sq.blocks = make([]scalarBlock, len(payload.Blocks))
	for i, d := range payload.Blocks {
		sq.blocks[i] = scalarBlock{minValues: d.MinValues, maxValues: d.MaxValues, scales: d.Scales, offsets: d.Offsets}
	}
	sq.trained = true
	sq.updateMemoryUsage()
	return nil
}

type ScalarQuantizerFactory struct{}

func NewScalarQuantizerFactory() *ScalarQuantizerFactory {
	return &ScalarQuantizerFactory{}
}

func (f *ScalarQuantizerFactory) Create(config *QuantizationConfig) (Quantizer, error) {
	if config.Type != ScalarQuantization {
		return nil, fmt.Errorf("unsupported quantization type: %s", config.Type.String())
	}
	sq := NewScalarQuantizer()
	if err := sq.Configure(config); err != nil {
		return nil, err
	}
	return sq, nil
}

func (f *ScalarQuantizerFactory) Supports(qType QuantizationType) bool {
	return qType == ScalarQuantization
}

func (f *ScalarQuantizerFactory) Name() string {
	return "ScalarQuantizer"
}
