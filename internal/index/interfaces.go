package index

import (
	"context"
	"time"

	"github.com/lumenvec/lumen/internal/index/hnsw"
	"github.com/lumenvec/lumen/internal/quant"
	"github.com/lumenvec/lumen/internal/util"
)

// Index defines the interface for vector indexes
type Index interface {
	Insert(ctx context.Context, entry *VectorEntry) error
	Search(ctx context.Context, query []float32, k int) ([]*SearchResult, error)
	Delete(ctx context.Context, id string) error
	Size() int
	MemoryUsage() int64
	Close() error

	SaveToDisk(ctx context.Context, path string) error
	LoadFromDisk(ctx context.Context, path string) error
	GetPersistenceMetadata() *PersistenceMetadata

	// NeedsCompaction reports whether the tombstone fraction has crossed the
	// configured rebuild threshold.
	NeedsCompaction() bool
	// Compact rebuilds the index from scratch, discarding tombstoned nodes.
	Compact(ctx context.Context) error
}

// VectorEntry represents a vector entry (avoid circular imports)
type VectorEntry struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// SearchResult represents a search result (avoid circular imports)
type SearchResult struct {
	ID       string
	Score    float32
	Vector   []float32
	Metadata map[string]interface{}
}

// PersistenceMetadata holds metadata about a persisted index
type PersistenceMetadata struct {
	Version       uint32    `json:"version"`
	NodeCount     int       `json:"node_count"`
	Dimension     int       `json:"dimension"`
	MaxLevel      int       `json:"max_level"`
	IndexType     string    `json:"index_type"`
	CreatedAt     time.Time `json:"created_at"`
	ChecksumCRC32 uint32    `json:"checksum_crc32"`
	FileSize      int64     `json:"file_size"`
}

// IndexType represents the index algorithm. HNSW is the only one lumen
// ships; the type still exists so collection config and storage metadata
// have somewhere to record it.
type IndexType int

const (
	IndexTypeHNSW IndexType = iota
)

func (it IndexType) String() string {
	switch it {
	case IndexTypeHNSW:
		return "HNSW"
	default:
		return "Unknown"
	}
}

// HNSWConfig holds configuration for HNSW index
type HNSWConfig struct {
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
	ML             float64
	Metric         util.DistanceMetric
	RandomSeed     int64
	Quantization   *quant.QuantizationConfig
	// TombstoneCompactionThreshold is the fraction of tombstoned nodes that
	// triggers NeedsCompaction. Defaults to 0.2 when unset.
	TombstoneCompactionThreshold float64
}

// hnswWrapper wraps the HNSW index to adapt between interface types
type hnswWrapper struct {
	index *hnsw.Index
}

func (w *hnswWrapper) Insert(ctx context.Context, entry *VectorEntry) error {
	hnswEntry := &hnsw.VectorEntry{
		ID:       entry.ID,
		Vector:   entry.Vector,
		Metadata: entry.Metadata,
	}
	return w.index.Insert(ctx, hnswEntry)
}

func (w *hnswWrapper) Search(ctx context.Context, query []float32, k int) ([]*SearchResult, error) {
	hnswResults, err := w.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, len(hnswResults))
	for i, r := range hnswResults {
		results[i] = &SearchResult{
			ID:       r.ID,
			Score:    r.Score,
			Vector:   r.Vector,
			Metadata: r.Metadata,
		}
	}
	return results, nil
}

func (w *hnswWrapper) Delete(ctx context.Context, id string) error {
	return w.index.Delete(ctx, id)
}

func (w *hnswWrapper) Size() int { return w.index.Size() }

func (w *hnswWrapper) MemoryUsage() int64 { return w.index.MemoryUsage() }

func (w *hnswWrapper) Close() error { return w.index.Close() }

func (w *hnswWrapper) SaveToDisk(ctx context.Context, path string) error {
	return w.index.SaveToDisk(ctx, path)
}

func (w *hnswWrapper) LoadFromDisk(ctx context.Context, path string) error {
	return w.index.LoadFromDisk(ctx, path)
}

func (w *hnswWrapper) NeedsCompaction() bool { return w.index.NeedsCompaction() }

func (w *hnswWrapper) Compact(ctx context.Context) error { return w.index.Compact(ctx) }

func (w *hnswWrapper) GetPersistenceMetadata() *PersistenceMetadata {
	hnswMeta := w.index.GetPersistenceMetadata()
	if hnswMeta == nil {
		return nil
	}

	return &PersistenceMetadata{
		Version:       hnswMeta.Version,
		NodeCount:     hnswMeta.NodeCount,
		Dimension:     hnswMeta.Dimension,
		MaxLevel:      hnswMeta.MaxLevel,
		IndexType:     "HNSW",
		CreatedAt:     hnswMeta.CreatedAt,
		ChecksumCRC32: hnswMeta.ChecksumCRC32,
		FileSize:      hnswMeta.FileSize,
	}
}

// Underlying returns the wrapped HNSW index for callers (storage, compaction
// jobs) that need the concrete type instead of the interface.
func (w *hnswWrapper) Underlying() *hnsw.Index { return w.index }

// NewHNSW creates a new HNSW index
func NewHNSW(config *HNSWConfig) (Index, error) {
	hnswConfig := &hnsw.Config{
		Dimension:                    config.Dimension,
		M:                            config.M,
		EfConstruction:               config.EfConstruction,
		EfSearch:                     config.EfSearch,
		ML:                           config.ML,
		Metric:                       config.Metric,
		RandomSeed:                   config.RandomSeed,
		Quantization:                 config.Quantization,
		TombstoneCompactionThreshold: config.TombstoneCompactionThreshold,
	}

	hnswIndex, err := hnsw.NewHNSW(hnswConfig)
	if err != nil {
		return nil, err
	}

	return &hnswWrapper{index: hnswIndex}, nil
}

// WrapHNSW adapts an already-constructed HNSW index (e.g. one just loaded
// from disk by the storage layer) to the Index interface.
func WrapHNSW(idx *hnsw.Index) Index {
	return &hnswWrapper{index: idx}
}
