// Package lumen provides an embeddable vector database library with HNSW
// indexing, on-disk persistence, and metadata filtering.
package lumen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumenvec/lumen/internal/backend"
	"github.com/lumenvec/lumen/internal/obs"
	"github.com/lumenvec/lumen/internal/storage"
	"go.uber.org/zap"
)

// Database represents the main vector database instance
type Database struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	fs          *storage.FileStore
	metrics     *obs.Metrics
	health      *obs.HealthChecker
	config      *Config
	closed      bool

	logger   *zap.Logger
	backends *backend.Selector
}

// Config holds database-wide configuration
type Config struct {
	StoragePath    string
	MetricsEnabled bool
	TracingEnabled bool
	MaxCollections int

	// Logger receives structured logs for store-wide events (backend
	// selection, collection lifecycle). Defaults to a no-op logger.
	Logger *zap.Logger

	// BackendOverride forces selection of a named compute backend instead
	// of probing priority order. See internal/backend.
	BackendOverride string
}

// New creates a new Database instance with the given options
func New(opts ...Option) (*Database, error) {
	config := &Config{
		StoragePath:    "./data",
		MetricsEnabled: true,
		TracingEnabled: false,
		MaxCollections: 100,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, Validationf("failed to apply option: %v", err)
		}
	}

	fs, err := storage.NewFileStore(config.StoragePath)
	if err != nil {
		return nil, Internalf("failed to initialize storage: %v", err).WithCause(err)
	}

	var metrics *obs.Metrics
	if config.MetricsEnabled {
		metrics = obs.NewMetrics()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db := &Database{
		collections: make(map[string]*Collection),
		fs:          fs,
		metrics:     metrics,
		config:      config,
		logger:      logger,
		backends:    backend.NewSelector(logger),
	}

	if _, err := db.backends.Select(context.Background(), config.BackendOverride); err != nil {
		return nil, BackendUnavailablef("compute backend selection failed: %v", err).WithCause(err)
	}

	db.health = obs.NewHealthChecker()
	db.health.Register("storage", db.checkStorage)
	db.health.Register("collections", db.checkCollections)

	if err := db.loadExistingCollections(context.Background()); err != nil {
		return nil, Internalf("failed to load existing collections: %v", err).WithCause(err)
	}

	return db, nil
}

// ComputeBackend returns the compute backend selected at startup (C9).
func (db *Database) ComputeBackend() backend.ComputeBackend {
	return db.backends.Current()
}

func (db *Database) checkStorage(ctx context.Context) *obs.CheckResult {
	if _, err := db.fs.ListCollections(); err != nil {
		return &obs.CheckResult{Level: obs.HealthUnhealthy, Message: err.Error()}
	}
	return &obs.CheckResult{Level: obs.HealthHealthy, Message: "ok"}
}

func (db *Database) checkCollections(ctx context.Context) *obs.CheckResult {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.collections) >= db.config.MaxCollections {
		return &obs.CheckResult{Level: obs.HealthDegraded, Message: "collection count at configured maximum"}
	}
	return &obs.CheckResult{Level: obs.HealthHealthy, Message: fmt.Sprintf("%d collections loaded", len(db.collections))}
}

// CreateCollection creates a new collection with the specified options
func (db *Database) CreateCollection(ctx context.Context, name string, opts ...CollectionOption) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, &Error{Kind: KindConflict, Message: ErrStoreClosed.Error(), Timestamp: time.Now()}
	}

	if _, exists := db.collections[name]; exists {
		return nil, Conflictf("collection %q already exists", name)
	}

	if len(db.collections) >= db.config.MaxCollections {
		return nil, Backpressuref("maximum number of collections (%d) exceeded", db.config.MaxCollections)
	}

	collection, err := newCollection(name, db.fs, db.metrics, opts...)
	if err != nil {
		return nil, err
	}

	db.collections[name] = collection
	return collection, nil
}

// GetCollection retrieves an existing collection by name, loading it from
// disk on first access if it is not already resident.
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, &Error{Kind: KindConflict, Message: ErrStoreClosed.Error(), Timestamp: time.Now()}
	}

	if collection, exists := db.collections[name]; exists {
		return collection, nil
	}

	meta, idx, err := db.fs.LoadCollection(context.Background(), name)
	if err != nil {
		return nil, NotFoundf("collection %q not found", name).WithCause(err)
	}

	collection := newCollectionFromStorage(name, db.fs, db.metrics, meta, idx)
	db.collections[name] = collection

	return collection, nil
}

// DropCollection deletes a collection and its on-disk state.
func (db *Database) DropCollection(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return &Error{Kind: KindConflict, Message: ErrStoreClosed.Error(), Timestamp: time.Now()}
	}

	if collection, exists := db.collections[name]; exists {
		_ = collection.index.Close()
		delete(db.collections, name)
	}

	if err := db.fs.DeleteCollection(name); err != nil {
		return Internalf("failed to delete collection %q: %v", name, err).WithCause(err)
	}
	return nil
}

// ListCollections returns the names of all collections, including ones
// persisted on disk but not yet loaded into memory.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	loaded := make(map[string]bool, len(db.collections))
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		loaded[name] = true
		names = append(names, name)
	}
	db.mu.RUnlock()

	onDisk, err := db.fs.ListCollections()
	if err != nil {
		return names
	}
	for _, name := range onDisk {
		if !loaded[name] {
			names = append(names, name)
		}
	}
	return names
}

// Health returns the current health status
func (db *Database) Health(ctx context.Context) (*obs.HealthStatus, error) {
	return db.health.Check(ctx)
}

// Stats returns database statistics
func (db *Database) Stats() *DatabaseStats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stats := &DatabaseStats{
		CollectionCount: len(db.collections),
		Collections:     make(map[string]*CollectionStats),
	}

	var totalMemory int64
	for name, collection := range db.collections {
		collectionStats := collection.Stats()
		stats.Collections[name] = collectionStats
		totalMemory += collectionStats.MemoryUsage
	}

	stats.MemoryUsage = totalMemory
	return stats
}

// OptimizeCollection performs optimization on a specific collection
func (db *Database) OptimizeCollection(ctx context.Context, name string, options *OptimizationOptions) error {
	collection, err := db.GetCollection(name)
	if err != nil {
		return err
	}

	return collection.OptimizeCollection(ctx, options)
}

// OptimizeAllCollections performs optimization on all collections
func (db *Database) OptimizeAllCollections(ctx context.Context, options *OptimizationOptions) error {
	db.mu.RLock()
	collections := make([]*Collection, 0, len(db.collections))
	for _, collection := range db.collections {
		collections = append(collections, collection)
	}
	db.mu.RUnlock()

	var errs []error
	for _, collection := range collections {
		if err := collection.OptimizeCollection(ctx, options); err != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", collection.name, err))
		}
	}

	if len(errs) > 0 {
		return Internalf("optimization errors: %v", errs)
	}

	return nil
}

// SetGlobalMemoryLimit sets a memory limit that applies to all collections
func (db *Database) SetGlobalMemoryLimit(bytes int64) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return &Error{Kind: KindConflict, Message: ErrStoreClosed.Error(), Timestamp: time.Now()}
	}

	collectionCount := len(db.collections)
	if collectionCount == 0 {
		return nil
	}

	perCollectionLimit := bytes / int64(collectionCount)

	var errs []error
	for _, collection := range db.collections {
		if err := collection.SetMemoryLimit(perCollectionLimit); err != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", collection.name, err))
		}
	}

	if len(errs) > 0 {
		return Internalf("memory limit errors: %v", errs)
	}

	return nil
}

// GetGlobalMemoryUsage returns total memory usage across all collections
func (db *Database) GetGlobalMemoryUsage() (*GlobalMemoryUsage, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, &Error{Kind: KindConflict, Message: ErrStoreClosed.Error(), Timestamp: time.Now()}
	}

	usage := &GlobalMemoryUsage{
		Collections: make(map[string]*CollectionMemoryStats),
		Timestamp:   time.Now(),
	}

	for name, collection := range db.collections {
		memUsage, err := collection.GetMemoryUsage()
		if err != nil {
			continue
		}

		usage.Collections[name] = memUsage
		usage.TotalMemory += memUsage.Total
		usage.TotalIndex += memUsage.Index
		usage.TotalCache += memUsage.Cache
		usage.TotalQuantized += memUsage.Quantized
		usage.TotalMemoryMapped += memUsage.MemoryMapped
	}

	return usage, nil
}

// TriggerGlobalGC forces garbage collection across all collections
func (db *Database) TriggerGlobalGC() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return &Error{Kind: KindConflict, Message: ErrStoreClosed.Error(), Timestamp: time.Now()}
	}

	for _, collection := range db.collections {
		_ = collection.TriggerGC()
	}

	return nil
}

// loadExistingCollections is intentionally a no-op: collections persisted
// under StoragePath are loaded lazily by GetCollection, since rebuilding an
// HNSW graph from disk is not free and most deployments only touch a subset
// of their collections per process lifetime.
func (db *Database) loadExistingCollections(ctx context.Context) error {
	return nil
}

// Close gracefully shuts down the database, persisting every loaded
// collection.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}

	var errs []error
	for _, collection := range db.collections {
		if err := collection.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	db.closed = true

	if len(errs) > 0 {
		return Internalf("errors during shutdown: %v", errs)
	}

	return nil
}
