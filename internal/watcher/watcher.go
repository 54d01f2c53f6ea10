// Package watcher implements C8, the file watcher and incremental indexer:
// it watches configured paths for create/write/remove events, debounces and
// coalesces them, and runs each surviving event through a
// chunk-embed-upsert (or delete) pipeline against a target collection.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/lumenvec/lumen/internal/embedding"
	"github.com/lumenvec/lumen/internal/obs"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Indexer is the write surface the watcher needs from a target collection.
// *lumen.Collection satisfies this directly.
type Indexer interface {
	Insert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error
	Delete(ctx context.Context, id string) error
}

// Config configures one watcher instance.
type Config struct {
	Paths         []string
	Include       []string // glob patterns; empty means match everything
	Exclude       []string // glob patterns
	Debounce      time.Duration
	HighWaterMark int // pending event count above which the debounce window extends
	MaxInFlight   int // bounded concurrency for the embed+upsert pipeline
	ChunkWords    int
	ChunkOverlap  int
}

// DefaultConfig matches SPEC_FULL.md's §4.7 defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:      300 * time.Millisecond,
		HighWaterMark: 1000,
		MaxInFlight:   8,
		ChunkWords:    200,
		ChunkOverlap:  20,
	}
}

// coalescedOp is what an event window resolves to for one path.
type coalescedOp int

const (
	opNone coalescedOp = iota
	opUpsert
	opDelete
)

// Watcher watches a set of paths and indexes changed files into a target
// collection.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	indexer  Indexer
	embedder embedding.Provider
	circuit  *obs.CircuitBreaker
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]coalescedOp
	timers  map[string]*time.Timer
	fileIDs map[string][]string // path -> vector ids inserted for that path

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Watcher over cfg. indexer receives upserts/deletes; embedder
// produces vectors for chunked file content.
func New(cfg Config, indexer Indexer, embedder embedding.Provider, logger *zap.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultConfig().HighWaterMark
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	if cfg.ChunkWords <= 0 {
		cfg.ChunkWords = DefaultConfig().ChunkWords
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		indexer:  indexer,
		embedder: embedder,
		circuit:  obs.NewCircuitBreaker(obs.DefaultCircuitBreakerConfig("watcher-embedder")),
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxInFlight*2), cfg.MaxInFlight*2),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		logger:   logger,
		pending:  make(map[string]coalescedOp),
		timers:   make(map[string]*time.Timer),
		fileIDs:  make(map[string][]string),
	}

	for _, p := range cfg.Paths {
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watcher: watch %s: %w", p, err)
		}
	}

	return w, nil
}

// Start begins the watch loop in a background goroutine. Stop must be
// called to release resources.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop ends the watch loop and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher: fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !w.matches(ev.Name) {
		return
	}

	var op coalescedOp
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		op = opUpsert
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		op = opDelete
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[ev.Name] = coalesce(w.pending[ev.Name], op)

	window := w.cfg.Debounce
	if len(w.pending) > w.cfg.HighWaterMark {
		// Backpressure: extend the debounce window instead of dropping
		// events, giving the in-flight pipeline time to drain.
		window *= 2
	}

	if t, exists := w.timers[ev.Name]; exists {
		t.Stop()
	}
	w.timers[ev.Name] = time.AfterFunc(window, func() {
		w.resolve(ctx, ev.Name)
	})
}

// coalesce implements event-window coalescing: any sequence ending in
// delete resolves to delete (for a create+delete within one window this is
// equivalent to the spec's "nothing", since no vectors were indexed yet for
// a path that never survived the window, so the resulting delete is a
// no-op), and create+modify stays an upsert either way.
func coalesce(prev, next coalescedOp) coalescedOp {
	switch {
	case prev == opNone:
		return next
	case next == opDelete:
		return opDelete
	case prev == opDelete && next == opUpsert:
		// A delete immediately followed by a recreate inside one window is
		// simplest to treat as a fresh upsert.
		return opUpsert
	default:
		return next
	}
}

func (w *Watcher) resolve(ctx context.Context, path string) {
	w.mu.Lock()
	op, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.mu.Unlock()

	if !ok || op == opNone {
		return
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer w.sem.Release(1)

	switch op {
	case opUpsert:
		if err := w.indexFile(ctx, path); err != nil {
			w.logger.Warn("watcher: index file failed", zap.String("path", path), zap.Error(err))
		}
	case opDelete:
		w.removeFile(ctx, path)
	}
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)

	if len(w.cfg.Include) > 0 {
		matched := false
		for _, pattern := range w.cfg.Include {
			if ok, _ := filepath.Match(pattern, base); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, pattern := range w.cfg.Exclude {
		if ok, _ := filepath.Match(pattern, base); ok {
			return false
		}
	}

	return true
}

func (w *Watcher) indexFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.removeFile(ctx, path)
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	chunks := chunkText(string(content), w.cfg.ChunkWords, w.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	var vectors [][]float32
	err = w.circuit.Execute(ctx, func() error {
		v, err := w.embedder.EmbedDocuments(ctx, chunks)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("embed %s: %w", path, err)
	}

	w.removeFile(ctx, path) // drop any previous chunks from an earlier version of this file

	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if i >= len(vectors) {
			break
		}
		id := uuid.NewString()
		metadata := map[string]interface{}{
			"source_path": path,
			"chunk_index": i,
			"text":        chunk,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		}
		if err := w.indexer.Insert(ctx, id, vectors[i], metadata); err != nil {
			return fmt.Errorf("upsert chunk %d of %s: %w", i, path, err)
		}
		ids = append(ids, id)
	}

	w.mu.Lock()
	w.fileIDs[path] = ids
	w.mu.Unlock()

	return nil
}

func (w *Watcher) removeFile(ctx context.Context, path string) {
	w.mu.Lock()
	ids := w.fileIDs[path]
	delete(w.fileIDs, path)
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.indexer.Delete(ctx, id); err != nil {
			w.logger.Debug("watcher: delete stale chunk failed", zap.String("path", path), zap.String("id", id), zap.Error(err))
		}
	}
}

// chunkText splits content into overlapping word windows, grounded on the
// corpus's own fixed-size-with-overlap chunker.
func chunkText(content string, chunkWords, overlap int) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	for i := 0; i < len(words); i += chunkWords {
		end := i + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if overlap > 0 && end < len(words) {
			i -= overlap
		}
	}
	return chunks
}
