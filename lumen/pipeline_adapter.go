package lumen

import (
	"context"

	"github.com/lumenvec/lumen/internal/embedding"
	"github.com/lumenvec/lumen/internal/pipeline"
	"github.com/lumenvec/lumen/internal/watcher"
)

// Dim and Name supply part of internal/pipeline.Searcher; its Search
// method comes from searcherAdapter (see AsSearcher).

// Dim returns the collection's configured vector dimension.
func (c *Collection) Dim() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Dimension
}

// Name returns the collection's name.
func (c *Collection) Name() string {
	return c.name
}

// PipelineSearch adapts Collection.Search's result shape to
// []pipeline.Candidate; AsSearcher exposes it as pipeline.Searcher's Search.
func (c *Collection) PipelineSearch(ctx context.Context, vector []float32, k int) ([]pipeline.Candidate, error) {
	results, err := c.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Candidate, len(results.Results))
	for i, r := range results.Results {
		out[i] = pipeline.Candidate{
			CollectionID: c.name,
			ID:           r.ID,
			Score:        r.Score,
			Vector:       r.Vector,
			Metadata:     r.Metadata,
		}
	}
	return out, nil
}

// searcherAdapter exposes PipelineSearch under the Search name
// pipeline.Searcher expects, without renaming Collection's own public
// Search method (whose signature and callers predate the pipeline).
type searcherAdapter struct {
	*Collection
}

func (s searcherAdapter) Search(ctx context.Context, vector []float32, k int) ([]pipeline.Candidate, error) {
	return s.Collection.PipelineSearch(ctx, vector, k)
}

// AsSearcher adapts a Collection to internal/pipeline.Searcher for use in
// an intelligent search request.
func (c *Collection) AsSearcher() pipeline.Searcher {
	return searcherAdapter{c}
}

// IntelligentSearch runs the C7 pipeline (query variant generation, RRF
// fusion, multi-factor rerank, dedup) across one or more collections.
func (db *Database) IntelligentSearch(ctx context.Context, engine *pipeline.Engine, req pipeline.Request) (*pipeline.Response, error) {
	return engine.Search(ctx, req)
}

// NewSearchEngine builds a pipeline.Engine backed by the given embedding
// provider, ready to pass to IntelligentSearch.
func (db *Database) NewSearchEngine(embedder embedding.Provider, opts ...pipeline.EngineOption) *pipeline.Engine {
	return pipeline.NewEngine(embedder, opts...)
}

// StartFileWatcher starts a file watcher (C8) that chunks, embeds, and
// upserts changed files into target. Callers must call Stop on the
// returned watcher during shutdown.
func (db *Database) StartFileWatcher(ctx context.Context, cfg watcher.Config, target *Collection, embedder embedding.Provider) (*watcher.Watcher, error) {
	w, err := watcher.New(cfg, target, embedder, db.logger)
	if err != nil {
		return nil, Internalf("start file watcher: %v", err).WithCause(err)
	}
	w.Start(ctx)
	return w, nil
}
