// Package pipeline implements C7, the intelligent search pipeline: query
// variant generation, per-variant retrieval, reciprocal-rank fusion,
// multi-factor reranking, and greedy similarity dedup. It depends only on
// narrow interfaces (Searcher, embedding.Provider) so it never imports the
// lumen package itself; lumen's pipeline_adapter.go adapts *Collection to
// Searcher (Collection.AsSearcher).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenvec/lumen/internal/embedding"
	"github.com/lumenvec/lumen/internal/memory"
	"github.com/lumenvec/lumen/internal/obs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MinQueryVariants and MaxQueryVariants bound the configurable query
	// variant count; DefaultQueryVariants is used when a request doesn't
	// specify one.
	MinQueryVariants     = 1
	MaxQueryVariants     = 8
	DefaultQueryVariants = 4

	// rrfConstant is the k in RRF's 1/(k+rank) scoring term.
	rrfConstant = 60

	// DefaultDedupThreshold is the cosine similarity above which two
	// results are considered near-duplicates during greedy dedup.
	DefaultDedupThreshold = 0.92

	dedupCacheCapacity = 8 << 20 // 8MiB
)

// ErrCrossDimension is returned by ValidateCollections when a
// multi-collection search spans collections of different vector
// dimensions, which would silently corrupt z-score normalized fusion.
var ErrCrossDimension = errors.New("pipeline: cannot fuse results across collections of different dimensions")

// Candidate is a single retrieval hit, tagged with the collection it came
// from so results can be fused across collections.
type Candidate struct {
	CollectionID string
	ID           string
	Score        float32 // similarity; higher is better
	Vector       []float32
	Metadata     map[string]interface{}
}

// Searcher is the retrieval surface the pipeline needs from a collection.
// *lumen.Collection's own Search returns a different result type;
// Collection.AsSearcher wraps it to satisfy this.
type Searcher interface {
	Dim() int
	Name() string
	Search(ctx context.Context, vector []float32, k int) ([]Candidate, error)
}

// Weights configures the reranker's multi-factor score.
type Weights struct {
	Rank       float64
	Similarity float64
	Freshness  float64
	Overlap    float64
}

// DefaultWeights matches SPEC_FULL.md's Open Question decision: rank
// dominates, similarity is the next strongest signal, freshness and
// source-overlap are minor tie-breakers.
func DefaultWeights() Weights {
	return Weights{Rank: 0.5, Similarity: 0.3, Freshness: 0.1, Overlap: 0.1}
}

// Request describes one intelligent search.
type Request struct {
	Query       string
	Domain      string
	Collections []Searcher
	K           int
	Variants    int                                        // 0 uses DefaultQueryVariants
	Filter      func(metadata map[string]interface{}) bool // hard pre-rerank filter (contextual search)
}

// Result is a fused, reranked, deduped hit.
type Result struct {
	CollectionID string
	ID           string
	FusedScore   float64
	RerankScore  float64
	Vector       []float32
	Metadata     map[string]interface{}
}

// Response wraps a search's results plus whether it completed within its
// deadline (Partial) or ran to completion.
type Response struct {
	RequestID string
	Results   []Result
	Partial   bool
}

// ValidateCollections rejects a multi-collection search across collections
// of different vector dimensions, since z-score normalized fusion assumes
// a shared metric space.
func ValidateCollections(collections []Searcher) error {
	if len(collections) == 0 {
		return fmt.Errorf("pipeline: at least one collection is required")
	}
	dim := collections[0].Dim()
	for _, c := range collections[1:] {
		if c.Dim() != dim {
			return ErrCrossDimension
		}
	}
	return nil
}

// Engine runs the C7 pipeline.
type Engine struct {
	embedder   embedding.Provider
	circuit    *obs.CircuitBreaker
	dedupCache *memory.LRUCache
	weights    Weights
	dedupThr   float64
	variantGen VariantGenerator
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWeights overrides the reranker's default weights.
func WithWeights(w Weights) EngineOption {
	return func(e *Engine) { e.weights = w }
}

// WithDedupThreshold overrides the default 0.92 dedup similarity cutoff.
func WithDedupThreshold(threshold float64) EngineOption {
	return func(e *Engine) { e.dedupThr = threshold }
}

// WithVariantGenerator overrides the default deterministic variant
// generator, e.g. with one backed by an LLM paraphraser.
func WithVariantGenerator(g VariantGenerator) EngineOption {
	return func(e *Engine) { e.variantGen = g }
}

// WithLogger attaches structured logging.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine builds a pipeline Engine over embedder.
func NewEngine(embedder embedding.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		embedder:   embedder,
		circuit:    obs.NewCircuitBreaker(obs.DefaultCircuitBreakerConfig("pipeline-embedder")),
		dedupCache: memory.NewLRUCache("pipeline-dedup", dedupCacheCapacity),
		weights:    DefaultWeights(),
		dedupThr:   DefaultDedupThreshold,
		variantGen: deterministicVariantGenerator{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs the full intelligent search pipeline: variant generation,
// fan-out retrieval, RRF fusion, multi-factor rerank, and greedy dedup.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("pipeline: query cannot be empty")
	}
	if err := ValidateCollections(req.Collections); err != nil {
		return nil, err
	}
	if req.K <= 0 {
		req.K = 10
	}

	n := req.Variants
	if n == 0 {
		n = DefaultQueryVariants
	}
	if n < MinQueryVariants {
		n = MinQueryVariants
	}
	if n > MaxQueryVariants {
		n = MaxQueryVariants
	}

	requestID := uuid.NewString()
	variants := e.variantGen.Generate(req.Query, req.Domain, n)

	var mu sync.Mutex
	rrf := make(map[candKey]float64)
	cands := make(map[candKey]Candidate)

	g, gctx := errgroup.WithContext(ctx)
	for _, variant := range variants {
		variant := variant
		g.Go(func() error {
			vec, err := e.embedQuery(gctx, variant)
			if err != nil {
				return err
			}
			return e.retrieveVariant(gctx, vec, req, &mu, rrf, cands)
		})
	}

	partial := false
	if err := g.Wait(); err != nil {
		if gctx.Err() != nil && len(cands) > 0 {
			partial = true
			e.logger.Warn("intelligent search partial", zap.String("request_id", requestID), zap.Error(err))
		} else {
			return nil, fmt.Errorf("pipeline: retrieval failed: %w", err)
		}
	}

	originalVec, err := e.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	reranked := e.rerank(cands, rrf, originalVec, req.Query)
	deduped := e.dedup(reranked)

	return &Response{RequestID: requestID, Results: deduped, Partial: partial}, nil
}

// candKey identifies a candidate by the collection it came from and its id
// within that collection, so the same id in two different collections
// fuses as two distinct candidates.
type candKey struct{ coll, id string }

// retrieveVariant searches every requested collection for one query variant
// embedding, z-score normalizing per collection before interleaving so
// collections with different score distributions contribute fairly to
// fusion, then accumulates each candidate's reciprocal rank contribution.
func (e *Engine) retrieveVariant(
	ctx context.Context,
	vec []float32,
	req Request,
	mu *sync.Mutex,
	rrf map[candKey]float64,
	cands map[candKey]Candidate,
) error {
	type scored struct {
		c Candidate
		z float64
	}
	var pool []scored

	for _, searcher := range req.Collections {
		hits, err := searcher.Search(ctx, vec, req.K)
		if err != nil {
			return fmt.Errorf("search collection %s: %w", searcher.Name(), err)
		}
		if req.Filter != nil {
			filtered := hits[:0]
			for _, h := range hits {
				if req.Filter(h.Metadata) {
					filtered = append(filtered, h)
				}
			}
			hits = filtered
		}
		for _, z := range zScoreNormalize(hits) {
			pool = append(pool, scored{c: z.c, z: z.z})
		}
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].z > pool[j].z })

	mu.Lock()
	defer mu.Unlock()
	for rank, s := range pool {
		k := candKey{s.c.CollectionID, s.c.ID}
		rrf[k] += 1.0 / float64(rrfConstant+rank+1)
		cands[k] = s.c
	}
	return nil
}

type zNormalized struct {
	c Candidate
	z float64
}

// zScoreNormalize rescales a single collection's raw similarity scores to
// z-scores so its contribution to cross-collection fusion isn't skewed by
// that collection's particular score distribution.
func zScoreNormalize(hits []Candidate) []zNormalized {
	if len(hits) == 0 {
		return nil
	}
	var sum float64
	for _, h := range hits {
		sum += float64(h.Score)
	}
	mean := sum / float64(len(hits))

	var variance float64
	for _, h := range hits {
		d := float64(h.Score) - mean
		variance += d * d
	}
	variance /= float64(len(hits))
	std := math.Sqrt(variance)
	if std == 0 {
		std = 1
	}

	out := make([]zNormalized, len(hits))
	for i, h := range hits {
		out[i] = zNormalized{c: h, z: (float64(h.Score) - mean) / std}
	}
	return out
}

// rerank applies the multi-factor score: fused RRF rank, cosine similarity
// to the original query embedding, payload freshness, and text overlap.
func (e *Engine) rerank(
	cands map[candKey]Candidate,
	rrf map[candKey]float64,
	originalVec []float32,
	originalQuery string,
) []Result {
	var maxRRF float64
	for _, v := range rrf {
		if v > maxRRF {
			maxRRF = v
		}
	}
	if maxRRF == 0 {
		maxRRF = 1
	}

	results := make([]Result, 0, len(cands))
	for k, c := range cands {
		rankScore := rrf[k] / maxRRF
		similarity := cosineSimilarity(originalVec, c.Vector)
		freshness := freshnessScore(c.Metadata)
		overlap := textOverlapScore(originalQuery, c.Metadata)

		final := e.weights.Rank*rankScore +
			e.weights.Similarity*similarity +
			e.weights.Freshness*freshness +
			e.weights.Overlap*overlap

		results = append(results, Result{
			CollectionID: c.CollectionID,
			ID:           c.ID,
			FusedScore:   rrf[k],
			RerankScore:  final,
			Vector:       c.Vector,
			Metadata:     c.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RerankScore > results[j].RerankScore })
	return results
}

// dedup greedily drops results whose vector is near-duplicate (cosine
// similarity above the configured threshold) of a higher-ranked result
// already kept. Pairwise comparisons are cached since the same pair can
// recur across requests that share overlapping candidate pools.
func (e *Engine) dedup(ranked []Result) []Result {
	kept := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		isDup := false
		for _, k := range kept {
			if e.cachedSimilarity(r, k) >= e.dedupThr {
				isDup = true
				break
			}
		}
		if !isDup {
			kept = append(kept, r)
		}
	}
	return kept
}

func (e *Engine) cachedSimilarity(a, b Result) float64 {
	key := a.CollectionID + ":" + a.ID + "|" + b.CollectionID + ":" + b.ID
	if v, ok := e.dedupCache.Get(key); ok {
		return v.(float64)
	}
	sim := cosineSimilarity(a.Vector, b.Vector)
	e.dedupCache.Put(key, sim, int64(len(key))+16)
	return sim
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.circuit.Execute(ctx, func() error {
		v, err := e.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: embed query: %w", err)
	}
	return vec, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// freshnessScore decays linearly over 30 days from a payload's "timestamp"
// field (RFC3339 or unix seconds), or returns 0 if absent.
func freshnessScore(metadata map[string]interface{}) float64 {
	if metadata == nil {
		return 0
	}
	raw, ok := metadata["timestamp"]
	if !ok {
		return 0
	}

	var ts time.Time
	switch v := raw.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0
		}
		ts = parsed
	case float64:
		ts = time.Unix(int64(v), 0)
	case int64:
		ts = time.Unix(v, 0)
	default:
		return 0
	}

	age := time.Since(ts)
	const window = 30 * 24 * time.Hour
	if age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

// textOverlapScore is a BM25-flavored Jaccard overlap between the query's
// tokens and a payload "text" field's tokens, used when source text is
// present in the payload.
func textOverlapScore(query string, metadata map[string]interface{}) float64 {
	if metadata == nil {
		return 0
	}
	raw, ok := metadata["text"]
	if !ok {
		return 0
	}
	text, ok := raw.(string)
	if !ok || text == "" {
		return 0
	}

	qTokens := tokenSet(query)
	tTokens := tokenSet(text)
	if len(qTokens) == 0 || len(tTokens) == 0 {
		return 0
	}

	intersect := 0
	for t := range qTokens {
		if tTokens[t] {
			intersect++
		}
	}
	union := len(qTokens) + len(tTokens) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
