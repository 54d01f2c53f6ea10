package lumen

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenvec/lumen/internal/filter"
)

// QueryBuilder provides a fluent interface for building vector queries
type QueryBuilder struct {
	ctx        context.Context
	collection *Collection
	vector     []float32
	filters    []filter.Filter
	limit      int
	threshold  float32
	efSearch   int // Recorded by WithEfSearch; not used by Execute
}

// Filter represents a metadata filter condition (deprecated, use filter package)
type Filter struct {
	Field    string
	Operator FilterOperator
	Value    interface{}
}

// FilterOperator defines filter comparison operations (deprecated, use filter package)
type FilterOperator int

const (
	Equal FilterOperator = iota
	NotEqual
	GreaterThan
	LessThan
	In
	NotIn
)

// WithVector sets the query vector
func (qb *QueryBuilder) WithVector(vector []float32) *QueryBuilder {
	qb.vector = make([]float32, len(vector))
	copy(qb.vector, vector)
	return qb
}

// WithFilter adds a metadata filter using the new filter system
func (qb *QueryBuilder) WithFilter(f filter.Filter) *QueryBuilder {
	qb.filters = append(qb.filters, f)
	return qb
}

// Eq adds an equality filter (convenience method)
func (qb *QueryBuilder) Eq(field string, value interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewEqualityFilter(field, value))
}

// Gt adds a strictly-greater-than filter (convenience method)
func (qb *QueryBuilder) Gt(field string, value interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewGreaterThanFilter(field, value))
}

// Gte adds a greater-than-or-equal filter (convenience method)
func (qb *QueryBuilder) Gte(field string, value interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewGreaterThanOrEqualFilter(field, value))
}

// Lt adds a strictly-less-than filter (convenience method)
func (qb *QueryBuilder) Lt(field string, value interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewLessThanFilter(field, value))
}

// Lte adds a less-than-or-equal filter (convenience method)
func (qb *QueryBuilder) Lte(field string, value interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewLessThanOrEqualFilter(field, value))
}

// Exists adds a field-presence filter (convenience method)
func (qb *QueryBuilder) Exists(field string) *QueryBuilder {
	return qb.WithFilter(filter.NewExistsFilter(field))
}

// Between adds a range filter (convenience method)
func (qb *QueryBuilder) Between(field string, min, max interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewBetweenFilter(field, min, max))
}

// ContainsAny adds a containment filter for any values (convenience method)
func (qb *QueryBuilder) ContainsAny(field string, values []interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewContainsAnyFilter(field, values))
}

// ContainsAll adds a containment filter for all values (convenience method)
func (qb *QueryBuilder) ContainsAll(field string, values []interface{}) *QueryBuilder {
	return qb.WithFilter(filter.NewContainsAllFilter(field, values))
}

// And creates a new QueryBuilder with AND logic for combining filters
func (qb *QueryBuilder) And() *FilterChain {
	return &FilterChain{
		queryBuilder: qb,
		operator:     filter.AndOperator,
		filters:      []filter.Filter{},
	}
}

// Or creates a new QueryBuilder with OR logic for combining filters
func (qb *QueryBuilder) Or() *FilterChain {
	return &FilterChain{
		queryBuilder: qb,
		operator:     filter.OrOperator,
		filters:      []filter.Filter{},
	}
}

// Not creates a NOT filter wrapper around the provided filter
func (qb *QueryBuilder) Not(f filter.Filter) *QueryBuilder {
	return qb.WithFilter(filter.NewNotFilter(f))
}

// NotEq adds a not-equal filter (convenience method)
func (qb *QueryBuilder) NotEq(field string, value interface{}) *QueryBuilder {
	return qb.Not(filter.NewEqualityFilter(field, value))
}

// FilterChain provides a fluent interface for chaining filters with logical operators
type FilterChain struct {
	queryBuilder *QueryBuilder
	operator     filter.LogicalOperator
	filters      []filter.Filter
}

// Eq adds an equality filter to the chain
func (fc *FilterChain) Eq(field string, value interface{}) *FilterChain {
	fc.filters = append(fc.filters, filter.NewEqualityFilter(field, value))
	return fc
}

// Gt adds a greater than filter to the chain
func (fc *FilterChain) Gt(field string, value interface{}) *FilterChain {
	fc.filters = append(fc.filters, filter.NewGreaterThanFilter(field, value))
	return fc
}

// Lt adds a less than filter to the chain
func (fc *FilterChain) Lt(field string, value interface{}) *FilterChain {
	fc.filters = append(fc.filters, filter.NewLessThanFilter(field, value))
	return fc
}

// Between adds a range filter to the chain
func (fc *FilterChain) Between(field string, min, max interface{}) *FilterChain {
	fc.filters = append(fc.filters, filter.NewBetweenFilter(field, min, max))
	return fc
}

// ContainsAny adds a containment filter for any values to the chain
func (fc *FilterChain) ContainsAny(field string, values []interface{}) *FilterChain {
	fc.filters = append(fc.filters, filter.NewContainsAnyFilter(field, values))
	return fc
}

// ContainsAll adds a containment filter for all values to the chain
func (fc *FilterChain) ContainsAll(field string, values []interface{}) *FilterChain {
	fc.filters = append(fc.filters, filter.NewContainsAllFilter(field, values))
	return fc
}

// Filter adds a custom filter to the chain
func (fc *FilterChain) Filter(f filter.Filter) *FilterChain {
	fc.filters = append(fc.filters, f)
	return fc
}

// Not adds a NOT filter wrapper around the provided filter to the chain
func (fc *FilterChain) Not(f filter.Filter) *FilterChain {
	fc.filters = append(fc.filters, filter.NewNotFilter(f))
	return fc
}

// NotEq adds a not-equal filter to the chain
func (fc *FilterChain) NotEq(field string, value interface{}) *FilterChain {
	return fc.Not(filter.NewEqualityFilter(field, value))
}

// End completes the filter chain and returns the QueryBuilder
func (fc *FilterChain) End() *QueryBuilder {
	if len(fc.filters) == 0 {
		return fc.queryBuilder
	}

	var combinedFilter filter.Filter
	if len(fc.filters) == 1 {
		combinedFilter = fc.filters[0]
	} else {
		switch fc.operator {
		case filter.AndOperator:
			combinedFilter = filter.NewAndFilter(fc.filters...)
		case filter.OrOperator:
			combinedFilter = filter.NewOrFilter(fc.filters...)
		default:
			combinedFilter = filter.NewAndFilter(fc.filters...)
		}
	}

	return fc.queryBuilder.WithFilter(combinedFilter)
}

// Limit sets the maximum number of results to return
func (qb *QueryBuilder) Limit(k int) *QueryBuilder {
	qb.limit = k
	return qb
}

// WithThreshold sets a minimum similarity threshold
func (qb *QueryBuilder) WithThreshold(threshold float32) *QueryBuilder {
	qb.threshold = threshold
	return qb
}

// WithEfSearch records an efSearch value on the builder. Execute does not
// pass it to the index search, which uses the collection's EfSearch.
func (qb *QueryBuilder) WithEfSearch(efSearch int) *QueryBuilder {
	qb.efSearch = efSearch
	return qb
}

// defaultOverfetch and its bounds implement the post-ANN filtering strategy:
// retrieve k * overfetch candidates, apply the filter, and double overfetch
// (up to the cap) if too few survive.
const (
	defaultOverfetch = 3
	minOverfetch     = 1
	maxOverfetch     = 20
)

// Execute runs the query and returns results
func (qb *QueryBuilder) Execute() (*SearchResults, error) {
	if qb.vector == nil {
		return nil, Validationf("query vector is required")
	}

	if qb.limit <= 0 {
		return nil, Validationf("limit must be positive, got %d", qb.limit)
	}

	optimizedFilters := qb.optimizeFilters()

	var (
		result     *SearchResults
		overfetch  = defaultOverfetch
		lastErr    error
		finalTotal time.Duration
	)

	for {
		searchK := qb.limit * overfetch
		if searchK < qb.limit {
			searchK = qb.limit
		}

		raw, err := qb.collection.Search(qb.ctx, qb.vector, searchK)
		if err != nil {
			return nil, err
		}
		finalTotal = raw.Took

		filtered := raw.Results
		if len(optimizedFilters) > 0 {
			filtered, lastErr = qb.applyFilters(raw.Results, optimizedFilters)
			if lastErr != nil {
				return nil, fmt.Errorf("failed to apply filters: %w", lastErr)
			}
		}

		if qb.threshold > 0 {
			filtered = qb.applyThreshold(filtered)
		}

		result = &SearchResults{Results: filtered, Took: raw.Took, Total: len(filtered)}

		enough := len(filtered) >= qb.limit || len(raw.Results) < searchK
		if enough || overfetch >= maxOverfetch {
			break
		}
		overfetch *= 2
		if overfetch > maxOverfetch {
			overfetch = maxOverfetch
		}
	}

	if len(result.Results) > qb.limit {
		result.Results = result.Results[:qb.limit]
	}

	return &SearchResults{
		Results: result.Results,
		Took:    finalTotal,
		Total:   len(result.Results),
	}, nil
}

// optimizeFilters optimizes the filter execution order based on selectivity
func (qb *QueryBuilder) optimizeFilters() []filter.Filter {
	if len(qb.filters) == 0 {
		return nil
	}

	// Create a copy of filters for optimization
	optimized := make([]filter.Filter, len(qb.filters))
	copy(optimized, qb.filters)

	// Sort filters by selectivity (most selective first)
	// This is a simple optimization - more sophisticated cost-based optimization could be added
	for i := 0; i < len(optimized)-1; i++ {
		for j := i + 1; j < len(optimized); j++ {
			if optimized[i].EstimateSelectivity() > optimized[j].EstimateSelectivity() {
				optimized[i], optimized[j] = optimized[j], optimized[i]
			}
		}
	}

	return optimized
}

// applyFilters applies metadata filters to search results
func (qb *QueryBuilder) applyFilters(results []*SearchResult, filters []filter.Filter) ([]*SearchResult, error) {
	// Convert lumen.SearchResult to filter.VectorEntry
	filterEntries := make([]*filter.VectorEntry, len(results))
	for i, result := range results {
		filterEntries[i] = &filter.VectorEntry{
			ID:       result.ID,
			Vector:   result.Vector,
			Metadata: result.Metadata,
		}
	}

	// Apply each filter sequentially
	for _, f := range filters {
		var err error
		filterEntries, err = f.Apply(qb.ctx, filterEntries)
		if err != nil {
			return nil, err
		}

		// Short-circuit if no results remain
		if len(filterEntries) == 0 {
			break
		}
	}

	// Convert back to lumen.SearchResult, preserving scores
	// Create a map for quick lookup of original scores
	scoreMap := make(map[string]float32)
	for _, result := range results {
		scoreMap[result.ID] = result.Score
	}

	filteredResults := make([]*SearchResult, len(filterEntries))
	for i, entry := range filterEntries {
		filteredResults[i] = &SearchResult{
			ID:       entry.ID,
			Score:    scoreMap[entry.ID], // Preserve original score
			Vector:   entry.Vector,
			Metadata: entry.Metadata,
		}
	}

	return filteredResults, nil
}

// applyThreshold filters results based on similarity threshold
func (qb *QueryBuilder) applyThreshold(results []*SearchResult) []*SearchResult {
	var filtered []*SearchResult
	for _, result := range results {
		if result.Score >= qb.threshold {
			filtered = append(filtered, result)
		}
	}
	return filtered
}
