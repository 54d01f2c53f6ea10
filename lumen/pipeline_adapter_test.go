package lumen

import (
	"context"
	"testing"
)

func TestCollectionSatisfiesPipelineSearcher(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, 4)

	if err := c.Insert(ctx, "a", []float32{1, 0, 0, 0}, map[string]interface{}{"text": "alpha"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	searcher := c.AsSearcher()
	if searcher.Dim() != 4 {
		t.Errorf("Dim() = %d, want 4", searcher.Dim())
	}
	if searcher.Name() != "test" {
		t.Errorf("Name() = %q, want %q", searcher.Name(), "test")
	}

	candidates, err := searcher.Search(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "a" {
		t.Errorf("unexpected candidates: %+v", candidates)
	}
}
