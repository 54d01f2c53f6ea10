package lumen

import (
	"context"
	"testing"
)

func newTestCollection(t *testing.T, dim int) *Collection {
	t.Helper()
	fs := newTestFileStore(t)
	c, err := newCollection("test", fs, nil,
		WithDimension(dim),
		WithMetric(L2Distance),
		WithHNSW(8, 32, 16),
	)
	if err != nil {
		t.Fatalf("newCollection() error = %v", err)
	}
	return c
}

func TestCollection_InsertAndSearch(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, 4)

	vectors := map[string][]float32{
		"a": {1, 0, 0, 0},
		"b": {0, 1, 0, 0},
		"c": {0.9, 0.1, 0, 0},
	}
	for id, v := range vectors {
		if err := c.Insert(ctx, id, v, map[string]interface{}{"id": id}); err != nil {
			t.Fatalf("Insert(%s) error = %v", id, err)
		}
	}

	results, err := c.Search(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results.Results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results.Results))
	}
	if results.Results[0].ID != "a" && results.Results[0].ID != "c" {
		t.Errorf("Search() top result = %s, want a or c", results.Results[0].ID)
	}
}

func TestCollection_InsertDimensionMismatch(t *testing.T) {
	c := newTestCollection(t, 4)
	err := c.Insert(context.Background(), "a", []float32{1, 2}, nil)
	if !IsKind(err, KindValidation) {
		t.Errorf("Insert() error = %v, want KindValidation", err)
	}
}

func TestCollection_DeleteThenSearchExcludes(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, 4)

	if err := c.Insert(ctx, "a", []float32{1, 0, 0, 0}, nil); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := c.Insert(ctx, "b", []float32{0, 1, 0, 0}, nil); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	results, err := c.Search(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results.Results {
		if r.ID == "a" {
			t.Errorf("Search() returned tombstoned vector %q", r.ID)
		}
	}
}

func TestCollection_DeleteMissingReturnsNotFound(t *testing.T) {
	c := newTestCollection(t, 4)
	err := c.Delete(context.Background(), "missing")
	if !IsKind(err, KindNotFound) {
		t.Errorf("Delete() error = %v, want KindNotFound", err)
	}
}

func TestCollection_QueryWithFilter(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, 4)

	c.Insert(ctx, "a", []float32{1, 0, 0, 0}, map[string]interface{}{"category": "x"})
	c.Insert(ctx, "b", []float32{0.9, 0.1, 0, 0}, map[string]interface{}{"category": "y"})

	results, err := c.Query(ctx).
		WithVector([]float32{1, 0, 0, 0}).
		Eq("category", "y").
		Limit(5).
		Execute()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(results.Results) != 1 || results.Results[0].ID != "b" {
		t.Errorf("Execute() = %v, want only entry b", results.Results)
	}
}

func TestCollection_CloseIsIdempotent(t *testing.T) {
	c := newTestCollection(t, 4)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := c.Insert(context.Background(), "a", []float32{1, 0, 0, 0}, nil); !IsKind(err, KindConflict) {
		t.Errorf("Insert() after close error = %v, want KindConflict", err)
	}
}
