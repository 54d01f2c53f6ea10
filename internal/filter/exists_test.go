package filter

import (
	"context"
	"testing"
)

func TestExistsFilter_Apply(t *testing.T) {
	ctx := context.Background()

	entries := []*VectorEntry{
		{ID: "1", Metadata: map[string]interface{}{"category": "a"}},
		{ID: "2", Metadata: map[string]interface{}{"other": "b"}},
		{ID: "3", Metadata: nil},
	}

	result, err := NewExistsFilter("category").Apply(ctx, entries)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result) != 1 || result[0].ID != "1" {
		t.Errorf("Apply() = %v, want only entry 1", result)
	}

	result, err = NewNotExistsFilter("category").Apply(ctx, entries)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result) != 2 {
		t.Errorf("Apply() returned %d results, want 2", len(result))
	}
}

func TestExistsFilter_Validate(t *testing.T) {
	if err := (&ExistsFilter{Field: ""}).Validate(); err == nil {
		t.Error("expected error for empty field")
	}
	if err := NewExistsFilter("field").Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildFilter(t *testing.T) {
	f, err := BuildFilter(nil)
	if err != nil || f != nil {
		t.Fatalf("BuildFilter(nil) = %v, %v, want nil, nil", f, err)
	}

	f, err = BuildFilter([]Predicate{
		{Field: "status", Op: "eq", Value: "active"},
		{Field: "score", Op: "gte", Value: 10},
	})
	if err != nil {
		t.Fatalf("BuildFilter() error = %v", err)
	}

	entries := []*VectorEntry{
		{ID: "1", Metadata: map[string]interface{}{"status": "active", "score": 15}},
		{ID: "2", Metadata: map[string]interface{}{"status": "active", "score": 5}},
		{ID: "3", Metadata: map[string]interface{}{"status": "inactive", "score": 15}},
	}

	result, err := f.Apply(context.Background(), entries)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result) != 1 || result[0].ID != "1" {
		t.Errorf("Apply() = %v, want only entry 1", result)
	}
}

func TestBuildFilter_UnsupportedOperator(t *testing.T) {
	_, err := BuildFilter([]Predicate{{Field: "x", Op: "bogus"}})
	if err == nil {
		t.Error("expected error for unsupported operator")
	}
}
