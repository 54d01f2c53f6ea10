package backend

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestSelectorSelectsScalarCPUByDefault(t *testing.T) {
	s := NewSelector(zap.NewNop())

	b, err := s.Select(context.Background(), "")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if b.Name() != "scalar-cpu" {
		t.Errorf("expected scalar-cpu to be selected (only always-available backend), got %q", b.Name())
	}
	if s.Current().Name() != b.Name() {
		t.Errorf("Current() = %q, want %q", s.Current().Name(), b.Name())
	}
}

func TestSelectorOverrideUnknownBackend(t *testing.T) {
	s := NewSelector(zap.NewNop())

	if _, err := s.Select(context.Background(), "quantum-gpu"); err == nil {
		t.Error("expected error for unknown backend override")
	}
}

func TestSelectorOverrideKnownBackend(t *testing.T) {
	s := NewSelector(zap.NewNop())

	b, err := s.Select(context.Background(), "scalar-cpu")
	if err != nil {
		t.Fatalf("Select with override failed: %v", err)
	}
	if b.Name() != "scalar-cpu" {
		t.Errorf("expected override to select scalar-cpu, got %q", b.Name())
	}
}

func TestScalarCPUDistance(t *testing.T) {
	var b ComputeBackend = scalarCPU{}

	if !b.Available(context.Background()) {
		t.Error("scalar-cpu backend must always be available")
	}

	a := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	dist, err := b.Distance(0, a, c) // util.L2Distance
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	if dist <= 0 {
		t.Errorf("expected positive distance between orthogonal unit vectors, got %f", dist)
	}
}
