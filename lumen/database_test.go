package lumen

import (
	"context"
	"testing"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := New(
		WithStoragePath(t.TempDir()),
		WithMetrics(false),
		WithMaxCollections(3),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabase_CreateAndGetCollection(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	c, err := db.CreateCollection(ctx, "docs", WithDimension(4))
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if err := c.Insert(ctx, "a", []float32{1, 0, 0, 0}, nil); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := db.GetCollection("docs")
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	if got != c {
		t.Errorf("GetCollection() returned a different instance for a resident collection")
	}
}

func TestDatabase_CreateDuplicateCollection(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	if _, err := db.CreateCollection(ctx, "docs", WithDimension(4)); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	_, err := db.CreateCollection(ctx, "docs", WithDimension(4))
	if !IsKind(err, KindConflict) {
		t.Errorf("CreateCollection() duplicate error = %v, want KindConflict", err)
	}
}

func TestDatabase_MaxCollectionsEnforced(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name := string(rune('a' + i))
		if _, err := db.CreateCollection(ctx, name, WithDimension(4)); err != nil {
			t.Fatalf("CreateCollection(%s) error = %v", name, err)
		}
	}

	_, err := db.CreateCollection(ctx, "overflow", WithDimension(4))
	if !IsKind(err, KindBackpressure) {
		t.Errorf("CreateCollection() over limit error = %v, want KindBackpressure", err)
	}
}

func TestDatabase_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := New(WithStoragePath(dir), WithMetrics(false))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c, err := db.CreateCollection(ctx, "docs", WithDimension(4))
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if err := c.Insert(ctx, "a", []float32{1, 0, 0, 0}, map[string]interface{}{"k": "v"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db2, err := New(WithStoragePath(dir), WithMetrics(false))
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	reloaded, err := db2.GetCollection("docs")
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	if reloaded.Count() != 1 {
		t.Errorf("reloaded collection has %d vectors, want 1", reloaded.Count())
	}

	results, err := reloaded.Search(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results.Results) != 1 || results.Results[0].ID != "a" {
		t.Fatalf("Search() = %v, want entry a", results.Results)
	}
}

func TestDatabase_DropCollection(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	if _, err := db.CreateCollection(ctx, "docs", WithDimension(4)); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if err := db.DropCollection(ctx, "docs"); err != nil {
		t.Fatalf("DropCollection() error = %v", err)
	}
	if _, err := db.GetCollection("docs"); !IsKind(err, KindNotFound) {
		t.Errorf("GetCollection() after drop error = %v, want KindNotFound", err)
	}
}

func TestDatabase_HealthReportsHealthy(t *testing.T) {
	db := newTestDatabase(t)
	status, err := db.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if status.Level.String() != "healthy" {
		t.Errorf("Health() level = %v, want healthy", status.Level)
	}
}
