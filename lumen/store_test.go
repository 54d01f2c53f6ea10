package lumen

import (
	"testing"

	"github.com/lumenvec/lumen/internal/storage"
)

func newTestFileStore(t *testing.T) *storage.FileStore {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return fs
}
