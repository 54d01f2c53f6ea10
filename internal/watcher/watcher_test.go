package watcher

import (
	"strings"
	"testing"
)

func TestChunkTextSplitsOnWordBoundaries(t *testing.T) {
	content := strings.Repeat("word ", 50)
	chunks := chunkText(content, 10, 0)

	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks of 10 words, got %d", len(chunks))
	}
	for _, c := range chunks {
		if got := len(strings.Fields(c)); got != 10 {
			t.Errorf("expected 10 words per chunk, got %d", got)
		}
	}
}

func TestChunkTextWithOverlapRepeatsWords(t *testing.T) {
	content := strings.Repeat("word ", 30)
	chunks := chunkText(content, 10, 5)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
}

func TestChunkTextEmptyInput(t *testing.T) {
	if chunks := chunkText("   ", 10, 0); chunks != nil {
		t.Errorf("expected nil chunks for blank input, got %v", chunks)
	}
}

func TestCoalesceEventWindow(t *testing.T) {
	cases := []struct {
		prev, next, want coalescedOp
	}{
		{opNone, opUpsert, opUpsert},
		{opNone, opDelete, opDelete},
		{opUpsert, opUpsert, opUpsert},
		{opUpsert, opDelete, opDelete},
		{opDelete, opUpsert, opUpsert},
	}
	for _, c := range cases {
		if got := coalesce(c.prev, c.next); got != c.want {
			t.Errorf("coalesce(%v, %v) = %v, want %v", c.prev, c.next, got, c.want)
		}
	}
}

func TestWatcherMatchesIncludeExclude(t *testing.T) {
	w := &Watcher{cfg: Config{
		Include: []string{"*.md", "*.txt"},
		Exclude: []string{"DRAFT-*"},
	}}

	cases := map[string]bool{
		"/docs/readme.md":  true,
		"/docs/notes.txt":  true,
		"/docs/image.png":  false,
		"/docs/DRAFT-x.md": false,
	}
	for path, want := range cases {
		if got := w.matches(path); got != want {
			t.Errorf("matches(%q) = %v, want %v", path, got, want)
		}
	}
}
