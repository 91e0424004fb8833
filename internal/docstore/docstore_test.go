package docstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDocs(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

func write(t *testing.T, l *Local, rel, content string) string {
	t.Helper()
	p := filepath.Join(l.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestFetch_roundTripAndCacheInvalidation(t *testing.T) {
	t.Parallel()

	l := openTestDocs(t)
	ctx := context.Background()
	p := write(t, l, "product/overview.md", "version one")

	got, err := l.Fetch(ctx, "product/overview.md")
	if err != nil || string(got) != "version one" {
		t.Fatalf("Fetch = %q, %v", got, err)
	}

	// Edit with a bumped mtime: the cache must serve the new bytes.
	if err := os.WriteFile(p, []byte("version two"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	got, err = l.Fetch(ctx, "product/overview.md")
	if err != nil || string(got) != "version two" {
		t.Fatalf("Fetch after edit = %q, %v", got, err)
	}
}

func TestFetch_missingAndEscapes(t *testing.T) {
	t.Parallel()

	l := openTestDocs(t)
	ctx := context.Background()

	if _, err := l.Fetch(ctx, "nope.md"); err == nil {
		t.Fatal("expected error for missing doc")
	}
	if _, err := l.Fetch(ctx, ""); err == nil {
		t.Fatal("expected error for empty ref")
	}
	// Path traversal stays inside the tree: ../secret resolves to
	// <root>/secret, which does not exist.
	if _, err := l.Fetch(ctx, "../outside.md"); err == nil {
		t.Fatal("expected error for escaping ref")
	}
}

func TestList_recursiveSortedWithoutIndex(t *testing.T) {
	t.Parallel()

	l := openTestDocs(t)
	ctx := context.Background()
	write(t, l, "b.md", "b")
	write(t, l, "a/nested.md", "n")
	write(t, l, IndexName, "index body")

	refs, err := l.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("List = %+v", refs)
	}
	if refs[0].Path != "a/nested.md" || refs[1].Path != "b.md" {
		t.Fatalf("List order = %q, %q", refs[0].Path, refs[1].Path)
	}

	sub, err := l.List(ctx, "a")
	if err != nil || len(sub) != 1 || sub[0].Path != "a/nested.md" {
		t.Fatalf("List(a) = %+v, %v", sub, err)
	}

	none, err := l.List(ctx, "missing-folder")
	if err != nil || len(none) != 0 {
		t.Fatalf("List(missing) = %+v, %v", none, err)
	}
}

func TestWriteIndex(t *testing.T) {
	t.Parallel()

	l := openTestDocs(t)
	ctx := context.Background()
	write(t, l, "pitch/deck_notes.md", "notes")

	at := time.Date(2026, 8, 25, 7, 30, 0, 0, time.UTC)
	if err := l.WriteIndex(ctx, at, "2026-08-25 (3 runs, 0 failed)"); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(l.Root(), IndexName))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	body := string(data)
	for _, want := range []string{"# Knowledge Index", "pitch/deck_notes.md", "Latest briefing: 2026-08-25"} {
		if !strings.Contains(body, want) {
			t.Fatalf("index missing %q:\n%s", want, body)
		}
	}
}
