// Package docstore serves shared reference documents to agent runs from a
// local directory tree under <home>/docs. Fetches go through a small LRU
// cache keyed by path and invalidated on mtime change, so humans can drop in
// or edit documents without restarting the daemon.
package docstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Ref identifies one stored document by its docs-relative slash path.
type Ref struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the document access surface the runner and dispatcher see.
type Store interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	List(ctx context.Context, folder string) ([]Ref, error)
}

// IndexName is the generated catalog file at the docs root. It is excluded
// from listings so it never indexes itself.
const IndexName = "INDEX.md"

const fetchCacheSize = 128

type cachedDoc struct {
	modTime int64
	data    []byte
}

// Local is the directory-backed Store.
type Local struct {
	root  string
	cache *lru.Cache[string, cachedDoc]
}

// NewLocal opens (and creates if absent) the docs tree under <home>/docs.
func NewLocal(home string) (*Local, error) {
	root := filepath.Join(home, "docs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create docs dir: %w", err)
	}
	cache, err := lru.New[string, cachedDoc](fetchCacheSize)
	if err != nil {
		return nil, fmt.Errorf("doc cache init: %w", err)
	}
	return &Local{root: root, cache: cache}, nil
}

// Root returns the absolute docs directory.
func (l *Local) Root() string { return l.root }

// resolve maps a docs-relative ref to an absolute path, rejecting anything
// that would escape the tree.
func (l *Local) resolve(ref string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(ref))
	if clean == "/" {
		return "", fmt.Errorf("empty doc ref")
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// Fetch returns a document's bytes. A changed mtime drops the cached copy.
func (l *Local) Fetch(_ context.Context, ref string) ([]byte, error) {
	p, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("doc %s: %w", ref, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("doc %s is a directory", ref)
	}
	mt := info.ModTime().UnixNano()
	if c, ok := l.cache.Get(p); ok && c.modTime == mt {
		return c.data, nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("doc %s: %w", ref, err)
	}
	l.cache.Add(p, cachedDoc{modTime: mt, data: data})
	return data, nil
}

// List returns the documents under folder (docs root when empty), recursive,
// sorted by path. The generated index file is skipped.
func (l *Local) List(_ context.Context, folder string) ([]Ref, error) {
	start := l.root
	if strings.TrimSpace(folder) != "" {
		p, err := l.resolve(folder)
		if err != nil {
			return nil, err
		}
		start = p
	}
	var out []Ref
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == start {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(l.root, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if rel == IndexName {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		out = append(out, Ref{Path: rel, Size: info.Size(), ModTime: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// WriteIndex regenerates <docs>/INDEX.md: the document catalog plus an
// optional pointer to the latest briefing. Called at the end of each daily
// cycle.
func (l *Local) WriteIndex(ctx context.Context, generatedAt time.Time, briefingNote string) error {
	refs, err := l.List(ctx, "")
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("# Knowledge Index\n\n")
	fmt.Fprintf(&b, "*Auto-generated: %s*\n\n", generatedAt.UTC().Format(time.RFC3339))
	if briefingNote != "" {
		fmt.Fprintf(&b, "Latest briefing: %s\n\n", briefingNote)
	}
	if len(refs) == 0 {
		b.WriteString("(no documents stored)\n")
	} else {
		for _, r := range refs {
			fmt.Fprintf(&b, "- `%s` (%d bytes, %s)\n", r.Path, r.Size, r.ModTime.Format("2006-01-02"))
		}
	}
	return os.WriteFile(filepath.Join(l.root, IndexName), []byte(b.String()), 0o644)
}
