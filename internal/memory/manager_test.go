package memory

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/store"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	home := t.TempDir()
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewManager(home, st)
}

func TestAppend_writesRawFileThenRow(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	e := &store.MemoryEntry{
		AgentID:   "compliance",
		Kind:      "output",
		Content:   "# FedRAMP gap review\n\nTwo controls remain unimplemented.",
		Tokens:    12,
		CreatedAt: at,
	}
	if err := m.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.RawRef == nil {
		t.Fatal("Append should set RawRef for outputs")
	}
	if *e.RawRef != "memory/compliance/outputs/20260825_070000.md" {
		t.Fatalf("RawRef = %q", *e.RawRef)
	}
	data, err := os.ReadFile(RawPath(m.Home, *e.RawRef))
	if err != nil {
		t.Fatalf("raw file: %v", err)
	}
	if string(data) != e.Content {
		t.Fatalf("raw file content = %q", data)
	}
	if e.Summary != "FedRAMP gap review" {
		t.Fatalf("Summary = %q", e.Summary)
	}

	rows, err := m.Store.ListMemory(ctx, "compliance", 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListMemory: %v, %d rows", err, len(rows))
	}
	if rows[0].RawRef == nil || *rows[0].RawRef != *e.RawRef {
		t.Fatalf("row RawRef = %+v", rows[0].RawRef)
	}
}

func TestAppend_sameSecondGetsDistinctFiles(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	a := &store.MemoryEntry{AgentID: "compliance", Kind: "output", Content: "first", Tokens: 1, CreatedAt: at}
	b := &store.MemoryEntry{AgentID: "compliance", Kind: "output", Content: "second", Tokens: 1, CreatedAt: at}
	if err := m.Append(ctx, a); err != nil {
		t.Fatalf("Append a: %v", err)
	}
	if err := m.Append(ctx, b); err != nil {
		t.Fatalf("Append b: %v", err)
	}
	if *a.RawRef == *b.RawRef {
		t.Fatalf("same-second appends share a raw file: %q", *a.RawRef)
	}
	if !strings.HasSuffix(*b.RawRef, "_2.md") {
		t.Fatalf("second ref = %q", *b.RawRef)
	}
}

func TestAppend_summariesGetNoRawFile(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	e := &store.MemoryEntry{AgentID: "compliance", Kind: "summary", Summary: "rollup", Content: "folded", Tokens: 2}
	if err := m.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.RawRef != nil {
		t.Fatalf("summary entry got RawRef %q", *e.RawRef)
	}
}

func TestRecentContext_budgetKeepsNewestContiguousPrefix(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)
	add := func(kind, summary, content string, toks int, offset time.Duration) {
		t.Helper()
		e := &store.MemoryEntry{AgentID: "compliance", Kind: kind, Summary: summary, Content: content, Tokens: toks, CreatedAt: base.Add(offset)}
		if err := m.Append(ctx, e); err != nil {
			t.Fatalf("Append %s: %v", summary, err)
		}
	}
	add("summary", "old rollup", "stale rollup body", 5, 0)
	add("output", "o1", "oldest finding", 10, time.Minute)
	add("output", "o2", "older finding", 10, 2*time.Minute)
	add("summary", "new rollup", "current rollup body", 5, 3*time.Minute)
	add("output", "o3", "recent finding", 10, 4*time.Minute)
	add("output", "o4", "newest finding", 10, 5*time.Minute)

	// Budget 28: rolling summary (5) + o4 (10) + o3 (10); o2 would overflow.
	got, err := m.RecentContext(ctx, "compliance", 28)
	if err != nil {
		t.Fatalf("RecentContext: %v", err)
	}
	if !strings.Contains(got, "current rollup body") {
		t.Fatalf("missing rolling summary:\n%s", got)
	}
	if strings.Contains(got, "stale rollup body") {
		t.Fatalf("superseded summary leaked into context:\n%s", got)
	}
	for _, want := range []string{"recent finding", "newest finding"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q:\n%s", want, got)
		}
	}
	for _, drop := range []string{"older finding", "oldest finding"} {
		if strings.Contains(got, drop) {
			t.Fatalf("budget should have dropped %q:\n%s", drop, got)
		}
	}
	// Chronological: o3 before o4, both after the rolling summary.
	if strings.Index(got, "recent finding") > strings.Index(got, "newest finding") {
		t.Fatalf("entries out of order:\n%s", got)
	}
	if strings.Index(got, "current rollup body") > strings.Index(got, "recent finding") {
		t.Fatalf("rolling summary should lead:\n%s", got)
	}
}

func TestRecentContext_emptyAgent(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	got, err := m.RecentContext(context.Background(), "nobody", 100)
	if err != nil {
		t.Fatalf("RecentContext: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestAllSummaries_skipsRequestedAgents(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()

	for _, agent := range []string{"compliance", "fundraising", "chief_of_staff"} {
		e := &store.MemoryEntry{AgentID: agent, Kind: "summary", Summary: "rollup", Content: agent + " state", Tokens: 2}
		if err := m.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// An agent with outputs but no summary yet stays out of the map.
	raw := &store.MemoryEntry{AgentID: "regulatory", Kind: "output", Summary: "o", Content: "raw only", Tokens: 2}
	if err := m.Append(ctx, raw); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := m.AllSummaries(ctx, "chief_of_staff")
	if err != nil {
		t.Fatalf("AllSummaries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("AllSummaries = %v", got)
	}
	if got["compliance"] != "compliance state" || got["fundraising"] != "fundraising state" {
		t.Fatalf("AllSummaries = %v", got)
	}
	if _, ok := got["chief_of_staff"]; ok {
		t.Fatal("skip list ignored")
	}
}

func TestReadRaw(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()

	e := &store.MemoryEntry{AgentID: "compliance", Kind: "output", Content: "full markdown body", Tokens: 3}
	if err := m.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := m.ReadRaw(*e.RawRef)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if got != "full markdown body" {
		t.Fatalf("ReadRaw = %q", got)
	}
}
