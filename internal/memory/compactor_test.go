package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func appendOutput(t *testing.T, m *Manager, agentID, summary string, at time.Time) {
	t.Helper()
	e := &store.MemoryEntry{AgentID: agentID, Kind: "output", Summary: summary, Content: summary + " body", Tokens: 3, CreatedAt: at}
	if err := m.Append(context.Background(), e); err != nil {
		t.Fatalf("Append %s: %v", summary, err)
	}
}

func TestCompactAgent_foldsOnceAndIsIdempotent(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()
	c := &Compactor{Manager: m, Summarizer: &LocalSummarizer{}}

	base := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	appendOutput(t, m, "compliance", "finding one", base)
	appendOutput(t, m, "compliance", "finding two", base.Add(time.Minute))
	appendOutput(t, m, "compliance", "finding three", base.Add(2*time.Minute))

	did, err := c.CompactAgent(ctx, "compliance")
	if err != nil || !did {
		t.Fatalf("CompactAgent = %v, %v; want true, nil", did, err)
	}

	sum, err := m.RollingSummary(ctx, "compliance")
	if err != nil {
		t.Fatalf("RollingSummary: %v", err)
	}
	for _, want := range []string{"finding one", "finding two", "finding three"} {
		if !strings.Contains(sum, want) {
			t.Fatalf("summary missing %q:\n%s", want, sum)
		}
	}

	pending, _ := m.Store.UncompactedOutputs(ctx, "compliance")
	if len(pending) != 0 {
		t.Fatalf("outputs left uncompacted: %d", len(pending))
	}

	// Nothing new: compacting again is a no-op.
	did, err = c.CompactAgent(ctx, "compliance")
	if err != nil || did {
		t.Fatalf("second CompactAgent = %v, %v; want false, nil", did, err)
	}
	all, _ := m.Store.ListMemory(ctx, "compliance", 20)
	if len(all) != 4 {
		t.Fatalf("entries = %d, want 3 outputs + 1 summary", len(all))
	}
}

func TestCompactAgent_carriesPriorSummaryForward(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()
	c := &Compactor{Manager: m, Summarizer: &LocalSummarizer{}}

	base := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	appendOutput(t, m, "fundraising", "seed fund mapped", base)
	if _, err := c.CompactAgent(ctx, "fundraising"); err != nil {
		t.Fatalf("CompactAgent: %v", err)
	}
	appendOutput(t, m, "fundraising", "series A intro", base.Add(time.Hour))
	if _, err := c.CompactAgent(ctx, "fundraising"); err != nil {
		t.Fatalf("CompactAgent: %v", err)
	}

	sum, _ := m.RollingSummary(ctx, "fundraising")
	if !strings.Contains(sum, "seed fund mapped") || !strings.Contains(sum, "series A intro") {
		t.Fatalf("second fold lost history:\n%s", sum)
	}
}

func TestCompactAgent_respectsBatchThreshold(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()
	c := &Compactor{Manager: m, Summarizer: &LocalSummarizer{}, MinEntries: 3}

	base := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	appendOutput(t, m, "regulatory", "cfr change", base)
	appendOutput(t, m, "regulatory", "omb memo", base.Add(time.Minute))

	did, err := c.CompactAgent(ctx, "regulatory")
	if err != nil || did {
		t.Fatalf("CompactAgent below threshold = %v, %v; want false, nil", did, err)
	}
	if s, _ := m.RollingSummary(ctx, "regulatory"); s != "" {
		t.Fatalf("no summary expected, got %q", s)
	}
}

func TestRunOnce_skipsReservedPseudoAgents(t *testing.T) {
	t.Parallel()

	m := openTestManager(t)
	ctx := context.Background()
	c := &Compactor{Manager: m, Summarizer: &LocalSummarizer{}}

	base := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	appendOutput(t, m, "compliance", "real agent output", base)
	appendOutput(t, m, models.BriefingsAgentID, "daily briefing", base)
	appendOutput(t, m, models.RouterAgentID, "routing decision", base)

	c.RunOnce(ctx)

	if s, _ := m.RollingSummary(ctx, "compliance"); s == "" {
		t.Fatal("real agent should have been compacted")
	}
	for _, reserved := range []string{models.BriefingsAgentID, models.RouterAgentID} {
		if s, _ := m.RollingSummary(ctx, reserved); s != "" {
			t.Fatalf("%s should be skipped, got summary %q", reserved, s)
		}
	}
}

func TestLocalSummarizer_capsLines(t *testing.T) {
	t.Parallel()

	l := &LocalSummarizer{MaxLines: 2}
	base := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	outputs := []store.MemoryEntry{
		{Summary: "a", CreatedAt: base},
		{Summary: "b", CreatedAt: base.Add(time.Minute)},
		{Summary: "c", CreatedAt: base.Add(2 * time.Minute)},
	}
	got, err := l.Fold(context.Background(), "x", "", outputs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[0], "b") || !strings.Contains(lines[1], "c") {
		t.Fatalf("oldest bullets should drop first:\n%s", got)
	}
}
