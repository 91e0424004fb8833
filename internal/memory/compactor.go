package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/reasoning"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Summarizer folds an agent's current rolling summary and a batch of new
// outputs into the next rolling summary.
type Summarizer interface {
	Fold(ctx context.Context, agentID, current string, outputs []store.MemoryEntry) (string, error)
}

// Compactor periodically folds uncompacted outputs into each agent's rolling
// summary and advances the per-agent watermark. Folded outputs stay in the
// log; only the context view stops returning them.
type Compactor struct {
	Manager    *Manager
	Summarizer Summarizer
	// Interval between poll rounds
	Interval time.Duration
	// MinEntries is the batch threshold; agents with fewer uncompacted
	// outputs are left for a later round.
	MinEntries int
}

const defaultCompactInterval = 15 * time.Minute

// Run polls until ctx is cancelled.
func (c *Compactor) Run(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = defaultCompactInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce compacts every agent that has enough pending outputs. Reserved
// pseudo-agents are skipped: briefings are already summaries and router
// decisions are short-lived audit records.
func (c *Compactor) RunOnce(ctx context.Context) {
	agents, err := c.Manager.Store.MemoryAgents(ctx)
	if err != nil {
		slog.Error("compactor list agents failed", "err", err)
		return
	}
	for _, id := range agents {
		if id == models.BriefingsAgentID || id == models.RouterAgentID {
			continue
		}
		if _, err := c.CompactAgent(ctx, id); err != nil {
			slog.Error("compaction failed", "agent", id, "err", err)
		}
	}
}

// CompactAgent folds one agent's pending outputs. Returns false when there
// was nothing to do; re-running without new entries is a no-op because the
// watermark already covers everything folded.
func (c *Compactor) CompactAgent(ctx context.Context, agentID string) (bool, error) {
	outputs, err := c.Manager.Store.UncompactedOutputs(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("list uncompacted: %w", err)
	}
	batch := c.MinEntries
	if batch <= 0 {
		batch = 1
	}
	if len(outputs) < batch {
		return false, nil
	}

	current, err := c.Manager.RollingSummary(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("read rolling summary: %w", err)
	}
	folded, err := c.Summarizer.Fold(ctx, agentID, current, outputs)
	if err != nil {
		return false, fmt.Errorf("fold: %w", err)
	}

	// Summary row first, watermark second: a crash in between re-folds the
	// same outputs next round, which duplicates a summary row but never
	// loses context.
	entry := &store.MemoryEntry{
		AgentID: agentID,
		Kind:    "summary",
		Summary: fmt.Sprintf("rolling summary over %d outputs", len(outputs)),
		Content: folded,
	}
	if err := c.Manager.Append(ctx, entry); err != nil {
		return false, fmt.Errorf("append summary: %w", err)
	}
	through := outputs[len(outputs)-1].Seq
	if err := c.Manager.Store.SetCompactionMark(ctx, agentID, through); err != nil {
		return false, fmt.Errorf("advance mark: %w", err)
	}
	slog.Info("compacted agent memory", "agent", agentID, "outputs", len(outputs), "through_seq", through)
	return true, nil
}

// ReasoningSummarizer folds with a cheap reasoning call, the haiku tier by
// default.
type ReasoningSummarizer struct {
	Client   reasoning.Client
	Model    string
	MaxChars int
}

const summarizerSystem = "You are a summarization assistant. Your job is to maintain a concise " +
	"running summary of an agent's key findings, decisions, and outputs. " +
	"The summary must stay under 3000 characters. Focus on facts, findings, " +
	"and actionable items. Drop old items that have been superseded."

func (r *ReasoningSummarizer) Fold(ctx context.Context, agentID, current string, outputs []store.MemoryEntry) (string, error) {
	if current == "" {
		current = "(No previous summary)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here is the current running summary:\n\n%s\n\n", current)
	b.WriteString("Here is the latest output to incorporate:\n\n")
	for _, o := range outputs {
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", o.CreatedAt.UTC().Format("2006-01-02 15:04"), o.Content)
	}
	b.WriteString("Produce an updated running summary that incorporates the new findings. " +
		"Keep it under 3000 characters. Prioritize actionable and current information.")

	res, err := r.Client.Invoke(ctx, reasoning.Request{
		Model:     r.Model,
		System:    summarizerSystem,
		Prompt:    b.String(),
		MaxTokens: 2048,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	limit := r.MaxChars
	if limit <= 0 {
		limit = 3000
	}
	if runes := []rune(text); len(runes) > limit {
		text = string(runes[:limit])
	}
	return text, nil
}

// LocalSummarizer is the deterministic offline fold: one bullet per output,
// newest last, capped at MaxLines with the oldest bullets dropped first.
type LocalSummarizer struct {
	MaxLines int
}

func (l *LocalSummarizer) Fold(_ context.Context, _ string, current string, outputs []store.MemoryEntry) (string, error) {
	limit := l.MaxLines
	if limit <= 0 {
		limit = 40
	}
	var lines []string
	for _, ln := range strings.Split(current, "\n") {
		if strings.HasPrefix(ln, "- ") {
			lines = append(lines, ln)
		}
	}
	for _, o := range outputs {
		lines = append(lines, fmt.Sprintf("- %s: %s", o.CreatedAt.UTC().Format("2006-01-02"), o.Summary))
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return strings.Join(lines, "\n"), nil
}
