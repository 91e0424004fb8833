// Package memory is the durable per-agent context layer: append-only entries
// in the store with raw markdown mirrors on disk, a token-budgeted context
// view, and a background compactor that folds old outputs into a rolling
// summary without ever deleting anything.
package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/internal/tokens"
)

// Manager owns an agent memory tree rooted at <home>/memory/ plus the
// memory_entries rows behind it.
type Manager struct {
	Home  string
	Store store.Store
}

func NewManager(home string, st store.Store) *Manager {
	return &Manager{Home: home, Store: st}
}

// Append records one entry. For output and briefing kinds the full text is
// mirrored to a raw markdown file first, then the row is inserted; the row is
// authoritative, the file is the browsable audit copy. A crash between the
// two leaves an orphan file and no row, never a row without its file.
func (m *Manager) Append(ctx context.Context, e *store.MemoryEntry) error {
	if e.AgentID == "" {
		return fmt.Errorf("memory append: agent id required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Tokens == 0 {
		e.Tokens = tokens.Count(e.Content)
	}
	if e.Summary == "" {
		e.Summary = firstLine(e.Content, 140)
	}
	if (e.Kind == "" || e.Kind == "output" || e.Kind == "briefing") && e.Content != "" {
		ref, err := m.writeRaw(e)
		if err != nil {
			return err
		}
		e.RawRef = &ref
	}
	return m.Store.AppendMemory(ctx, e)
}

// writeRaw writes the entry content under <home>/memory/<agent>/outputs/ and
// returns the home-relative ref. Same-second appends get a numeric suffix.
func (m *Manager) writeRaw(e *store.MemoryEntry) (string, error) {
	dir := OutputsDir(AgentDir(m.Home, e.AgentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create outputs dir: %w", err)
	}
	base := OutputFileName(e.CreatedAt)
	name := base
	for i := 2; ; i++ {
		f, err := os.OpenFile(RawPath(m.Home, RawRef(e.AgentID, name)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				name = fmt.Sprintf("%s_%d.md", strings.TrimSuffix(base, ".md"), i)
				continue
			}
			return "", fmt.Errorf("create raw output: %w", err)
		}
		_, werr := f.WriteString(e.Content)
		cerr := f.Close()
		if werr != nil {
			return "", fmt.Errorf("write raw output: %w", werr)
		}
		if cerr != nil {
			return "", fmt.Errorf("close raw output: %w", cerr)
		}
		return RawRef(e.AgentID, name), nil
	}
}

// contextQueryLimit bounds how many rows a context assembly reads before the
// token budget prunes them.
const contextQueryLimit = 100

// RecentContext returns the agent's memory block for prompt assembly: the
// latest rolling summary plus the most recent entries that fit the token
// budget, oldest first so the newest material sits closest to the task.
func (m *Manager) RecentContext(ctx context.Context, agentID string, budget int) (string, error) {
	entries, err := m.Store.ContextMemory(ctx, agentID, contextQueryLimit)
	if err != nil {
		return "", fmt.Errorf("read context memory: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	// Entries arrive newest first. Keep only the newest summary row: each
	// compaction folds the previous summary into the next, so older summary
	// rows are subsumed history.
	var rolling *store.MemoryEntry
	var recent []store.MemoryEntry
	remaining := budget
	for i := range entries {
		e := entries[i]
		if e.Kind == "summary" {
			if rolling == nil {
				rolling = &entries[i]
				remaining -= entryTokens(e)
			}
			continue
		}
		cost := entryTokens(e)
		if budget > 0 && cost > remaining {
			break
		}
		remaining -= cost
		recent = append(recent, e)
	}

	// Newest-first prefix -> chronological order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	var b strings.Builder
	if rolling != nil {
		b.WriteString("## Rolling summary\n\n")
		b.WriteString(strings.TrimSpace(rolling.Content))
	}
	for _, e := range recent {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s — %s\n\n", e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.Summary)
		b.WriteString(strings.TrimSpace(e.Content))
	}
	return b.String(), nil
}

// RollingSummary returns the agent's latest rolling summary text, empty when
// the agent has never been compacted.
func (m *Manager) RollingSummary(ctx context.Context, agentID string) (string, error) {
	e, err := m.Store.LatestSummary(ctx, agentID)
	if err != nil || e == nil {
		return "", err
	}
	return e.Content, nil
}

// AllSummaries returns the latest rolling summary per agent, skipping agents
// without one and the reserved pseudo-agents. Used to assemble orchestrator
// context.
func (m *Manager) AllSummaries(ctx context.Context, skip ...string) (map[string]string, error) {
	agents, err := m.Store.MemoryAgents(ctx)
	if err != nil {
		return nil, err
	}
	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}
	out := make(map[string]string)
	for _, id := range agents {
		if skipped[id] {
			continue
		}
		s, err := m.RollingSummary(ctx, id)
		if err != nil {
			return nil, err
		}
		if s != "" {
			out[id] = s
		}
	}
	return out, nil
}

// ReadRaw loads the raw markdown behind an entry's RawRef.
func (m *Manager) ReadRaw(rawRef string) (string, error) {
	data, err := os.ReadFile(RawPath(m.Home, rawRef))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func entryTokens(e store.MemoryEntry) int {
	if e.Tokens > 0 {
		return e.Tokens
	}
	return tokens.Count(e.Content)
}

func firstLine(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimLeft(s, "# ")
	r := []rune(s)
	if len(r) > maxRunes {
		return string(r[:maxRunes-3]) + "..."
	}
	return s
}
