package runner

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

const sectionSep = "\n\n---\n\n"

// buildPrompt assembles the user message: the agent's context sections in a
// fixed order, then the task itself.
func (r *Runner) buildPrompt(ctx context.Context, req Request) (string, error) {
	parts, err := r.contextParts(ctx, req)
	if err != nil {
		return "", err
	}
	task := "# Your Task\n\n" + strings.TrimSpace(req.Task.Instruction)
	if len(parts) == 0 {
		return task, nil
	}
	return strings.Join(parts, sectionSep) + sectionSep + task, nil
}

// contextParts builds the context sections: shared product docs, the
// priorities document, the agent's own memory, cross-agent summaries,
// payload documents, and any injected upstream output. Empty sections are
// omitted entirely.
func (r *Runner) contextParts(ctx context.Context, req Request) ([]string, error) {
	agent := req.Agent
	var parts []string

	if agent.Includes(roster.IncludeProductDocs) && r.Docs != nil {
		docs, err := r.productDocs(ctx)
		if err != nil {
			return nil, err
		}
		if docs != "" {
			parts = append(parts, "# Product Documentation\n\n"+docs)
		}
	}

	if agent.Includes(roster.IncludePriorities) {
		priorities, err := memory.ReadPriorities(r.Memory.Home)
		if err != nil {
			return nil, fmt.Errorf("read priorities: %w", err)
		}
		if priorities = strings.TrimSpace(priorities); priorities != "" {
			parts = append(parts, "# Company Priorities\n\n"+priorities)
		}
	}

	// The agent's own memory always rides along.
	own, err := r.Memory.RecentContext(ctx, agent.ID, r.contextBudget())
	if err != nil {
		return nil, err
	}
	if own != "" {
		parts = append(parts, "# Your Previous Work & Memory\n\n"+own)
	}

	if agent.Includes(roster.IncludeAllSummaries) {
		section, err := r.allSummariesSection(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		if section != "" {
			parts = append(parts, section)
		}
	}

	for _, inc := range agent.ContextIncludes {
		other, ok := strings.CutSuffix(inc, roster.SummarySuffix)
		if !ok || other == "" || other == agent.ID {
			continue
		}
		sum, err := r.Memory.RollingSummary(ctx, other)
		if err != nil {
			return nil, err
		}
		if sum != "" {
			parts = append(parts, fmt.Sprintf("# %s Agent Summary\n\n%s", r.displayName(other), sum))
		}
	}

	for _, ref := range req.DocRefs {
		data, err := r.Docs.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch doc %s: %w", ref, err)
		}
		parts = append(parts, fmt.Sprintf("# Document: %s\n\n%s", ref, strings.TrimSpace(string(data))))
	}

	if req.Upstream != "" {
		parts = append(parts, "# Additional Context for This Task\n\n"+strings.TrimSpace(req.Upstream))
	}
	return parts, nil
}

// productDocs renders every shared doc as a "## <stem>" section.
func (r *Runner) productDocs(ctx context.Context) (string, error) {
	refs, err := r.Docs.List(ctx, "")
	if err != nil {
		return "", fmt.Errorf("list docs: %w", err)
	}
	var sections []string
	for _, ref := range refs {
		data, err := r.Docs.Fetch(ctx, ref.Path)
		if err != nil {
			return "", fmt.Errorf("fetch doc %s: %w", ref.Path, err)
		}
		stem := strings.TrimSuffix(path.Base(ref.Path), path.Ext(ref.Path))
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", stem, strings.TrimSpace(string(data))))
	}
	return strings.Join(sections, sectionSep), nil
}

// allSummariesSection renders every other agent's rolling summary, sorted by
// agent id so the section is stable across runs.
func (r *Runner) allSummariesSection(ctx context.Context, selfID string) (string, error) {
	sums, err := r.Memory.AllSummaries(ctx, selfID, models.BriefingsAgentID, models.RouterAgentID)
	if err != nil {
		return "", err
	}
	if len(sums) == 0 {
		return "", nil
	}
	ids := make([]string, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	b.WriteString("# All Agent Summaries")
	for _, id := range ids {
		fmt.Fprintf(&b, "\n\n## %s Agent Summary\n\n%s", r.displayName(id), sums[id])
	}
	return b.String(), nil
}

func (r *Runner) displayName(agentID string) string {
	if r.Roster != nil {
		if a, ok := r.Roster.Get(agentID); ok && a.Name != "" {
			return a.Name
		}
	}
	return agentID
}

func (r *Runner) contextBudget() int {
	if r.Settings.ContextBudget > 0 {
		return r.Settings.ContextBudget
	}
	return models.DefaultContextBudget
}
