package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

const routerPromptFormat = `You route requests arriving at a payments startup to its specialist agents.

Available agents:
%s

Reply with JSON only, no prose: {"agents": ["<id>", ...], "reason": "<one line>"}.
Pick the smallest set of agents that can fully handle the request. If no agent
fits, reply {"agents": [], "reason": "<why>"}.`

// routerAgent builds the reserved pseudo-agent whose run resolves targets for
// a free-text request. Routing rides the same retry and failure path as any
// other run.
func (d *Dispatcher) routerAgent() roster.Agent {
	var lines []string
	for _, a := range d.Roster.All() {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", a.ID, a.Name, strings.ReplaceAll(a.Capability, "_", " ")))
	}
	return roster.Agent{
		ID:         models.RouterAgentID,
		Name:       "Router",
		Role:       roster.RoleSpecialist,
		Capability: "routing",
		Schedule:   models.ScheduleEventTriggered,
		ModelTier:  models.TierHaiku,
		Prompt:     fmt.Sprintf(routerPromptFormat, strings.Join(lines, "\n")),
	}
}

// route resolves targets for a free-text task through the router run.
// Returns ErrRoutingAmbiguous when the reply names no usable agent.
func (d *Dispatcher) route(ctx context.Context, task *store.Task, conversation string) ([]string, error) {
	run, err := d.Runner.Execute(ctx, runner.Request{
		Agent:    d.routerAgent(),
		Task:     task,
		Upstream: conversation,
	})
	if err != nil {
		return nil, fmt.Errorf("router run: %w", err)
	}
	if run.Status != models.RunSucceeded || run.Output == nil {
		detail := "no output"
		if run.ErrorDetail != nil {
			detail = *run.ErrorDetail
		}
		return nil, fmt.Errorf("%w: router run failed: %s", ErrRoutingAmbiguous, detail)
	}
	ids, err := d.parseRouterReply(*run.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoutingAmbiguous, err)
	}
	return ids, nil
}

type routerReply struct {
	Agents []string `json:"agents"`
	Reason string   `json:"reason"`
}

// parseRouterReply extracts and validates the routed agent ids. Model output
// is rarely clean JSON; fenced or truncated replies go through jsonrepair
// before the strict parse gives up.
func (d *Dispatcher) parseRouterReply(text string) ([]string, error) {
	raw := strings.TrimSpace(text)
	if i := strings.Index(raw, "{"); i > 0 {
		raw = raw[i:]
	}
	var reply routerReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("unparsable router reply: %v", repairErr)
		}
		if err := json.Unmarshal([]byte(fixed), &reply); err != nil {
			return nil, fmt.Errorf("unparsable router reply: %v", err)
		}
	}
	var ids []string
	seen := make(map[string]bool, len(reply.Agents))
	for _, id := range reply.Agents {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := d.Roster.Get(id); !ok {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no valid agents in reply %q", text)
	}
	return ids, nil
}
