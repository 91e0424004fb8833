package dispatch

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// normalizeTargets dedupes the target list in order and drops ids the roster
// does not know. Routing validates ids already; this guards hand-edited
// scheduled tasks.
func normalizeTargets(ros *roster.Roster, targets []string) []string {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, id := range targets {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := ros.Get(id); !ok {
			slog.Warn("dropping unknown target agent", "agent", id)
			continue
		}
		out = append(out, id)
	}
	return out
}

// buildLayers orders targets into execution waves. Layer zero has no
// dependencies inside the target set; each later layer depends only on
// earlier ones. Dependencies on agents outside the set are ignored; the
// edge binds only when both ends run within the same task.
func buildLayers(ros *roster.Roster, targets []string) [][]roster.Agent {
	inSet := make(map[string]bool, len(targets))
	for _, id := range targets {
		inSet[id] = true
	}
	resolved := make(map[string]bool, len(targets))
	remaining := targets
	var layers [][]roster.Agent
	for len(remaining) > 0 {
		var layer []roster.Agent
		var next []string
		for _, id := range remaining {
			a, _ := ros.Get(id)
			ready := true
			for _, dep := range a.DependsOn {
				if inSet[dep] && !resolved[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, a)
			} else {
				next = append(next, id)
			}
		}
		if len(layer) == 0 {
			// The roster rejects dependency cycles, so this is unreachable;
			// flush the rest as one layer rather than spin.
			for _, id := range next {
				a, _ := ros.Get(id)
				layer = append(layer, a)
			}
			next = nil
		}
		for _, a := range layer {
			resolved[a.ID] = true
		}
		layers = append(layers, layer)
		remaining = next
	}
	return layers
}

// upstreamContext renders the outputs a downstream agent inherits from its
// in-set dependencies.
func upstreamContext(ros *roster.Roster, agent roster.Agent, done map[string]*store.Run) string {
	var b strings.Builder
	for _, dep := range agent.DependsOn {
		run, ok := done[dep]
		if !ok || run.Output == nil {
			continue
		}
		name := dep
		if a, found := ros.Get(dep); found && a.Name != "" {
			name = a.Name
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Output from %s\n\n%s", name, strings.TrimSpace(*run.Output))
	}
	return b.String()
}

// unmetDependencies lists in-set dependencies that did not succeed.
func unmetDependencies(agent roster.Agent, inSet map[string]bool, done map[string]*store.Run) []string {
	var unmet []string
	for _, dep := range agent.DependsOn {
		if !inSet[dep] {
			continue
		}
		run, ok := done[dep]
		if !ok || run.Status != models.RunSucceeded {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}
