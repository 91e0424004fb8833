// Package roster loads and validates the agent roster: the closed set of
// configuration records the orchestrator routes work across. The roster is
// immutable at runtime; editing it requires a daemon restart.
package roster

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Agent roles.
const (
	RoleOrchestrator = "orchestrator"
	RoleSpecialist   = "specialist"
)

// Context include tags. product_docs and priorities pull shared documents
// into the run context; all_agent_summaries pulls every other agent's rolling
// summary; an "<agent>_summary" tag pulls one named agent's.
const (
	IncludeProductDocs  = "product_docs"
	IncludePriorities   = "priorities"
	IncludeAllSummaries = "all_agent_summaries"

	SummarySuffix = "_summary"
)

// Agent is one roster entry. Behavior lives entirely in the prompt and the
// scheduling/routing metadata; agents are data, not code.
type Agent struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Role            string   `yaml:"role"`
	Capability      string   `yaml:"capability"`
	Schedule        string   `yaml:"schedule"`
	ModelTier       string   `yaml:"model_tier"`
	Channel         string   `yaml:"channel,omitempty"`    // always_on chat binding
	DependsOn       []string `yaml:"depends_on,omitempty"` // upstream agents within a task
	ContextIncludes []string `yaml:"context_includes,omitempty"`
	Prompt          string   `yaml:"prompt"`
}

// Includes reports whether the agent's context_includes carries name.
func (a Agent) Includes(name string) bool {
	for _, inc := range a.ContextIncludes {
		if inc == name {
			return true
		}
	}
	return false
}

// Specificity is the breadth metric for the conflict tie-break: more words in
// the capability tag means a narrower declared domain. The orchestrator is
// always broadest regardless of its tag.
func (a Agent) Specificity() int {
	if a.Role == RoleOrchestrator {
		return 0
	}
	return len(strings.Split(a.Capability, "_"))
}

// Roster holds the loaded agents in declaration order plus an id index.
type Roster struct {
	agents []Agent
	byID   map[string]int
}

type rosterFile struct {
	Agents []Agent `yaml:"agents"`
}

//go:embed agents.yaml
var defaultRosterYAML []byte

var validSchedules = map[string]bool{
	models.ScheduleAlwaysOn:       true,
	models.ScheduleDaily:          true,
	models.ScheduleWeekly:         true,
	models.ScheduleBiweekly:       true,
	models.ScheduleEventTriggered: true,
}

var validTiers = map[string]bool{
	models.TierOpus:   true,
	models.TierSonnet: true,
	models.TierHaiku:  true,
}

// Parse builds a roster from YAML bytes.
func Parse(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	r := &Roster{agents: f.Agents, byID: make(map[string]int, len(f.Agents))}
	for i := range r.agents {
		if r.agents[i].Role == "" {
			r.agents[i].Role = RoleSpecialist
		}
		r.byID[r.agents[i].ID] = i
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads the roster from path, falling back to the embedded default when
// the file does not exist.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Parse(defaultRosterYAML)
		}
		return nil, err
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Default returns the embedded roster.
func Default() *Roster {
	r, err := Parse(defaultRosterYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded roster invalid: %v", err))
	}
	return r
}

func (r *Roster) validate() error {
	if len(r.agents) == 0 {
		return fmt.Errorf("roster has no agents")
	}
	orchestrators := 0
	for _, a := range r.agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if a.ID == models.BriefingsAgentID || a.ID == models.RouterAgentID {
			return fmt.Errorf("agent id %q is reserved", a.ID)
		}
		if a.Name == "" || a.Capability == "" {
			return fmt.Errorf("agent %s: name and capability required", a.ID)
		}
		if !validSchedules[a.Schedule] {
			return fmt.Errorf("agent %s: unknown schedule %q", a.ID, a.Schedule)
		}
		if !validTiers[a.ModelTier] {
			return fmt.Errorf("agent %s: unknown model_tier %q", a.ID, a.ModelTier)
		}
		if a.Role != RoleOrchestrator && a.Role != RoleSpecialist {
			return fmt.Errorf("agent %s: unknown role %q", a.ID, a.Role)
		}
		if a.Role == RoleOrchestrator {
			orchestrators++
		}
		if a.Schedule == models.ScheduleAlwaysOn && a.Channel == "" {
			return fmt.Errorf("agent %s: always_on requires a channel binding", a.ID)
		}
		for _, dep := range a.DependsOn {
			if dep == a.ID {
				return fmt.Errorf("agent %s: depends on itself", a.ID)
			}
		}
	}
	seen := make(map[string]bool, len(r.agents))
	for _, a := range r.agents {
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	if orchestrators != 1 {
		return fmt.Errorf("roster needs exactly one orchestrator, found %d", orchestrators)
	}
	for _, a := range r.agents {
		for _, dep := range a.DependsOn {
			if _, ok := r.byID[dep]; !ok {
				return fmt.Errorf("agent %s: depends_on unknown agent %q", a.ID, dep)
			}
		}
	}
	return r.checkCycles()
}

func (r *Roster) checkCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.agents))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("dependency cycle through agent %q", id)
		case black:
			return nil
		}
		color[id] = gray
		a, _ := r.Get(id)
		for _, dep := range a.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, a := range r.agents {
		if err := visit(a.ID); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the agent with the given id.
func (r *Roster) Get(id string) (Agent, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Agent{}, false
	}
	return r.agents[i], true
}

// All returns the agents in declaration order.
func (r *Roster) All() []Agent {
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

// Specialists returns every non-orchestrator agent in declaration order.
func (r *Roster) Specialists() []Agent {
	var out []Agent
	for _, a := range r.agents {
		if a.Role == RoleSpecialist {
			out = append(out, a)
		}
	}
	return out
}

// Orchestrator returns the single orchestrator agent.
func (r *Roster) Orchestrator() Agent {
	for _, a := range r.agents {
		if a.Role == RoleOrchestrator {
			return a
		}
	}
	// validate() guarantees one exists.
	return Agent{}
}

// ByChannel returns the always_on agent bound to the given chat channel.
func (r *Roster) ByChannel(channel string) (Agent, bool) {
	if channel == "" {
		return Agent{}, false
	}
	for _, a := range r.agents {
		if a.Schedule == models.ScheduleAlwaysOn && a.Channel == channel {
			return a, true
		}
	}
	return Agent{}, false
}

// Narrowest orders ids by descending capability specificity, ties broken by
// lexicographic id, and returns the winner. Unknown ids lose to known ones.
func (r *Roster) Narrowest(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]string(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		ai, okI := r.Get(sorted[i])
		aj, okJ := r.Get(sorted[j])
		if okI != okJ {
			return okI
		}
		si, sj := ai.Specificity(), aj.Specificity()
		if si != sj {
			return si > sj
		}
		return sorted[i] < sorted[j]
	})
	return sorted[0]
}
