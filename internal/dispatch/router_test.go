package dispatch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mrg275/proof2pay-agents/internal/reasoning"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func TestParseRouterReply(t *testing.T) {
	t.Parallel()

	d := &Dispatcher{Roster: roster.Default()}
	cases := []struct {
		name    string
		text    string
		want    []string
		wantErr bool
	}{
		{
			name: "strict json",
			text: `{"agents": ["compliance", "market_research"], "reason": "both apply"}`,
			want: []string{"compliance", "market_research"},
		},
		{
			name: "prose before the json",
			text: `Routing decision: {"agents": ["regulatory"], "reason": "CFPB question"}`,
			want: []string{"regulatory"},
		},
		{
			name: "single quotes repaired",
			text: `{'agents': ['fundraising'], 'reason': 'raise timing'}`,
			want: []string{"fundraising"},
		},
		{
			name: "truncated reply repaired",
			text: `{"agents": ["brand_marketing"], "reason": "launch messagi`,
			want: []string{"brand_marketing"},
		},
		{
			name: "duplicates and unknown ids dropped",
			text: `{"agents": ["compliance", "compliance", "ghost"], "reason": "x"}`,
			want: []string{"compliance"},
		},
		{
			name:    "empty agent list",
			text:    `{"agents": [], "reason": "unclear"}`,
			wantErr: true,
		},
		{
			name:    "no json at all",
			text:    "I am not sure who should take this.",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.parseRouterReply(tc.text)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRouterReply: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRouterAgentPromptListsRoster(t *testing.T) {
	t.Parallel()

	d := &Dispatcher{Roster: roster.Default()}
	agent := d.routerAgent()
	if agent.ID != models.RouterAgentID || agent.ModelTier != models.TierHaiku {
		t.Fatalf("router agent shape: %+v", agent)
	}
	for _, a := range roster.Default().All() {
		if !strings.Contains(agent.Prompt, "- "+a.ID+":") {
			t.Fatalf("router prompt missing agent %s:\n%s", a.ID, agent.Prompt)
		}
	}
}

func TestRoute_failedRunIsAmbiguous(t *testing.T) {
	t.Parallel()

	mock := &reasoning.Mock{}
	mock.Fn = func(_ context.Context, _ reasoning.Request) (*reasoning.Result, error) {
		return nil, &reasoning.PermanentError{Err: errors.New("status 400")}
	}
	env := newTestEnv(t, mock)
	task := createTask(t, env.store, &store.Task{
		Origin:      models.OriginHuman,
		Instruction: "anything",
		Priority:    models.PriorityHuman,
	})

	_, err := env.dispatcher.route(context.Background(), task, "")
	if !errors.Is(err, ErrRoutingAmbiguous) {
		t.Fatalf("route error = %v, want ErrRoutingAmbiguous", err)
	}
}
