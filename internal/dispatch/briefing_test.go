package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/reasoning"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

type fakeIndex struct {
	mu    sync.Mutex
	notes []string
}

func (f *fakeIndex) WriteIndex(_ context.Context, _ time.Time, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

// seedCycle records a finished scheduled task with one succeeded and one
// failed run, the state the day leaves behind before the briefing compiles.
func seedCycle(t *testing.T, st store.Store, cycle string) {
	t.Helper()
	ctx := context.Background()
	task := createTask(t, st, &store.Task{
		Origin:      models.OriginSchedule,
		Instruction: "weekly compliance review",
		Status:      models.TaskComplete,
		Priority:    models.PriorityScheduled,
		CycleDate:   &cycle,
	})
	out := "AMLD6 transposition deadlines reviewed; nothing blocking."
	if err := st.CreateRun(ctx, &store.Run{TaskID: task.TaskID, AgentID: "compliance", Status: models.RunSucceeded, Output: &out}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	kind := models.ErrKindTransient
	detail := "upstream timeout"
	if err := st.CreateRun(ctx, &store.Run{TaskID: task.TaskID, AgentID: "market_research", Status: models.RunFailed, ErrorKind: &kind, ErrorDetail: &detail}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func briefingTask(cycle string) *store.Task {
	return &store.Task{
		Origin:      models.OriginSchedule,
		Instruction: models.BriefingTaskTag + " Compile the founders' briefing for " + cycle + ".",
		Priority:    models.PriorityScheduled,
		Hop:         1,
		Targets:     []string{"chief_of_staff"},
		CycleDate:   &cycle,
	}
}

func TestBriefingTaskPostsAndPersists(t *testing.T) {
	t.Parallel()
	compiled := "Good day overall. Compliance cleared AMLD6; market scan pending retry."
	mock := (&reasoning.Mock{}).Script(reasoning.Reply{Text: compiled})
	env := newTestEnv(t, mock)
	idx := &fakeIndex{}
	env.dispatcher.Index = idx
	ctx := context.Background()
	cycle := "2026-03-04"

	seedCycle(t, env.store, cycle)
	task := createTask(t, env.store, briefingTask(cycle))
	if _, err := env.dispatcher.Submit(ctx, task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	briefing, err := env.store.GetBriefing(ctx, cycle)
	if err != nil {
		t.Fatalf("GetBriefing: %v", err)
	}
	if briefing == nil {
		t.Fatal("no briefing row written")
	}
	if !strings.HasPrefix(briefing.Content, compiled) {
		t.Errorf("content does not start with the compiled text: %q", briefing.Content)
	}
	if !strings.Contains(briefing.Content, "## Failures") || !strings.Contains(briefing.Content, "market_research") {
		t.Errorf("content missing the mechanical failure roll: %q", briefing.Content)
	}
	if briefing.RunCount != 2 || briefing.FailCount != 1 {
		t.Errorf("counts = %d/%d, want 2 runs 1 failed", briefing.RunCount, briefing.FailCount)
	}

	// Posted to the briefing channel, not the task's reply channel.
	posts := env.console.Posts()
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	if posts[0].Channel != env.dispatcher.Settings.Chat.BriefingChannel {
		t.Errorf("posted to %q, want %q", posts[0].Channel, env.dispatcher.Settings.Chat.BriefingChannel)
	}

	// Recorded in the memory log under the briefings pseudo-agent.
	entries, err := env.store.ListMemory(ctx, models.BriefingsAgentID, 10)
	if err != nil {
		t.Fatalf("ListMemory: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Kind == "briefing" && strings.Contains(e.Content, compiled) {
			found = true
		}
	}
	if !found {
		t.Errorf("briefing entry missing from memory log: %d entries", len(entries))
	}

	if len(idx.notes) != 1 || !strings.Contains(idx.notes[0], cycle) {
		t.Errorf("index notes = %v, want one naming the cycle", idx.notes)
	}

	got, err := env.store.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskComplete {
		t.Errorf("task status = %q, want complete", got.Status)
	}
}

func TestFailedBriefingCompileStillWritesTheRow(t *testing.T) {
	t.Parallel()
	mock := (&reasoning.Mock{}).Script(reasoning.Reply{Err: &reasoning.PermanentError{Err: errors.New("prompt rejected")}})
	env := newTestEnv(t, mock)
	ctx := context.Background()
	cycle := "2026-03-05"

	seedCycle(t, env.store, cycle)
	task := createTask(t, env.store, briefingTask(cycle))
	if _, err := env.dispatcher.Submit(ctx, task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	briefing, err := env.store.GetBriefing(ctx, cycle)
	if err != nil {
		t.Fatalf("GetBriefing: %v", err)
	}
	if briefing == nil {
		t.Fatal("failed compile left no briefing row; the scheduler would retry forever")
	}
	if !strings.Contains(briefing.Content, "could not be compiled") {
		t.Errorf("content does not admit the failure: %q", briefing.Content)
	}
	if !strings.Contains(briefing.Content, "market_research") {
		t.Errorf("content missing the day's failures: %q", briefing.Content)
	}
}

func TestBriefingTagFromHumansIsRoutedNormally(t *testing.T) {
	t.Parallel()
	if isBriefingTask(&store.Task{Origin: models.OriginHuman, Instruction: models.BriefingTaskTag + " do it", CycleDate: ptr("2026-03-04")}) {
		t.Error("human task with the tag treated as a briefing")
	}
	cycle := "2026-03-04"
	if !isBriefingTask(&store.Task{Origin: models.OriginSchedule, Instruction: models.BriefingTaskTag + " compile", CycleDate: &cycle}) {
		t.Error("scheduled tagged task not recognized")
	}
	if isBriefingTask(&store.Task{Origin: models.OriginSchedule, Instruction: models.BriefingTaskTag + " compile"}) {
		t.Error("tagged task without a cycle date recognized")
	}
}
