// Package dispatch turns queued tasks into agent runs: routing free-text
// requests, executing independent agents in parallel waves and dependents in
// declared order, then applying the completion policy: one synthesized chat
// reply per human task, stored results plus an optional one-hop follow-up
// for scheduled work.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrg275/proof2pay-agents/internal/chat"
	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/otel"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

var (
	// ErrRoutingAmbiguous marks a free-text request no agent can be resolved
	// for; the dispatcher answers with a clarification request, never a guess.
	ErrRoutingAmbiguous = errors.New("routing ambiguous")
	// ErrDependencyUnmet marks a run skipped because its upstream failed.
	ErrDependencyUnmet = errors.New("dependency unmet")
)

const followUpMarker = "FOLLOW-UP:"

// Dispatcher consumes the task queue. One instance runs per daemon.
type Dispatcher struct {
	Store    store.Store
	Runner   *runner.Runner
	Roster   *roster.Roster
	Chat     chat.Transport
	Settings config.Settings

	// Memory, when set, records the compiled briefing in the memory log
	// under the briefings pseudo-agent.
	Memory *memory.Manager
	// Index, when set, is regenerated after each briefing posts.
	Index Indexer

	// Publish, when set, mirrors lifecycle events onto the SSE stream.
	Publish func(event string, data map[string]any)

	// Poll bounds how long a freshly queued task waits when nothing calls
	// Kick; tests shrink it.
	Poll time.Duration

	kick chan struct{}
}

func New(st store.Store, run *runner.Runner, ros *roster.Roster, transport chat.Transport, settings config.Settings) *Dispatcher {
	return &Dispatcher{
		Store:    st,
		Runner:   run,
		Roster:   ros,
		Chat:     transport,
		Settings: settings,
		kick:     make(chan struct{}, 1),
	}
}

func (d *Dispatcher) publish(event string, data map[string]any) {
	if d.Publish != nil {
		d.Publish(event, data)
	}
}

// Kick wakes the consumer loop without waiting for the next poll.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run consumes the task queue until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	poll := d.Poll
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		d.Drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.kick:
		}
	}
}

// Drain claims and dispatches pending tasks until the queue is empty. The
// one-shot CLI flows call it directly; the daemon loop calls it per wake.
func (d *Dispatcher) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := d.Store.NextPendingTask(ctx)
		if err != nil {
			slog.Error("queue read failed", "err", err)
			return
		}
		if task == nil {
			return
		}
		claimed, err := d.Store.ClaimTask(ctx, task.TaskID)
		if err != nil {
			slog.Error("task claim failed", "task", task.TaskID, "err", err)
			return
		}
		if !claimed {
			continue
		}
		if _, err := d.Submit(ctx, task); err != nil {
			slog.Error("task dispatch failed", "task", task.TaskID, "err", err)
		}
	}
}

// Submit resolves targets, executes the plan, and applies the completion
// policy. Agent failures come back as failed runs inside the slice; a non-nil
// error means infrastructure trouble, and the task is marked failed.
func (d *Dispatcher) Submit(ctx context.Context, task *store.Task) ([]store.Run, error) {
	runs, err := d.dispatch(ctx, task)
	if err != nil {
		detail := err.Error()
		if ferr := d.Store.FinishTask(ctx, task.TaskID, models.TaskFailed, &detail); ferr != nil {
			slog.Error("task finish failed", "task", task.TaskID, "err", ferr)
		}
		d.publish(models.EventTaskComplete, map[string]any{"task_id": task.TaskID, "status": models.TaskFailed})
		return runs, err
	}
	return runs, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task *store.Task) ([]store.Run, error) {
	targets := normalizeTargets(d.Roster, task.Targets)
	if len(targets) == 0 {
		if task.Origin != models.OriginHuman {
			return nil, fmt.Errorf("task %s has no resolvable targets", task.TaskID)
		}
		resolved, err := d.route(ctx, task, d.conversation(ctx, task))
		switch {
		case errors.Is(err, ErrRoutingAmbiguous):
			slog.Warn("routing ambiguous", "task", task.TaskID, "err", err)
			return nil, d.clarify(ctx, task)
		case err != nil:
			return nil, err
		}
		targets = resolved
		slog.Info("task routed", "task", task.TaskID, "targets", targets)
	}
	if err := d.Store.SetTaskTargets(ctx, task.TaskID, targets); err != nil {
		return nil, fmt.Errorf("set targets: %w", err)
	}
	task.Targets = targets

	runs := d.executePlan(ctx, task, targets)
	if err := d.complete(ctx, task, runs); err != nil {
		return runs, err
	}
	return runs, nil
}

// executePlan runs each wave of independent agents in parallel on the worker
// pool and each dependent strictly after its upstreams, with the upstream
// outputs injected into its context.
func (d *Dispatcher) executePlan(ctx context.Context, task *store.Task, targets []string) []store.Run {
	layers := buildLayers(d.Roster, targets)
	inSet := make(map[string]bool, len(targets))
	for _, id := range targets {
		inSet[id] = true
	}
	maxConcurrent := d.Settings.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = models.DefaultMaxConcurrentRuns
	}

	conversation := ""
	if task.Origin == models.OriginHuman {
		conversation = d.conversation(ctx, task)
	}

	var mu sync.Mutex
	done := make(map[string]*store.Run, len(targets))

	for _, layer := range layers {
		g := &errgroup.Group{}
		g.SetLimit(maxConcurrent)
		for _, agent := range layer {
			g.Go(func() error {
				// Upstreams all live in earlier layers, so done is stable
				// for this agent by the time its wave starts.
				mu.Lock()
				unmet := unmetDependencies(agent, inSet, done)
				upstream := upstreamContext(d.Roster, agent, done)
				mu.Unlock()

				var run *store.Run
				if len(unmet) > 0 {
					run = d.recordUnmet(ctx, task, agent, unmet)
				} else {
					d.publish(models.EventRunStarted, map[string]any{"task_id": task.TaskID, "agent": agent.ID})
					run = d.executeOne(ctx, task, agent, joinContext(conversation, upstream))
				}

				mu.Lock()
				done[agent.ID] = run
				mu.Unlock()
				d.publish(models.EventRunFinished, map[string]any{
					"task_id": task.TaskID, "agent": agent.ID, "run_id": run.RunID, "status": run.Status,
				})
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make([]store.Run, 0, len(targets))
	for _, id := range targets {
		if r, ok := done[id]; ok {
			out = append(out, *r)
		}
	}
	return out
}

func (d *Dispatcher) executeOne(ctx context.Context, task *store.Task, agent roster.Agent, upstream string) *store.Run {
	run, err := d.Runner.Execute(ctx, runner.Request{Agent: agent, Task: task, Upstream: upstream, DocRefs: task.DocRefs})
	if err != nil {
		slog.Error("run execution fault", "task", task.TaskID, "agent", agent.ID, "err", err)
		kind := models.ErrKindTransient
		detail := err.Error()
		return &store.Run{
			TaskID: task.TaskID, AgentID: agent.ID,
			Status: models.RunFailed, ErrorKind: &kind, ErrorDetail: &detail,
		}
	}
	return run
}

// recordUnmet records a failed run for an agent whose upstream did not
// succeed. The reasoning client is never invoked and no retry budget is
// spent.
func (d *Dispatcher) recordUnmet(ctx context.Context, task *store.Task, agent roster.Agent, unmet []string) *store.Run {
	kind := models.ErrKindDependency
	detail := fmt.Sprintf("%v: upstream did not succeed: %s", ErrDependencyUnmet, strings.Join(unmet, ", "))
	now := time.Now().UTC()
	run := &store.Run{
		TaskID:      task.TaskID,
		AgentID:     agent.ID,
		Status:      models.RunFailed,
		ErrorKind:   &kind,
		ErrorDetail: &detail,
		FinishedAt:  &now,
	}
	if err := d.Store.CreateRun(ctx, run); err != nil {
		slog.Error("record dependency-unmet run failed", "task", task.TaskID, "agent", agent.ID, "err", err)
	}
	slog.Warn("dependency unmet, run skipped", "task", task.TaskID, "agent", agent.ID, "unmet", unmet)
	return run
}

// complete applies the completion policy once every run is terminal.
func (d *Dispatcher) complete(ctx context.Context, task *store.Task, runs []store.Run) error {
	succeeded, failed := splitRuns(runs)
	status := models.TaskComplete
	if len(runs) > 0 && len(succeeded) == 0 {
		status = models.TaskFailed
	}
	detail := completionDetail(succeeded, failed)

	switch {
	case isBriefingTask(task):
		d.completeBriefing(ctx, task, succeeded, failed)
	case task.Origin == models.OriginHuman:
		d.postReply(ctx, task, succeeded, failed)
	default:
		d.maybeFollowUp(ctx, task, succeeded)
	}

	if err := d.Store.FinishTask(ctx, task.TaskID, status, &detail); err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	d.publish(models.EventTaskComplete, map[string]any{"task_id": task.TaskID, "status": status, "detail": detail})
	slog.Info("task complete", "task", task.TaskID, "status", status, "runs", len(runs), "failed", len(failed))
	return nil
}

// postReply sends the single synthesized reply for a human task. Posting is
// attempted exactly once; a transport failure is logged, never retried, so
// the requester can never be notified twice for one task.
func (d *Dispatcher) postReply(ctx context.Context, task *store.Task, succeeded, failed []store.Run) {
	text := d.composeReply(succeeded, failed)
	channel := d.replyChannel(task)
	if err := d.Chat.Post(ctx, channel, text); err != nil {
		slog.Error("chat post failed", "task", task.TaskID, "channel", channel, "err", err)
		return
	}
	otel.RecordChatPost(ctx, d.Settings.Chat.Transport)
	d.publish(models.EventChatPost, map[string]any{"channel": channel, "task_id": task.TaskID})
	turn := &store.ChatTurn{Channel: channel, Sender: d.replySender(succeeded), Content: text}
	if err := d.Store.AppendChatTurn(ctx, turn); err != nil {
		slog.Error("transcript append failed", "channel", channel, "err", err)
	}
}

// composeReply synthesizes one message from the task's runs. Failures are
// always named, never silently dropped.
func (d *Dispatcher) composeReply(succeeded, failed []store.Run) string {
	var b strings.Builder
	switch {
	case len(succeeded) == 1 && len(failed) == 0:
		return strings.TrimSpace(deref(succeeded[0].Output))
	case len(succeeded) == 0:
		b.WriteString("I couldn't complete this request.")
	default:
		for i, run := range succeeded {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "## %s\n\n%s", d.agentName(run.AgentID), strings.TrimSpace(deref(run.Output)))
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n\nNot everything finished:")
		for _, run := range failed {
			fmt.Fprintf(&b, "\n- %s failed (%s): %s", d.agentName(run.AgentID), deref(run.ErrorKind), deref(run.ErrorDetail))
		}
	}
	return strings.TrimSpace(b.String())
}

// clarify answers an unroutable request with a clarification question; the
// task completes with no runs.
func (d *Dispatcher) clarify(ctx context.Context, task *store.Task) error {
	var areas []string
	for _, a := range d.Roster.Specialists() {
		areas = append(areas, strings.ReplaceAll(a.Capability, "_", " "))
	}
	text := fmt.Sprintf(
		"I couldn't tell which specialist should handle this. Could you rephrase and name the area you need? Available: %s.",
		strings.Join(areas, ", "))
	channel := d.replyChannel(task)
	if err := d.Chat.Post(ctx, channel, text); err != nil {
		slog.Error("clarification post failed", "task", task.TaskID, "channel", channel, "err", err)
	} else {
		otel.RecordChatPost(ctx, d.Settings.Chat.Transport)
		d.publish(models.EventChatPost, map[string]any{"channel": channel, "task_id": task.TaskID})
		turn := &store.ChatTurn{Channel: channel, Sender: d.Roster.Orchestrator().ID, Content: text}
		if err := d.Store.AppendChatTurn(ctx, turn); err != nil {
			slog.Error("transcript append failed", "channel", channel, "err", err)
		}
	}
	detail := "routing ambiguous; clarification requested"
	if err := d.Store.FinishTask(ctx, task.TaskID, models.TaskComplete, &detail); err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	d.publish(models.EventTaskComplete, map[string]any{"task_id": task.TaskID, "status": models.TaskComplete, "detail": detail})
	return nil
}

// maybeFollowUp spawns at most one follow-up task from FOLLOW-UP: lines in
// the cycle's outputs. When several agents propose conflicting follow-ups the
// narrower capability wins; hop depth caps the chain at one.
func (d *Dispatcher) maybeFollowUp(ctx context.Context, task *store.Task, succeeded []store.Run) {
	if task.Hop >= 1 {
		return
	}
	proposals := make(map[string]string)
	var proposers []string
	for _, run := range succeeded {
		if run.Output == nil {
			continue
		}
		if instr := extractFollowUp(*run.Output); instr != "" {
			proposals[run.AgentID] = instr
			proposers = append(proposers, run.AgentID)
		}
	}
	if len(proposers) == 0 {
		return
	}
	winner := d.Roster.Narrowest(proposers)
	orch := d.Roster.Orchestrator()
	follow := &store.Task{
		Origin:      models.OriginAgent,
		Instruction: fmt.Sprintf("Follow-up proposed by %s: %s", winner, proposals[winner]),
		Priority:    models.PriorityScheduled,
		Hop:         task.Hop + 1,
		Targets:     []string{orch.ID},
		CycleDate:   task.CycleDate,
	}
	if err := d.Store.CreateTask(ctx, follow); err != nil {
		slog.Error("follow-up create failed", "task", task.TaskID, "err", err)
		return
	}
	otel.RecordTask(ctx, models.OriginAgent)
	d.publish(models.EventTaskCreated, map[string]any{"task_id": follow.TaskID, "origin": follow.Origin, "hop": follow.Hop})
	slog.Info("follow-up task created", "source_task", task.TaskID, "task", follow.TaskID, "proposer", winner)
	d.Kick()
}

// extractFollowUp returns the instruction from the first FOLLOW-UP: line.
func extractFollowUp(output string) string {
	for _, line := range strings.Split(output, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), followUpMarker)
		if !ok {
			continue
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

// conversation renders the channel's recent transcript, provided to routing
// and channel-bound agent contexts.
func (d *Dispatcher) conversation(ctx context.Context, task *store.Task) string {
	if task.Channel == nil || *task.Channel == "" {
		return ""
	}
	turns, err := d.Store.RecentChatTurns(ctx, *task.Channel, models.DefaultConversationTurns)
	if err != nil {
		slog.Warn("transcript read failed", "channel", *task.Channel, "err", err)
		return ""
	}
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent Conversation\n")
	for _, turn := range turns {
		fmt.Fprintf(&b, "\n%s: %s", turn.Sender, turn.Content)
	}
	return b.String()
}

func (d *Dispatcher) replyChannel(task *store.Task) string {
	if task.Channel != nil && *task.Channel != "" {
		return *task.Channel
	}
	return d.Settings.Chat.DefaultChannel
}

func (d *Dispatcher) replySender(succeeded []store.Run) string {
	if len(succeeded) == 1 {
		return succeeded[0].AgentID
	}
	return d.Roster.Orchestrator().ID
}

func (d *Dispatcher) agentName(agentID string) string {
	if a, ok := d.Roster.Get(agentID); ok && a.Name != "" {
		return a.Name
	}
	return agentID
}

func splitRuns(runs []store.Run) (succeeded, failed []store.Run) {
	for _, run := range runs {
		if run.Status == models.RunSucceeded {
			succeeded = append(succeeded, run)
		} else {
			failed = append(failed, run)
		}
	}
	return succeeded, failed
}

func completionDetail(succeeded, failed []store.Run) string {
	total := len(succeeded) + len(failed)
	if total == 0 {
		return "no runs"
	}
	if len(failed) == 0 {
		return fmt.Sprintf("all %d runs succeeded", total)
	}
	var names []string
	for _, run := range failed {
		names = append(names, fmt.Sprintf("%s (%s)", run.AgentID, deref(run.ErrorKind)))
	}
	return fmt.Sprintf("%d/%d runs succeeded; failed: %s", len(succeeded), total, strings.Join(names, ", "))
}

func joinContext(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
