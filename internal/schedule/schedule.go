// Package schedule converts wall-clock time into queued tasks: per-agent
// daily/weekly/biweekly cadences, event triggers, and the end-of-cycle
// briefing task that fires once every scheduled run of the day is terminal.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/otel"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Weekly and biweekly agents fire on Monday at the daily hour. Biweekly is
// a weekly cron line gated on the persisted last-fired mark, since plain
// cron cannot express every-other-week.
const (
	fireWeekday    = "1"
	biweeklyMinGap = 13 * 24 * time.Hour
)

// Scheduler owns the timed producers feeding the task queue. Next-fire
// times are derived from the persisted schedule marks, so a restart never
// replays missed periods: at most one catch-up task per agent per scan.
type Scheduler struct {
	Store    store.Store
	Roster   *roster.Roster
	Settings config.Settings

	// Publish, when set, mirrors lifecycle events onto the SSE stream.
	Publish func(event string, data map[string]any)
	// Kick, when set, wakes the dispatcher immediately after a task lands.
	Kick func()
	// Now overrides the clock in tests.
	Now func() time.Time

	mu    sync.Mutex
	specs map[string]cron.Schedule
	next  map[string]time.Time
}

// New builds a scheduler with cron lines derived from each agent's schedule
// class and the configured daily hour. always_on and event_triggered agents
// carry no line; they are never time-triggered.
func New(st store.Store, ros *roster.Roster, settings config.Settings) (*Scheduler, error) {
	s := &Scheduler{
		Store:    st,
		Roster:   ros,
		Settings: settings,
		specs:    make(map[string]cron.Schedule),
		next:     make(map[string]time.Time),
	}
	for _, a := range ros.All() {
		line := ""
		switch a.Schedule {
		case models.ScheduleDaily:
			line = fmt.Sprintf("%d %d * * *", settings.DailyMinute, settings.DailyHour)
		case models.ScheduleWeekly, models.ScheduleBiweekly:
			line = fmt.Sprintf("%d %d * * %s", settings.DailyMinute, settings.DailyHour, fireWeekday)
		default:
			continue
		}
		spec, err := cron.ParseStandard(line)
		if err != nil {
			return nil, fmt.Errorf("agent %s: cron line %q: %w", a.ID, line, err)
		}
		s.specs[a.ID] = spec
	}
	return s, nil
}

func (s *Scheduler) publish(event string, data map[string]any) {
	if s.Publish != nil {
		s.Publish(event, data)
	}
}

func (s *Scheduler) kick() {
	if s.Kick != nil {
		s.Kick()
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().In(s.Settings.Location())
	}
	return time.Now().In(s.Settings.Location())
}

// CycleDate names the cycle a moment belongs to, in the configured zone.
func (s *Scheduler) CycleDate(t time.Time) string {
	return t.In(s.Settings.Location()).Format("2006-01-02")
}

// fireTimeOn reconstructs the fire instant for a recorded cycle date. Fires
// always land on the configured daily slot, so date plus slot is exact.
func (s *Scheduler) fireTimeOn(cycleDate string) (time.Time, error) {
	loc := s.Settings.Location()
	d, err := time.ParseInLocation("2006-01-02", cycleDate, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), s.Settings.DailyHour, s.Settings.DailyMinute, 0, 0, loc), nil
}

// Run ticks until ctx ends. The first scan happens immediately so an agent
// whose slot passed while the process was down catches up without waiting a
// full tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Tick(ctx, s.now())
	ticker := time.NewTicker(s.Settings.Tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick runs one scheduling scan: fire every due agent, then close the cycle
// if all of today's scheduled runs are terminal. Store errors are logged and
// retried on the next tick; no agent is ever dropped from scheduling.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, agent := range s.Roster.All() {
		if _, timed := s.specs[agent.ID]; !timed {
			continue
		}
		if err := s.scanAgent(ctx, agent, now); err != nil {
			slog.Error("schedule scan failed, will retry next tick", "agent", agent.ID, "err", err)
		}
	}
	s.maybeBriefing(ctx)
}

func (s *Scheduler) scanAgent(ctx context.Context, agent roster.Agent, now time.Time) error {
	next, err := s.nextFire(ctx, agent, now)
	if err != nil {
		return err
	}
	if next.After(now) {
		return nil
	}

	spec := s.specs[agent.ID]
	if agent.Schedule == models.ScheduleBiweekly {
		lastCycle, err := s.Store.LastFired(ctx, agent.ID)
		if err != nil {
			return err
		}
		if lastCycle != "" {
			lastAt, err := s.fireTimeOn(lastCycle)
			if err == nil && now.Sub(lastAt) < biweeklyMinGap {
				s.setNext(agent.ID, spec.Next(now))
				return nil
			}
		}
	}

	if err := s.fire(ctx, agent, now); err != nil {
		return err
	}
	s.setNext(agent.ID, spec.Next(now))
	return nil
}

// nextFire resolves an agent's next fire time, deriving it from the
// persisted mark on first sight. Advancing from the last fire means a slot
// missed during downtime is due immediately, once.
func (s *Scheduler) nextFire(ctx context.Context, agent roster.Agent, now time.Time) (time.Time, error) {
	s.mu.Lock()
	if t, ok := s.next[agent.ID]; ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	spec := s.specs[agent.ID]
	lastCycle, err := s.Store.LastFired(ctx, agent.ID)
	if err != nil {
		return time.Time{}, err
	}
	next := spec.Next(now)
	if lastCycle != "" {
		if lastAt, perr := s.fireTimeOn(lastCycle); perr == nil {
			next = spec.Next(lastAt)
		}
	}
	s.setNext(agent.ID, next)
	return next, nil
}

func (s *Scheduler) setNext(agentID string, t time.Time) {
	s.mu.Lock()
	s.next[agentID] = t
	s.mu.Unlock()
}

// NextFires returns a copy of the resolved next-fire times, for the status
// API. Agents not yet scanned are absent.
func (s *Scheduler) NextFires() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.next))
	for id, t := range s.next {
		out[id] = t
	}
	return out
}

func (s *Scheduler) fire(ctx context.Context, agent roster.Agent, now time.Time) error {
	cycle := s.CycleDate(now)
	task := &store.Task{
		Origin:      models.OriginSchedule,
		Instruction: scheduledInstruction(agent),
		Priority:    models.PriorityScheduled,
		Targets:     []string{agent.ID},
		CycleDate:   &cycle,
	}
	if err := s.Store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	if err := s.Store.MarkFired(ctx, agent.ID, cycle, now.UTC()); err != nil {
		slog.Error("schedule mark failed; agent may catch up twice after a restart", "agent", agent.ID, "err", err)
	}
	otel.RecordTask(ctx, models.OriginSchedule)
	s.publish(models.EventTaskCreated, map[string]any{"task_id": task.TaskID, "origin": task.Origin, "agent": agent.ID, "cycle": cycle})
	slog.Info("scheduled task fired", "agent", agent.ID, "task", task.TaskID, "cycle", cycle, "schedule", agent.Schedule)
	s.kick()
	return nil
}

// Trigger queues a task for an event_triggered agent. This is the only way
// such agents run.
func (s *Scheduler) Trigger(ctx context.Context, agentID, payload string) (string, error) {
	agent, ok := s.Roster.Get(agentID)
	if !ok {
		return "", fmt.Errorf("unknown agent %q", agentID)
	}
	if agent.Schedule != models.ScheduleEventTriggered {
		return "", fmt.Errorf("agent %s is %s, not event_triggered", agentID, agent.Schedule)
	}
	cycle := s.CycleDate(s.now())
	task := &store.Task{
		Origin:      models.OriginAgent,
		Instruction: payload,
		Priority:    models.PriorityScheduled,
		Targets:     []string{agentID},
		CycleDate:   &cycle,
	}
	if err := s.Store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create triggered task: %w", err)
	}
	otel.RecordTask(ctx, models.OriginAgent)
	s.publish(models.EventTaskCreated, map[string]any{"task_id": task.TaskID, "origin": task.Origin, "agent": agentID})
	s.kick()
	return task.TaskID, nil
}

// FireAll queues one task for every timed agent regardless of cadence, for
// the one-shot cycle command. Marks and next-fire times advance as if the
// slots had arrived.
func (s *Scheduler) FireAll(ctx context.Context, now time.Time) ([]string, error) {
	var fired []string
	for _, agent := range s.Roster.All() {
		spec, timed := s.specs[agent.ID]
		if !timed {
			continue
		}
		if err := s.fire(ctx, agent, now); err != nil {
			return fired, err
		}
		s.setNext(agent.ID, spec.Next(now))
		fired = append(fired, agent.ID)
	}
	return fired, nil
}

// maybeBriefing emits the synthetic compile-briefing task once per cycle
// date. The gate is terminality of the cycle's scheduled work, not wall
// clock: no briefing row yet, no open tasks for the cycle, and at least one
// run to report on. The candidate is the most recent un-briefed cycle with
// recorded runs, so a cycle that closes after midnight (or that the process
// slept through) still gets its briefing on the next tick. The briefing
// task itself counts as open until it completes, so the gate cannot
// double-fire.
func (s *Scheduler) maybeBriefing(ctx context.Context) {
	cycle, err := s.Store.LatestUnbriefedCycle(ctx)
	if err != nil {
		slog.Error("briefing gate read failed", "err", err)
		return
	}
	if cycle == "" {
		return
	}
	open, err := s.Store.OpenTasksForCycle(ctx, cycle)
	if err != nil {
		slog.Error("briefing gate read failed", "cycle", cycle, "err", err)
		return
	}
	if open > 0 {
		return
	}
	total, _, err := s.Store.RunStatsForCycle(ctx, cycle)
	if err != nil {
		slog.Error("briefing gate read failed", "cycle", cycle, "err", err)
		return
	}
	if total == 0 {
		return
	}
	runs, err := s.Store.ListRunsForCycle(ctx, cycle)
	if err != nil {
		slog.Error("briefing gate read failed", "cycle", cycle, "err", err)
		return
	}

	orch := s.Roster.Orchestrator()
	task := &store.Task{
		Origin:      models.OriginSchedule,
		Instruction: briefingInstruction(cycle, runs),
		Priority:    models.PriorityScheduled,
		Hop:         1, // the briefing never spawns follow-ups of its own
		Targets:     []string{orch.ID},
		CycleDate:   &cycle,
	}
	if err := s.Store.CreateTask(ctx, task); err != nil {
		slog.Error("briefing task create failed", "cycle", cycle, "err", err)
		return
	}
	otel.RecordTask(ctx, models.OriginSchedule)
	s.publish(models.EventTaskCreated, map[string]any{"task_id": task.TaskID, "origin": task.Origin, "agent": orch.ID, "cycle": cycle})
	slog.Info("briefing task created", "task", task.TaskID, "cycle", cycle, "runs", total)
	s.kick()
}

func scheduledInstruction(a roster.Agent) string {
	return fmt.Sprintf(
		"Run your scheduled %s %s review. Report new findings, risks, and recommended actions since your last run. "+
			"If follow-up work is needed, state it on a single line starting with FOLLOW-UP:.",
		a.Schedule, strings.ReplaceAll(a.Capability, "_", " "))
}

func briefingInstruction(cycle string, runs []store.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Compile the founders' briefing for %s from today's completed work.\n\nToday's runs:\n", models.BriefingTaskTag, cycle)
	for _, r := range runs {
		if r.Status == models.RunSucceeded {
			fmt.Fprintf(&b, "- %s succeeded: %s\n", r.AgentID, gist(r.Output))
		} else {
			fmt.Fprintf(&b, "- %s failed (%s): %s\n", r.AgentID, strDeref(r.ErrorKind), strDeref(r.ErrorDetail))
		}
	}
	b.WriteString("\nSynthesize outcomes, highlight risks and decisions needed, and name every failure explicitly.")
	return b.String()
}

func gist(output *string) string {
	if output == nil {
		return ""
	}
	s := strings.TrimSpace(*output)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimLeft(s, "# ")
	if r := []rune(s); len(r) > 160 {
		return string(r[:157]) + "..."
	}
	return s
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
