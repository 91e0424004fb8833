// Package runner executes single agent invocations: context assembly, the
// reasoning call with bounded retry, and the one durable memory write per
// successful run. Posting to chat is the dispatcher's job, never the
// runner's, so internal retries can never duplicate a notification.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/docstore"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/otel"
	"github.com/mrg275/proof2pay-agents/internal/reasoning"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Request is one unit of execution handed over by the dispatcher.
type Request struct {
	Agent    roster.Agent
	Task     *store.Task
	Upstream string   // upstream run output, dependency edges only
	DocRefs  []string // documents the task payload references
}

// Runner executes requests, at most one at a time per agent id.
type Runner struct {
	Store    store.Store
	Memory   *memory.Manager
	Docs     docstore.Store
	Client   reasoning.Client
	Roster   *roster.Roster
	Settings config.Settings

	// BackoffBase scales the retry delays; tests shrink it to keep the
	// transient-failure paths fast.
	BackoffBase time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st store.Store, mem *memory.Manager, docs docstore.Store, client reasoning.Client, ros *roster.Roster, settings config.Settings) *Runner {
	return &Runner{
		Store:       st,
		Memory:      mem,
		Docs:        docs,
		Client:      client,
		Roster:      ros,
		Settings:    settings,
		BackoffBase: time.Second,
		locks:       make(map[string]*sync.Mutex),
	}
}

// agentLock returns the mutex serializing runs for one agent id. Overlapping
// tasks for the same agent queue behind the running one.
func (r *Runner) agentLock(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[agentID] = l
	}
	return l
}

// Execute runs one agent against one task. Reasoning failures land on the
// returned Run as data; the error return is reserved for persistence faults.
func (r *Runner) Execute(ctx context.Context, req Request) (*store.Run, error) {
	lock := r.agentLock(req.Agent.ID)
	lock.Lock()
	defer lock.Unlock()

	model := r.Settings.ModelFor(req.Agent.ModelTier)
	maxTokens := r.Settings.Reasoning.MaxTokens
	if override, err := memory.LoadAgentConfig(r.Memory.Home, req.Agent.ID); err != nil {
		slog.Warn("agent config unreadable, using defaults", "agent", req.Agent.ID, "err", err)
	} else if override != nil {
		if override.Model != "" {
			model = override.Model
		}
		if override.MaxTokens > 0 {
			maxTokens = override.MaxTokens
		}
	}

	started := time.Now().UTC()
	run := &store.Run{
		TaskID:    req.Task.TaskID,
		AgentID:   req.Agent.ID,
		Status:    models.RunRunning,
		Model:     &model,
		StartedAt: &started,
	}
	if err := r.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	slog.Info("run started", "run", run.RunID, "agent", req.Agent.ID, "task", req.Task.TaskID, "model", model)

	prompt, err := r.buildPrompt(ctx, req)
	if err != nil {
		return r.fail(ctx, run, models.ErrKindPermanent, err, 1)
	}

	result, attempts, err := r.invokeWithRetry(ctx, run, reasoning.Request{
		Model:     model,
		System:    req.Agent.Prompt,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	run.AttemptCount = attempts
	if err != nil {
		kind := models.ErrKindPermanent
		if reasoning.IsTransient(err) {
			kind = models.ErrKindTransient
		}
		return r.fail(ctx, run, kind, err, attempts)
	}

	run.InputTokens = int64(result.Usage.InputTokens)
	run.OutputTokens = int64(result.Usage.OutputTokens)

	// The one durable write: raw output file plus memory row, before any
	// further dispatch logic sees the result.
	entry := &store.MemoryEntry{
		AgentID: req.Agent.ID,
		RunID:   &run.RunID,
		TaskID:  &req.Task.TaskID,
		Kind:    "output",
		Content: result.Text,
		Model:   &model,
	}
	if err := r.Memory.Append(ctx, entry); err != nil {
		return r.fail(ctx, run, models.ErrKindTransient, fmt.Errorf("persist output: %w", err), attempts)
	}

	finished := time.Now().UTC()
	run.Status = models.RunSucceeded
	run.Output = &result.Text
	run.MemoryID = &entry.MemoryID
	run.FinishedAt = &finished
	if err := r.Store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	otel.RecordRun(ctx, req.Agent.ID, run.Status, finished.Sub(started))
	otel.RecordTokens(ctx, req.Agent.ID, model, run.InputTokens, run.OutputTokens)
	slog.Info("run succeeded", "run", run.RunID, "agent", req.Agent.ID, "attempts", attempts,
		"input_tokens", run.InputTokens, "output_tokens", run.OutputTokens)
	return run, nil
}

// invokeWithRetry retries transient failures with exponential backoff and
// fails fast on permanent ones. The returned attempt count includes the
// final, deciding attempt. The run row reads retrying from the first
// backoff until Execute writes the terminal status.
func (r *Runner) invokeWithRetry(ctx context.Context, run *store.Run, req reasoning.Request) (*reasoning.Result, int, error) {
	agentID := run.AgentID
	ceiling := r.Settings.RetryCeiling
	if ceiling < 1 {
		ceiling = models.DefaultRetryCeiling
	}
	base := r.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	var lastErr error
	for attempt := 1; attempt <= ceiling; attempt++ {
		result, err := r.Client.Invoke(ctx, req)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if !reasoning.IsTransient(err) {
			return nil, attempt, err
		}
		if attempt == ceiling {
			break
		}
		otel.RecordRetry(ctx, agentID)
		run.Status = models.RunRetrying
		run.AttemptCount = attempt
		if uerr := r.Store.UpdateRun(ctx, run); uerr != nil {
			slog.Warn("run status update failed", "run", run.RunID, "err", uerr)
		}
		delay := backoffDelay(base, attempt)
		slog.Warn("transient reasoning failure, backing off",
			"agent", agentID, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempt, &reasoning.TransientError{Err: ctx.Err()}
		}
	}
	return nil, ceiling, lastErr
}

// backoffDelay doubles from base per attempt, with ±25% jitter so parallel
// waves hitting the same rate limit do not retry in lockstep.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	jitter := (rand.Float64()*2 - 1) * 0.25 * float64(d)
	d = time.Duration(float64(d) + jitter)
	if d < base/2 {
		d = base / 2
	}
	return d
}

func (r *Runner) fail(ctx context.Context, run *store.Run, kind string, cause error, attempts int) (*store.Run, error) {
	finished := time.Now().UTC()
	detail := cause.Error()
	run.Status = models.RunFailed
	run.AttemptCount = attempts
	run.ErrorKind = &kind
	run.ErrorDetail = &detail
	run.FinishedAt = &finished
	if err := r.Store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record run failure: %w", err)
	}
	started := finished
	if run.StartedAt != nil {
		started = *run.StartedAt
	}
	otel.RecordRun(ctx, run.AgentID, run.Status, finished.Sub(started))
	slog.Error("run failed", "run", run.RunID, "agent", run.AgentID, "kind", kind, "attempts", attempts, "err", cause)
	return run, nil
}
