// Package models provides shared types for the p2pagents status API and event
// stream. These types mirror the JSON emitted by the daemon and are stable for
// external consumers (ops tooling, the CLI, tests).
package models

import "time"

// AgentInfo describes one roster entry as reported by the status API.
type AgentInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Capability string     `json:"capability"`
	Schedule   string     `json:"schedule"`
	ModelTier  string     `json:"model_tier"`
	Channel    string     `json:"channel,omitempty"`
	NextFire   *time.Time `json:"next_fire,omitempty"`
}

// TaskInfo is a task row as reported by the status API.
type TaskInfo struct {
	TaskID    string    `json:"task_id"`
	Origin    string    `json:"origin"`
	Status    string    `json:"status"`
	Targets   []string  `json:"targets,omitempty"`
	Priority  int       `json:"priority"`
	Hop       int       `json:"hop"`
	Channel   string    `json:"channel,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// RunInfo is a run row as reported by the status API.
type RunInfo struct {
	RunID        string     `json:"run_id"`
	TaskID       string     `json:"task_id"`
	AgentID      string     `json:"agent_id"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	InputTokens  int64      `json:"input_tokens,omitempty"`
	OutputTokens int64      `json:"output_tokens,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// BriefingInfo is a daily briefing as reported by the status API.
type BriefingInfo struct {
	BriefingID string    `json:"briefing_id"`
	CycleDate  string    `json:"cycle_date"`
	RunCount   int       `json:"run_count"`
	FailCount  int       `json:"fail_count"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Status is the /api/status response.
type Status struct {
	Version      string      `json:"version,omitempty"`
	Home         string      `json:"home,omitempty"`
	Agents       []AgentInfo `json:"agents"`
	PendingTasks int         `json:"pending_tasks"`
	ActiveRuns   int         `json:"active_runs"`
	LastCycle    string      `json:"last_cycle,omitempty"`
}

// Event is one event on the daemon's SSE stream.
type Event struct {
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
