package store

import (
	"context"
	"time"
)

// Store is the persistence interface for tasks, runs, memory, briefings,
// schedule marks, and the chat transcript. Implementations: the SQLite
// store returned by Open and *postgres.Store.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	ListTasks(ctx context.Context, status string, limit int) ([]Task, error)
	NextPendingTask(ctx context.Context) (*Task, error)
	ClaimTask(ctx context.Context, taskID string) (bool, error)
	SetTaskTargets(ctx context.Context, taskID string, targets []string) error
	FinishTask(ctx context.Context, taskID, status string, detail *string) error
	CountTasks(ctx context.Context, status string) (int, error)
	OpenTasksForCycle(ctx context.Context, cycleDate string) (int, error)
	RequeueDispatching(ctx context.Context) (int, error)

	// Runs
	CreateRun(ctx context.Context, r *Run) error
	UpdateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRunsForTask(ctx context.Context, taskID string) ([]Run, error)
	ListRecentRuns(ctx context.Context, limit int) ([]Run, error)
	ListRunsForCycle(ctx context.Context, cycleDate string) ([]Run, error)
	CountActiveRuns(ctx context.Context) (int, error)
	RunStatsForCycle(ctx context.Context, cycleDate string) (total, failed int, err error)
	UsageTotals(ctx context.Context) ([]UsageTotal, error)

	// Memory
	AppendMemory(ctx context.Context, e *MemoryEntry) error
	ListMemory(ctx context.Context, agentID string, limit int) ([]MemoryEntry, error)
	ContextMemory(ctx context.Context, agentID string, limit int) ([]MemoryEntry, error)
	UncompactedOutputs(ctx context.Context, agentID string) ([]MemoryEntry, error)
	LatestSummary(ctx context.Context, agentID string) (*MemoryEntry, error)
	CompactionMark(ctx context.Context, agentID string) (int64, error)
	SetCompactionMark(ctx context.Context, agentID string, throughSeq int64) error
	MemoryAgents(ctx context.Context) ([]string, error)

	// Briefings
	CreateBriefing(ctx context.Context, b *Briefing) error
	GetBriefing(ctx context.Context, cycleDate string) (*Briefing, error)
	ListBriefings(ctx context.Context, limit int) ([]Briefing, error)
	LatestUnbriefedCycle(ctx context.Context) (string, error)

	// Schedule marks
	LastFired(ctx context.Context, agentID string) (string, error)
	MarkFired(ctx context.Context, agentID, cycleDate string, at time.Time) error

	// Chat transcript
	AppendChatTurn(ctx context.Context, t *ChatTurn) error
	RecentChatTurns(ctx context.Context, channel string, limit int) ([]ChatTurn, error)

	// Lifecycle
	Close() error
}
