// Package store defines the persistence interface and shared models for
// tasks, runs, agent memory, briefings, and the chat transcript.
package store

import "time"

// Task is one unit of requested work: a human chat message, a scheduled
// cycle item, or an agent follow-up. Targets is filled in at routing time.
type Task struct {
	TaskID      string
	Origin      string // human, schedule, agent
	Instruction string
	Requester   *string // chat sender, human tasks only
	Channel     *string // reply channel, human tasks only
	Priority    int     // lower dispatches first
	Hop         int     // follow-up depth, capped at one
	Status      string
	Detail      *string  // completion note, includes failed agents
	Targets     []string // resolved agent ids, JSON in the row
	DocRefs     []string // shared-doc refs fetched into the run context, JSON in the row
	CycleDate   *string  // YYYY-MM-DD, scheduled tasks only
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Run is one agent's execution of a task.
type Run struct {
	RunID        string
	TaskID       string
	AgentID      string
	Status       string
	AttemptCount int
	ErrorKind    *string // transient, permanent, dependency_unmet, routing_ambiguous
	ErrorDetail  *string
	Output       *string
	MemoryID     *string // the durable memory entry this run produced
	Model        *string
	InputTokens  int64
	OutputTokens int64
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
}

// MemoryEntry is one append-only record in an agent's memory. Entries are
// never deleted; compaction adds summary entries and advances a watermark.
type MemoryEntry struct {
	Seq       int64 // store-assigned, strictly increasing per append
	MemoryID  string
	AgentID   string
	RunID     *string
	TaskID    *string
	Kind      string // output, summary, briefing, note
	Summary   string // one-line gist used in cross-agent context
	Content   string
	RawRef    *string // home-relative path of the raw markdown file, outputs only
	Model     *string
	Tokens    int // counted at append so budget walks never re-tokenize
	CreatedAt time.Time
}

// Briefing is the compiled end-of-cycle report, one per cycle date.
type Briefing struct {
	BriefingID string
	CycleDate  string
	Content    string
	RunCount   int
	FailCount  int
	Channel    *string // where it was posted, nil if posting failed
	CreatedAt  time.Time
}

// ChatTurn is one line of a channel conversation, either side.
type ChatTurn struct {
	TurnID    int64
	Channel   string
	Sender    string // "user" or an agent id
	Content   string
	CreatedAt time.Time
}

// UsageTotal aggregates token consumption per agent and model.
type UsageTotal struct {
	AgentID      string
	Model        string
	Runs         int64
	InputTokens  int64
	OutputTokens int64
}
