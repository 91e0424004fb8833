package models

// Run statuses used throughout the codebase.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunRetrying  = "retrying"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Task statuses. A task is pending until the dispatcher claims it, then
// dispatching until every run is terminal, then complete or failed.
const (
	TaskPending     = "pending"
	TaskDispatching = "dispatching"
	TaskComplete    = "complete"
	TaskFailed      = "failed"
)

// Task origins.
const (
	OriginHuman    = "human"
	OriginSchedule = "schedule"
	OriginAgent    = "agent"
)

// Task priorities. Lower value is served first; interactive human work
// preempts scheduled research in the queue but never preempts a running run.
const (
	PriorityHuman     = 0
	PriorityScheduled = 10
)

// Schedule classes.
const (
	ScheduleAlwaysOn       = "always_on"
	ScheduleDaily          = "daily"
	ScheduleWeekly         = "weekly"
	ScheduleBiweekly       = "biweekly"
	ScheduleEventTriggered = "event_triggered"
)

// Model tiers, resolved to concrete model ids in settings.
const (
	TierOpus   = "opus"
	TierSonnet = "sonnet"
	TierHaiku  = "haiku"
)

// Run error kinds recorded on failed runs.
const (
	ErrKindTransient    = "transient"
	ErrKindPermanent    = "permanent"
	ErrKindDependency   = "dependency_unmet"
	ErrKindRoutingAmbig = "routing_ambiguous"
)

// BriefingsAgentID is the reserved pseudo-agent id that daily briefings are
// stored under in the memory log.
const BriefingsAgentID = "briefings"

// RouterAgentID is the reserved pseudo-agent id for the dispatcher's routing
// decision runs.
const RouterAgentID = "router"

// BriefingTaskTag prefixes the instruction of the synthetic end-of-cycle
// task the scheduler emits; the dispatcher recognizes it and turns the
// orchestrator's reply into the cycle's briefing.
const BriefingTaskTag = "[daily-briefing]"

// Event types published on the SSE stream.
const (
	EventTaskCreated  = "task_created"
	EventTaskComplete = "task_complete"
	EventRunStarted   = "run_started"
	EventRunFinished  = "run_finished"
	EventBriefing     = "briefing_posted"
	EventChatPost     = "chat_post"
)

// Default limits.
const (
	DefaultMaxConcurrentRuns = 3
	DefaultRetryCeiling      = 3
	DefaultContextBudget     = 6000 // tokens offered to RecentContext
	DefaultSSEChannelBuffer  = 256
	DefaultChatPostLimit     = 3900 // Slack hard-splits above ~4000 chars
	DefaultConversationTurns = 50
)
