package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mrg275/proof2pay-agents/internal/store"
)

const taskColumns = `task_id, origin, instruction, requester, channel, priority, hop, status, detail, targets, doc_refs, cycle_date, created_at, updated_at`

const runColumns = `run_id, task_id, agent_id, status, attempt_count, error_kind, error_detail, output, memory_id, model, input_tokens, output_tokens, started_at, finished_at, created_at`

const memoryColumns = `m.seq, m.memory_id, m.agent_id, m.run_id, m.task_id, m.kind, m.summary, m.content, m.raw_ref, m.model, m.tokens, m.created_at`

func randomID() string {
	return uuid.NewString()
}

func toNull(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func toNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func scanTaskRow(row interface{ Scan(dest ...any) error }) (*store.Task, error) {
	var (
		id          string
		origin      string
		instruction string
		requester   *string
		channel     *string
		priority    int
		hop         int
		status      string
		detail      *string
		targets     *string
		docRefs     *string
		cycleDate   *string
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&id, &origin, &instruction, &requester, &channel, &priority, &hop, &status, &detail, &targets, &docRefs, &cycleDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t := &store.Task{
		TaskID: id, Origin: origin, Instruction: instruction,
		Requester: requester, Channel: channel, Priority: priority, Hop: hop,
		Status: status, Detail: detail, CycleDate: cycleDate,
		CreatedAt: time.Unix(createdAt, 0).UTC(), UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}
	if targets != nil && *targets != "" {
		if err := json.Unmarshal([]byte(*targets), &t.Targets); err != nil {
			return nil, fmt.Errorf("task %s: decode targets: %w", id, err)
		}
	}
	if docRefs != nil && *docRefs != "" {
		if err := json.Unmarshal([]byte(*docRefs), &t.DocRefs); err != nil {
			return nil, fmt.Errorf("task %s: decode doc refs: %w", id, err)
		}
	}
	return t, nil
}

func encodeTargets(targets []string) (any, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(targets)
	if err != nil {
		return nil, fmt.Errorf("encode targets: %w", err)
	}
	return string(b), nil
}

func (s *Store) CreateTask(ctx context.Context, t *store.Task) error {
	if t.Instruction == "" {
		return errors.New("task instruction required")
	}
	if t.Origin == "" {
		return errors.New("task origin required")
	}
	if t.TaskID == "" {
		t.TaskID = randomID()
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	targets, err := encodeTargets(t.Targets)
	if err != nil {
		return err
	}
	docRefs, err := encodeTargets(t.DocRefs)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO tasks(task_id, origin, instruction, requester, channel, priority, hop, status, detail, targets, doc_refs, cycle_date, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.TaskID, t.Origin, t.Instruction, toNull(t.Requester), toNull(t.Channel), t.Priority, t.Hop, t.Status, toNull(t.Detail), targets, docRefs, toNull(t.CycleDate), now.Unix(), now.Unix())
	return err
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*store.Task, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	t, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, status string, limit int) ([]store.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq DESC LIMIT $1`, limit)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY seq DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) NextPendingTask(ctx context.Context) (*store.Task, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status='pending' ORDER BY priority ASC, seq ASC LIMIT 1`)
	t, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) ClaimTask(ctx context.Context, taskID string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='dispatching', updated_at=$1 WHERE task_id=$2 AND status='pending'`, time.Now().UTC().Unix(), taskID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) SetTaskTargets(ctx context.Context, taskID string, targets []string) error {
	enc, err := encodeTargets(targets)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `UPDATE tasks SET targets=$1, updated_at=$2 WHERE task_id=$3`, enc, time.Now().UTC().Unix(), taskID)
	return err
}

func (s *Store) FinishTask(ctx context.Context, taskID, status string, detail *string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET status=$1, detail=$2, updated_at=$3 WHERE task_id=$4`, status, toNull(detail), time.Now().UTC().Unix(), taskID)
	return err
}

func (s *Store) CountTasks(ctx context.Context, status string) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	} else {
		err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE status=$1`, status).Scan(&n)
	}
	return n, err
}

func (s *Store) OpenTasksForCycle(ctx context.Context, cycleDate string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE cycle_date=$1 AND status IN ('pending','dispatching')`, cycleDate).Scan(&n)
	return n, err
}

// RequeueDispatching moves every dispatching task back to pending; rows in
// that state on startup were orphaned by a crash mid-dispatch.
func (s *Store) RequeueDispatching(ctx context.Context) (int, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='pending', updated_at=$1 WHERE status='dispatching'`, time.Now().UTC().Unix())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// LatestUnbriefedCycle returns the most recent cycle date with recorded runs
// but no briefing row, or "" when every cycle is briefed.
func (s *Store) LatestUnbriefedCycle(ctx context.Context) (string, error) {
	var cycle string
	err := s.Pool.QueryRow(ctx, `SELECT t.cycle_date FROM tasks t
JOIN runs r ON r.task_id = t.task_id
WHERE t.cycle_date IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM briefings b WHERE b.cycle_date = t.cycle_date)
ORDER BY t.cycle_date DESC LIMIT 1`).Scan(&cycle)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return cycle, err
}

func scanRunRow(row interface{ Scan(dest ...any) error }) (*store.Run, error) {
	var (
		id           string
		taskID       string
		agentID      string
		status       string
		attemptCount int
		errorKind    *string
		errorDetail  *string
		output       *string
		memoryID     *string
		model        *string
		inputTokens  int64
		outputTokens int64
		startedAt    *int64
		finishedAt   *int64
		createdAt    int64
	)
	err := row.Scan(&id, &taskID, &agentID, &status, &attemptCount, &errorKind, &errorDetail, &output, &memoryID, &model, &inputTokens, &outputTokens, &startedAt, &finishedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	r := &store.Run{
		RunID: id, TaskID: taskID, AgentID: agentID, Status: status,
		AttemptCount: attemptCount, ErrorKind: errorKind, ErrorDetail: errorDetail,
		Output: output, MemoryID: memoryID, Model: model,
		InputTokens: inputTokens, OutputTokens: outputTokens,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}
	if startedAt != nil {
		ts := time.Unix(*startedAt, 0).UTC()
		r.StartedAt = &ts
	}
	if finishedAt != nil {
		ts := time.Unix(*finishedAt, 0).UTC()
		r.FinishedAt = &ts
	}
	return r, nil
}

func (s *Store) CreateRun(ctx context.Context, r *store.Run) error {
	if r.TaskID == "" || r.AgentID == "" {
		return errors.New("run needs task_id and agent_id")
	}
	if r.RunID == "" {
		r.RunID = randomID()
	}
	if r.Status == "" {
		r.Status = "pending"
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `INSERT INTO runs(run_id, task_id, agent_id, status, attempt_count, error_kind, error_detail, output, memory_id, model, input_tokens, output_tokens, started_at, finished_at, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.RunID, r.TaskID, r.AgentID, r.Status, r.AttemptCount, toNull(r.ErrorKind), toNull(r.ErrorDetail), toNull(r.Output), toNull(r.MemoryID), toNull(r.Model), r.InputTokens, r.OutputTokens, toNullTime(r.StartedAt), toNullTime(r.FinishedAt), r.CreatedAt.Unix())
	return err
}

func (s *Store) UpdateRun(ctx context.Context, r *store.Run) error {
	if r.RunID == "" {
		return errors.New("run_id required")
	}
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status=$1, attempt_count=$2, error_kind=$3, error_detail=$4, output=$5, memory_id=$6, model=$7, input_tokens=$8, output_tokens=$9, started_at=$10, finished_at=$11 WHERE run_id=$12`,
		r.Status, r.AttemptCount, toNull(r.ErrorKind), toNull(r.ErrorDetail), toNull(r.Output), toNull(r.MemoryID), toNull(r.Model), r.InputTokens, r.OutputTokens, toNullTime(r.StartedAt), toNullTime(r.FinishedAt), r.RunID)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=$1`, runID)
	r, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, err
	}
	return r, nil
}

func (s *Store) ListRunsForTask(ctx context.Context, taskID string) ([]store.Run, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id=$1 ORDER BY created_at ASC, run_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, run_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]store.Run, error) {
	var out []store.Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) ListRunsForCycle(ctx context.Context, cycleDate string) ([]store.Run, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT `+prefixedRunColumns("r")+`
FROM runs r JOIN tasks t ON r.task_id = t.task_id
WHERE t.cycle_date = $1
ORDER BY r.finished_at ASC NULLS LAST, r.created_at ASC, r.run_id ASC`, cycleDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func prefixedRunColumns(alias string) string {
	cols := strings.Split(runColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func (s *Store) CountActiveRuns(ctx context.Context) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs WHERE status IN ('pending','running','retrying')`).Scan(&n)
	return n, err
}

func (s *Store) RunStatsForCycle(ctx context.Context, cycleDate string) (int, int, error) {
	var total, failed int
	err := s.Pool.QueryRow(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN r.status='failed' THEN 1 ELSE 0 END), 0)
FROM runs r JOIN tasks t ON r.task_id = t.task_id
WHERE t.cycle_date = $1`, cycleDate).Scan(&total, &failed)
	return total, failed, err
}

func (s *Store) UsageTotals(ctx context.Context) ([]store.UsageTotal, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT agent_id, COALESCE(model, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM runs
GROUP BY agent_id, model
ORDER BY agent_id ASC, model ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.UsageTotal
	for rows.Next() {
		var u store.UsageTotal
		if err := rows.Scan(&u.AgentID, &u.Model, &u.Runs, &u.InputTokens, &u.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanMemoryRow(row interface{ Scan(dest ...any) error }) (*store.MemoryEntry, error) {
	var (
		seq       int64
		id        string
		agentID   string
		runID     *string
		taskID    *string
		kind      string
		summary   string
		content   string
		rawRef    *string
		model     *string
		tokens    int
		createdAt int64
	)
	err := row.Scan(&seq, &id, &agentID, &runID, &taskID, &kind, &summary, &content, &rawRef, &model, &tokens, &createdAt)
	if err != nil {
		return nil, err
	}
	return &store.MemoryEntry{
		Seq: seq, MemoryID: id, AgentID: agentID, RunID: runID, TaskID: taskID,
		Kind: kind, Summary: summary, Content: content, RawRef: rawRef, Model: model, Tokens: tokens,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (s *Store) AppendMemory(ctx context.Context, e *store.MemoryEntry) error {
	if e.AgentID == "" {
		return errors.New("memory entry needs agent_id")
	}
	if e.MemoryID == "" {
		e.MemoryID = randomID()
	}
	if e.Kind == "" {
		e.Kind = "output"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.Pool.QueryRow(ctx, `INSERT INTO memory_entries(memory_id, agent_id, run_id, task_id, kind, summary, content, raw_ref, model, tokens, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING seq`,
		e.MemoryID, e.AgentID, toNull(e.RunID), toNull(e.TaskID), e.Kind, e.Summary, e.Content, toNull(e.RawRef), toNull(e.Model), e.Tokens, e.CreatedAt.Unix()).Scan(&e.Seq)
}

func (s *Store) ListMemory(ctx context.Context, agentID string, limit int) ([]store.MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+memoryColumns+` FROM memory_entries m WHERE m.agent_id=$1 ORDER BY m.seq DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemory(rows)
}

func (s *Store) ContextMemory(ctx context.Context, agentID string, limit int) ([]store.MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
SELECT `+memoryColumns+` FROM memory_entries m
WHERE m.agent_id = $1
  AND (m.kind <> 'output' OR m.seq > COALESCE((SELECT c.through_seq FROM compaction_marks c WHERE c.agent_id = m.agent_id), 0))
ORDER BY m.seq DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemory(rows)
}

func (s *Store) UncompactedOutputs(ctx context.Context, agentID string) ([]store.MemoryEntry, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT `+memoryColumns+` FROM memory_entries m
WHERE m.agent_id = $1 AND m.kind = 'output'
  AND m.seq > COALESCE((SELECT c.through_seq FROM compaction_marks c WHERE c.agent_id = m.agent_id), 0)
ORDER BY m.seq ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemory(rows)
}

func (s *Store) LatestSummary(ctx context.Context, agentID string) (*store.MemoryEntry, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memory_entries m WHERE m.agent_id=$1 AND m.kind='summary' ORDER BY m.seq DESC LIMIT 1`, agentID)
	e, err := scanMemoryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func collectMemory(rows pgx.Rows) ([]store.MemoryEntry, error) {
	var out []store.MemoryEntry
	for rows.Next() {
		e, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) CompactionMark(ctx context.Context, agentID string) (int64, error) {
	var through int64
	err := s.Pool.QueryRow(ctx, `SELECT through_seq FROM compaction_marks WHERE agent_id=$1`, agentID).Scan(&through)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return through, nil
}

func (s *Store) SetCompactionMark(ctx context.Context, agentID string, throughSeq int64) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO compaction_marks(agent_id, through_seq, updated_at) VALUES($1, $2, $3)
ON CONFLICT(agent_id) DO UPDATE SET through_seq=excluded.through_seq, updated_at=excluded.updated_at`,
		agentID, throughSeq, time.Now().UTC().Unix())
	return err
}

func (s *Store) MemoryAgents(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT DISTINCT agent_id FROM memory_entries ORDER BY agent_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CreateBriefing(ctx context.Context, b *store.Briefing) error {
	if b.CycleDate == "" {
		return errors.New("briefing needs cycle_date")
	}
	if b.BriefingID == "" {
		b.BriefingID = randomID()
	}
	b.CreatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `INSERT INTO briefings(briefing_id, cycle_date, content, run_count, fail_count, channel, created_at) VALUES($1, $2, $3, $4, $5, $6, $7)`,
		b.BriefingID, b.CycleDate, b.Content, b.RunCount, b.FailCount, toNull(b.Channel), b.CreatedAt.Unix())
	return err
}

func (s *Store) GetBriefing(ctx context.Context, cycleDate string) (*store.Briefing, error) {
	row := s.Pool.QueryRow(ctx, `SELECT briefing_id, cycle_date, content, run_count, fail_count, channel, created_at FROM briefings WHERE cycle_date=$1`, cycleDate)
	b, err := scanBriefingRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) ListBriefings(ctx context.Context, limit int) ([]store.Briefing, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.Pool.Query(ctx, `SELECT briefing_id, cycle_date, content, run_count, fail_count, channel, created_at FROM briefings ORDER BY cycle_date DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Briefing
	for rows.Next() {
		b, err := scanBriefingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBriefingRow(row interface{ Scan(dest ...any) error }) (*store.Briefing, error) {
	var (
		b         store.Briefing
		channel   *string
		createdAt int64
	)
	if err := row.Scan(&b.BriefingID, &b.CycleDate, &b.Content, &b.RunCount, &b.FailCount, &channel, &createdAt); err != nil {
		return nil, err
	}
	b.Channel = channel
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &b, nil
}

func (s *Store) LastFired(ctx context.Context, agentID string) (string, error) {
	var cycle string
	err := s.Pool.QueryRow(ctx, `SELECT last_cycle FROM schedule_marks WHERE agent_id=$1`, agentID).Scan(&cycle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return cycle, nil
}

func (s *Store) MarkFired(ctx context.Context, agentID, cycleDate string, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO schedule_marks(agent_id, last_cycle, last_fired_at) VALUES($1, $2, $3)
ON CONFLICT(agent_id) DO UPDATE SET last_cycle=excluded.last_cycle, last_fired_at=excluded.last_fired_at`,
		agentID, cycleDate, at.UTC().Unix())
	return err
}

func (s *Store) AppendChatTurn(ctx context.Context, t *store.ChatTurn) error {
	if t.Channel == "" || t.Sender == "" {
		return errors.New("chat turn needs channel and sender")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return s.Pool.QueryRow(ctx, `INSERT INTO chat_turns(channel, sender, content, created_at) VALUES($1, $2, $3, $4) RETURNING turn_id`,
		t.Channel, t.Sender, t.Content, t.CreatedAt.Unix()).Scan(&t.TurnID)
}

func (s *Store) RecentChatTurns(ctx context.Context, channel string, limit int) ([]store.ChatTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT turn_id, channel, sender, content, created_at FROM chat_turns WHERE channel=$1 ORDER BY turn_id DESC LIMIT $2`, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ChatTurn
	for rows.Next() {
		var t store.ChatTurn
		var createdAt int64
		if err := rows.Scan(&t.TurnID, &t.Channel, &t.Sender, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
