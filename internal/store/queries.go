package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const taskColumns = `task_id, origin, instruction, requester, channel, priority, hop, status, detail, targets, doc_refs, cycle_date, created_at, updated_at`

const runColumns = `run_id, task_id, agent_id, status, attempt_count, error_kind, error_detail, output, memory_id, model, input_tokens, output_tokens, started_at, finished_at, created_at`

const memoryColumns = `m.seq, m.memory_id, m.agent_id, m.run_id, m.task_id, m.kind, m.summary, m.content, m.raw_ref, m.model, m.tokens, m.created_at`

// prefixedRunColumns qualifies runColumns with a table alias for joins where
// task_id and created_at would otherwise be ambiguous.
func prefixedRunColumns(alias string) string {
	cols := strings.Split(runColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// scanTaskRow scans the current row (columns in taskColumns order).
func scanTaskRow(row interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id          string
		origin      string
		instruction string
		requester   sql.NullString
		channel     sql.NullString
		priority    int
		hop         int
		status      string
		detail      sql.NullString
		targets     sql.NullString
		docRefs     sql.NullString
		cycleDate   sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&id, &origin, &instruction, &requester, &channel, &priority, &hop, &status, &detail, &targets, &docRefs, &cycleDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t := &Task{
		TaskID:      id,
		Origin:      origin,
		Instruction: instruction,
		Priority:    priority,
		Hop:         hop,
		Status:      status,
		CreatedAt:   time.Unix(createdAt, 0).UTC(),
		UpdatedAt:   time.Unix(updatedAt, 0).UTC(),
	}
	if requester.Valid {
		t.Requester = &requester.String
	}
	if channel.Valid {
		t.Channel = &channel.String
	}
	if detail.Valid {
		t.Detail = &detail.String
	}
	if cycleDate.Valid {
		t.CycleDate = &cycleDate.String
	}
	if targets.Valid && targets.String != "" {
		if err := json.Unmarshal([]byte(targets.String), &t.Targets); err != nil {
			return nil, fmt.Errorf("task %s: decode targets: %w", id, err)
		}
	}
	if docRefs.Valid && docRefs.String != "" {
		if err := json.Unmarshal([]byte(docRefs.String), &t.DocRefs); err != nil {
			return nil, fmt.Errorf("task %s: decode doc refs: %w", id, err)
		}
	}
	return t, nil
}

func (s *sqliteStore) CreateTask(ctx context.Context, t *Task) error {
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
	_, err = s.DB.ExecContext(ctx, `INSERT INTO tasks(task_id, origin, instruction, requester, channel, priority, hop, status, detail, targets, doc_refs, cycle_date, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Origin, t.Instruction, toNull(t.Requester), toNull(t.Channel), t.Priority, t.Hop, t.Status, toNull(t.Detail), targets, docRefs, toNull(t.CycleDate), now.Unix(), now.Unix())
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		return nil, err
	}
	return t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, status string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// NextPendingTask returns the dispatch-ready task with the lowest priority
// value, FIFO within a priority class. Returns (nil, nil) when the queue is
// empty.
func (s *sqliteStore) NextPendingTask(ctx context.Context) (*Task, error) {
	row := s.stmtNextPending.QueryRowContext(ctx)
	t, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// ClaimTask moves a task from pending to dispatching (optimistic lock).
// Returns true if this caller won the claim.
func (s *sqliteStore) ClaimTask(ctx context.Context, taskID string) (bool, error) {
	res, err := s.stmtClaimTask.ExecContext(ctx, time.Now().UTC().Unix(), taskID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) SetTaskTargets(ctx context.Context, taskID string, targets []string) error {
	enc, err := encodeTargets(targets)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE tasks SET targets=?, updated_at=? WHERE task_id=?`, enc, time.Now().UTC().Unix(), taskID)
	return err
}

// FinishTask sets the terminal status and completion detail.
func (s *sqliteStore) FinishTask(ctx context.Context, taskID, status string, detail *string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status=?, detail=?, updated_at=? WHERE task_id=?`, status, toNull(detail), time.Now().UTC().Unix(), taskID)
	return err
}

func (s *sqliteStore) CountTasks(ctx context.Context, status string) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	} else {
		err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status=?`, status).Scan(&n)
	}
	return n, err
}

// OpenTasksForCycle counts non-terminal tasks belonging to a cycle date;
// the briefing gate fires only when this reaches zero.
func (s *sqliteStore) OpenTasksForCycle(ctx context.Context, cycleDate string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE cycle_date=? AND status IN ('pending','dispatching')`, cycleDate).Scan(&n)
	return n, err
}

// RequeueDispatching moves every dispatching task back to pending. A task
// sits in dispatching only while a live dispatcher holds it, so any row
// found here on startup was orphaned by a crash mid-dispatch.
func (s *sqliteStore) RequeueDispatching(ctx context.Context) (int, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='pending', updated_at=? WHERE status='dispatching'`, time.Now().UTC().Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LatestUnbriefedCycle returns the most recent cycle date that has recorded
// runs but no briefing row yet, or "" when every cycle is briefed.
func (s *sqliteStore) LatestUnbriefedCycle(ctx context.Context) (string, error) {
	var cycle string
	err := s.DB.QueryRowContext(ctx, `SELECT t.cycle_date FROM tasks t
JOIN runs r ON r.task_id = t.task_id
WHERE t.cycle_date IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM briefings b WHERE b.cycle_date = t.cycle_date)
ORDER BY t.cycle_date DESC LIMIT 1`).Scan(&cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return cycle, err
}

func scanRunRow(row interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           string
		taskID       string
		agentID      string
		status       string
		attemptCount int
		errorKind    sql.NullString
		errorDetail  sql.NullString
		output       sql.NullString
		memoryID     sql.NullString
		model        sql.NullString
		inputTokens  int64
		outputTokens int64
		startedAt    sql.NullInt64
		finishedAt   sql.NullInt64
		createdAt    int64
	)
	err := row.Scan(&id, &taskID, &agentID, &status, &attemptCount, &errorKind, &errorDetail, &output, &memoryID, &model, &inputTokens, &outputTokens, &startedAt, &finishedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	r := &Run{
		RunID:        id,
		TaskID:       taskID,
		AgentID:      agentID,
		Status:       status,
		AttemptCount: attemptCount,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CreatedAt:    time.Unix(createdAt, 0).UTC(),
	}
	if errorKind.Valid {
		r.ErrorKind = &errorKind.String
	}
	if errorDetail.Valid {
		r.ErrorDetail = &errorDetail.String
	}
	if output.Valid {
		r.Output = &output.String
	}
	if memoryID.Valid {
		r.MemoryID = &memoryID.String
	}
	if model.Valid {
		r.Model = &model.String
	}
	if startedAt.Valid {
		ts := time.Unix(startedAt.Int64, 0).UTC()
		r.StartedAt = &ts
	}
	if finishedAt.Valid {
		ts := time.Unix(finishedAt.Int64, 0).UTC()
		r.FinishedAt = &ts
	}
	return r, nil
}

func (s *sqliteStore) CreateRun(ctx context.Context, r *Run) error {
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
	_, err := s.DB.ExecContext(ctx, `INSERT INTO runs(run_id, task_id, agent_id, status, attempt_count, error_kind, error_detail, output, memory_id, model, input_tokens, output_tokens, started_at, finished_at, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TaskID, r.AgentID, r.Status, r.AttemptCount, toNull(r.ErrorKind), toNull(r.ErrorDetail), toNull(r.Output), toNull(r.MemoryID), toNull(r.Model), r.InputTokens, r.OutputTokens, toNullTime(r.StartedAt), toNullTime(r.FinishedAt), r.CreatedAt.Unix())
	return err
}

// UpdateRun rewrites the mutable run fields by run_id.
func (s *sqliteStore) UpdateRun(ctx context.Context, r *Run) error {
	if r.RunID == "" {
		return errors.New("run_id required")
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=?, attempt_count=?, error_kind=?, error_detail=?, output=?, memory_id=?, model=?, input_tokens=?, output_tokens=?, started_at=?, finished_at=? WHERE run_id=?`,
		r.Status, r.AttemptCount, toNull(r.ErrorKind), toNull(r.ErrorDetail), toNull(r.Output), toNull(r.MemoryID), toNull(r.Model), r.InputTokens, r.OutputTokens, toNullTime(r.StartedAt), toNullTime(r.FinishedAt), r.RunID)
	return err
}

func (s *sqliteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID)
	r, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, err
	}
	return r, nil
}

func (s *sqliteStore) ListRunsForTask(ctx context.Context, taskID string) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id=? ORDER BY created_at ASC, run_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListRunsForCycle returns every run attached to a cycle's tasks in
// completion order; feeds the briefing body and its failure summary.
func (s *sqliteStore) ListRunsForCycle(ctx context.Context, cycleDate string) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+prefixedRunColumns("r")+`
FROM runs r JOIN tasks t ON r.task_id = t.task_id
WHERE t.cycle_date = ?
ORDER BY r.finished_at ASC, r.created_at ASC, r.run_id ASC`, cycleDate)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountActiveRuns(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE status IN ('pending','running','retrying')`).Scan(&n)
	return n, err
}

// RunStatsForCycle counts runs (and failures among them) attached to a
// cycle's tasks; feeds the briefing header.
func (s *sqliteStore) RunStatsForCycle(ctx context.Context, cycleDate string) (int, int, error) {
	var total, failed int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN r.status='failed' THEN 1 ELSE 0 END), 0)
FROM runs r JOIN tasks t ON r.task_id = t.task_id
WHERE t.cycle_date = ?`, cycleDate).Scan(&total, &failed)
	return total, failed, err
}

func (s *sqliteStore) UsageTotals(ctx context.Context) ([]UsageTotal, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT agent_id, COALESCE(model, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM runs
GROUP BY agent_id, model
ORDER BY agent_id ASC, model ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []UsageTotal
	for rows.Next() {
		var u UsageTotal
		if err := rows.Scan(&u.AgentID, &u.Model, &u.Runs, &u.InputTokens, &u.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanMemoryRow(row interface{ Scan(dest ...any) error }) (*MemoryEntry, error) {
	var (
		seq       int64
		id        string
		agentID   string
		runID     sql.NullString
		taskID    sql.NullString
		kind      string
		summary   string
		content   string
		rawRef    sql.NullString
		model     sql.NullString
		tokens    int
		createdAt int64
	)
	err := row.Scan(&seq, &id, &agentID, &runID, &taskID, &kind, &summary, &content, &rawRef, &model, &tokens, &createdAt)
	if err != nil {
		return nil, err
	}
	e := &MemoryEntry{
		Seq:       seq,
		MemoryID:  id,
		AgentID:   agentID,
		Kind:      kind,
		Summary:   summary,
		Content:   content,
		Tokens:    tokens,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}
	if runID.Valid {
		e.RunID = &runID.String
	}
	if taskID.Valid {
		e.TaskID = &taskID.String
	}
	if rawRef.Valid {
		e.RawRef = &rawRef.String
	}
	if model.Valid {
		e.Model = &model.String
	}
	return e, nil
}

// AppendMemory inserts one entry and fills in its Seq. Entries are
// immutable once written.
func (s *sqliteStore) AppendMemory(ctx context.Context, e *MemoryEntry) error {
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
	res, err := s.stmtAppendMemory.ExecContext(ctx,
		e.MemoryID, e.AgentID, toNull(e.RunID), toNull(e.TaskID), e.Kind, e.Summary, e.Content, toNull(e.RawRef), toNull(e.Model), e.Tokens, e.CreatedAt.Unix())
	if err != nil {
		return err
	}
	e.Seq, _ = res.LastInsertId()
	return nil
}

// ListMemory returns an agent's entries, newest first, all kinds.
func (s *sqliteStore) ListMemory(ctx context.Context, agentID string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memory_entries m WHERE m.agent_id=? ORDER BY m.seq DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMemory(rows)
}

// ContextMemory returns the entries eligible for prompt assembly, newest
// first: summaries and anything newer than the agent's compaction mark.
// Outputs already folded into a summary are skipped, never deleted.
func (s *sqliteStore) ContextMemory(ctx context.Context, agentID string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtContextMemory.QueryContext(ctx, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMemory(rows)
}

// UncompactedOutputs returns output entries past the compaction mark,
// oldest first, for the compactor to fold.
func (s *sqliteStore) UncompactedOutputs(ctx context.Context, agentID string) ([]MemoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+memoryColumns+` FROM memory_entries m
WHERE m.agent_id = ? AND m.kind = 'output'
  AND m.seq > COALESCE((SELECT c.through_seq FROM compaction_marks c WHERE c.agent_id = m.agent_id), 0)
ORDER BY m.seq ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMemory(rows)
}

// LatestSummary returns the newest rolling-summary entry for an agent, or
// (nil, nil) when the agent has never been compacted.
func (s *sqliteStore) LatestSummary(ctx context.Context, agentID string) (*MemoryEntry, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memory_entries m WHERE m.agent_id=? AND m.kind='summary' ORDER BY m.seq DESC LIMIT 1`, agentID)
	e, err := scanMemoryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func collectMemory(rows *sql.Rows) ([]MemoryEntry, error) {
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CompactionMark returns the entry sequence through which an agent's
// outputs have been folded into summaries; zero when never compacted.
func (s *sqliteStore) CompactionMark(ctx context.Context, agentID string) (int64, error) {
	var through int64
	err := s.DB.QueryRowContext(ctx, `SELECT through_seq FROM compaction_marks WHERE agent_id=?`, agentID).Scan(&through)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return through, nil
}

func (s *sqliteStore) SetCompactionMark(ctx context.Context, agentID string, throughSeq int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO compaction_marks(agent_id, through_seq, updated_at) VALUES(?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET through_seq=excluded.through_seq, updated_at=excluded.updated_at`,
		agentID, throughSeq, now)
	return err
}

func (s *sqliteStore) MemoryAgents(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT agent_id FROM memory_entries ORDER BY agent_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) CreateBriefing(ctx context.Context, b *Briefing) error {
	if b.CycleDate == "" {
		return errors.New("briefing needs cycle_date")
	}
	if b.BriefingID == "" {
		b.BriefingID = randomID()
	}
	b.CreatedAt = time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO briefings(briefing_id, cycle_date, content, run_count, fail_count, channel, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		b.BriefingID, b.CycleDate, b.Content, b.RunCount, b.FailCount, toNull(b.Channel), b.CreatedAt.Unix())
	return err
}

// GetBriefing returns (nil, nil) when the cycle has no briefing yet.
func (s *sqliteStore) GetBriefing(ctx context.Context, cycleDate string) (*Briefing, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT briefing_id, cycle_date, content, run_count, fail_count, channel, created_at FROM briefings WHERE cycle_date=?`, cycleDate)
	b, err := scanBriefingRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

func (s *sqliteStore) ListBriefings(ctx context.Context, limit int) ([]Briefing, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT briefing_id, cycle_date, content, run_count, fail_count, channel, created_at FROM briefings ORDER BY cycle_date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Briefing
	for rows.Next() {
		b, err := scanBriefingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBriefingRow(row interface{ Scan(dest ...any) error }) (*Briefing, error) {
	var (
		b         Briefing
		channel   sql.NullString
		createdAt int64
	)
	if err := row.Scan(&b.BriefingID, &b.CycleDate, &b.Content, &b.RunCount, &b.FailCount, &channel, &createdAt); err != nil {
		return nil, err
	}
	if channel.Valid {
		b.Channel = &channel.String
	}
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &b, nil
}

// LastFired returns the cycle date an agent last fired on, "" if never.
func (s *sqliteStore) LastFired(ctx context.Context, agentID string) (string, error) {
	var cycle string
	err := s.DB.QueryRowContext(ctx, `SELECT last_cycle FROM schedule_marks WHERE agent_id=?`, agentID).Scan(&cycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return cycle, nil
}

func (s *sqliteStore) MarkFired(ctx context.Context, agentID, cycleDate string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO schedule_marks(agent_id, last_cycle, last_fired_at) VALUES(?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET last_cycle=excluded.last_cycle, last_fired_at=excluded.last_fired_at`,
		agentID, cycleDate, at.UTC().Unix())
	return err
}

func (s *sqliteStore) AppendChatTurn(ctx context.Context, t *ChatTurn) error {
	if t.Channel == "" || t.Sender == "" {
		return errors.New("chat turn needs channel and sender")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.stmtAppendTurn.ExecContext(ctx, t.Channel, t.Sender, t.Content, t.CreatedAt.Unix())
	if err != nil {
		return err
	}
	t.TurnID, _ = res.LastInsertId()
	return nil
}

// RecentChatTurns returns up to limit turns for a channel in chronological
// order (oldest first), ready for prompt assembly.
func (s *sqliteStore) RecentChatTurns(ctx context.Context, channel string, limit int) ([]ChatTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.stmtRecentTurns.QueryContext(ctx, channel, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChatTurn
	for rows.Next() {
		var t ChatTurn
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
	// Query walks newest-first for the LIMIT; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
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

func randomID() string {
	return uuid.NewString()
}
