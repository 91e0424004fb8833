package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/otel"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Indexer regenerates the document index once a cycle's briefing has posted.
type Indexer interface {
	WriteIndex(ctx context.Context, generatedAt time.Time, briefingNote string) error
}

// isBriefingTask recognizes the synthetic end-of-cycle task the scheduler
// emits. Only scheduled tasks carry the tag; a human pasting it into chat
// gets a normal routed task.
func isBriefingTask(task *store.Task) bool {
	return task.Origin == models.OriginSchedule &&
		task.CycleDate != nil &&
		strings.HasPrefix(task.Instruction, models.BriefingTaskTag)
}

// completeBriefing persists and posts the daily briefing. The briefing row is
// written even when the compile run failed, so the scheduler's once-per-cycle
// gate holds either way; a failed compile yields a briefing that says so and
// still enumerates the day's failures.
func (d *Dispatcher) completeBriefing(ctx context.Context, task *store.Task, succeeded, failed []store.Run) {
	cycle := *task.CycleDate
	content := d.briefingContent(succeeded, failed)

	runCount, failCount := 0, 0
	cycleRuns, err := d.Store.ListRunsForCycle(ctx, cycle)
	if err != nil {
		slog.Error("briefing run stats read failed", "cycle", cycle, "err", err)
	} else {
		var failures []store.Run
		for _, r := range cycleRuns {
			if r.TaskID == task.TaskID {
				continue // the compile run reports, it is not reported on
			}
			runCount++
			if r.Status != models.RunSucceeded {
				failCount++
				failures = append(failures, r)
			}
		}
		content = appendFailures(content, failures)
	}

	channel := d.Settings.Chat.BriefingChannel
	briefing := &store.Briefing{
		CycleDate: cycle,
		Content:   content,
		RunCount:  runCount,
		FailCount: failCount,
		Channel:   &channel,
	}
	if err := d.Store.CreateBriefing(ctx, briefing); err != nil {
		slog.Error("briefing persist failed", "cycle", cycle, "err", err)
		return
	}

	if d.Memory != nil {
		entry := &store.MemoryEntry{
			AgentID: models.BriefingsAgentID,
			TaskID:  &task.TaskID,
			Kind:    "briefing",
			Summary: fmt.Sprintf("briefing for %s: %d runs, %d failed", cycle, runCount, failCount),
			Content: content,
		}
		if err := d.Memory.Append(ctx, entry); err != nil {
			slog.Error("briefing memory append failed", "cycle", cycle, "err", err)
		}
	}

	if err := d.Chat.Post(ctx, channel, content); err != nil {
		slog.Error("briefing post failed", "cycle", cycle, "channel", channel, "err", err)
	} else {
		otel.RecordChatPost(ctx, d.Settings.Chat.Transport)
	}
	otel.RecordBriefing(ctx)
	d.publish(models.EventBriefing, map[string]any{"cycle": cycle, "runs": runCount, "failed": failCount})
	slog.Info("briefing posted", "cycle", cycle, "runs", runCount, "failed", failCount)

	if d.Index != nil {
		note := fmt.Sprintf("Latest briefing: %s (%d runs, %d failed)", cycle, runCount, failCount)
		if err := d.Index.WriteIndex(ctx, time.Now().UTC(), note); err != nil {
			slog.Error("index regeneration failed", "cycle", cycle, "err", err)
		}
	}
}

func (d *Dispatcher) briefingContent(succeeded, failed []store.Run) string {
	if len(succeeded) > 0 && succeeded[0].Output != nil {
		return strings.TrimSpace(*succeeded[0].Output)
	}
	var b strings.Builder
	b.WriteString("The briefing could not be compiled today.")
	for _, run := range failed {
		fmt.Fprintf(&b, "\n- %s failed (%s): %s", d.agentName(run.AgentID), deref(run.ErrorKind), deref(run.ErrorDetail))
	}
	return b.String()
}

// appendFailures adds the mechanical failure roll to the compiled text, so a
// failure is surfaced even when the compiling agent glossed over it.
func appendFailures(content string, failures []store.Run) string {
	if len(failures) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n\n## Failures\n")
	for _, run := range failures {
		fmt.Fprintf(&b, "\n- %s (%s): %s", run.AgentID, deref(run.ErrorKind), deref(run.ErrorDetail))
	}
	return b.String()
}
