package daemon

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mrg275/proof2pay-agents/internal/chat"
	"github.com/mrg275/proof2pay-agents/internal/otel"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Ingest consumes inbound chat messages until ctx ends or the transport
// closes, turning each message into a queued human task. Messages in a
// channel bound to an always_on agent target that agent directly; everything
// else goes through routing.
func (c *Core) Ingest(ctx context.Context) {
	events := c.Chat.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			c.ingestMessage(ctx, msg)
		}
	}
}

func (c *Core) ingestMessage(ctx context.Context, msg chat.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	turn := &store.ChatTurn{Channel: msg.Channel, Sender: msg.Sender, Content: text}
	if err := c.Store.AppendChatTurn(ctx, turn); err != nil {
		slog.Error("transcript append failed", "channel", msg.Channel, "err", err)
	}

	sender := msg.Sender
	channel := msg.Channel
	task := &store.Task{
		Origin:      models.OriginHuman,
		Instruction: text,
		Requester:   &sender,
		Channel:     &channel,
		Priority:    models.PriorityHuman,
	}
	if agent, ok := c.Roster.ByChannel(msg.Channel); ok {
		task.Targets = []string{agent.ID}
	}
	if err := c.Store.CreateTask(ctx, task); err != nil {
		slog.Error("human task create failed", "channel", msg.Channel, "err", err)
		return
	}
	otel.RecordTask(ctx, models.OriginHuman)
	if c.Dispatcher.Publish != nil {
		c.Dispatcher.Publish(models.EventTaskCreated, map[string]any{
			"task_id": task.TaskID, "origin": task.Origin, "channel": msg.Channel,
		})
	}
	slog.Info("human task queued", "task", task.TaskID, "channel", msg.Channel, "targets", task.Targets)
	c.Dispatcher.Kick()
}
