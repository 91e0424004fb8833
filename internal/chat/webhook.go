package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Webhook posts through a Slack incoming webhook. It carries no inbound
// stream; deployments that only want the daily briefing in a channel can run
// on this alone.
type Webhook struct {
	URL      string
	Username string // optional display override
	Client   *http.Client
}

var noEvents = make(chan Message)

// Events returns a channel that never delivers: webhooks are outbound only.
func (w *Webhook) Events() <-chan Message { return noEvents }

func (w *Webhook) Post(ctx context.Context, channel, text string) error {
	if w.URL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	for _, chunk := range Split(text, models.DefaultChatPostLimit) {
		payload := map[string]any{"text": chunk}
		if channel != "" {
			payload["channel"] = channel
		}
		if w.Username != "" {
			payload["username"] = w.Username
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
		}
	}
	return nil
}
