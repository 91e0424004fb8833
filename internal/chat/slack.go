package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrg275/proof2pay-agents/pkg/models"
)

const (
	defaultSlackAPIBase = "https://slack.com/api"
	dedupCacheSize      = 2048
	dedupTTL            = 10 * time.Minute
	eventBuffer         = 64
	maxReconnectDelay   = 30 * time.Second
)

// SlackOpts configures the Socket Mode gateway. AppToken (xapp-) opens the
// socket; BotToken (xoxb-) posts messages.
type SlackOpts struct {
	AppToken string
	BotToken string
	APIBase  string // override for tests
	Client   *http.Client
}

// Slack is the Socket Mode transport: a websocket for inbound events, the
// Web API for outbound posts. Redelivered envelopes are dropped through an
// LRU so retries after slow acks do not duplicate tasks.
type Slack struct {
	opts   SlackOpts
	client *http.Client
	events chan Message

	dedupMu sync.Mutex
	dedup   *lru.Cache[string, time.Time]
	now     func() time.Time
}

func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.AppToken == "" || opts.BotToken == "" {
		return nil, fmt.Errorf("slack gateway requires app and bot tokens")
	}
	if opts.APIBase == "" {
		opts.APIBase = defaultSlackAPIBase
	}
	opts.APIBase = strings.TrimSuffix(opts.APIBase, "/")
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	dedup, err := lru.New[string, time.Time](dedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("slack deduper init: %w", err)
	}
	return &Slack{
		opts:   opts,
		client: client,
		events: make(chan Message, eventBuffer),
		dedup:  dedup,
		now:    time.Now,
	}, nil
}

func (s *Slack) Events() <-chan Message { return s.events }

// Run connects, reads envelopes, and reconnects with backoff until ctx is
// cancelled. The event stream closes on return.
func (s *Slack) Run(ctx context.Context) error {
	defer close(s.events)
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := time.Duration(attempt) * time.Second
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			slog.Warn("slack socket dropped, reconnecting", "attempt", attempt, "delay", delay, "err", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		// Clean disconnect (Slack asked for a refresh): reconnect at once.
		attempt = 0
	}
}

// socketEnvelope is the Socket Mode frame. Every envelope with an id must be
// acked promptly or Slack redelivers it.
type socketEnvelope struct {
	Type       string `json:"type"`
	EnvelopeID string `json:"envelope_id"`
	Reason     string `json:"reason"`
	Payload    struct {
		Event struct {
			Type    string `json:"type"`
			Channel string `json:"channel"`
			User    string `json:"user"`
			Text    string `json:"text"`
			TS      string `json:"ts"`
			BotID   string `json:"bot_id"`
			Subtype string `json:"subtype"`
		} `json:"event"`
	} `json:"payload"`
}

func (s *Slack) connectAndRead(ctx context.Context) error {
	wsURL, err := s.openConnection(ctx)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read socket: %w", err)
		}
		var env socketEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("slack envelope decode failed", "err", err)
			continue
		}
		if env.EnvelopeID != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": env.EnvelopeID}); err != nil {
				return fmt.Errorf("ack envelope: %w", err)
			}
		}
		switch env.Type {
		case "hello":
			slog.Info("slack socket connected")
		case "disconnect":
			slog.Info("slack socket disconnect requested", "reason", env.Reason)
			return nil
		case "events_api":
			s.handleEvent(ctx, env)
		}
	}
}

func (s *Slack) handleEvent(ctx context.Context, env socketEnvelope) {
	ev := env.Payload.Event
	if ev.Type != "message" && ev.Type != "app_mention" {
		return
	}
	// Bot echoes would loop our own posts back into the queue.
	if ev.BotID != "" || ev.Subtype != "" {
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	if s.isDuplicate(env.EnvelopeID) {
		return
	}
	msg := Message{Channel: ev.Channel, Sender: ev.User, Text: text, At: parseSlackTS(ev.TS)}
	select {
	case s.events <- msg:
	case <-ctx.Done():
	default:
		slog.Warn("slack event dropped, consumer too slow", "channel", ev.Channel)
	}
}

func (s *Slack) isDuplicate(envelopeID string) bool {
	if envelopeID == "" {
		return false
	}
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	now := s.now()
	if ts, ok := s.dedup.Get(envelopeID); ok {
		if now.Sub(ts) <= dedupTTL {
			return true
		}
		s.dedup.Remove(envelopeID)
	}
	s.dedup.Add(envelopeID, now)
	return false
}

// openConnection calls apps.connections.open and returns the websocket URL.
func (s *Slack) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.APIBase+"/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.AppToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("connections.open: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		OK    bool   `json:"ok"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("connections.open decode: %w", err)
	}
	if !body.OK || body.URL == "" {
		return "", fmt.Errorf("connections.open failed: %s", body.Error)
	}
	return body.URL, nil
}

// Post sends text to a channel through chat.postMessage, one call per chunk.
func (s *Slack) Post(ctx context.Context, channel, text string) error {
	for _, chunk := range Split(text, models.DefaultChatPostLimit) {
		payload, err := json.Marshal(map[string]string{"channel": channel, "text": chunk})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.APIBase+"/chat.postMessage", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.opts.BotToken)
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("chat.postMessage: %w", err)
		}
		var body struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("chat.postMessage decode: %w", decodeErr)
		}
		if !body.OK {
			return fmt.Errorf("chat.postMessage failed: %s", body.Error)
		}
	}
	return nil
}

// parseSlackTS converts Slack's "1724567890.000100" stamps; zero time when
// unparsable.
func parseSlackTS(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	sec := ts
	if i := strings.IndexByte(ts, '.'); i >= 0 {
		sec = ts[:i]
	}
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
