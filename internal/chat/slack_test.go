package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	User    string `json:"user,omitempty"`
	Text    string `json:"text,omitempty"`
	TS      string `json:"ts,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
	Subtype string `json:"subtype,omitempty"`
}

type testEnvelope struct {
	Type       string `json:"type"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	Payload    struct {
		Event testEvent `json:"event"`
	} `json:"payload"`
}

func msgEnvelope(id string, ev testEvent) testEnvelope {
	env := testEnvelope{Type: "events_api", EnvelopeID: id}
	env.Payload.Event = ev
	return env
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("event stream closed early")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestSlackRunDeliversDedupedEvents(t *testing.T) {
	t.Parallel()

	script := []testEnvelope{
		msgEnvelope("env-1", testEvent{Type: "message", Channel: "C123", User: "U42", Text: "first envelope", TS: "1724567890.000100"}),
		msgEnvelope("env-1", testEvent{Type: "message", Channel: "C123", User: "U42", Text: "first envelope", TS: "1724567890.000100"}),
		msgEnvelope("env-bot", testEvent{Type: "message", Channel: "C123", User: "U99", Text: "bot echo", TS: "1724567891.000100", BotID: "B07"}),
		msgEnvelope("env-2", testEvent{Type: "message", Channel: "C123", User: "U42", Text: "second envelope", TS: "1724567892.000200"}),
	}

	acks := make(chan string, 16)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/apps.connections.open", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xapp-test" {
			t.Errorf("connections.open auth = %q", got)
		}
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "url": wsURL})
	})
	mux.HandleFunc("/socket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_ = conn.WriteJSON(map[string]string{"type": "hello"})
		for _, env := range script {
			_ = conn.WriteJSON(env)
		}
		for {
			var ack struct {
				EnvelopeID string `json:"envelope_id"`
			}
			if err := conn.ReadJSON(&ack); err != nil {
				return
			}
			acks <- ack.EnvelopeID
		}
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	gw, err := NewSlack(SlackOpts{AppToken: "xapp-test", BotToken: "xoxb-test", APIBase: srv.URL})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	first := waitMessage(t, gw.Events())
	if first.Text != "first envelope" || first.Channel != "C123" || first.Sender != "U42" {
		t.Fatalf("unexpected first message: %+v", first)
	}
	if got := first.At.Unix(); got != 1724567890 {
		t.Fatalf("ts parse: got %d, want 1724567890", got)
	}
	second := waitMessage(t, gw.Events())
	if second.Text != "second envelope" {
		t.Fatalf("duplicate or bot message leaked through: %+v", second)
	}

	// Every envelope gets acked, including the ones dedup or filtering drops.
	wantAcks := []string{"env-1", "env-1", "env-bot", "env-2"}
	for i, want := range wantAcks {
		select {
		case got := <-acks:
			if got != want {
				t.Fatalf("ack %d: got %q, want %q", i, got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for ack %d", i)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if _, ok := <-gw.Events(); ok {
		t.Fatal("event stream should be closed after Run returns")
	}
}

func TestSlackPostSplitsLongMessages(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var posted []map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("postMessage auth = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode post body: %v", err)
		}
		mu.Lock()
		posted = append(posted, body)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gw, err := NewSlack(SlackOpts{AppToken: "xapp-test", BotToken: "xoxb-test", APIBase: srv.URL})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	text := strings.Repeat("a", 2000) + "\n\n" + strings.Repeat("b", 2500)
	if err := gw.Post(context.Background(), "C123", text); err != nil {
		t.Fatalf("Post: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(posted) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(posted))
	}
	if posted[0]["channel"] != "C123" || posted[0]["text"] != strings.Repeat("a", 2000) {
		t.Fatalf("first chunk: channel=%q textLen=%d", posted[0]["channel"], len(posted[0]["text"]))
	}
	if posted[1]["text"] != strings.Repeat("b", 2500) {
		t.Fatalf("second chunk: textLen=%d", len(posted[1]["text"]))
	}
}

func TestSlackPostSurfacesAPIError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gw, err := NewSlack(SlackOpts{AppToken: "xapp-test", BotToken: "xoxb-test", APIBase: srv.URL})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	err = gw.Post(context.Background(), "C404", "hi")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected channel_not_found error, got %v", err)
	}
}

func TestSlackDuplicateWindowExpires(t *testing.T) {
	t.Parallel()

	gw, err := NewSlack(SlackOpts{AppToken: "xapp-test", BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	current := time.Now()
	gw.now = func() time.Time { return current }

	if gw.isDuplicate("env-9") {
		t.Fatal("first sighting flagged as duplicate")
	}
	if !gw.isDuplicate("env-9") {
		t.Fatal("redelivery inside the window was not flagged")
	}
	current = current.Add(dedupTTL + time.Minute)
	if gw.isDuplicate("env-9") {
		t.Fatal("entry past the TTL should have expired")
	}
}

func TestNewSlackRequiresTokens(t *testing.T) {
	t.Parallel()

	if _, err := NewSlack(SlackOpts{BotToken: "xoxb-test"}); err == nil {
		t.Fatal("expected error without app token")
	}
	if _, err := NewSlack(SlackOpts{AppToken: "xapp-test"}); err == nil {
		t.Fatal("expected error without bot token")
	}
}

func TestParseSlackTS(t *testing.T) {
	t.Parallel()

	if got := parseSlackTS("1724567890.000100"); got.Unix() != 1724567890 {
		t.Fatalf("got %v", got)
	}
	if !parseSlackTS("").IsZero() || !parseSlackTS("not-a-ts").IsZero() {
		t.Fatal("expected zero time for unparsable stamps")
	}
}
