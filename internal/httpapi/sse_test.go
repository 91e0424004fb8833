package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func TestSSEHubDeliversAndCloses(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	ch := hub.Subscribe()
	hub.PublishJSON(models.Event{Type: models.EventTaskCreated, TaskID: "t1"})
	msg := <-ch
	if !strings.Contains(string(msg), models.EventTaskCreated) {
		t.Errorf("published payload = %s", msg)
	}
	hub.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestSSEHubDropsWhenSubscriberStalls(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	// Nobody reads ch; publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < models.DefaultSSEChannelBuffer+10; i++ {
			hub.PublishJSON(models.Event{Type: models.EventRunStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("PublishJSON blocked on a stalled subscriber")
	}
}

func TestSSEHandlerStreams(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	handler := hub.Handler()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler(rec, req)
		close(done)
	}()
	// Let the handler write the hello line, then stop before reading the
	// recorder; reading while the handler writes races.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	sc := bufio.NewScanner(rec.Body)
	var found bool
	for sc.Scan() {
		if strings.Contains(sc.Text(), "connected") {
			found = true
			break
		}
	}
	if !found {
		t.Error("stream is missing the connected hello")
	}
}
