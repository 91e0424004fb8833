package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestWebhookPostSplitsChunks(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := &Webhook{URL: srv.URL, Username: "proof2pay"}
	text := strings.Repeat("x", 3000) + "\n\n" + strings.Repeat("y", 3000)
	if err := wh.Post(context.Background(), "ops-reports", text); err != nil {
		t.Fatalf("Post: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 webhook calls, got %d", len(got))
	}
	if got[0]["channel"] != "ops-reports" || got[0]["username"] != "proof2pay" {
		t.Fatalf("unexpected payload fields: %+v", got[0])
	}
	if got[0]["text"] != strings.Repeat("x", 3000) {
		t.Fatalf("first chunk length %d", len(got[0]["text"]))
	}
}

func TestWebhookPostRejectsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := &Webhook{URL: srv.URL}
	if err := wh.Post(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected error on 400 response")
	}

	empty := &Webhook{}
	if err := empty.Post(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected error when URL is unset")
	}
}
