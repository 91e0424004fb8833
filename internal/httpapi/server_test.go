package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func newTestApp(t *testing.T) (*App, store.Store) {
	t.Helper()
	home := t.TempDir()
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	fire := time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC)
	app := NewApp(ServerOptions{
		Home:    home,
		Addr:    "127.0.0.1:0",
		Version: "test",
		Store:   st,
		Roster:  roster.Default(),
		NextFires: func() map[string]time.Time {
			return map[string]time.Time{"compliance": fire}
		},
	})
	return app, st
}

func get(t *testing.T, app *App, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t)
	rec := get(t, app, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	app, st := newTestApp(t)
	ctx := context.Background()
	cycle := "2026-03-04"
	if err := st.CreateTask(ctx, &store.Task{Origin: models.OriginSchedule, Instruction: "scan", Priority: models.PriorityScheduled, CycleDate: &cycle}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := st.CreateBriefing(ctx, &store.Briefing{CycleDate: cycle, Content: "all quiet", RunCount: 3}); err != nil {
		t.Fatalf("CreateBriefing: %v", err)
	}

	rec := get(t, app, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var status models.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.PendingTasks != 1 {
		t.Errorf("pending_tasks = %d, want 1", status.PendingTasks)
	}
	if status.LastCycle != cycle {
		t.Errorf("last_cycle = %q, want %q", status.LastCycle, cycle)
	}
	if len(status.Agents) != len(roster.Default().All()) {
		t.Errorf("agents = %d", len(status.Agents))
	}
	var sawFire bool
	for _, a := range status.Agents {
		if a.ID == "compliance" && a.NextFire != nil {
			sawFire = true
		}
		if a.ID == "domain_intelligence" && a.Channel == "" {
			t.Error("channel binding missing from the snapshot")
		}
	}
	if !sawFire {
		t.Error("compliance next_fire missing from the snapshot")
	}
}

func TestRunsAndBriefingsListings(t *testing.T) {
	t.Parallel()
	app, st := newTestApp(t)
	ctx := context.Background()
	cycle := "2026-03-04"
	task := &store.Task{Origin: models.OriginSchedule, Instruction: "scan", Priority: models.PriorityScheduled, CycleDate: &cycle}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	kind := models.ErrKindTransient
	if err := st.CreateRun(ctx, &store.Run{TaskID: task.TaskID, AgentID: "compliance", Status: models.RunFailed, ErrorKind: &kind}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	rec := get(t, app, "/api/runs?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("runs status = %d", rec.Code)
	}
	var runs []models.RunInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].AgentID != "compliance" || runs[0].ErrorKind != kind {
		t.Errorf("runs = %+v", runs)
	}

	if err := st.CreateBriefing(ctx, &store.Briefing{CycleDate: cycle, Content: "text", RunCount: 1, FailCount: 1}); err != nil {
		t.Fatalf("CreateBriefing: %v", err)
	}
	rec = get(t, app, "/api/briefings")
	var briefings []models.BriefingInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &briefings); err != nil {
		t.Fatalf("decode briefings: %v", err)
	}
	if len(briefings) != 1 || briefings[0].CycleDate != cycle || briefings[0].FailCount != 1 {
		t.Errorf("briefings = %+v", briefings)
	}
}

func TestListLimitParsing(t *testing.T) {
	t.Parallel()
	cases := []struct {
		query string
		want  int
	}{
		{"", defaultListLimit},
		{"limit=10", 10},
		{"limit=0", defaultListLimit},
		{"limit=9999", defaultListLimit},
		{"limit=abc", defaultListLimit},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/runs?"+tc.query, nil)
		if got := listLimit(req.URL.Query()); got != tc.want {
			t.Errorf("listLimit(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}
