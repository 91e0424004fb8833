// Package httpapi is the daemon's local ops surface: health, metrics, a
// status snapshot, recent runs and briefings, and the SSE event stream. The
// orchestration core takes no commands over HTTP; tasks enter through chat
// and the scheduler only.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// ServerOptions configures the ops server. Store and Roster are owned by the
// daemon; the server never closes them.
type ServerOptions struct {
	Home    string
	Addr    string
	Version string

	Store  store.Store
	Roster *roster.Roster

	// NextFires, when set, reports each agent's resolved next fire time for
	// the status snapshot.
	NextFires func() map[string]time.Time

	// MetricsHandler serves /metrics (the Prometheus exporter handler).
	MetricsHandler http.Handler
	// UseOtelHTTP wraps the handler chain with otelhttp request metrics.
	UseOtelHTTP bool
}

// App bundles the HTTP server with the SSE hub the daemon publishes into.
type App struct {
	Server *http.Server
	Hub    *SSEHub
}

const defaultListLimit = 50

// NewApp registers the ops routes and builds the server.
func NewApp(opts ServerOptions) *App {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "version": opts.Version})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, opts)
	})

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		runs, err := opts.Store.ListRecentRuns(r.Context(), listLimit(r.URL.Query()))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.RunInfo, 0, len(runs))
		for _, run := range runs {
			out = append(out, runInfo(run))
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/briefings", func(w http.ResponseWriter, r *http.Request) {
		briefings, err := opts.Store.ListBriefings(r.Context(), listLimit(r.URL.Query()))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.BriefingInfo, 0, len(briefings))
		for _, b := range briefings {
			out = append(out, models.BriefingInfo{
				BriefingID: b.BriefingID,
				CycleDate:  b.CycleDate,
				RunCount:   b.RunCount,
				FailCount:  b.FailCount,
				CreatedAt:  b.CreatedAt,
			})
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/events", hub.Handler())

	var handler http.Handler = mux
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "p2pagents")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // /api/events streams; keepalives hold it below this
		IdleTimeout:       60 * time.Second,
	}
	return &App{Server: srv, Hub: hub}
}

func writeStatus(w http.ResponseWriter, r *http.Request, opts ServerOptions) {
	ctx := r.Context()
	var fires map[string]time.Time
	if opts.NextFires != nil {
		fires = opts.NextFires()
	}
	agents := make([]models.AgentInfo, 0)
	for _, a := range opts.Roster.All() {
		info := models.AgentInfo{
			ID:         a.ID,
			Name:       a.Name,
			Capability: a.Capability,
			Schedule:   a.Schedule,
			ModelTier:  a.ModelTier,
			Channel:    a.Channel,
		}
		if t, ok := fires[a.ID]; ok {
			fire := t
			info.NextFire = &fire
		}
		agents = append(agents, info)
	}

	pending, err := opts.Store.CountTasks(ctx, models.TaskPending)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	active, err := opts.Store.CountActiveRuns(ctx)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lastCycle := ""
	if briefings, err := opts.Store.ListBriefings(ctx, 1); err == nil && len(briefings) > 0 {
		lastCycle = briefings[0].CycleDate
	}

	writeJSON(w, models.Status{
		Version:      opts.Version,
		Home:         opts.Home,
		Agents:       agents,
		PendingTasks: pending,
		ActiveRuns:   active,
		LastCycle:    lastCycle,
	})
}

func runInfo(run store.Run) models.RunInfo {
	info := models.RunInfo{
		RunID:        run.RunID,
		TaskID:       run.TaskID,
		AgentID:      run.AgentID,
		Status:       run.Status,
		AttemptCount: run.AttemptCount,
		InputTokens:  run.InputTokens,
		OutputTokens: run.OutputTokens,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if run.ErrorKind != nil {
		info.ErrorKind = *run.ErrorKind
	}
	return info
}

func listLimit(q url.Values) int {
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return defaultListLimit
}

// responseRecorder captures the status code for logging and forwards Flusher
// so SSE streaming keeps working through the middleware.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
