// Package daemon owns the process lifecycle: the singleton lock, pid/addr
// files, background start via self re-exec, and the foreground loop wiring
// the scheduler, dispatcher, compactor, chat ingest, and ops server together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/chat"
	"github.com/mrg275/proof2pay-agents/internal/httpapi"
	"github.com/mrg275/proof2pay-agents/internal/otel"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

const defaultPort = 4817

// StartForeground runs the daemon in this process until ctx ends. It owns
// the flock singleton, pid/addr files, the ops HTTP server, and every
// background loop.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Port == 0 {
		opts.Port = defaultPort
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.PprofAddr)

	core, err := NewCore(CoreOptions{Home: opts.Home, DBDriver: opts.DBDriver, DBURL: opts.DBURL})
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()

	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", opts.Port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	if err := checkPortAvailable(addr); err != nil {
		return err
	}

	srvOpts := httpapi.ServerOptions{
		Home:      opts.Home,
		Addr:      addr,
		Version:   opts.Version,
		Store:     core.Store,
		Roster:    core.Roster,
		NextFires: core.Scheduler.NextFires,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "p2pagents")
		if err != nil {
			slog.Warn("otel init failed, metrics disabled", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
			_ = otel.InitMetricsWithQueueStats(ctx, func() (pending, active int64) {
				p, _ := core.Store.CountTasks(context.Background(), models.TaskPending)
				a, _ := core.Store.CountActiveRuns(context.Background())
				return int64(p), int64(a)
			})
		}
	}
	app := httpapi.NewApp(srvOpts)

	publish := func(event string, data map[string]any) {
		app.Hub.PublishJSON(toEvent(event, data))
	}
	core.Dispatcher.Publish = publish
	core.Scheduler.Publish = publish

	slog.Info("daemon starting", "addr", addr, "home", opts.Home,
		"transport", core.Settings.Chat.Transport, "agents", len(core.Roster.All()))

	errCh := make(chan error, 1)
	go func() {
		if gw, ok := core.Chat.(*chat.Slack); ok {
			go func() {
				if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("chat gateway stopped", "err", err)
				}
			}()
		}
		go core.Ingest(ctx)
		go func() { _ = core.Scheduler.Run(ctx) }()
		go func() { _ = core.Dispatcher.Run(ctx) }()
		go core.Compactor.Run(ctx)
		errCh <- app.Server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// toEvent normalizes a publish payload into the wire event, lifting the
// well-known ids out of the data map.
func toEvent(event string, data map[string]any) models.Event {
	ev := models.Event{Type: event, Timestamp: time.Now().UTC(), Data: data}
	if v, ok := data["agent"].(string); ok {
		ev.AgentID = v
	}
	if v, ok := data["task_id"].(string); ok {
		ev.TaskID = v
	}
	if v, ok := data["run_id"].(string); ok {
		ev.RunID = v
	}
	return ev
}

// StartBackground re-execs this binary as a detached daemon and waits for
// its pid file.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("p2pagents already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for the child's lifetime; closing here may break writes on
	// some platforms.

	args := []string{
		"daemon",
		"--home", opts.Home,
		"--port", strconv.Itoa(opts.Port),
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	if opts.DBDriver != "" {
		args = append(args, "--db-driver", opts.DBDriver)
	}
	if opts.DBURL != "" {
		args = append(args, "--db-url", opts.DBURL)
	}
	if opts.EnableOtel {
		args = append(args, "--otel")
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fall back to the started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

// Stop signals the running daemon with SIGTERM and escalates to SIGKILL
// after 15 seconds. Returns false when nothing was running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, err
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

// Status reads the pid file and probes the process. A stale pid file is
// cleaned up on sight.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use", addr)
	}
	_ = ln.Close()
	return nil
}
