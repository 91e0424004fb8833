package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/chat"
	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/dispatch"
	"github.com/mrg275/proof2pay-agents/internal/docstore"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/reasoning"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
	"github.com/mrg275/proof2pay-agents/internal/schedule"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/internal/store/postgres"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

// Core is the assembled orchestration stack. The daemon runs all of it; the
// one-shot CLI flows (run, cycle, chat) build the same core and drive it in
// the foreground.
type Core struct {
	Home     string
	Settings config.Settings
	Roster   *roster.Roster
	Store    store.Store
	Memory   *memory.Manager
	Docs     *docstore.Local
	Client   reasoning.Client

	Runner     *runner.Runner
	Dispatcher *dispatch.Dispatcher
	Scheduler  *schedule.Scheduler
	Compactor  *memory.Compactor
	Chat       chat.Transport
}

// CoreOptions selects the store backend and optionally substitutes the chat
// transport (the one-shot flows use a console instead of the configured
// transport).
type CoreOptions struct {
	Home     string
	DBDriver string
	DBURL    string
	Chat     chat.Transport
}

// NewCore loads configuration from home and wires the full stack. The caller
// owns Close.
func NewCore(opts CoreOptions) (*Core, error) {
	settings, err := config.LoadSettings(opts.Home)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	ros, err := roster.Load(filepath.Join(opts.Home, "agents.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	if err := memory.EnsurePriorities(opts.Home); err != nil {
		return nil, err
	}

	var st store.Store
	if opts.DBDriver == "postgres" {
		dsn := opts.DBURL
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		st, err = postgres.Open(dsn)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Tasks claimed by a previous process that died mid-dispatch would
	// otherwise sit in dispatching forever and hold their cycle's
	// briefing gate shut.
	if n, err := st.RequeueDispatching(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("requeue interrupted tasks: %w", err)
	} else if n > 0 {
		slog.Info("requeued tasks interrupted by a previous shutdown", "count", n)
	}

	docs, err := docstore.NewLocal(opts.Home)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	mem := memory.NewManager(opts.Home, st)

	client, err := newReasoningClient(settings)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	transport := opts.Chat
	if transport == nil {
		transport, err = newTransport(settings)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	run := runner.New(st, mem, docs, client, ros, settings)
	disp := dispatch.New(st, run, ros, transport, settings)
	disp.Memory = mem
	disp.Index = docs

	sched, err := schedule.New(st, ros, settings)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	sched.Kick = disp.Kick

	compactor := &memory.Compactor{
		Manager: mem,
		Summarizer: &memory.ReasoningSummarizer{
			Client: client,
			Model:  settings.ModelFor(models.TierHaiku),
		},
	}

	return &Core{
		Home:       opts.Home,
		Settings:   settings,
		Roster:     ros,
		Store:      st,
		Memory:     mem,
		Docs:       docs,
		Client:     client,
		Runner:     run,
		Dispatcher: disp,
		Scheduler:  sched,
		Compactor:  compactor,
		Chat:       transport,
	}, nil
}

func (c *Core) Close() error {
	return c.Store.Close()
}

func newReasoningClient(settings config.Settings) (reasoning.Client, error) {
	switch settings.Reasoning.Provider {
	case "", "anthropic":
		key := os.Getenv(settings.Reasoning.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("reasoning API key missing: set %s", settings.Reasoning.APIKeyEnv)
		}
		return reasoning.NewAnthropic(reasoning.AnthropicOpts{
			BaseURL:   settings.Reasoning.BaseURL,
			APIKey:    key,
			MaxTokens: settings.Reasoning.MaxTokens,
			Timeout:   time.Duration(settings.Reasoning.TimeoutSeconds) * time.Second,
		}), nil
	case "mock":
		return &reasoning.Mock{}, nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", settings.Reasoning.Provider)
	}
}

func newTransport(settings config.Settings) (chat.Transport, error) {
	switch settings.Chat.Transport {
	case "slack":
		return chat.NewSlack(chat.SlackOpts{
			AppToken: os.Getenv(settings.Chat.AppTokenEnv),
			BotToken: os.Getenv(settings.Chat.BotTokenEnv),
		})
	case "webhook":
		url := os.Getenv(settings.Chat.WebhookURLEnv)
		if url == "" {
			return nil, fmt.Errorf("webhook transport: set %s", settings.Chat.WebhookURLEnv)
		}
		return &chat.Webhook{URL: url}, nil
	case "", "console":
		return chat.NewConsole(os.Stdin, os.Stdout, settings.Chat.DefaultChannel, "user"), nil
	default:
		return nil, fmt.Errorf("unknown chat transport %q", settings.Chat.Transport)
	}
}
