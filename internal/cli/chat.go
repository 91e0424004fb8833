package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/chat"
	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/daemon"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func newChatCmd() *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agents from this terminal",
		Long: "Reads lines from stdin, routes each to an agent, and prints the " +
			"replies. Ends on EOF (Ctrl-D) after the queue drains.",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			settings, err := config.LoadSettings(home)
			if err != nil {
				return err
			}
			if channel == "" {
				channel = settings.Chat.DefaultChannel
			}
			console := chat.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), channel, "user")
			core, err := daemon.NewCore(daemon.CoreOptions{Home: home, Chat: console})
			if err != nil {
				return err
			}
			defer func() { _ = core.Close() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go core.Ingest(ctx)
			go func() { _ = core.Dispatcher.Run(ctx) }()

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "channel %s — type a message, Ctrl-D to leave\n", channel)
			if err := console.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return waitForQueue(ctx, core)
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Chat channel (default: the configured default channel)")
	return cmd
}

// waitForQueue blocks until every queued task is terminal, so replies for
// messages typed just before EOF still arrive.
func waitForQueue(ctx context.Context, core *daemon.Core) error {
	for {
		pending, err := core.Store.CountTasks(ctx, models.TaskPending)
		if err != nil {
			return err
		}
		active, err := core.Store.CountTasks(ctx, models.TaskDispatching)
		if err != nil {
			return err
		}
		if pending+active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
