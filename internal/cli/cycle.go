package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/chat"
	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/daemon"
)

func newCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one full scheduled cycle in the foreground",
		Long: "Fires every timed agent regardless of cadence, drains the queue, " +
			"compiles the daily briefing, and prints it. The schedule marks advance " +
			"as if the slots had arrived.",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			settings, err := config.LoadSettings(home)
			if err != nil {
				return err
			}
			console := chat.NewConsole(strings.NewReader(""), cmd.OutOrStdout(), settings.Chat.DefaultChannel, "user")
			core, err := daemon.NewCore(daemon.CoreOptions{Home: home, Chat: console})
			if err != nil {
				return err
			}
			defer func() { _ = core.Close() }()
			ctx := cmd.Context()
			now := time.Now()

			fired, err := core.Scheduler.FireAll(ctx, now)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: firing %s\n",
				core.Scheduler.CycleDate(now), strings.Join(fired, ", "))
			core.Dispatcher.Drain(ctx)

			// With every scheduled task terminal, this tick closes the cycle.
			core.Scheduler.Tick(ctx, now)
			core.Dispatcher.Drain(ctx)

			briefing, err := core.Store.GetBriefing(ctx, core.Scheduler.CycleDate(now))
			if err != nil {
				return err
			}
			if briefing == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no briefing produced")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "briefing recorded: %d runs, %d failed\n",
				briefing.RunCount, briefing.FailCount)
			return nil
		},
	}
	return cmd
}
