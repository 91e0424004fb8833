package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/chat"
	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/daemon"
	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func newRunCmd() *cobra.Command {
	var agentID string
	var docRefs []string

	cmd := &cobra.Command{
		Use:   "run [instruction]",
		Short: "Run one instruction in the foreground and print the reply",
		Long: "Queues a single task, drains it, and prints the synthesized reply. " +
			"With --agent the task goes straight to that agent; otherwise it is routed.",
		Args: cobra.MinimumNArgs(1),
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

			if agentID != "" {
				if _, ok := core.Roster.Get(agentID); !ok {
					return fmt.Errorf("unknown agent %q; see `p2pagents agents`", agentID)
				}
			}

			requester := "user"
			channel := settings.Chat.DefaultChannel
			task := &store.Task{
				Origin:      models.OriginHuman,
				Instruction: strings.Join(args, " "),
				Requester:   &requester,
				Channel:     &channel,
				Priority:    models.PriorityHuman,
			}
			if agentID != "" {
				task.Targets = []string{agentID}
			}
			if len(docRefs) > 0 {
				task.DocRefs = docRefs
			}
			if err := core.Store.CreateTask(ctx, task); err != nil {
				return err
			}
			core.Dispatcher.Drain(ctx)

			finished, err := core.Store.GetTask(ctx, task.TaskID)
			if err != nil {
				return err
			}
			if finished.Status == models.TaskFailed {
				return fmt.Errorf("task failed: %s", deref(finished.Detail))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Target agent id (default: routed from the text)")
	cmd.Flags().StringArrayVar(&docRefs, "doc", nil, "Shared doc to include in the agent context, relative to <home>/docs (repeatable)")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
