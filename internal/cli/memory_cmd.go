package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/store"
)

func newMemoryCmd() *cobra.Command {
	var (
		agentID string
		limit   int
		full    bool
	)

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Show an agent's memory log",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			ctx := cmd.Context()

			if agentID == "" {
				agents, err := st.MemoryAgents(ctx)
				if err != nil {
					return err
				}
				if len(agents) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no memory recorded yet")
					return nil
				}
				for _, id := range agents {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}

			entries, err := st.ListMemory(ctx, agentID, limit)
			if err != nil {
				return err
			}
			dim := color.New(color.Faint)
			for _, e := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %-9s %s\n",
					dim.Sprint(e.CreatedAt.Local().Format("2006-01-02 15:04")), e.Kind, e.Summary)
				if full {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), e.Content)
					_, _ = fmt.Fprintln(cmd.OutOrStdout())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id (omit to list agents with memory)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&full, "full", false, "Print full entry contents, not just summaries")
	return cmd
}
