package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/roster"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agent roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			ros, err := roster.Load(filepath.Join(home, "agents.yaml"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			dim := color.New(color.Faint)
			for _, a := range ros.All() {
				role := ""
				if a.Role == roster.RoleOrchestrator {
					role = " " + color.New(color.FgCyan).Sprint("(orchestrator)")
				}
				_, _ = fmt.Fprintf(out, "%-24s %-16s %-8s %s%s\n",
					bold.Sprint(a.ID), a.Schedule, a.ModelTier,
					strings.ReplaceAll(a.Capability, "_", " "), role)
				if a.Channel != "" {
					_, _ = fmt.Fprintf(out, "  %s\n", dim.Sprintf("channel: %s", a.Channel))
				}
				if len(a.DependsOn) > 0 {
					_, _ = fmt.Fprintf(out, "  %s\n", dim.Sprintf("after: %s", strings.Join(a.DependsOn, ", ")))
				}
			}
			return nil
		},
	}
	return cmd
}
