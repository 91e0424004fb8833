// Package cli wires the p2pagents command tree: daemon lifecycle, one-shot
// agent flows, and inspection commands over the shared home directory.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "p2pagents",
		Short:        "p2pagents — an AI staff for Proof2Pay, run from your terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override the data directory (default: ~/.p2pagents, env: P2PAGENTS_HOME)")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCycleCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newUsageCmd())
	cmd.AddCommand(newNukeCmd())

	// Hidden internal subcommand used by `p2pagents start` for background mode.
	cmd.AddCommand(newDaemonCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
