package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/store"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify configuration and runtime dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()
			var problems []string

			settings, err := config.LoadSettings(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("settings: %v", err))
			}

			if ros, err := roster.Load(filepath.Join(home, "agents.yaml")); err != nil {
				problems = append(problems, fmt.Sprintf("roster: %v", err))
			} else {
				_, _ = fmt.Fprintf(out, "roster: %d agents\n", len(ros.All()))
			}

			if err == nil && settings.Reasoning.Provider != "mock" {
				if os.Getenv(settings.Reasoning.APIKeyEnv) == "" {
					problems = append(problems, fmt.Sprintf("reasoning: %s is not set", settings.Reasoning.APIKeyEnv))
				}
			}

			if st, err := store.Open(home); err != nil {
				problems = append(problems, fmt.Sprintf("store: %v", err))
			} else {
				_ = st.Close()
				_, _ = fmt.Fprintln(out, "store: ok")
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}
			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	return cmd
}
