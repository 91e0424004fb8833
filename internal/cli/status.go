package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/daemon"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and the agent schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !st.Running {
				_, _ = fmt.Fprintln(out, "p2pagents is not running")
				return nil
			}
			_, _ = fmt.Fprintf(out, "p2pagents running (pid %d, addr %s)\n", st.PID, st.Addr)

			snapshot, err := fetchStatus(st.Addr)
			if err != nil {
				_, _ = fmt.Fprintf(out, "ops API unreachable: %v\n", err)
				return nil
			}
			_, _ = fmt.Fprintf(out, "pending tasks: %d  active runs: %d", snapshot.PendingTasks, snapshot.ActiveRuns)
			if snapshot.LastCycle != "" {
				_, _ = fmt.Fprintf(out, "  last cycle: %s", snapshot.LastCycle)
			}
			_, _ = fmt.Fprintln(out)
			for _, a := range snapshot.Agents {
				line := fmt.Sprintf("  %-22s %-16s", color.New(color.Bold).Sprint(a.ID), a.Schedule)
				if a.NextFire != nil {
					line += " next " + a.NextFire.Local().Format("Mon 15:04")
				}
				_, _ = fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	return cmd
}

func fetchStatus(addr string) (*models.Status, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var st models.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}
