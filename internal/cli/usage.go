package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/store"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage and estimated spend per agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			settings, err := config.LoadSettings(home)
			if err != nil {
				return err
			}
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			totals, err := st.UsageTotals(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(totals) == 0 {
				_, _ = fmt.Fprintln(out, "no runs recorded yet")
				return nil
			}

			bold := color.New(color.Bold)
			_, _ = fmt.Fprintf(out, "%-20s %-28s %6s %12s %12s %10s\n",
				"agent", "model", "runs", "in tokens", "out tokens", "est cost")
			var totalCost float64
			var inSum, outSum, runSum int64
			for _, u := range totals {
				cost := estimateCost(settings.Cost, u.InputTokens, u.OutputTokens)
				totalCost += cost
				inSum += u.InputTokens
				outSum += u.OutputTokens
				runSum += u.Runs
				_, _ = fmt.Fprintf(out, "%-20s %-28s %6d %12d %12d %10s\n",
					u.AgentID, u.Model, u.Runs, u.InputTokens, u.OutputTokens,
					fmt.Sprintf("$%.2f", cost))
			}
			_, _ = fmt.Fprintf(out, "%s\n", bold.Sprintf("%-20s %-28s %6d %12d %12d %10s",
				"total", "", runSum, inSum, outSum, fmt.Sprintf("$%.2f", totalCost)))
			return nil
		},
	}
	return cmd
}

func estimateCost(rates config.CostSettings, inTokens, outTokens int64) float64 {
	return float64(inTokens)/1e6*rates.InputPerMTok + float64(outTokens)/1e6*rates.OutputPerMTok
}
