package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port       int
		pprofAddr  string
		dbDriver   string
		dbURL      string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run the daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:       home,
				Port:       port,
				Version:    cmd.Root().Version,
				PprofAddr:  pprofAddr,
				DBDriver:   dbDriver,
				DBURL:      dbURL,
				EnableOtel: enableOtel,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 4817, "Port for the local ops API")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
