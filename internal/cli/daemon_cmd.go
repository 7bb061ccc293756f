package cli

import (
	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port           int
		pollInterval   int
		maxConcurrency int
		instanceName   string
		dev            bool
		pprofAddr      string
		dbDriver       string
		dbURL          string
		webhookURL     string
		sandboxURL     string
		enableOtel     bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:            home,
				Port:            port,
				InstanceName:    instanceName,
				MaxConcurrency:  maxConcurrency,
				PollIntervalSec: pollInterval,
				Dev:             dev,
				PprofAddr:       pprofAddr,
				DBDriver:        dbDriver,
				DBURL:           dbURL,
				WebhookURL:      webhookURL,
				SandboxURL:      sandboxURL,
				EnableOtel:      enableOtel,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 7333, "Port for the HTTP API")
	cmd.Flags().IntVar(&pollInterval, "poll-interval", 0, "Scheduler poll interval in seconds")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Max concurrent work units")
	cmd.Flags().StringVar(&instanceName, "instance", "", "Runner instance name")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook URL for lifecycle notifications")
	cmd.Flags().StringVar(&sandboxURL, "sandbox-url", "", "Code-interpreter sandbox service URL")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
