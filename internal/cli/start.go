package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var (
		port           int
		foreground     bool
		pollInterval   int
		maxConcurrency int
		instanceName   string
		dev            bool
		pprofAddr      string
		dbDriver       string
		dbURL          string
		webhookURL     string
		sandboxURL     string
		envFile        string
		enableOtel     bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a Crewform runner (HTTP API + scheduler loop)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())

			opts := daemon.StartOptions{
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
			}

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting Crewform in foreground on port %d\n", port)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Crewform started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: http://localhost:%d\n", port)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 7333, "Port for the HTTP API")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().IntVar(&pollInterval, "poll-interval", 0, "Scheduler poll interval in seconds (0 = config default)")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Max concurrent work units on this runner (0 = config default)")
	cmd.Flags().StringVar(&instanceName, "instance", "", "Runner instance name (default: hostname)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook URL for task/run lifecycle notifications")
	cmd.Flags().StringVar(&sandboxURL, "sandbox-url", "", "Code-interpreter sandbox service URL")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
