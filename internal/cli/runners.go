package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
)

func newRunnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Inspect the runner fleet",
	}
	cmd.AddCommand(newRunnerListCmd())
	return cmd
}

func newRunnerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered runners with load and heartbeat age",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			runners, err := st.ListRunners(cmd.Context())
			if err != nil {
				return err
			}
			if len(runners) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runners.")
				return nil
			}
			for _, r := range runners {
				age := time.Since(r.LastHeartbeat).Round(time.Second)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s [%s] load %d/%d, heartbeat %s ago\n",
					r.ID, r.InstanceName, r.Status, r.CurrentLoad, r.MaxConcurrency, age)
			}
			return nil
		},
	}
	return cmd
}
