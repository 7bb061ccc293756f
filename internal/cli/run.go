package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect team runs",
	}
	cmd.AddCommand(newRunShowCmd())
	cmd.AddCommand(newRunMessagesCmd())
	cmd.AddCommand(newRunCancelCmd())
	return cmd
}

func newRunShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one team run, including progress and output",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			run, err := st.GetTeamRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Run:      %s\n", run.ID)
			_, _ = fmt.Fprintf(out, "Team:     %s\n", run.TeamID)
			_, _ = fmt.Fprintf(out, "Status:   %s\n", run.Status)
			if run.CurrentStepIdx != nil {
				_, _ = fmt.Fprintf(out, "Step:     %d\n", *run.CurrentStepIdx)
			}
			_, _ = fmt.Fprintf(out, "Tokens:   %d (est. $%.4f)\n", run.TokensTotal, run.CostEstimateUSD)
			if run.RunnerID != nil {
				_, _ = fmt.Fprintf(out, "Runner:   %s\n", *run.RunnerID)
			}
			if run.Output != nil {
				_, _ = fmt.Fprintf(out, "Output:\n%s\n", *run.Output)
			}
			if run.Error != nil {
				_, _ = fmt.Fprintf(out, "Error:    %s\n", *run.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Run ID")
	return cmd
}

func newRunMessagesCmd() *cobra.Command {
	var id string
	var limit int
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Print the activity log of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			msgs, err := st.ListTeamMessages(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
				return nil
			}
			for _, m := range msgs {
				sender := "system"
				if m.SenderID != nil {
					sender = *m.SenderID
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.MessageType, sender, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Run ID")
	cmd.Flags().IntVar(&limit, "limit", 200, "Max messages to print")
	return cmd
}

func newRunCancelCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a team run (takes effect at the next step boundary)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.CancelTeamRun(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled run %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Run ID")
	return cmd
}
