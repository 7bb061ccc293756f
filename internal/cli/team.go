package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
	}
	cmd.AddCommand(newTeamAddCmd())
	cmd.AddCommand(newTeamListCmd())
	cmd.AddCommand(newTeamRunCmd())
	return cmd
}

func newTeamAddCmd() *cobra.Command {
	var (
		workspace  string
		name       string
		mode       string
		configJSON string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a team (config is mode-specific JSON, inline or @file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" || name == "" || mode == "" {
				return errors.New("--workspace, --name, and --mode are required")
			}
			raw := configJSON
			if strings.HasPrefix(raw, "@") {
				b, err := os.ReadFile(raw[1:])
				if err != nil {
					return err
				}
				raw = string(b)
			}
			if raw == "" {
				return errors.New("--config is required (JSON for the chosen mode)")
			}

			var cfg models.TeamConfig
			switch mode {
			case models.ModePipeline:
				cfg.Pipeline = &models.PipelineConfig{}
				if err := json.Unmarshal([]byte(raw), cfg.Pipeline); err != nil {
					return fmt.Errorf("parse pipeline config: %w", err)
				}
			case models.ModeOrchestrator:
				cfg.Orchestrator = &models.OrchestratorConfig{}
				if err := json.Unmarshal([]byte(raw), cfg.Orchestrator); err != nil {
					return fmt.Errorf("parse orchestrator config: %w", err)
				}
			case models.ModeCollaboration:
				cfg.Collaboration = &models.CollaborationConfig{}
				if err := json.Unmarshal([]byte(raw), cfg.Collaboration); err != nil {
					return fmt.Errorf("parse collaboration config: %w", err)
				}
			default:
				return errors.New("mode must be pipeline, orchestrator, or collaboration")
			}

			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			created, err := st.CreateTeam(cmd.Context(), models.Team{
				WorkspaceID: workspace,
				Name:        name,
				Mode:        mode,
				Config:      cfg,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created team %s (%q, mode %s)\n", created.ID, created.Name, created.Mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	cmd.Flags().StringVar(&name, "name", "", "Team name")
	cmd.Flags().StringVar(&mode, "mode", "", "Team mode: pipeline, orchestrator, or collaboration")
	cmd.Flags().StringVar(&configJSON, "config", "", "Mode config as JSON, or @path to a JSON file")
	return cmd
}

func newTeamListCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teams in a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				return errors.New("--workspace is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			teams, err := st.ListTeams(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			if len(teams) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No teams.")
				return nil
			}
			for _, t := range teams {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s (%s)\n", t.ID, t.Name, t.Mode)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	return cmd
}

func newTeamRunCmd() *cobra.Command {
	var teamID string
	var input string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Queue a run of a team; any runner in the fleet may claim it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || input == "" {
				return errors.New("--id and --input are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			team, err := st.GetTeam(cmd.Context(), teamID)
			if err != nil {
				return err
			}
			run, err := st.CreateTeamRun(cmd.Context(), models.TeamRun{
				TeamID:      team.ID,
				WorkspaceID: team.WorkspaceID,
				InputTask:   input,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued run %s for team %q\n", run.ID, team.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&teamID, "id", "", "Team ID")
	cmd.Flags().StringVar(&input, "input", "", "Input task for the run")
	return cmd
}
