package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	var (
		workspace    string
		name         string
		providerName string
		model        string
		systemPrompt string
		toolNames    []string
		temperature  float64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an agent to a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" || name == "" || model == "" {
				return errors.New("--workspace, --name, and --model are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			a := models.Agent{
				WorkspaceID:  workspace,
				Name:         name,
				Provider:     providerName,
				Model:        model,
				SystemPrompt: systemPrompt,
				Tools:        toolNames,
				Temperature:  temperature,
			}
			created, err := st.CreateAgent(cmd.Context(), a)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added agent %s (%q, model %s)\n", created.ID, created.Name, created.Model)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringVar(&providerName, "provider", "", "Provider name (inferred from model when empty)")
	cmd.Flags().StringVar(&model, "model", "", "Model name (e.g. gpt-4o, claude-sonnet-4-20250514)")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "System prompt")
	cmd.Flags().StringSliceVar(&toolNames, "tools", nil, "Tool names (web_search, http_request, code_interpreter, read_file, grammar_check, custom:<id>)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents in a workspace",
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

			agents, err := st.ListAgents(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, a := range agents {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s (%s/%s)\n", a.ID, a.Name, a.Provider, a.Model)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	return cmd
}
