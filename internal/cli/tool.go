package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func newToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Manage custom webhook tools",
	}
	cmd.AddCommand(newToolAddCmd())
	return cmd
}

func newToolAddCmd() *cobra.Command {
	var (
		workspace   string
		name        string
		description string
		webhookURL  string
		paramSchema string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a custom webhook tool (agents reference it as custom:<id>)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" || name == "" || webhookURL == "" {
				return errors.New("--workspace, --name, and --webhook-url are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			id := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
			t := models.CustomTool{
				ID:          id,
				WorkspaceID: workspace,
				Name:        name,
				Description: description,
				ParamSchema: paramSchema,
				WebhookURL:  webhookURL,
			}
			if err := st.PutCustomTool(cmd.Context(), t); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered tool custom:%s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	cmd.Flags().StringVar(&name, "name", "", "Tool name")
	cmd.Flags().StringVar(&description, "description", "", "Tool description shown to the model")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook URL invoked with the tool arguments")
	cmd.Flags().StringVar(&paramSchema, "param-schema", "", "JSON-schema text for the tool parameters")
	return cmd
}
