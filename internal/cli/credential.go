package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/credentials"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
)

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage provider API keys",
	}
	cmd.AddCommand(newCredentialSetCmd())
	return cmd
}

func newCredentialSetCmd() *cobra.Command {
	var (
		workspace    string
		providerName string
		apiKey       string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an encrypted provider API key for a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" || providerName == "" || apiKey == "" {
				return errors.New("--workspace, --provider, and --key are required")
			}
			master := os.Getenv("CREWFORM_MASTER_KEY")
			if master == "" {
				return errors.New("CREWFORM_MASTER_KEY must be set to encrypt credentials")
			}

			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			res, err := credentials.NewResolver(st, master)
			if err != nil {
				return err
			}
			if err := res.Put(cmd.Context(), workspace, providerName, apiKey); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s credential for workspace %s\n", providerName, workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	cmd.Flags().StringVar(&providerName, "provider", "", "Provider name (openai, anthropic, groq, ...)")
	cmd.Flags().StringVar(&apiKey, "key", "", "API key (stored AES-GCM encrypted)")
	return cmd
}
