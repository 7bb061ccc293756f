package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify local setup (home dir, database, credential key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			if err := os.MkdirAll(home, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("home directory %s is not writable: %v", home, err))
			}

			st, err := store.Open(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("cannot open store: %v", err))
			} else {
				_ = st.Close()
			}

			if os.Getenv("CREWFORM_MASTER_KEY") == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "note: CREWFORM_MASTER_KEY is not set; provider credentials cannot be stored or decrypted")
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
