package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kvstash/kvstash/internal/auth"
	kverrors "github.com/kvstash/kvstash/internal/errors"
	"github.com/kvstash/kvstash/internal/secure"
)

func NewLoginCommand(app *App) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a client secret in the OS keyring",
		Long: `Store a service principal's client secret in the OS keyring so
profiles with use_keyring can authenticate without keeping the
secret in a file or environment variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				return kverrors.ValidationError{Field: "client-id", Message: "pass --client-id for the service principal"}
			}

			fmt.Fprint(os.Stderr, "Client secret: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("reading client secret: %w", err)
			}
			defer secure.Wipe(raw)

			value := strings.TrimSpace(string(raw))
			if value == "" {
				return kverrors.ValidationError{Field: "client-secret", Message: "must not be empty"}
			}

			if err := auth.StoreClientSecret(clientID, value); err != nil {
				return err
			}
			app.Logger.Info("client secret for %s stored in the OS keyring", clientID)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Service principal client ID")
	return cmd
}
