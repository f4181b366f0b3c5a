package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	kverrors "github.com/kvstash/kvstash/internal/errors"
)

func NewDeleteCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Soft-delete a secret",
		Long: `Soft-delete a secret. It disappears from normal listings and reads
but stays recoverable with "kvstash restore" until the vault's
retention period ends or it is purged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			if err := m.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			app.Logger.Info("deleted %s (recoverable with 'kvstash restore')", args[0])
			return nil
		},
	}
	return cmd
}

func NewRestoreCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Recover a soft-deleted secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			props, err := m.Recover(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app.Logger.Info("restored %s", props.Name)
			return nil
		},
	}
	return cmd
}

func NewPurgeCommand(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge <name>",
		Short: "Permanently remove a soft-deleted secret",
		Long: `Permanently remove a soft-deleted secret and its entire version
history. This cannot be undone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := confirm(fmt.Sprintf("Permanently purge %q? This cannot be undone", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					app.Logger.Info("aborted")
					return nil
				}
			}

			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			if err := m.Purge(cmd.Context(), args[0]); err != nil {
				return err
			}
			app.Logger.Info("purged %s", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func confirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, kverrors.ValidationError{Field: "confirm", Message: "no confirmation received (use --yes in scripts)"}
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
