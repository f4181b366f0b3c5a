package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/kvstash/kvstash/cmd/kvstash/commands"
	"github.com/kvstash/kvstash/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe sealed buffers on signals and before exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		memguard.Purge()
		os.Exit(1)
	}
}

func run() error {
	app := &commands.App{}

	rootCmd := &cobra.Command{
		Use:   "kvstash",
		Short: "Azure Key Vault secrets with human-friendly names",
		Long: `kvstash stores and retrieves Key Vault secrets under the names you
actually use. Names that the vault cannot represent are mapped to
compliant identifiers and the original is kept on the secret, so
listings and lookups keep working with spaces, dots, and slashes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.Logger = logging.New(app.Debug, app.NoColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Config file path (default: user config dir)")
	rootCmd.PersistentFlags().StringVarP(&app.ProfileName, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&app.Vault, "vault", "", "Vault name, overrides the profile")
	rootCmd.PersistentFlags().BoolVar(&app.NoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&app.Debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewSetCommand(app),
		commands.NewGetCommand(app),
		commands.NewListCommand(app),
		commands.NewDeleteCommand(app),
		commands.NewRestoreCommand(app),
		commands.NewPurgeCommand(app),
		commands.NewRotateCommand(app),
		commands.NewRollbackCommand(app),
		commands.NewVersionsCommand(app),
		commands.NewUpdateCommand(app),
		commands.NewNameCheckCommand(app),
		commands.NewLoginCommand(app),
	)

	return rootCmd.Execute()
}
