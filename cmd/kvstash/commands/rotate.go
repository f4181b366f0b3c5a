package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kvstash/kvstash/internal/rotation"
	"github.com/kvstash/kvstash/internal/secret"
)

func NewRotateCommand(app *App) *cobra.Command {
	var (
		length  int
		symbols bool
	)

	cmd := &cobra.Command{
		Use:   "rotate <name>",
		Short: "Replace a secret's value with a generated one",
		Long: `Generate a new random value for the named secret and store it as a
new version. Groups, tags, and expiry are preserved; the previous
value stays in the version history for rollback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			genOpts := []rotation.RandomOption{rotation.WithLength(length)}
			if symbols {
				genOpts = append(genOpts, rotation.WithSymbols())
			}
			gen, err := rotation.NewRandom(genOpts...)
			if err != nil {
				return err
			}

			m, closer, err := app.manager(secret.WithGenerator(gen))
			if err != nil {
				return err
			}
			defer closer()

			props, err := m.Rotate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app.Logger.Info("rotated %s (version %s)", props.Name, props.Version)
			return nil
		},
	}

	cmd.Flags().IntVar(&length, "length", rotation.DefaultLength, "Generated value length")
	cmd.Flags().BoolVar(&symbols, "symbols", false, "Include punctuation in the generated value")

	return cmd
}

func NewRollbackCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <name> <version>",
		Short: "Make an earlier version's value current again",
		Long: `Write the value of an earlier version as a new current version.
History is never rewritten: the rollback itself appears as one new
version, and current groups and tags are preserved.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			props, err := m.Rollback(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			app.Logger.Info("rolled back %s to the value of %s (new version %s)", props.Name, args[1], props.Version)
			return nil
		},
	}
	return cmd
}

func NewVersionsCommand(app *App) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "versions <name>",
		Short: "List a secret's versions, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			versions, err := m.Versions(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(os.Stdout, versions)
			}
			for i, v := range versions {
				marker := " "
				if i == len(versions)-1 {
					marker = "*" // current
				}
				app.Logger.Info("%s %s  created %s", marker, v.Version, v.Created.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
