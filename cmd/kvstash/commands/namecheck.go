package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kvstash/kvstash/internal/sanitize"
)

func NewNameCheckCommand(app *App) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "name-check <name>",
		Short: "Show how a name would be stored in the vault",
		Long: `Show the vault identifier a name maps to before writing anything.
Compliant names pass through unchanged; others are rewritten, and
names that cannot be rewritten become a digest-derived identifier.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := sanitize.Describe(args[0])

			if jsonOutput {
				return printJSON(os.Stdout, info)
			}

			switch {
			case !info.Modified:
				app.Logger.Info("%q is stored as-is", info.Original)
			case info.Hashed:
				app.Logger.Warn("%q cannot be rewritten in place; stored as %s", info.Original, info.Sanitized)
			default:
				app.Logger.Info("%q is stored as %s", info.Original, info.Sanitized)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
