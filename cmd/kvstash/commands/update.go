package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kvstash/kvstash/internal/secret"
)

func NewUpdateCommand(app *App) *cobra.Command {
	var (
		groups     []string
		tagPairs   []string
		note       string
		folder     string
		expires    string
		replace    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Change a secret's groups, tags, or expiry in place",
		Long: `Change metadata on the current version without touching the value or
creating a new version. By default new groups and tags merge into
what is stored; --replace-metadata starts from a clean slate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			custom, err := parseTags(tagPairs)
			if err != nil {
				return err
			}
			if note != "" {
				custom = setCustom(custom, "note", note)
			}
			if folder != "" {
				custom = setCustom(custom, "folder", folder)
			}

			expiresAt, err := parseExpiry(expires)
			if err != nil {
				return err
			}

			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			props, err := m.Update(cmd.Context(), args[0], secret.UpdateOptions{
				Groups:  groups,
				Custom:  custom,
				Expires: expiresAt,
				Replace: replace,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(os.Stdout, props)
			}
			printProperties(os.Stdout, props)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&groups, "group", "g", nil, "Group membership (repeatable)")
	cmd.Flags().StringArrayVarP(&tagPairs, "tag", "t", nil, "Custom tag as key=value (repeatable)")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note stored with the secret")
	cmd.Flags().StringVar(&folder, "folder", "", "Logical folder stored with the secret")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry as RFC 3339 timestamp or duration from now")
	cmd.Flags().BoolVar(&replace, "replace-metadata", false, "Replace stored groups and tags instead of merging")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
