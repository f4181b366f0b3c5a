package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	kverrors "github.com/kvstash/kvstash/internal/errors"
	"github.com/kvstash/kvstash/internal/secret"
	"github.com/kvstash/kvstash/internal/secure"
)

func NewSetCommand(app *App) *cobra.Command {
	var (
		stdin       bool
		groups      []string
		tagPairs    []string
		note        string
		folder      string
		contentType string
		expires     string
		replace     bool
	)

	cmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret, creating a new version",
		Long: `Store a secret under any name. Names the vault cannot represent are
mapped to a compliant identifier automatically; the original name is
preserved and used everywhere else.

Examples:
  kvstash set "prod db password" hunter2
  kvstash set api/stripe/key --stdin < key.txt
  kvstash set db-url postgres://... --group prod --group billing
  kvstash set cert-pw secret --expires 720h --note "rotates monthly"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var value string
			switch {
			case stdin && len(args) > 1:
				return kverrors.ValidationError{Field: "value", Message: "pass a value argument or --stdin, not both"}
			case stdin:
				raw, err := readStdin()
				if err != nil {
					return err
				}
				defer secure.Wipe(raw)
				value = strings.TrimRight(string(raw), "\r\n")
			case len(args) > 1:
				value = args[1]
			default:
				return kverrors.ValidationError{Field: "value", Message: "missing value (pass it as an argument or use --stdin)"}
			}

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

			props, err := m.Set(cmd.Context(), name, value, secret.SetOptions{
				Groups:      groups,
				Custom:      custom,
				ContentType: contentType,
				Expires:     expiresAt,
				Replace:     replace,
			})
			if err != nil {
				return err
			}

			app.Logger.Info("stored %s (version %s)", props.Name, props.Version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stdin, "stdin", false, "Read the value from standard input")
	cmd.Flags().StringArrayVarP(&groups, "group", "g", nil, "Group membership (repeatable)")
	cmd.Flags().StringArrayVarP(&tagPairs, "tag", "t", nil, "Custom tag as key=value (repeatable)")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note stored with the secret")
	cmd.Flags().StringVar(&folder, "folder", "", "Logical folder stored with the secret")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type hint")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry as RFC 3339 timestamp or duration from now")
	cmd.Flags().BoolVar(&replace, "replace-metadata", false, "Replace stored groups and tags instead of merging")

	return cmd
}

func setCustom(custom map[string]string, key, value string) map[string]string {
	if custom == nil {
		custom = make(map[string]string)
	}
	custom[key] = value
	return custom
}

func readStdin() ([]byte, error) {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading value from stdin: %w", err)
	}
	return raw, nil
}
