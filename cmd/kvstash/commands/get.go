package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func NewGetCommand(app *App) *cobra.Command {
	var (
		jsonOutput bool
		version    string
		noValue    bool
	)

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Retrieve a secret value",
		Long: `Retrieve a secret by the name it was stored under. The raw value is
printed to stdout, which makes it suitable for scripting:

  export DB_URL=$(kvstash get "prod db url")`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			withValue := !noValue

			if version != "" {
				v, err := m.GetVersion(cmd.Context(), args[0], version)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(os.Stdout, map[string]interface{}{"properties": v.Properties, "value": v.Value})
				}
				fmt.Println(v.Value)
				return nil
			}

			v, err := m.Get(cmd.Context(), args[0], withValue)
			if err != nil {
				return err
			}

			switch {
			case jsonOutput:
				out := map[string]interface{}{"properties": v.Properties}
				if withValue {
					out["value"] = v.Value
				}
				return printJSON(os.Stdout, out)
			case noValue:
				printProperties(os.Stdout, v.Properties)
			default:
				fmt.Println(v.Value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output properties and value as JSON")
	cmd.Flags().StringVar(&version, "version", "", "Fetch a specific version instead of the current one")
	cmd.Flags().BoolVar(&noValue, "no-value", false, "Show properties only, never the value")

	return cmd
}
