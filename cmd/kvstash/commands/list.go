package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvstash/kvstash/internal/secret"
)

func NewListCommand(app *App) *cobra.Command {
	var (
		includeDeleted bool
		group          string
		jsonOutput     bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List secrets in the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := app.manager()
			if err != nil {
				return err
			}
			defer closer()

			listed, err := m.List(cmd.Context(), secret.ListOptions{
				IncludeDeleted: includeDeleted,
				Group:          group,
			})
			if err != nil {
				return err
			}

			sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })

			if jsonOutput {
				return printJSON(os.Stdout, listed)
			}

			if len(listed) == 0 {
				app.Logger.Info("no secrets found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tGROUPS\tCREATED\tSTATE")
			for _, p := range listed {
				state := "active"
				if p.Deleted {
					state = "deleted " + p.DeletedDate.Format("2006-01-02")
				}
				created := ""
				if !p.Created.IsZero() {
					created = p.Created.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					p.Name, strings.Join(p.Metadata.Groups, ","), created, state)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Include soft-deleted secrets")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Only secrets in this group")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
