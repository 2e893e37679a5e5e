package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRecommendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend",
		Short: "Suggest low-risk tweaks",
		Long: `List up to ten low-risk tweaks worth applying: privacy and performance
tweaks, plus anything at medium severity or below.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			tweaks, err := app.service.Recommended(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(tweaks)
			}
			if len(tweaks) == 0 {
				fmt.Println("No recommendations")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSEVERITY")
			for _, t := range tweaks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Category, t.Severity)
			}
			return w.Flush()
		},
	}
}
