package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opentweak/opentweak/pkg/engine"
)

func newListCommand() *cobra.Command {
	var (
		category string
		search   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tweaks with their detection status",
		Long: `List every tweak in the catalog together with its detection verdict,
confidence, and any pending apply or revert intent.`,
		Example: `  # List all tweaks
  tweakctl list

  # List privacy tweaks only
  tweakctl list --category privacy

  # Search by name or description
  tweakctl list --search telemetry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			views, err := app.service.ListWithStatus(cmd.Context())
			if err != nil {
				return err
			}
			views = filterViews(cmd, app, views, category, search)

			if jsonOutput {
				return printJSON(views)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSEVERITY\tSTATUS\tCONFIDENCE\tPENDING")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
					v.Tweak.ID,
					v.Tweak.Name,
					v.Tweak.Category,
					v.Tweak.Severity,
					statusLabel(v.Status),
					v.Status.DetectionConfidence,
					pendingLabel(v.Pending),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&search, "search", "", "filter by name, description, or tag")

	return cmd
}

func filterViews(cmd *cobra.Command, app *app, views []engine.TweakView, category, search string) []engine.TweakView {
	if category == "" && search == "" {
		return views
	}

	keep := make(map[string]struct{})
	if search != "" {
		matches, err := app.provider.Search(cmd.Context(), search)
		if err == nil {
			for _, t := range matches {
				keep[t.ID] = struct{}{}
			}
		}
	}

	out := views[:0]
	for _, v := range views {
		if category != "" && !strings.EqualFold(v.Tweak.Category, category) {
			continue
		}
		if search != "" {
			if _, ok := keep[v.Tweak.ID]; !ok {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

func statusLabel(s engine.TweakStatus) string {
	if !s.CanDetect {
		return "unknown"
	}
	if s.IsApplied {
		return "applied"
	}
	return "not applied"
}

func pendingLabel(p *engine.PendingChange) string {
	if p == nil {
		return "-"
	}
	return string(p.Action)
}
