package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the policy gate",
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			policies := app.gate.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return w.Flush()
		},
	}
}

func newPolicyCheckCommand() *cobra.Command {
	var revert bool

	cmd := &cobra.Command{
		Use:   "check <tweak-id>...",
		Short: "Evaluate policies against a batch without executing it",
		Args:  cobra.MinimumNArgs(1),
		Example: `  # Would this batch be allowed?
  tweakctl policy check dark-mode disable-telemetry

  # Check a revert batch
  tweakctl policy check dark-mode --revert`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			var tweaks []catalog.Tweak
			for _, id := range args {
				tweak, err := app.provider.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if tweak == nil {
					return fmt.Errorf("unknown tweak id: %s", id)
				}
				tweaks = append(tweaks, *tweak)
			}

			action := engine.ActionApply
			if revert {
				action = engine.ActionRevert
			}

			result, err := app.gate.Evaluate(cmd.Context(), tweaks, action)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			if result.Allowed {
				fmt.Println("Batch allowed")
			} else {
				fmt.Println("Batch BLOCKED")
			}
			for _, v := range result.Violations {
				fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			for _, warn := range result.Warnings {
				fmt.Printf("  warning: %s\n", warn)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&revert, "revert", false, "evaluate as a revert batch")

	return cmd
}
