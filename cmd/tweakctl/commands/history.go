package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect executed batch runs",
		Long: `Browse the run history recorded after each executed batch: when it
ran, what it did, and the per-tweak outcomes.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Example: `  # Show the last 20 runs
  tweakctl history list

  # Show more
  tweakctl history list --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.store == nil {
				return fmt.Errorf("history requires a database (the in-memory store records no runs)")
			}

			runs, err := app.store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tACTION\tSTARTED\tTWEAKS\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
					r.ID, r.Action, r.StartedAt.Format("2006-01-02 15:04:05"), r.TweakCount, r.FailedCount)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the per-tweak results of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.store == nil {
				return fmt.Errorf("history requires a database (the in-memory store records no runs)")
			}

			results, err := app.store.GetRunResults(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				return fmt.Errorf("run not found: %s", args[0])
			}

			if jsonOutput {
				return printJSON(results)
			}

			for _, r := range results {
				state := "ok"
				if !r.Success {
					state = "FAILED"
				}
				fmt.Printf("%s: %s (%d applied, %d failed, %dms)\n",
					r.TweakID, state, r.AppliedOperations, r.FailedOperations, r.ExecutionMillis)
				if r.ErrorMessage != "" {
					fmt.Printf("  error: %s\n", r.ErrorMessage)
				}
				for _, msg := range r.Messages {
					fmt.Printf("  - %s\n", msg)
				}
			}
			return nil
		},
	}
}
