package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opentweak/opentweak/pkg/engine"
)

func newPendingCommand() *cobra.Command {
	var (
		revertIDs []string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "pending [tweak-id]...",
		Short: "Stage a batch of changes and execute it",
		Long: `Stage apply intents for the given tweaks (and revert intents for any
--revert ids), then execute the whole pending set as one batch with
progress reporting. Applies run before reverts; cancelling mid-batch
keeps the results of everything completed so far.

With --dry-run the staged set is listed and discarded without executing.`,
		Example: `  # Apply a batch of tweaks
  tweakctl pending dark-mode disable-telemetry

  # Mixed batch: apply one, revert another
  tweakctl pending disable-telemetry --revert dark-mode

  # Preview the staged set
  tweakctl pending dark-mode --dry-run`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(revertIDs) == 0 {
				return fmt.Errorf("nothing to stage: pass tweak ids and/or --revert ids")
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			for _, id := range args {
				known, err := app.service.MarkForApply(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !known {
					return fmt.Errorf("unknown tweak id: %s", id)
				}
			}
			for _, id := range revertIDs {
				known, err := app.service.MarkForRevert(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !known {
					return fmt.Errorf("unknown tweak id: %s", id)
				}
			}

			if dryRun {
				pending := app.service.Coordinator().ListPendingChanges()
				if jsonOutput {
					return printJSON(pending)
				}
				for _, p := range pending {
					fmt.Printf("%s %s (%s)\n", p.Action, p.TweakID, p.TweakName)
				}
				return nil
			}

			return runPendingBatch(cmd, app)
		},
	}

	cmd.Flags().StringSliceVar(&revertIDs, "revert", nil, "tweak ids to stage for revert")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the staged set without executing")

	return cmd
}

// runPendingBatch executes the staged set with progress output and prints
// per-tweak results.
func runPendingBatch(cmd *cobra.Command, app *app) error {
	progress := func(p engine.Progress) {
		if !jsonOutput {
			fmt.Printf("[%d/%d] %s: %s\n", p.CompletedCount, p.TotalCount, p.CurrentName, p.CurrentPhase)
		}
	}

	results, err := app.service.ExecutePending(cmd.Context(), progress)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(results)
	}

	failed := 0
	for id, r := range results {
		printResult(id, r)
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tweaks failed", failed, len(results))
	}
	return nil
}
