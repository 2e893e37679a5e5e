package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opentweak/opentweak/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <tweak-id>...",
		Short: "Apply tweaks immediately",
		Long: `Apply one or more tweaks right away, without staging them as pending
changes. Each tweak is policy-checked before execution. Tweaks already
detected as applied are skipped unless configured otherwise.`,
		Args: cobra.MinimumNArgs(1),
		Example: `  # Apply a single tweak
  tweakctl apply disable-telemetry

  # Apply several tweaks in order
  tweakctl apply dark-mode disable-telemetry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return executeNow(cmd, app, args, engine.ActionApply)
		},
	}

	return cmd
}

func newRevertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <tweak-id>...",
		Short: "Revert tweaks immediately",
		Long: `Revert one or more tweaks right away. Reversal uses the tweak's undo
operations when defined, otherwise the apply operations are replayed in
reverse with captured original state.`,
		Args: cobra.MinimumNArgs(1),
		Example: `  # Revert a single tweak
  tweakctl revert dark-mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return executeNow(cmd, app, args, engine.ActionRevert)
		},
	}

	return cmd
}

// executeNow runs each tweak through the service and prints the results.
// A failed tweak does not stop the remaining ones; the command exits
// non-zero if anything failed.
func executeNow(cmd *cobra.Command, app *app, ids []string, action engine.PendingAction) error {
	results := make(map[string]engine.TweakResult, len(ids))
	failed := 0

	for _, id := range ids {
		var result engine.TweakResult
		var err error
		if action == engine.ActionApply {
			result, err = app.service.Apply(cmd.Context(), id)
		} else {
			result, err = app.service.Revert(cmd.Context(), id)
		}
		if err != nil {
			log.Error().Err(err).Str("tweak", id).Msg("Execution rejected")
			failed++
			continue
		}
		results[id] = result
		if !result.Success {
			failed++
		}
	}

	if jsonOutput {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for id, r := range results {
			printResult(id, r)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tweaks failed", failed, len(ids))
	}
	return nil
}

func printResult(id string, r engine.TweakResult) {
	state := "ok"
	if !r.Success {
		state = "FAILED"
	}
	fmt.Printf("%s: %s (%d applied, %d failed, %s)\n",
		id, state, len(r.AppliedOperations), len(r.FailedOperations), r.ExecutionTime)
	if r.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", r.ErrorMessage)
	}
	for _, msg := range r.Messages {
		fmt.Printf("  - %s\n", msg)
	}
	if r.RequiresRestart {
		fmt.Println("  a restart is required for full effect")
	}
}
