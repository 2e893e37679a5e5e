package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <tweak-id>",
		Short: "Show the detection status of one tweak",
		Args:  cobra.ExactArgs(1),
		Example: `  # Check whether dark mode is applied
  tweakctl status dark-mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := app.service.StatusFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(status)
			}

			fmt.Printf("Tweak:       %s\n", status.TweakID)
			fmt.Printf("Status:      %s\n", statusLabel(status))
			fmt.Printf("Confidence:  %.2f\n", status.DetectionConfidence)
			fmt.Printf("Checked:     %s\n", status.LastChecked.Format("2006-01-02 15:04:05 MST"))
			if status.StatusMessage != "" {
				fmt.Printf("Detail:      %s\n", status.StatusMessage)
			}
			return nil
		},
	}

	return cmd
}

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Rescan the whole catalog and summarize results",
		Long: `Force a fresh detection pass over every tweak, replacing the status
cache, and print a summary of applied, not-applied, and undetectable
tweaks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			app.service.Coordinator().InvalidateCache()
			views, err := app.service.ListWithStatus(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(views)
			}

			var applied, notApplied, unknown int
			for _, v := range views {
				switch {
				case !v.Status.CanDetect:
					unknown++
				case v.Status.IsApplied:
					applied++
				default:
					notApplied++
				}
			}
			fmt.Printf("Scanned %d tweaks: %d applied, %d not applied, %d undetectable\n",
				len(views), applied, notApplied, unknown)
			return nil
		},
	}

	return cmd
}
