package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tweakctl",
		Short: "OpenTweak - Declarative System Tweak Engine",
		Long: `OpenTweak detects and executes declarative, idempotent system tweaks.

Tweaks are JSON definitions combining config-store, service, file, and
script operations with detection rules. The engine evaluates whether each
tweak is in effect, applies or reverts them with original-state capture,
and records executed batches for audit.

Features:
  - Weighted detection rules with applied/not-applied verdicts
  - Idempotent apply with automatic rollback state capture
  - Pending-change staging and batch execution
  - Policy gating via OPA/Rego
  - SQLite-backed config store and run history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newRevertCommand())
	rootCmd.AddCommand(newPendingCommand())
	rootCmd.AddCommand(newRecommendCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
