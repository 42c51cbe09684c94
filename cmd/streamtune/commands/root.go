package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath string
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "streamtune",
		Short: "streamtune - configuration-space autotuner for streaming programs",
		Long: `streamtune searches the compiler configuration of a streaming program
for the fastest running time.

Each candidate configuration is handed to an external harness that compiles
and runs the program and reports how long it took. Search techniques propose
candidates, worker allocations are normalized through the harness before a
run, and every trial is recorded in a local SQLite database.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "streamtune.yaml", "settings file (.yaml, .json or .cue)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newTuneCommand())
	rootCmd.AddCommand(newParamsCommand())
	rootCmd.AddCommand(newTopologyCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
