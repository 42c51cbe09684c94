package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/streamtune/pkg/config"
)

const sampleRuntimeOptions = `# Launch flags searched alongside the configuration.
# The global "program" names the tuned program.
options = [
    pow2("heap", 256, 8192, "-Xmx%dm"),
    choice("gc", ["G1", "Parallel"], 0, "-XX:+Use%sGC"),
    flag("compressedOops", "-XX:+UseCompressedOops"),
]
`

func newInitCommand() *cobra.Command {
	var (
		program       string
		command       string
		configuration string
		force         bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a settings file and trial database",
		Long: `Create a settings file, a sample runtime option script and an empty trial
database in the directory of the settings file.

Existing files are left alone unless --force is given.`,
		Example: `  # Initialize for the fmradio benchmark
  streamtune init --program fmradio --harness ./run-harness.sh --configuration fmradio.cfg.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := filepath.Dir(settingsPath)

			log.Info().
				Str("settings", settingsPath).
				Str("program", program).
				Msg("Initializing workspace")

			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			settings := &config.Settings{
				Harness: config.HarnessSettings{Command: command},
				Tuning: config.TuningSettings{
					Program:       program,
					Configuration: configuration,
				},
				RuntimeOptions: "options.star",
			}
			settings.ApplyDefaults()

			data, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
			if err := writeNew(settingsPath, data, force); err != nil {
				return err
			}

			optionsPath := filepath.Join(dir, settings.RuntimeOptions)
			if err := writeNew(optionsPath, []byte(sampleRuntimeOptions), force); err != nil {
				return err
			}

			dbPath := settings.Store.Path
			if !filepath.IsAbs(dbPath) {
				dbPath = filepath.Join(dir, dbPath)
			}
			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			printOK("Initialized SQLite database: %s", dbPath)

			fmt.Printf("\nNext steps:\n")
			fmt.Printf("  1. Check the settings:\n")
			fmt.Printf("     streamtune validate --config %s\n\n", settingsPath)
			fmt.Printf("  2. Start tuning:\n")
			fmt.Printf("     streamtune tune --config %s\n\n", settingsPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "name of the tuned program")
	cmd.Flags().StringVar(&command, "harness", "./run-harness.sh", "harness command")
	cmd.Flags().StringVar(&configuration, "configuration", "", "configuration document of the program")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	_ = cmd.MarkFlagRequired("program")
	_ = cmd.MarkFlagRequired("configuration")

	return cmd
}

// writeNew writes data to path unless the file exists and force is unset.
func writeNew(path string, data []byte, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		printOK("Kept existing file: %s", path)
		return nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	printOK("Created file: %s", path)
	return nil
}
