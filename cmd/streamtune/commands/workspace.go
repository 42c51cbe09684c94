package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/streamtune/pkg/config"
	"github.com/openfroyo/streamtune/pkg/engine"
	"github.com/openfroyo/streamtune/pkg/stores"
	"github.com/openfroyo/streamtune/pkg/telemetry"
)

// starlarkTimeout bounds the evaluation of the runtime option script.
const starlarkTimeout = 10 * time.Second

func loadSettings(ctx context.Context) (*config.Settings, error) {
	settings, err := config.Load(ctx, settingsPath)
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// telemetryConfig maps the telemetry settings onto a telemetry.Config.
func telemetryConfig(s *config.Settings, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	cfg.Logging.Level = s.Telemetry.Logging.Level
	cfg.Logging.Format = s.Telemetry.Logging.Format
	cfg.Logging.Output = s.Telemetry.Logging.Output

	cfg.Metrics.Enabled = s.Telemetry.Metrics.Enabled
	if s.Telemetry.Metrics.ListenAddress != "" {
		cfg.Metrics.ListenAddress = s.Telemetry.Metrics.ListenAddress
	}
	if s.Telemetry.Metrics.Path != "" {
		cfg.Metrics.Path = s.Telemetry.Metrics.Path
	}

	cfg.Tracing.Enabled = s.Telemetry.Tracing.Enabled
	cfg.Tracing.Exporter = s.Telemetry.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Telemetry.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Telemetry.Tracing.Insecure
	cfg.Tracing.SamplingRate = s.Telemetry.Tracing.SamplingRate

	// Events are delivered synchronously so the console sees trials in order
	cfg.Events.EnableAsync = false
	return cfg
}

// openStore opens and migrates the trial database.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

const (
	benchmarkKey     = "benchmark"
	benchmarkTypeTag = "java.lang.String"
)

// loadConfiguration decodes the configuration document named by the
// settings and tags it with the program name.
func loadConfiguration(s *config.Settings) (*engine.Configuration, error) {
	path := s.Tuning.Configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	cfg, err := engine.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration %s: %w", path, err)
	}
	if err := tagBenchmark(cfg, s.Tuning.Program); err != nil {
		return nil, err
	}
	return cfg, nil
}

// tagBenchmark names the tuned program in the configuration's extra data;
// the harness picks the benchmark to run from it.
func tagBenchmark(cfg *engine.Configuration, program string) error {
	return cfg.PutExtraData(benchmarkKey, benchmarkTypeTag, program)
}

// loadRuntimeOptions evaluates the runtime option script, if one is set.
// The script sees the program name as the global "program".
func loadRuntimeOptions(ctx context.Context, s *config.Settings) ([]*engine.RuntimeOption, error) {
	if s.RuntimeOptions == "" {
		return nil, nil
	}
	loader := config.NewRuntimeOptionLoader(starlarkTimeout)
	options, err := loader.LoadFile(ctx, s.RuntimeOptions, map[string]interface{}{
		"program": s.Tuning.Program,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime options: %w", err)
	}
	return options, nil
}

// seedStores converts the configured seed overrides.
func seedStores(s *config.Settings) []engine.Store {
	seeds := make([]engine.Store, 0, len(s.Tuning.Seeds))
	for _, seed := range s.Tuning.Seeds {
		seeds = append(seeds, engine.Store(seed))
	}
	return seeds
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
