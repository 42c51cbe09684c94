package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings is the top-level streamtune settings document.
type Settings struct {
	// Harness describes how the benchmark harness is launched.
	Harness HarnessSettings `json:"harness" yaml:"harness"`

	// Tuning controls the search.
	Tuning TuningSettings `json:"tuning" yaml:"tuning"`

	// Store selects the trial history database.
	Store StoreSettings `json:"store" yaml:"store"`

	// RuntimeOptions is the path of a Starlark file declaring launch flags.
	RuntimeOptions string `json:"runtime_options,omitempty" yaml:"runtime_options,omitempty"`

	// Policies are admission policy files or directories.
	Policies []string `json:"policies,omitempty" yaml:"policies,omitempty" validate:"dive,required"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetrySettings `json:"telemetry" yaml:"telemetry"`

	// Source is the file the settings were loaded from.
	Source string `json:"-" yaml:"-"`
}

// HarnessSettings describes the external benchmark process.
type HarnessSettings struct {
	Command     string            `json:"command" yaml:"command" validate:"required"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Workdir     string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout     Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	GracePeriod Duration          `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`
}

// TuningSettings controls the search session.
type TuningSettings struct {
	// Program names the tuned stream program.
	Program string `json:"program" yaml:"program" validate:"required"`

	// Configuration is the path of the base configuration wire document.
	Configuration string `json:"configuration" yaml:"configuration" validate:"required"`

	// Trials caps the number of evaluations.
	Trials int `json:"trials,omitempty" yaml:"trials,omitempty" validate:"gte=1"`

	// Seed seeds the search PRNG. Zero picks a time-based seed.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Techniques lists the enabled techniques in proposal order.
	Techniques []string `json:"techniques,omitempty" yaml:"techniques,omitempty" validate:"dive,required"`

	// ForcePrefixes adds a force-true technique per parameter prefix.
	ForcePrefixes []string `json:"force_prefixes,omitempty" yaml:"force_prefixes,omitempty" validate:"dive,required"`

	// AffinityParameter names the permutation that orders worker cores.
	AffinityParameter string `json:"affinity_parameter,omitempty" yaml:"affinity_parameter,omitempty"`

	// Seeds are candidate overrides replayed by the fixed technique.
	Seeds []map[string]any `json:"seeds,omitempty" yaml:"seeds,omitempty"`
}

// StoreSettings selects the trial history database.
type StoreSettings struct {
	// Path is the SQLite file. ":memory:" keeps history in memory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// TelemetrySettings configures the ambient observability stack.
type TelemetrySettings struct {
	Logging LoggingSettings `json:"logging" yaml:"logging"`
	Metrics MetricsSettings `json:"metrics" yaml:"metrics"`
	Tracing TracingSettings `json:"tracing" yaml:"tracing"`
}

// LoggingSettings configures structured logging.
type LoggingSettings struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=json console"`
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled       bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty" validate:"required_if=Enabled true"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
}

// TracingSettings configures OpenTelemetry tracing.
type TracingSettings struct {
	Enabled      bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Exporter     string  `json:"exporter,omitempty" yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Insecure     bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SamplingRate float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty" validate:"gte=0,lte=1"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the settings path of the error (e.g., "tuning.trials").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when settings fail to parse or validate.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.String()
	}
	return "invalid settings: " + strings.Join(msgs, "; ")
}

// Duration is a time.Duration that reads as "30s" style strings or as a
// number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return d.fromSeconds(secs)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return d.fromSeconds(secs)
}

func (d *Duration) fromSeconds(secs float64) error {
	if secs < 0 {
		return fmt.Errorf("negative duration %v", secs)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}
