package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/streamtune/pkg/harness"
	"github.com/openfroyo/streamtune/pkg/stores"
	"github.com/openfroyo/streamtune/pkg/techniques"
)

const (
	// DefaultTrials is the evaluation budget when none is configured.
	DefaultTrials = 100

	// DefaultStorePath is the history database next to the settings file.
	DefaultStorePath = "streamtune.db"

	// DefaultMetricsAddress is where metrics are served when enabled.
	DefaultMetricsAddress = ":9090"
)

// DefaultTechniques are enabled when the settings name none.
var DefaultTechniques = []string{
	techniques.NameForceRemove,
	techniques.NameForceFuse,
	techniques.NameForceUnbox,
	techniques.NameForceEqualDivision,
	techniques.NameCrossSocketAffinity,
}

// Load reads, defaults, resolves and validates the settings file at path.
// The format follows the extension: .yaml, .yml, .json or .cue.
func Load(ctx context.Context, path string) (*Settings, error) {
	var (
		s   *Settings
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read settings: %w", readErr)
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			s, err = ParseJSON(data)
		} else {
			s, err = ParseYAML(data)
		}
	case ".cue":
		s, err = NewCUEParser().Parse(ctx, []string{path})
	default:
		return nil, fmt.Errorf("unsupported settings format: %s", path)
	}
	if err != nil {
		return nil, err
	}

	s.Source = path
	s.ApplyDefaults()
	s.ResolvePaths(filepath.Dir(path))

	if err := s.Validate(); err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) {
			for i := range ve {
				ve[i].File = path
			}
			return nil, ve
		}
		return nil, err
	}
	return s, nil
}

// ParseYAML decodes a YAML settings document. Unknown fields are errors.
func ParseYAML(data []byte) (*Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML settings: %w", err)
	}
	return &s, nil
}

// ParseJSON decodes a JSON settings document. Unknown fields are errors.
func ParseJSON(data []byte) (*Settings, error) {
	var s Settings
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse JSON settings: %w", err)
	}
	return &s, nil
}

// ApplyDefaults fills unset fields.
func (s *Settings) ApplyDefaults() {
	if s.Harness.Timeout == 0 {
		s.Harness.Timeout = Duration(harness.DefaultTimeout)
	}
	if s.Harness.GracePeriod == 0 {
		s.Harness.GracePeriod = Duration(harness.DefaultGracePeriod)
	}

	if s.Tuning.Trials == 0 {
		s.Tuning.Trials = DefaultTrials
	}
	if len(s.Tuning.Techniques) == 0 {
		if len(s.Tuning.Seeds) > 0 {
			s.Tuning.Techniques = append(s.Tuning.Techniques, techniques.NameFixed)
		}
		s.Tuning.Techniques = append(s.Tuning.Techniques, DefaultTechniques...)
	}
	if s.Tuning.AffinityParameter == "" {
		s.Tuning.AffinityParameter = techniques.DefaultAffinityParameter
	}

	if s.Store.Path == "" {
		s.Store.Path = DefaultStorePath
	}

	logging := &s.Telemetry.Logging
	if logging.Level == "" {
		logging.Level = "info"
	}
	if logging.Format == "" {
		logging.Format = "console"
	}
	if logging.Output == "" {
		logging.Output = "stderr"
	}

	metrics := &s.Telemetry.Metrics
	if metrics.Enabled && metrics.ListenAddress == "" {
		metrics.ListenAddress = DefaultMetricsAddress
	}
	if metrics.Path == "" {
		metrics.Path = "/metrics"
	}

	tracing := &s.Telemetry.Tracing
	if tracing.Exporter == "" {
		tracing.Exporter = "stdout"
	}
	if tracing.SamplingRate == 0 {
		tracing.SamplingRate = 1.0
	}
}

// ResolvePaths makes relative file paths relative to dir.
func (s *Settings) ResolvePaths(dir string) {
	resolve := func(p string) string {
		if p == "" || p == stores.MemoryPath || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	s.Tuning.Configuration = resolve(s.Tuning.Configuration)
	s.Store.Path = resolve(s.Store.Path)
	s.RuntimeOptions = resolve(s.RuntimeOptions)
	for i, p := range s.Policies {
		s.Policies[i] = resolve(p)
	}
	if s.Harness.Workdir != "" {
		s.Harness.Workdir = resolve(s.Harness.Workdir)
	}
	if strings.Contains(s.Harness.Command, string(filepath.Separator)) {
		s.Harness.Command = resolve(s.Harness.Command)
	}
}

// Validate checks s with its struct tags and returns ValidationErrors.
func (s *Settings) Validate() error {
	err := newValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate settings: %w", err)
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    settingsPath(fe.Namespace()),
			Message: describeFieldError(fe),
		})
	}
	return out
}

// HarnessConfig converts the harness settings for harness.NewExecTransport.
func (s *Settings) HarnessConfig() harness.Config {
	return harness.Config{
		Command:     s.Harness.Command,
		Args:        s.Harness.Args,
		WorkDir:     s.Harness.Workdir,
		Env:         s.Harness.Env,
		Timeout:     s.Harness.Timeout.Std(),
		GracePeriod: s.Harness.GracePeriod.Std(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// settingsPath strips the root struct name from a validator namespace.
func settingsPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed the %q check", fe.Tag())
	}
}
