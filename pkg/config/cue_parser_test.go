package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   string
		checkFunc func(*testing.T, *Settings)
	}{
		{
			name: "valid settings",
			content: `
harness: {
	command: "run-harness"
	timeout: "2m"
}
tuning: {
	program:       "fmradio"
	configuration: "fmradio.json"
	trials:        20
	techniques: ["force-fuse", "force-equal-division"]
	seeds: [{multiplier: 4}]
}
telemetry: tracing: {
	enabled:  true
	exporter: "otlp"
	endpoint: "localhost:4317"
}
`,
			checkFunc: func(t *testing.T, s *Settings) {
				if s.Harness.Timeout.Std() != 2*time.Minute {
					t.Errorf("expected 2m timeout, got %v", s.Harness.Timeout)
				}
				if s.Tuning.Trials != 20 || len(s.Tuning.Techniques) != 2 {
					t.Errorf("unexpected tuning %+v", s.Tuning)
				}
				if s.Tuning.Seeds[0]["multiplier"] != float64(4) {
					t.Errorf("expected seed multiplier 4, got %v", s.Tuning.Seeds[0]["multiplier"])
				}
				if !s.Telemetry.Tracing.Enabled || s.Telemetry.Tracing.Exporter != "otlp" {
					t.Errorf("unexpected tracing %+v", s.Telemetry.Tracing)
				}
			},
		},
		{
			name: "computed fields",
			content: `
_base: "fmradio"
harness: command: "run-harness"
tuning: {
	program:       _base
	configuration: _base + ".json"
	trials:        10 * 5
}
`,
			checkFunc: func(t *testing.T, s *Settings) {
				if s.Tuning.Configuration != "fmradio.json" || s.Tuning.Trials != 50 {
					t.Errorf("unexpected tuning %+v", s.Tuning)
				}
			},
		},
		{
			name:    "invalid syntax",
			content: "harness: {\n\tcommand: \"h\"\n",
			wantErr: "inline",
		},
		{
			name: "unknown field",
			content: `
harness: command: "h"
tuning: {program: "p", configuration: "c"}
scheduler: "parallel"
`,
			wantErr: "scheduler",
		},
		{
			name: "schema violation",
			content: `
harness: command: "h"
tuning: {program: "p", configuration: "c", trials: 0}
`,
			wantErr: "tuning.trials",
		},
		{
			name: "bad enum",
			content: `
harness: command: "h"
tuning: {program: "p", configuration: "c"}
telemetry: logging: level: "loud"
`,
			wantErr: "telemetry.logging.level",
		},
		{
			name:    "missing required",
			content: `harness: command: "h"`,
			wantErr: "tuning",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parser.ParseInline(ctx, tt.content)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("expected error")
				}
				var ve ValidationErrors
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, s)
			}
		})
	}
}

func TestCUEParser_ParseFiles(t *testing.T) {
	dir := t.TempDir()
	harnessFile := filepath.Join(dir, "harness.cue")
	tuningFile := filepath.Join(dir, "tuning.cue")

	if err := os.WriteFile(harnessFile, []byte(`harness: {command: "h", args: ["--fast"]}`), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(tuningFile, []byte(`tuning: {program: "p", configuration: "c"}`), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	s, err := NewCUEParser().Parse(context.Background(), []string{harnessFile, tuningFile})
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if s.Harness.Command != "h" || s.Tuning.Program != "p" {
		t.Errorf("expected files to be unified, got %+v", s)
	}
}

func TestCUEParser_ErrorPositions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.cue")
	content := "harness: command: \"h\"\ntuning: {program: \"p\",,}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := NewCUEParser().Parse(context.Background(), []string{path})
	var ve ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}

	found := false
	for _, e := range ve {
		if e.File == path && e.Line > 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error positioned in %s, got %v", path, ve)
	}
}

func TestCUEParser_NoSources(t *testing.T) {
	if _, err := NewCUEParser().Parse(context.Background(), nil); err == nil {
		t.Error("expected error for no sources")
	}
	if _, err := NewCUEParser().Parse(context.Background(), []string{"/nonexistent/settings.cue"}); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestLoad_CUE(t *testing.T) {
	path := writeSettings(t, "streamtune.cue", `
harness: command: "./harness.sh"
tuning: {
	program:       "fmradio"
	configuration: "fmradio.json"
}
`)

	s, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if s.Tuning.Configuration != filepath.Join(filepath.Dir(path), "fmradio.json") {
		t.Errorf("expected resolved configuration path, got %s", s.Tuning.Configuration)
	}
	if s.Tuning.Trials != DefaultTrials {
		t.Errorf("expected defaults after CUE load, got %d trials", s.Tuning.Trials)
	}
}
