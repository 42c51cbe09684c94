package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/streamtune/pkg/engine"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "development", modify: func(c *Config) { *c = *DevelopmentConfig() }},
		{
			name:    "missing service name",
			modify:  func(c *Config) { c.ServiceName = "" },
			wantErr: "service name",
		},
		{
			name:    "bad level",
			modify:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "otlp without endpoint",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "endpoint",
		},
		{
			name:    "sampling rate out of range",
			modify:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: "sampling rate",
		},
		{
			name: "metrics without address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			wantErr: "listen address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("session").
		WithSessionID("s1").
		WithTrial("t1", 3).
		WithTechnique("force-fuse").
		Info("Trial finished")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	want := map[string]interface{}{
		"component":  "session",
		"session_id": "s1",
		"trial_id":   "t1",
		"sequence":   float64(3),
		"technique":  "force-fuse",
		"message":    "Trial finished",
		"level":      "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s: expected %v, got %v", k, v, entry[k])
		}
	}
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("expected info message to be filtered out")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected warn message to be logged")
	}
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)
	ctx := logger.WithProgram("fmradio").WithContext(context.Background())

	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), `"program":"fmradio"`) {
		t.Errorf("expected program field, got %s", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Error("expected default logger from empty context")
	}
}

func TestSessionContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.EnableAsync = false
	cfg.Metrics.Enabled = true
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	sink := &eventSink{}
	tel.Events.Subscribe(sink.add, nil)

	ctx := telWithSession(tel)
	observe := TrialObserver(ctx)

	results := []*engine.Result{
		{Outcome: engine.OutcomeOK, Time: 10},
		{Outcome: engine.OutcomeError, Diagnostic: "crash"},
		{Outcome: engine.OutcomeOK, Time: 12},
		{Outcome: engine.OutcomeOK, Time: 8},
	}
	for i, r := range results {
		observe(&engine.Trial{ID: "t", SessionID: "s1", Sequence: i, Technique: "fixed", Result: r})
	}
	EndSessionContext(ctx, &engine.Summary{SessionID: "s1", Trials: 4, Exhausted: true}, nil)

	want := []string{
		EventTypeSessionStarted,
		EventTypeTrialCompleted, EventTypeBestImproved,
		EventTypeTrialFailed,
		EventTypeTrialCompleted,
		EventTypeTrialCompleted, EventTypeBestImproved,
		EventTypeSessionCompleted,
	}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	last := sink.events[6]
	if last.Data["previous"] != float64(10) {
		t.Errorf("expected previous best 10, got %v", last.Data["previous"])
	}
}

func TestEndSessionContext_Failed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.EnableAsync = false
	tel, _ := NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	sink := &eventSink{}
	tel.Events.Subscribe(sink.add, FilterByType(EventTypeSessionFailed))

	ctx := telWithSession(tel)
	EndSessionContext(ctx, &engine.Summary{SessionID: "s1"}, errors.New("harness missing"))

	if len(sink.events) != 1 || sink.events[0].Data["reason"] != "harness missing" {
		t.Fatalf("expected one session.failed event, got %+v", sink.events)
	}
}

func TestSessionContext_WithoutTelemetry(t *testing.T) {
	ctx := WithSessionContext(context.Background(), "s1", "p", 1)
	TrialObserver(ctx)(&engine.Trial{Result: &engine.Result{Outcome: engine.OutcomeOK, Time: 1}})
	EndSessionContext(ctx, nil, nil)
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	if timer.Duration() < 5*time.Millisecond {
		t.Errorf("expected at least 5ms, got %v", timer.Duration())
	}
}

func telWithSession(tel *Telemetry) context.Context {
	ctx := tel.WithContext(context.Background())
	return WithSessionContext(ctx, "s1", "fmradio", 4)
}
