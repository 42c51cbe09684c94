package telemetry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true
	cfg.ListenAddress = "127.0.0.1:0"
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return m
}

func TestMetrics_RecordTrial(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTrial("OK", 2*time.Second)
	m.RecordTrial("OK", 3*time.Second)
	m.RecordTrial("ERROR", time.Second)

	if got := testutil.ToFloat64(m.trials.WithLabelValues("OK")); got != 2 {
		t.Errorf("expected 2 OK trials, got %v", got)
	}
	if got := testutil.ToFloat64(m.trials.WithLabelValues("ERROR")); got != 1 {
		t.Errorf("expected 1 ERROR trial, got %v", got)
	}
	if got := testutil.CollectAndCount(m.trialDuration); got != 2 {
		t.Errorf("expected 2 duration series, got %d", got)
	}
}

func TestMetrics_SearchCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordProposal("force-fuse", "accepted")
	m.RecordProposal("force-fuse", "duplicate")
	m.RecordProposal("force-fuse", "duplicate")
	m.RecordNormalization("ok", 3)
	m.RecordError("NormalizationOracleError")
	m.SetBestTime(4.25)

	if got := testutil.ToFloat64(m.proposals.WithLabelValues("force-fuse", "duplicate")); got != 2 {
		t.Errorf("expected 2 duplicate proposals, got %v", got)
	}
	if got := testutil.ToFloat64(m.normalizations.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 normalization, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("NormalizationOracleError")); got != 1 {
		t.Errorf("expected 1 oracle error, got %v", got)
	}
	if got := testutil.ToFloat64(m.bestTime); got != 4.25 {
		t.Errorf("expected best time 4.25, got %v", got)
	}
}

func TestMetrics_Sessions(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSessionStarted("fmradio")
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
	m.RecordSessionCompleted("completed", time.Minute)
	if got := testutil.ToFloat64(m.activeSessions); got != 0 {
		t.Errorf("expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsCompleted.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected 1 completed session, got %v", got)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordTrial("OK", time.Second)
	m.RecordProposal("fixed", "accepted")
	m.SetBestTime(1)

	if m.Registry() != nil {
		t.Error("expected no registry for disabled metrics")
	}
	addr, err := m.StartMetricsServer(nil)
	if err != nil || addr != nil {
		t.Errorf("expected disabled server to be a no-op, got %v, %v", addr, err)
	}
}

func TestMetrics_Server(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTrial("TIMEOUT", time.Second)

	addr, err := m.StartMetricsServer(func(err error) { t.Errorf("serve failed: %v", err) })
	if err != nil {
		t.Fatalf("StartMetricsServer failed: %v", err)
	}
	defer m.Shutdown(context.Background())

	if _, err := m.StartMetricsServer(nil); err == nil {
		t.Error("expected error when starting the server twice")
	}

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	if !strings.Contains(string(body), `streamtune_trials_total{outcome="TIMEOUT"} 1`) {
		t.Errorf("expected trial counter in metrics output, got:\n%s", body)
	}
}
