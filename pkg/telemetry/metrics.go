package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/streamtune/pkg/engine"
)

var _ engine.MetricsRecorder = (*Metrics)(nil)

// Metrics provides Prometheus metrics for tuning sessions. It implements
// engine.MetricsRecorder. A disabled Metrics accepts every call and records
// nothing.
type Metrics struct {
	config MetricsConfig

	// Session metrics
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec
	activeSessions    prometheus.Gauge

	// Trial metrics
	trials        *prometheus.CounterVec
	trialDuration *prometheus.HistogramVec
	bestTime      prometheus.Gauge

	// Search metrics
	normalizations *prometheus.CounterVec
	followers      prometheus.Histogram
	proposals      *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.TrialBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		sessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of tuning sessions started",
			},
			[]string{"program"},
		),
		sessionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_completed_total",
				Help:      "Total number of tuning sessions finished",
			},
			[]string{"status"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Duration of tuning sessions in seconds",
				Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
			},
			[]string{"status"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of running tuning sessions",
			},
		),

		trials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trials_total",
				Help:      "Total number of evaluated candidates by outcome",
			},
			[]string{"outcome"},
		),
		trialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trial_duration_seconds",
				Help:      "Wall-clock time spent evaluating a candidate",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		bestTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "best_time",
				Help:      "Fastest running time reported by the harness so far",
			},
		),

		normalizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalizations_total",
				Help:      "Total number of allocation normalizations by result",
			},
			[]string{"result"},
		),
		followers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "normalization_followers",
				Help:      "Allocations rewritten to follow their group leader",
				Buckets:   prometheus.LinearBuckets(0, 4, 8),
			},
		),
		proposals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "technique_proposals_total",
				Help:      "Total number of technique proposals by result",
			},
			[]string{"technique", "result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.sessionsCompleted,
		m.sessionDuration,
		m.activeSessions,
		m.trials,
		m.trialDuration,
		m.bestTime,
		m.normalizations,
		m.followers,
		m.proposals,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Session Metrics

// RecordSessionStarted counts a started session for program.
func (m *Metrics) RecordSessionStarted(program string) {
	if !m.enabled() {
		return
	}
	m.sessionsStarted.WithLabelValues(program).Inc()
	m.activeSessions.Inc()
}

// RecordSessionCompleted records a finished session with its status and
// duration.
func (m *Metrics) RecordSessionCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.sessionsCompleted.WithLabelValues(status).Inc()
	m.sessionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeSessions.Dec()
}

// Trial Metrics

// RecordTrial records an evaluated candidate.
func (m *Metrics) RecordTrial(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.trials.WithLabelValues(outcome).Inc()
	m.trialDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetBestTime records a new fastest running time.
func (m *Metrics) SetBestTime(seconds float64) {
	if !m.enabled() {
		return
	}
	m.bestTime.Set(seconds)
}

// Search Metrics

// RecordNormalization records an allocation normalization.
func (m *Metrics) RecordNormalization(result string, followers int) {
	if !m.enabled() {
		return
	}
	m.normalizations.WithLabelValues(result).Inc()
	m.followers.Observe(float64(followers))
}

// RecordProposal records a technique proposal.
func (m *Metrics) RecordProposal(technique, result string) {
	if !m.enabled() {
		return
	}
	m.proposals.WithLabelValues(technique, result).Inc()
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(class string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the registry metrics are registered with, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartMetricsServer starts an HTTP server to expose metrics. The listener
// is bound before returning, so address errors are reported here.
func (m *Metrics) StartMetricsServer(onError func(error)) (net.Addr, error) {
	if !m.enabled() {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return nil, fmt.Errorf("metrics server already started")
	}

	listener, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}(m.server)

	return listener.Addr(), nil
}

// Shutdown stops the metrics server, if it is running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
