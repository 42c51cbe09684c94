// Package telemetry provides observability instrumentation for tuning
// sessions.
//
// The package combines structured logging (zerolog), tracing
// (OpenTelemetry), metrics (Prometheus) and an ordered event stream.
//
// # Usage
//
// Initialize telemetry at startup and put it on the context:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//	ctx = tel.WithContext(ctx)
//
// # Sessions
//
// WithSessionContext opens the session span, tags the context logger with
// the session id and program, and publishes session.started. TrialObserver
// is handed to the engine as the OnTrial hook; EndSessionContext closes the
// span and publishes the summary:
//
//	ctx = telemetry.WithSessionContext(ctx, sessionID, "fmradio", 200)
//	session, _ := engine.NewSession(adapter, engine.SessionConfig{
//	    ID:      sessionID,
//	    Metrics: tel.Metrics,
//	    OnTrial: telemetry.TrialObserver(ctx),
//	    // ...
//	})
//	summary, err := session.Run(ctx)
//	telemetry.EndSessionContext(ctx, summary, err)
//
// # Metrics
//
// Metrics implements engine.MetricsRecorder and registers its collectors on
// a private registry served by StartMetricsServer:
//
//	streamtune_trials_total{outcome}
//	streamtune_trial_duration_seconds{outcome}
//	streamtune_best_time
//	streamtune_normalizations_total{result}
//	streamtune_normalization_followers
//	streamtune_technique_proposals_total{technique,result}
//	streamtune_errors_by_class_total{class}
//	streamtune_sessions_started_total{program}
//	streamtune_sessions_completed_total{status}
//	streamtune_session_duration_seconds{status}
//	streamtune_active_sessions
//
// A disabled Metrics is a valid recorder that drops everything.
//
// # Tracing
//
// An enabled Tracer installs its provider globally so the engine's own
// spans (candidate evaluation, normalization, harness runs) land in the same
// trace as the session span. Exporters: otlp (gRPC) and stdout.
//
// # Events
//
// The EventPublisher delivers events to subscribers in publication order.
// With EnableAsync set, events are buffered and delivered in batches by a
// single goroutine; a batch is flushed when full or after FlushInterval.
// Shutdown delivers whatever is still buffered.
package telemetry
