package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components, in reverse order
// of initialization.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Events.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
// Serve errors after startup are logged.
func (t *Telemetry) StartMetricsServer() error {
	addr, err := t.Metrics.StartMetricsServer(func(err error) {
		t.Logger.WithError(err).Error("Metrics server stopped")
	})
	if err != nil {
		return err
	}
	if addr != nil {
		t.Logger.WithField("address", addr.String()).Info("Serving metrics")
	}
	return nil
}

// InstrumentedContext carries a span, a logger and a timer for one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := FromContext(ctx).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// sessionState is stored in the context of a running session.
type sessionState struct {
	id      string
	program string
	span    trace.Span
	timer   *Timer

	mu   sync.Mutex
	best *engine.Trial
}

type sessionStateKey struct{}

// WithSessionContext creates a context enriched with session-specific
// telemetry: a session span, a session logger, the started metric and the
// started event.
func WithSessionContext(ctx context.Context, sessionID, program string, trials int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartSessionSpan(ctx, sessionID, program)

	logger := FromContext(ctx).WithSessionID(sessionID).WithProgram(program)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordSessionStarted(program)
	if err := tel.Events.PublishSessionStarted(sessionID, program, trials); err != nil {
		logger.WithError(err).Warn("Failed to publish event")
	}

	return context.WithValue(spanCtx, sessionStateKey{}, &sessionState{
		id:      sessionID,
		program: program,
		span:    span,
		timer:   NewTimer(),
	})
}

// EndSessionContext completes the session context, recording metrics and
// events. summary may be partial when err is set.
func EndSessionContext(ctx context.Context, summary *engine.Summary, err error) {
	tel := FromTelemetryContext(ctx)
	state, ok := ctx.Value(sessionStateKey{}).(*sessionState)
	if tel == nil || !ok {
		return
	}

	status := "completed"
	switch {
	case err != nil:
		status = "failed"
	case summary != nil && summary.Exhausted:
		status = "exhausted"
	}
	duration := state.timer.Duration()

	state.span.SetAttributes(AttrSessionStatus.String(status))
	if err != nil {
		RecordError(state.span, err)
	} else {
		RecordSuccess(state.span)
	}
	state.span.End()

	tel.Metrics.RecordSessionCompleted(status, duration)

	var publishErr error
	if err != nil {
		publishErr = tel.Events.PublishSessionFailed(state.id, err.Error())
	} else if summary != nil {
		publishErr = tel.Events.PublishSessionCompleted(summary, duration)
	}
	if publishErr != nil {
		FromContext(ctx).WithError(publishErr).Warn("Failed to publish event")
	}
}

// TrialObserver returns a hook for engine.SessionConfig.OnTrial that adds
// each trial to the session span and publishes trial and best-time events.
func TrialObserver(ctx context.Context) func(*engine.Trial) {
	tel := FromTelemetryContext(ctx)
	state, ok := ctx.Value(sessionStateKey{}).(*sessionState)
	if tel == nil || !ok {
		return func(*engine.Trial) {}
	}
	logger := FromContext(ctx)

	return func(trial *engine.Trial) {
		seconds := 0.0
		if trial.Result.Outcome == engine.OutcomeOK {
			seconds = trial.Result.Time
		}
		AddTrialEvent(state.span, trial.Sequence, trial.Technique, string(trial.Result.Outcome), seconds)

		if err := tel.Events.PublishTrial(trial); err != nil {
			logger.WithError(err).Warn("Failed to publish event")
		}

		state.mu.Lock()
		var previous float64
		improved := false
		if state.best == nil {
			improved = trial.Result.Better(nil)
		} else if trial.Result.Better(state.best.Result) {
			improved = true
			previous = state.best.Result.Time
		}
		if improved {
			state.best = trial
		}
		state.mu.Unlock()

		if improved {
			if err := tel.Events.PublishBestImproved(trial, previous); err != nil {
				logger.WithError(err).Warn("Failed to publish event")
			}
		}
	}
}
