package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TimeoutMarker is the harness error output that reports an exceeded budget.
const TimeoutMarker = "TIMED OUT"

const instrumentationName = "github.com/openfroyo/streamtune/pkg/engine"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// AdapterConfig holds the collaborators of a SearchAdapter. Only Transport is
// required.
type AdapterConfig struct {
	// Transport delivers evaluation and grouping requests to the harness.
	Transport Transport

	// RuntimeOptions are searchable launch flags.
	RuntimeOptions []*RuntimeOption

	// Admission may reject candidates before they are run.
	Admission Admission

	// Failures persists failing candidates.
	Failures FailureRecorder

	// Metrics receives trial measurements.
	Metrics MetricsRecorder

	// Logger is the base logger.
	Logger zerolog.Logger

	// Timeout is the per-evaluation harness budget. Zero uses the
	// transport's default.
	Timeout time.Duration
}

// SearchAdapter exposes a Configuration to a search driver and turns
// candidate stores into classified results.
type SearchAdapter struct {
	cfg        *Configuration
	options    []*RuntimeOption
	params     []Parameter
	transport  Transport
	normalizer *AllocationNormalizer
	admission  Admission
	failures   FailureRecorder
	metrics    MetricsRecorder
	logger     zerolog.Logger
	tracer     trace.Tracer
	timeout    time.Duration
}

// NewSearchAdapter creates an adapter owning cfg. Parameter names must be
// unique across the tree and the runtime options.
func NewSearchAdapter(cfg *Configuration, ac AdapterConfig) (*SearchAdapter, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if ac.Transport == nil {
		return nil, errors.New("transport is required")
	}

	params := cfg.AllParameters()
	for _, o := range ac.RuntimeOptions {
		params = append(params, o.Parameter)
	}
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if _, dup := seen[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate parameter name %q", p.Name())
		}
		seen[p.Name()] = struct{}{}
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name() < params[j].Name() })

	metrics := ac.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	logger := ac.Logger.With().Str("component", "adapter").Logger()

	return &SearchAdapter{
		cfg:        cfg,
		options:    ac.RuntimeOptions,
		params:     params,
		transport:  ac.Transport,
		normalizer: NewAllocationNormalizer(ac.Transport, ac.Logger),
		admission:  ac.Admission,
		failures:   ac.Failures,
		metrics:    metrics,
		logger:     logger,
		tracer:     tracer(),
		timeout:    ac.Timeout,
	}, nil
}

// Configuration returns the owned configuration.
func (a *SearchAdapter) Configuration() *Configuration { return a.cfg }

// Parameters returns every searchable parameter, sorted by name.
func (a *SearchAdapter) Parameters() []Parameter {
	return append([]Parameter(nil), a.params...)
}

// DefaultCandidate returns a store holding every parameter's initial value.
func (a *SearchAdapter) DefaultCandidate() Store {
	return SeedStore(a.params)
}

// Evaluate runs one candidate and classifies the outcome. Setup failures and
// harness failures become ERROR or TIMEOUT results; the returned error is
// non-nil only when ctx is done.
func (a *SearchAdapter) Evaluate(ctx context.Context, candidate Store) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "trial.evaluate")
	defer span.End()

	start := time.Now()
	result, err := a.evaluate(ctx, candidate)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.Int("followers", result.Followers),
	)
	if result.Outcome == OutcomeOK {
		span.SetAttributes(attribute.Float64("time", result.Time))
	} else {
		span.SetStatus(codes.Error, string(result.Outcome))
		if class := ClassOf(result.Err); class != "" {
			a.metrics.RecordError(string(class))
		}
		a.persistFailure(ctx, result)
	}
	a.metrics.RecordTrial(string(result.Outcome), result.Duration)

	a.logger.Debug().
		Str("outcome", string(result.Outcome)).
		Float64("time", result.Time).
		Dur("duration", result.Duration).
		Msg("Evaluated candidate")
	return result, nil
}

func (a *SearchAdapter) evaluate(ctx context.Context, candidate Store) (*Result, error) {
	for _, p := range a.cfg.AllParameters() {
		if err := p.Materialize(candidate); err != nil {
			r := setupFailure("materialize", err)
			r.Document, _ = Encode(a.cfg)
			return r, nil
		}
	}

	// Failures from here on keep the candidate as it stood before
	// normalization so it can be replayed.
	proposed, err := Encode(a.cfg)
	if err != nil {
		return setupFailure("encode", err), nil
	}

	flags, err := RenderFlags(a.options, candidate)
	if err != nil {
		r := setupFailure("runtime options", err)
		r.Document = proposed
		return r, nil
	}

	if a.admission != nil {
		decision, err := a.admission.Admit(ctx, candidate, a.params)
		if err != nil {
			r := setupFailure("admission", err)
			r.Document, r.LaunchFlags = proposed, flags
			return r, nil
		}
		if !decision.Allowed {
			msg := "rejected by policy: " + strings.Join(decision.Reasons, "; ")
			r := failedResult(OutcomeError, msg, NewDomainError(msg, nil))
			r.Document, r.LaunchFlags = proposed, flags
			return r, nil
		}
	}

	followers, err := a.normalizer.Normalize(ctx, a.cfg, candidate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.metrics.RecordNormalization("error", 0)
		r := setupFailure("normalize", err)
		r.Document, r.LaunchFlags = proposed, flags
		return r, nil
	}
	if followers > 0 {
		a.metrics.RecordNormalization("rewritten", followers)
	}

	doc := proposed
	if followers > 0 {
		if doc, err = Encode(a.cfg); err != nil {
			r := setupFailure("encode", err)
			r.Document, r.LaunchFlags = proposed, flags
			return r, nil
		}
	}

	resp, err := a.transport.Deliver(ctx, &Request{
		Document:    doc,
		LaunchFlags: flags,
		Purpose:     PurposeEvaluate,
		Timeout:     a.timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r := failedResult(OutcomeError, err.Error(), NewExecutionError("harness could not be run", err))
		r.Document, r.LaunchFlags, r.Followers = doc, flags, followers
		return r, nil
	}

	r := Classify(resp)
	r.Document, r.LaunchFlags, r.Followers = doc, flags, followers
	return r, nil
}

// setupFailure builds the ERROR result for a candidate that never reached
// the harness. Error output captured from the harness, such as the oracle's
// stderr, is appended to the diagnostic.
func setupFailure(stage string, err error) *Result {
	diagnostic := fmt.Sprintf("%s: %v", stage, err)
	var te *TuneError
	if errors.As(err, &te) {
		if stderr, ok := te.Details["stderr"].(string); ok && stderr != "" {
			diagnostic += "\n" + stderr
		}
	}
	return failedResult(OutcomeError, diagnostic, err)
}

func (a *SearchAdapter) persistFailure(ctx context.Context, r *Result) {
	if a.failures == nil || r.Outcome != OutcomeError {
		return
	}
	err := a.failures.RecordFailure(ctx, &Failure{
		Outcome:     r.Outcome,
		Document:    r.Document,
		Diagnostic:  r.Diagnostic,
		LaunchFlags: r.LaunchFlags,
		Class:       ClassOf(r.Err),
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist failing candidate")
	}
}

// Classify turns a harness response into a result. A timeout, or error
// output containing TimeoutMarker, is TIMEOUT; any other error output is
// ERROR; otherwise stdout must hold the running time.
func Classify(resp *Response) *Result {
	stderr := strings.TrimSpace(resp.Stderr)
	if resp.TimedOut || strings.Contains(stderr, TimeoutMarker) {
		return failedResult(OutcomeTimeout, stderr, NewExecutionTimeoutError("harness timed out", nil))
	}
	if stderr != "" {
		return failedResult(OutcomeError, stderr, NewExecutionError("harness reported an error", nil))
	}
	out := strings.TrimSpace(resp.Stdout)
	t, err := strconv.ParseFloat(out, 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		msg := fmt.Sprintf("unparseable timing output %q", out)
		return failedResult(OutcomeError, msg, NewExecutionError(msg, err))
	}
	return &Result{Outcome: OutcomeOK, Time: t}
}
