package engine

import (
	"context"
	"time"
)

// Transport delivers a configuration document to the harness and returns
// what the harness printed. A harness that runs out of budget is reported
// with Response.TimedOut rather than an error; errors mean the harness could
// not be run at all.
type Transport interface {
	Deliver(ctx context.Context, req *Request) (*Response, error)
}

// Technique proposes candidates from the search history.
type Technique interface {
	// Name returns the technique name used in logs, metrics and history.
	Name() string

	// Propose returns the next candidate, or nil when the technique has
	// nothing to offer.
	Propose(ctx context.Context, search *SearchContext) (Store, error)
}

// SearchContext is the view of a search that techniques propose from.
type SearchContext struct {
	// Parameters are the searchable parameters, sorted by name.
	Parameters []Parameter

	// History holds the evaluated candidates.
	History History

	// Default is the candidate made of every parameter's initial value.
	Default Store
}

// History records evaluated candidates.
type History interface {
	// Record stores a finished trial.
	Record(ctx context.Context, trial *Trial) error

	// Ranked returns the candidates with an OK outcome, fastest first.
	Ranked(ctx context.Context) ([]Store, error)

	// Has reports whether an identical candidate was already evaluated.
	Has(ctx context.Context, candidate Store) (bool, error)
}

// FailureRecorder persists failing candidates.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, failure *Failure) error
}

// Admission decides whether a candidate may be run.
type Admission interface {
	Admit(ctx context.Context, candidate Store, params []Parameter) (*AdmissionDecision, error)
}

// MetricsRecorder receives trial measurements.
type MetricsRecorder interface {
	RecordTrial(outcome string, duration time.Duration)
	RecordNormalization(result string, followers int)
	RecordProposal(technique, result string)
	RecordError(class string)
	SetBestTime(seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) RecordTrial(string, time.Duration) {}
func (nopMetrics) RecordNormalization(string, int) {}
func (nopMetrics) RecordProposal(string, string) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) SetBestTime(float64) {}
