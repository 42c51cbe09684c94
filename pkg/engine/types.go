package engine

import (
	"math"
	"time"
)

// Outcome is the classified result of evaluating one candidate.
type Outcome string

const (
	// OutcomeOK indicates the harness reported a running time.
	OutcomeOK Outcome = "OK"

	// OutcomeError indicates the candidate failed or could not be set up.
	OutcomeError Outcome = "ERROR"

	// OutcomeTimeout indicates the harness exceeded its budget.
	OutcomeTimeout Outcome = "TIMEOUT"
)

// Purpose tells a transport why a document is being delivered.
type Purpose string

const (
	// PurposeEvaluate asks the harness to run the candidate and report a time.
	PurposeEvaluate Purpose = "evaluate"

	// PurposeGrouping asks the harness to report allocation group clusters.
	PurposeGrouping Purpose = "grouping"
)

// Result is the outcome of evaluating a candidate.
type Result struct {
	// Outcome is the classified result.
	Outcome Outcome `json:"outcome"`

	// Time is the reported running time. It is +Inf unless Outcome is OK.
	Time float64 `json:"time"`

	// Diagnostic holds the harness error output or the setup failure message.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Document is the encoded configuration that was delivered, if any.
	Document []byte `json:"-"`

	// LaunchFlags are the runtime flags the harness was launched with.
	LaunchFlags []string `json:"launch_flags,omitempty"`

	// Duration is the wall-clock time spent evaluating the candidate.
	Duration time.Duration `json:"duration"`

	// Followers is the number of allocation groups rewritten by normalization.
	Followers int `json:"followers,omitempty"`

	// Err is the classified error behind a non-OK outcome.
	Err error `json:"-"`
}

// Better reports whether r is a strictly better result than other.
func (r *Result) Better(other *Result) bool {
	if r == nil || r.Outcome != OutcomeOK {
		return false
	}
	if other == nil || other.Outcome != OutcomeOK {
		return true
	}
	return r.Time < other.Time
}

func failedResult(outcome Outcome, diagnostic string, err error) *Result {
	return &Result{
		Outcome:    outcome,
		Time:       math.Inf(1),
		Diagnostic: diagnostic,
		Err:        err,
	}
}

// Request is a document delivered to the harness.
type Request struct {
	// Document is the encoded configuration.
	Document []byte `json:"document"`

	// LaunchFlags are runtime flags placed before the harness arguments.
	LaunchFlags []string `json:"launch_flags,omitempty"`

	// Purpose is why the document is being delivered.
	Purpose Purpose `json:"purpose"`

	// Timeout overrides the transport's default budget when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Response is what the harness produced for a Request.
type Response struct {
	// Stdout is the harness standard output.
	Stdout string `json:"stdout"`

	// Stderr is the harness error output.
	Stderr string `json:"stderr"`

	// ExitCode is the harness exit status.
	ExitCode int `json:"exit_code"`

	// TimedOut is set when the harness was stopped for exceeding its budget.
	TimedOut bool `json:"timed_out"`

	// Duration is how long the harness ran.
	Duration time.Duration `json:"duration"`
}

// Failure is a failing candidate kept for later inspection.
type Failure struct {
	// Outcome is ERROR or TIMEOUT.
	Outcome Outcome `json:"outcome"`

	// Document is the encoded configuration, if encoding got that far.
	Document []byte `json:"document,omitempty"`

	// Diagnostic is the harness error output or setup failure message.
	Diagnostic string `json:"diagnostic"`

	// LaunchFlags are the runtime flags of the failing launch.
	LaunchFlags []string `json:"launch_flags,omitempty"`

	// Class is the classification of the failure.
	Class ErrorClass `json:"class,omitempty"`

	// OccurredAt is when the failure was observed.
	OccurredAt time.Time `json:"occurred_at"`
}

// Trial is one evaluated candidate.
type Trial struct {
	// ID is the unique identifier for this trial.
	ID string `json:"id"`

	// SessionID is the session the trial belongs to.
	SessionID string `json:"session_id"`

	// Sequence is the zero-based position of the trial in its session.
	Sequence int `json:"sequence"`

	// Technique names the proposal source.
	Technique string `json:"technique"`

	// Candidate is the evaluated store.
	Candidate Store `json:"candidate"`

	// Result is the evaluation outcome.
	Result *Result `json:"result"`

	// CreatedAt is when the trial finished.
	CreatedAt time.Time `json:"created_at"`
}

// AdmissionDecision is the answer of an admission policy for one candidate.
type AdmissionDecision struct {
	// Allowed is false when the candidate must not be run.
	Allowed bool `json:"allowed"`

	// Reasons explains a rejection.
	Reasons []string `json:"reasons,omitempty"`
}
