package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for candidates that may run but deserve attention.
	SeverityWarning Severity = "warning"

	// SeverityError is for candidates that must not be run.
	SeverityError Severity = "error"

	// SeverityCritical is for candidates that must never be run.
	SeverityCritical Severity = "critical"
)

// blocking reports whether violations of this severity reject a candidate.
func (s Severity) blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Rules lists the entry points the module defines: deny, warn or both.
	Rules []string `json:"rules,omitempty"`

	// Builtin marks policies shipped with streamtune.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Parameter is the parameter the violation is about, if any.
	Parameter string `json:"parameter,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating a candidate.
type Result struct {
	// Allowed indicates if the candidate may be run.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the candidate, and
	// policies that failed to evaluate.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the candidate was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as `input`.
//
//	{
//	  "candidate":  {"<name>": <value>, ...},
//	  "parameters": {"<name>": <wire record>, ...},
//	  "context":    {"timestamp": "...", "operation": "admit"}
//	}
//
// Parameter records are the same objects the configuration wire format
// carries, so rules can match on "__class__", "min", "max", "universe".
type Input struct {
	// Candidate holds the candidate values keyed by parameter name.
	Candidate map[string]interface{} `json:"candidate"`

	// Parameters holds the wire record of every parameter.
	Parameters map[string]interface{} `json:"parameters"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is why the candidate is evaluated ("admit" or "validate").
	Operation string `json:"operation"`

	// Program names the tuned program.
	Program string `json:"program,omitempty"`
}
