package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a tuning error.
type ErrorClass string

const (
	// ErrorClassDomain indicates a value outside a parameter's declared bounds.
	ErrorClassDomain ErrorClass = "domain"

	// ErrorClassDeserialization indicates an unreconstructable class tag or a
	// malformed configuration document.
	ErrorClassDeserialization ErrorClass = "deserialization"

	// ErrorClassNormalizationOracle indicates the harness reported a failure
	// while answering an allocation grouping request.
	ErrorClassNormalizationOracle ErrorClass = "normalization_oracle"

	// ErrorClassExecutionTimeout indicates the harness exceeded its budget.
	ErrorClassExecutionTimeout ErrorClass = "execution_timeout"

	// ErrorClassExecution indicates any other harness failure or unparseable output.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassStructuralMoveUnavailable indicates addCore/removeCore was
	// invoked against a violated precondition.
	ErrorClassStructuralMoveUnavailable ErrorClass = "structural_move_unavailable"
)

// TuneError represents a classified error with context.
// nolint:revive // TuneError is intentionally named to distinguish from standard errors
type TuneError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Parameter is the parameter name involved, if any.
	Parameter string `json:"parameter,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *TuneError) Error() string {
	msg := e.Message
	if e.Parameter != "" {
		msg = fmt.Sprintf("%s (parameter=%s)", msg, e.Parameter)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TuneError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is. Two tuning errors
// match when their classes match.
func (e *TuneError) Is(target error) bool {
	t, ok := target.(*TuneError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithParameter adds parameter context to an error.
func (e *TuneError) WithParameter(name string) *TuneError {
	e.Parameter = name
	return e
}

// WithDetail adds a detail field to the error context.
func (e *TuneError) WithDetail(key string, value interface{}) *TuneError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(class ErrorClass, message string, err error) *TuneError {
	return &TuneError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewDomainError creates a new domain error.
func NewDomainError(message string, err error) *TuneError {
	return newError(ErrorClassDomain, message, err)
}

// NewDeserializationError creates a new deserialization error.
func NewDeserializationError(message string, err error) *TuneError {
	return newError(ErrorClassDeserialization, message, err)
}

// NewNormalizationOracleError creates a new normalization oracle error.
func NewNormalizationOracleError(message string, err error) *TuneError {
	return newError(ErrorClassNormalizationOracle, message, err)
}

// NewExecutionTimeoutError creates a new execution timeout error.
func NewExecutionTimeoutError(message string, err error) *TuneError {
	return newError(ErrorClassExecutionTimeout, message, err)
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *TuneError {
	return newError(ErrorClassExecution, message, err)
}

// NewStructuralMoveUnavailableError creates a new structural move error.
func NewStructuralMoveUnavailableError(message string, err error) *TuneError {
	return newError(ErrorClassStructuralMoveUnavailable, message, err)
}

func hasClass(err error, class ErrorClass) bool {
	var e *TuneError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsDomain returns true if the error is classified as a domain error.
func IsDomain(err error) bool {
	return hasClass(err, ErrorClassDomain)
}

// IsDeserialization returns true if the error is classified as a deserialization error.
func IsDeserialization(err error) bool {
	return hasClass(err, ErrorClassDeserialization)
}

// IsNormalizationOracle returns true if the error came from the grouping oracle.
func IsNormalizationOracle(err error) bool {
	return hasClass(err, ErrorClassNormalizationOracle)
}

// IsExecutionTimeout returns true if the error is classified as a timeout.
func IsExecutionTimeout(err error) bool {
	return hasClass(err, ErrorClassExecutionTimeout)
}

// IsExecution returns true if the error is classified as an execution error.
func IsExecution(err error) bool {
	return hasClass(err, ErrorClassExecution)
}

// IsStructuralMoveUnavailable returns true if a composition move was refused.
func IsStructuralMoveUnavailable(err error) bool {
	return hasClass(err, ErrorClassStructuralMoveUnavailable)
}

// ClassOf returns the class of a tuning error, or the empty class.
func ClassOf(err error) ErrorClass {
	var e *TuneError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
