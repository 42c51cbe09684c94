package stores

import (
	"context"
	"time"
)

// SessionStatus represents the status of a tuning session
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Session represents a tuning session
type Session struct {
	ID          string        `json:"id"`
	Program     string        `json:"program"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	BestTrialID *string       `json:"best_trial_id,omitempty"`
	Error       *string       `json:"error,omitempty"`
	Metadata    string        `json:"metadata"` // JSON blob
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TrialRecord represents one evaluated candidate
type TrialRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Sequence     int       `json:"sequence"`
	Technique    string    `json:"technique"`
	Candidate    string    `json:"candidate"`     // JSON object of parameter values
	CandidateKey string    `json:"candidate_key"` // canonical form for duplicate detection
	Outcome      string    `json:"outcome"`
	Time         *float64  `json:"time,omitempty"` // nil unless the outcome is OK
	Diagnostic   string    `json:"diagnostic"`
	LaunchFlags  string    `json:"launch_flags"` // JSON array
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// FailureRecord represents a failing candidate kept for inspection
type FailureRecord struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Outcome     string    `json:"outcome"`
	Document    string    `json:"document"` // encoded configuration
	Diagnostic  string    `json:"diagnostic"`
	Class       string    `json:"class"`
	LaunchFlags string    `json:"launch_flags"` // JSON array
	OccurredAt  time.Time `json:"occurred_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, bestTrialID *string, err *string) error
	ListSessions(ctx context.Context, program *string, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Trial operations
	InsertTrial(ctx context.Context, trial *TrialRecord) error
	GetTrial(ctx context.Context, id string) (*TrialRecord, error)
	ListTrials(ctx context.Context, sessionID string, limit, offset int) ([]*TrialRecord, error)
	RankedTrials(ctx context.Context, sessionID string, limit int) ([]*TrialRecord, error)
	HasCandidate(ctx context.Context, sessionID, candidateKey string) (bool, error)

	// Failure operations
	AppendFailure(ctx context.Context, failure *FailureRecord) error
	ListFailures(ctx context.Context, sessionID string, limit, offset int) ([]*FailureRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
