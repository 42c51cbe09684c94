package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath selects a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func (s *SQLiteStore) dsn() string {
	if s.cfg.Path == MemoryPath {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)
}

// Init initializes the database connection and enables WAL mode for file
// databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateSession creates a new session record
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, program, status, started_at, completed_at, best_trial_id, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	metadata := session.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Program,
		session.Status,
		session.StartedAt,
		session.CompletedAt,
		session.BestTrialID,
		session.Error,
		metadata,
		session.CreatedAt,
		session.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

const sessionColumns = `id, program, status, started_at, completed_at, best_trial_id, error, metadata, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID,
		&session.Program,
		&session.Status,
		&session.StartedAt,
		&session.CompletedAt,
		&session.BestTrialID,
		&session.Error,
		&session.Metadata,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	return session, err
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// UpdateSessionStatus updates the status of a session. Terminal statuses set
// the completion time. A nil bestTrialID keeps the recorded best trial.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, bestTrialID *string, errMsg *string) error {
	query := `
		UPDATE sessions
		SET status = ?, best_trial_id = COALESCE(?, best_trial_id), error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	var completedAt *time.Time
	if status != SessionStatusRunning {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, bestTrialID, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}

	return nil
}

// ListSessions retrieves sessions, newest first, optionally for one program
func (s *SQLiteStore) ListSessions(ctx context.Context, program *string, limit, offset int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE (? IS NULL OR program = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, program, program, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession deletes a session together with its trials and failures
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}

	return nil
}

// InsertTrial records an evaluated candidate
func (s *SQLiteStore) InsertTrial(ctx context.Context, trial *TrialRecord) error {
	query := `
		INSERT INTO trials (id, session_id, sequence, technique, candidate, candidate_key, outcome, time, diagnostic, launch_flags, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	launchFlags := trial.LaunchFlags
	if launchFlags == "" {
		launchFlags = "[]"
	}

	_, err := s.db.ExecContext(ctx, query,
		trial.ID,
		trial.SessionID,
		trial.Sequence,
		trial.Technique,
		trial.Candidate,
		trial.CandidateKey,
		trial.Outcome,
		trial.Time,
		trial.Diagnostic,
		launchFlags,
		trial.DurationMs,
		trial.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert trial: %w", err)
	}

	return nil
}

const trialColumns = `id, session_id, sequence, technique, candidate, candidate_key, outcome, time, diagnostic, launch_flags, duration_ms, created_at`

func scanTrial(row scanner) (*TrialRecord, error) {
	trial := &TrialRecord{}
	err := row.Scan(
		&trial.ID,
		&trial.SessionID,
		&trial.Sequence,
		&trial.Technique,
		&trial.Candidate,
		&trial.CandidateKey,
		&trial.Outcome,
		&trial.Time,
		&trial.Diagnostic,
		&trial.LaunchFlags,
		&trial.DurationMs,
		&trial.CreatedAt,
	)
	return trial, err
}

// GetTrial retrieves a trial by ID
func (s *SQLiteStore) GetTrial(ctx context.Context, id string) (*TrialRecord, error) {
	query := `SELECT ` + trialColumns + ` FROM trials WHERE id = ?`

	trial, err := scanTrial(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trial %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial: %w", err)
	}

	return trial, nil
}

// ListTrials retrieves the trials of a session in evaluation order
func (s *SQLiteStore) ListTrials(ctx context.Context, sessionID string, limit, offset int) ([]*TrialRecord, error) {
	query := `SELECT ` + trialColumns + ` FROM trials
		WHERE session_id = ?
		ORDER BY sequence ASC
		LIMIT ? OFFSET ?`

	return s.queryTrials(ctx, query, sessionID, limitOrAll(limit), offset)
}

// RankedTrials retrieves the OK trials of a session, fastest first. Ties keep
// evaluation order.
func (s *SQLiteStore) RankedTrials(ctx context.Context, sessionID string, limit int) ([]*TrialRecord, error) {
	query := `SELECT ` + trialColumns + ` FROM trials
		WHERE session_id = ? AND outcome = 'OK' AND time IS NOT NULL
		ORDER BY time ASC, sequence ASC
		LIMIT ?`

	return s.queryTrials(ctx, query, sessionID, limitOrAll(limit))
}

func (s *SQLiteStore) queryTrials(ctx context.Context, query string, args ...any) ([]*TrialRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	defer rows.Close()

	var trials []*TrialRecord
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		trials = append(trials, trial)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trials: %w", err)
	}

	return trials, nil
}

// HasCandidate reports whether a session already evaluated a candidate
func (s *SQLiteStore) HasCandidate(ctx context.Context, sessionID, candidateKey string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM trials WHERE session_id = ? AND candidate_key = ?)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, sessionID, candidateKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up candidate: %w", err)
	}

	return exists, nil
}

// AppendFailure stores a failing candidate
func (s *SQLiteStore) AppendFailure(ctx context.Context, failure *FailureRecord) error {
	query := `
		INSERT INTO failures (session_id, outcome, document, diagnostic, class, launch_flags, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	launchFlags := failure.LaunchFlags
	if launchFlags == "" {
		launchFlags = "[]"
	}

	result, err := s.db.ExecContext(ctx, query,
		failure.SessionID,
		failure.Outcome,
		failure.Document,
		failure.Diagnostic,
		failure.Class,
		launchFlags,
		failure.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append failure: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get failure ID: %w", err)
	}

	failure.ID = id
	return nil
}

// ListFailures retrieves the failures of a session, oldest first
func (s *SQLiteStore) ListFailures(ctx context.Context, sessionID string, limit, offset int) ([]*FailureRecord, error) {
	query := `
		SELECT id, session_id, outcome, document, diagnostic, class, launch_flags, occurred_at
		FROM failures
		WHERE session_id = ?
		ORDER BY occurred_at ASC, id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []*FailureRecord
	for rows.Next() {
		failure := &FailureRecord{}
		err := rows.Scan(
			&failure.ID,
			&failure.SessionID,
			&failure.Outcome,
			&failure.Document,
			&failure.Diagnostic,
			&failure.Class,
			&failure.LaunchFlags,
			&failure.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		failures = append(failures, failure)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failures: %w", err)
	}

	return failures, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

