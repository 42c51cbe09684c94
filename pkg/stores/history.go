package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// SessionHistory is the engine.History and engine.FailureRecorder of one
// session, backed by a Store.
type SessionHistory struct {
	store     Store
	sessionID string
}

// NewSessionHistory creates the history of an existing session.
func NewSessionHistory(store Store, sessionID string) *SessionHistory {
	return &SessionHistory{store: store, sessionID: sessionID}
}

// SessionID returns the session the history belongs to.
func (h *SessionHistory) SessionID() string {
	return h.sessionID
}

// Record stores a finished trial.
func (h *SessionHistory) Record(ctx context.Context, trial *engine.Trial) error {
	record, err := TrialFromEngine(trial)
	if err != nil {
		return err
	}
	record.SessionID = h.sessionID
	return h.store.InsertTrial(ctx, record)
}

// Ranked returns the OK candidates of the session, fastest first.
func (h *SessionHistory) Ranked(ctx context.Context) ([]engine.Store, error) {
	records, err := h.store.RankedTrials(ctx, h.sessionID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Store, 0, len(records))
	for _, r := range records {
		candidate, err := r.Store()
		if err != nil {
			return nil, err
		}
		out = append(out, candidate)
	}
	return out, nil
}

// Has reports whether the session already evaluated candidate.
func (h *SessionHistory) Has(ctx context.Context, candidate engine.Store) (bool, error) {
	return h.store.HasCandidate(ctx, h.sessionID, candidate.Key())
}

// RecordFailure stores a failing candidate.
func (h *SessionHistory) RecordFailure(ctx context.Context, failure *engine.Failure) error {
	flags, err := json.Marshal(failure.LaunchFlags)
	if err != nil {
		return fmt.Errorf("failed to encode launch flags: %w", err)
	}
	occurredAt := failure.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return h.store.AppendFailure(ctx, &FailureRecord{
		SessionID:   h.sessionID,
		Outcome:     string(failure.Outcome),
		Document:    string(failure.Document),
		Diagnostic:  failure.Diagnostic,
		Class:       string(failure.Class),
		LaunchFlags: string(flags),
		OccurredAt:  occurredAt,
	})
}

// TrialFromEngine converts an engine trial into its stored form.
func TrialFromEngine(trial *engine.Trial) (*TrialRecord, error) {
	candidate, err := json.Marshal(trial.Candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidate: %w", err)
	}

	record := &TrialRecord{
		ID:           trial.ID,
		SessionID:    trial.SessionID,
		Sequence:     trial.Sequence,
		Technique:    trial.Technique,
		Candidate:    string(candidate),
		CandidateKey: trial.Candidate.Key(),
		LaunchFlags:  "[]",
		CreatedAt:    trial.CreatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if r := trial.Result; r != nil {
		record.Outcome = string(r.Outcome)
		record.Diagnostic = r.Diagnostic
		record.DurationMs = r.Duration.Milliseconds()
		if r.Outcome == engine.OutcomeOK {
			t := r.Time
			record.Time = &t
		}
		if len(r.LaunchFlags) > 0 {
			flags, err := json.Marshal(r.LaunchFlags)
			if err != nil {
				return nil, fmt.Errorf("failed to encode launch flags: %w", err)
			}
			record.LaunchFlags = string(flags)
		}
	}

	return record, nil
}

// Store decodes the evaluated candidate.
func (r *TrialRecord) Store() (engine.Store, error) {
	var candidate engine.Store
	if err := json.Unmarshal([]byte(r.Candidate), &candidate); err != nil {
		return nil, fmt.Errorf("failed to decode candidate of trial %s: %w", r.ID, err)
	}
	return candidate, nil
}

// Flags decodes the launch flags of the trial.
func (r *TrialRecord) Flags() ([]string, error) {
	if r.LaunchFlags == "" {
		return nil, nil
	}
	var flags []string
	if err := json.Unmarshal([]byte(r.LaunchFlags), &flags); err != nil {
		return nil, fmt.Errorf("failed to decode launch flags of trial %s: %w", r.ID, err)
	}
	return flags, nil
}
