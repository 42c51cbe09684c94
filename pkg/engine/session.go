package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTechniqueName labels the trial of the default candidate.
const DefaultTechniqueName = "default"

const defaultFallbackAttempts = 16

// SessionConfig configures a tuning session.
type SessionConfig struct {
	// ID identifies the session. A random id is used when empty.
	ID string

	// Trials is the maximum number of evaluations.
	Trials int

	// Techniques are asked for proposals in round-robin order.
	Techniques []Technique

	// Fallback is asked when no technique has a fresh proposal.
	Fallback Technique

	// FallbackAttempts bounds how often Fallback is asked per trial.
	FallbackAttempts int

	// History records every trial. An in-memory history is used when nil.
	History History

	// Metrics receives proposal and best-time measurements.
	Metrics MetricsRecorder

	// Logger is the base logger.
	Logger zerolog.Logger

	// OnTrial is called after each trial is recorded.
	OnTrial func(*Trial)
}

// Summary describes a finished session.
type Summary struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// Trials is the number of evaluated candidates.
	Trials int `json:"trials"`

	// Outcomes counts trials by outcome.
	Outcomes map[Outcome]int `json:"outcomes"`

	// Best is the fastest OK trial, if any.
	Best *Trial `json:"best,omitempty"`

	// Exhausted is set when the session stopped because no technique had a
	// fresh candidate to offer.
	Exhausted bool `json:"exhausted"`
}

// Session runs trials strictly one at a time: propose, evaluate, record.
type Session struct {
	id         string
	adapter    *SearchAdapter
	trials     int
	techniques []Technique
	fallback   Technique
	attempts   int
	history    History
	metrics    MetricsRecorder
	logger     zerolog.Logger
	onTrial    func(*Trial)

	cursor      int
	defaultDone bool
	best        *Trial
}

// NewSession creates a session that evaluates candidates through adapter.
func NewSession(adapter *SearchAdapter, cfg SessionConfig) (*Session, error) {
	if adapter == nil {
		return nil, errors.New("search adapter is required")
	}
	if cfg.Trials <= 0 {
		return nil, fmt.Errorf("trial budget must be positive, got %d", cfg.Trials)
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	history := cfg.History
	if history == nil {
		history = NewMemoryHistory()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	attempts := cfg.FallbackAttempts
	if attempts <= 0 {
		attempts = defaultFallbackAttempts
	}
	return &Session{
		id:         id,
		adapter:    adapter,
		trials:     cfg.Trials,
		techniques: cfg.Techniques,
		fallback:   cfg.Fallback,
		attempts:   attempts,
		history:    history,
		metrics:    metrics,
		logger:     cfg.Logger.With().Str("component", "session").Str("session_id", id).Logger(),
		onTrial:    cfg.OnTrial,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Run evaluates up to the trial budget. It stops early when no technique has
// a fresh candidate or when ctx is done; the summary covers the trials that
// finished either way.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{SessionID: s.id, Outcomes: make(map[Outcome]int)}
	search := &SearchContext{
		Parameters: s.adapter.Parameters(),
		History:    s.history,
		Default:    s.adapter.DefaultCandidate(),
	}

	s.logger.Info().Int("trials", s.trials).Int("techniques", len(s.techniques)).Msg("Starting tuning session")

	for seq := 0; seq < s.trials; seq++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		candidate, technique, err := s.next(ctx, search)
		if err != nil {
			return summary, err
		}
		if candidate == nil {
			summary.Exhausted = true
			s.logger.Info().Int("trials", summary.Trials).Msg("No technique has a fresh candidate")
			break
		}

		trial, err := s.runTrial(ctx, seq, technique, candidate)
		if err != nil {
			return summary, err
		}
		summary.Trials++
		summary.Outcomes[trial.Result.Outcome]++
		summary.Best = s.best
	}

	event := s.logger.Info().Int("trials", summary.Trials)
	if s.best != nil {
		event = event.Float64("best_time", s.best.Result.Time).Str("best_trial", s.best.ID)
	}
	event.Msg("Tuning session finished")
	return summary, nil
}

func (s *Session) runTrial(ctx context.Context, seq int, technique string, candidate Store) (*Trial, error) {
	proposal := candidate.Clone()
	result, err := s.adapter.Evaluate(ctx, candidate)
	if err != nil {
		return nil, err
	}
	trial := &Trial{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Sequence:  seq,
		Technique: technique,
		Candidate: proposal,
		Result:    result,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.history.Record(ctx, trial); err != nil {
		return nil, fmt.Errorf("failed to record trial: %w", err)
	}
	var bestResult *Result
	if s.best != nil {
		bestResult = s.best.Result
	}
	if result.Better(bestResult) {
		s.best = trial
		s.metrics.SetBestTime(result.Time)
	}

	s.logger.Info().
		Int("sequence", seq).
		Str("technique", technique).
		Str("outcome", string(result.Outcome)).
		Float64("time", result.Time).
		Msg("Trial finished")
	if s.onTrial != nil {
		s.onTrial(trial)
	}
	return trial, nil
}

// next returns the next fresh candidate and the name of its source, or a nil
// candidate when nothing fresh is on offer.
func (s *Session) next(ctx context.Context, search *SearchContext) (Store, string, error) {
	if !s.defaultDone {
		s.defaultDone = true
		dup, err := s.history.Has(ctx, search.Default)
		if err != nil {
			return nil, "", err
		}
		if !dup {
			return search.Default.Clone(), DefaultTechniqueName, nil
		}
	}

	for i := 0; i < len(s.techniques); i++ {
		t := s.techniques[s.cursor]
		s.cursor = (s.cursor + 1) % len(s.techniques)
		c, err := s.propose(ctx, t, search)
		if err != nil {
			return nil, "", err
		}
		if c != nil {
			return c, t.Name(), nil
		}
	}

	if s.fallback != nil {
		for i := 0; i < s.attempts; i++ {
			c, err := s.propose(ctx, s.fallback, search)
			if err != nil {
				return nil, "", err
			}
			if c != nil {
				return c, s.fallback.Name(), nil
			}
		}
	}
	return nil, "", nil
}

// propose asks one technique for a candidate. Technique failures are logged
// and treated as an empty proposal; only context and history errors are
// returned.
func (s *Session) propose(ctx context.Context, t Technique, search *SearchContext) (Store, error) {
	c, err := t.Propose(ctx, search)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.metrics.RecordProposal(t.Name(), "error")
		s.logger.Warn().Err(err).Str("technique", t.Name()).Msg("Technique failed to propose")
		return nil, nil
	}
	if c == nil {
		s.metrics.RecordProposal(t.Name(), "empty")
		return nil, nil
	}
	dup, err := s.history.Has(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to check history: %w", err)
	}
	if dup {
		s.metrics.RecordProposal(t.Name(), "duplicate")
		return nil, nil
	}
	s.metrics.RecordProposal(t.Name(), "accepted")
	return c, nil
}
