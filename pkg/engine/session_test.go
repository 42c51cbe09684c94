package engine

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
)

// stepTechnique proposes multiplier values from a fixed list, one per call.
type stepTechnique struct {
	name   string
	values []int
	calls  int
	err    error
}

func (s *stepTechnique) Name() string { return s.name }

func (s *stepTechnique) Propose(_ context.Context, search *SearchContext) (Store, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.values) {
		return nil, nil
	}
	c := search.Default.Clone()
	c["multiplier"] = s.values[s.calls]
	s.calls++
	return c, nil
}

func newSessionAdapter(t *testing.T) *SearchAdapter {
	t.Helper()
	cfg := NewConfiguration()
	p, _ := NewIntegerParameter("multiplier", 1, 64, 8)
	_ = cfg.AddParameter(p)

	// Running time equals the multiplier, so smaller is better.
	transport := &fakeTransport{evaluate: func(req *Request) (*Response, error) {
		doc, err := Decode(req.Document)
		if err != nil {
			return nil, err
		}
		m, _ := doc.Parameter("multiplier")
		return &Response{Stdout: strconv.Itoa(m.Value().(int))}, nil
	}}
	adapter, err := NewSearchAdapter(cfg, AdapterConfig{Transport: transport, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	return adapter
}

func TestSessionRunsDefaultThenTechniques(t *testing.T) {
	adapter := newSessionAdapter(t)
	history := NewMemoryHistory()
	var seen []string

	session, err := NewSession(adapter, SessionConfig{
		Trials:     4,
		Techniques: []Technique{&stepTechnique{name: "a", values: []int{4, 2}}, &stepTechnique{name: "b", values: []int{16}}},
		History:    history,
		Logger:     zerolog.Nop(),
		OnTrial:    func(tr *Trial) { seen = append(seen, tr.Technique) },
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	summary, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary.Trials != 4 {
		t.Errorf("Expected 4 trials, got %d", summary.Trials)
	}
	want := []string{DefaultTechniqueName, "a", "b", "a"}
	for i := range want {
		if i >= len(seen) || seen[i] != want[i] {
			t.Fatalf("Expected technique order %v, got %v", want, seen)
		}
	}
	if summary.Best == nil || summary.Best.Result.Time != 2 {
		t.Errorf("Expected best time 2, got %+v", summary.Best)
	}
	if summary.Outcomes[OutcomeOK] != 4 {
		t.Errorf("Expected 4 OK outcomes, got %v", summary.Outcomes)
	}

	ranked, _ := history.Ranked(context.Background())
	if len(ranked) != 4 || ranked[0]["multiplier"] != 2 {
		t.Errorf("Expected multiplier 2 ranked first, got %v", ranked)
	}
}

func TestSessionSkipsDuplicatesAndStopsWhenExhausted(t *testing.T) {
	adapter := newSessionAdapter(t)

	session, err := NewSession(adapter, SessionConfig{
		Trials:     10,
		Techniques: []Technique{
			&stepTechnique{name: "dup", values: []int{8}},
			&stepTechnique{name: "fresh", values: []int{3}},
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	summary, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// default (8), then 3; the proposal of 8 duplicates the default.
	if summary.Trials != 2 {
		t.Errorf("Expected 2 trials, got %d", summary.Trials)
	}
	if !summary.Exhausted {
		t.Error("Expected session to report exhaustion")
	}
}

func TestSessionTechniqueErrorsAreSkipped(t *testing.T) {
	adapter := newSessionAdapter(t)

	session, err := NewSession(adapter, SessionConfig{
		Trials: 3,
		Techniques: []Technique{
			&stepTechnique{name: "broken", err: errors.New("no topology")},
			&stepTechnique{name: "ok", values: []int{5, 6}},
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	summary, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary.Trials != 3 {
		t.Errorf("Expected 3 trials, got %d", summary.Trials)
	}
}

func TestSessionFallback(t *testing.T) {
	adapter := newSessionAdapter(t)

	session, err := NewSession(adapter, SessionConfig{
		Trials:   3,
		Fallback: &stepTechnique{name: "fallback", values: []int{8, 9, 10}},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	summary, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary.Trials != 3 {
		t.Errorf("Expected 3 trials, got %d", summary.Trials)
	}
}

func TestSessionStopsOnCancel(t *testing.T) {
	adapter := newSessionAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())

	session, err := NewSession(adapter, SessionConfig{
		Trials:     5,
		Techniques: []Technique{&stepTechnique{name: "a", values: []int{1, 2, 3, 4}}},
		Logger:     zerolog.Nop(),
		OnTrial:    func(*Trial) { cancel() },
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	summary, err := session.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if summary.Trials != 1 {
		t.Errorf("Expected 1 finished trial, got %d", summary.Trials)
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(nil, SessionConfig{Trials: 1}); err == nil {
		t.Error("Expected error for nil adapter")
	}
	if _, err := NewSession(newSessionAdapter(t), SessionConfig{Trials: 0}); err == nil {
		t.Error("Expected error for zero trial budget")
	}
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()

	trials := []*Trial{
		{Candidate: Store{"x": 1}, Result: &Result{Outcome: OutcomeOK, Time: 5}},
		{Candidate: Store{"x": 2}, Result: &Result{Outcome: OutcomeError}},
		{Candidate: Store{"x": 3}, Result: &Result{Outcome: OutcomeOK, Time: 1}},
	}
	for _, tr := range trials {
		if err := h.Record(ctx, tr); err != nil {
			t.Fatalf("Failed to record: %v", err)
		}
	}

	ranked, err := h.Ranked(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ranked) != 2 || ranked[0]["x"] != 3 || ranked[1]["x"] != 1 {
		t.Errorf("Expected ranking [x=3 x=1], got %v", ranked)
	}
	if ok, _ := h.Has(ctx, Store{"x": 2}); !ok {
		t.Error("Expected failed candidate to count as evaluated")
	}
	if ok, _ := h.Has(ctx, Store{"x": 4}); ok {
		t.Error("Expected unknown candidate to be absent")
	}
}
