package telemetry

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/streamtune/pkg/engine"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func TestEventPublisher_SyncDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	sink := &eventSink{}
	ep.Subscribe(sink.add, nil)

	if err := ep.PublishSessionStarted("s1", "fmradio", 5); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("expected id and timestamp to be filled in")
	}
	if e.SessionID != "s1" || e.Data["program"] != "fmradio" {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestEventPublisher_AsyncOrdered(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    100,
		MaxBatchSize:  3,
		FlushInterval: 10 * time.Millisecond,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}
	sink := &eventSink{}
	ep.Subscribe(sink.add, nil)

	for i := 0; i < 10; i++ {
		trial := &engine.Trial{
			ID:       "t",
			Sequence: i,
			Result:   &engine.Result{Outcome: engine.OutcomeOK, Time: float64(i + 1)},
		}
		if err := ep.PublishTrial(trial); err != nil {
			t.Fatalf("PublishTrial failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if len(sink.events) != 10 {
		t.Fatalf("expected 10 events after shutdown, got %d", len(sink.events))
	}
	for i, e := range sink.events {
		if e.Data["sequence"] != i {
			t.Errorf("event %d: expected sequence %d, got %v", i, i, e.Data["sequence"])
		}
	}

	if err := ep.Publish(Event{Type: EventTypeError}); err == nil {
		t.Error("expected error publishing after shutdown")
	}
}

func TestEventPublisher_Filters(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	ep.AddFilter(FilterBySessionID("s1"))

	all := &eventSink{}
	warnings := &eventSink{}
	ep.Subscribe(all.add, nil)
	ep.Subscribe(warnings.add, FilterByLevel(EventLevelWarning))

	_ = ep.PublishSessionStarted("s1", "fmradio", 1)
	_ = ep.PublishSessionStarted("s2", "fmradio", 1)
	_ = ep.PublishPolicyRejected("s1", "streamtune.admission", "too many workers")
	_ = ep.PublishSessionFailed("s1", "boom")

	if got := all.types(); len(got) != 3 {
		t.Errorf("expected 3 events for s1, got %v", got)
	}
	want := []string{EventTypePolicyRejected, EventTypeSessionFailed}
	got := warnings.types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestEventPublisher_TrialFailed(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	sink := &eventSink{}
	ep.Subscribe(sink.add, FilterByType(EventTypeTrialFailed))

	_ = ep.PublishTrial(&engine.Trial{
		ID:     "t1",
		Result: &engine.Result{Outcome: engine.OutcomeTimeout, Time: math.Inf(1), Diagnostic: "killed"},
	})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 failed trial event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if _, ok := e.Data["time"]; ok {
		t.Error("expected no time for a failed trial")
	}
	if e.Data["diagnostic"] != "killed" {
		t.Errorf("expected diagnostic, got %v", e.Data["diagnostic"])
	}
	if e.Level != EventLevelWarning {
		t.Errorf("expected warning level, got %s", e.Level)
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	if err := ep.PublishSessionStarted("s1", "p", 1); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if called {
		t.Error("expected no delivery when events are disabled")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
