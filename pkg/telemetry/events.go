package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// Event represents a telemetry event of a tuning session.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// SessionID is the associated session ID, if applicable.
	SessionID string `json:"session_id,omitempty"`

	// TrialID is the associated trial ID, if applicable.
	TrialID string `json:"trial_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeSessionStarted   = "session.started"
	EventTypeSessionCompleted = "session.completed"
	EventTypeSessionFailed    = "session.failed"
	EventTypeTrialCompleted   = "trial.completed"
	EventTypeTrialFailed      = "trial.failed"
	EventTypeBestImproved     = "best.improved"
	EventTypePolicyRejected   = "policy.rejected"
	EventTypeError            = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. Subscribers see
// events in publication order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishSessionStarted publishes a session started event.
func (ep *EventPublisher) PublishSessionStarted(sessionID, program string, trials int) error {
	return ep.Publish(Event{
		Type:      EventTypeSessionStarted,
		Source:    "session",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Session %s started for %s", sessionID, program),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"program": program,
			"trials":  trials,
		},
	})
}

// PublishSessionCompleted publishes a session completed event.
func (ep *EventPublisher) PublishSessionCompleted(summary *engine.Summary, duration time.Duration) error {
	data := map[string]interface{}{
		"trials":    summary.Trials,
		"exhausted": summary.Exhausted,
		"duration":  duration.Seconds(),
	}
	for outcome, n := range summary.Outcomes {
		data[string(outcome)] = n
	}
	if summary.Best != nil {
		data["best_trial"] = summary.Best.ID
		data["best_time"] = summary.Best.Result.Time
	}
	return ep.Publish(Event{
		Type:      EventTypeSessionCompleted,
		Source:    "session",
		SessionID: summary.SessionID,
		Message:   fmt.Sprintf("Session %s completed after %d trials", summary.SessionID, summary.Trials),
		Level:     EventLevelInfo,
		Data:      data,
	})
}

// PublishSessionFailed publishes a session failed event.
func (ep *EventPublisher) PublishSessionFailed(sessionID, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeSessionFailed,
		Source:    "session",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Session %s failed: %s", sessionID, reason),
		Level:     EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishTrial publishes a trial completed or failed event.
func (ep *EventPublisher) PublishTrial(trial *engine.Trial) error {
	event := Event{
		Source:    "session",
		SessionID: trial.SessionID,
		TrialID:   trial.ID,
		Data: map[string]interface{}{
			"sequence":  trial.Sequence,
			"technique": trial.Technique,
			"outcome":   string(trial.Result.Outcome),
			"duration":  trial.Result.Duration.Seconds(),
		},
	}
	if trial.Result.Outcome == engine.OutcomeOK {
		event.Type = EventTypeTrialCompleted
		event.Level = EventLevelInfo
		event.Message = fmt.Sprintf("Trial %d ran in %gs", trial.Sequence, trial.Result.Time)
		event.Data["time"] = trial.Result.Time
	} else {
		event.Type = EventTypeTrialFailed
		event.Level = EventLevelWarning
		event.Message = fmt.Sprintf("Trial %d finished with %s", trial.Sequence, trial.Result.Outcome)
		if trial.Result.Diagnostic != "" {
			event.Data["diagnostic"] = trial.Result.Diagnostic
		}
	}
	return ep.Publish(event)
}

// PublishBestImproved publishes a new best trial.
func (ep *EventPublisher) PublishBestImproved(trial *engine.Trial, previous float64) error {
	data := map[string]interface{}{
		"sequence":  trial.Sequence,
		"technique": trial.Technique,
		"time":      trial.Result.Time,
	}
	if previous > 0 {
		data["previous"] = previous
	}
	return ep.Publish(Event{
		Type:      EventTypeBestImproved,
		Source:    "session",
		SessionID: trial.SessionID,
		TrialID:   trial.ID,
		Message:   fmt.Sprintf("New best time %gs from %s", trial.Result.Time, trial.Technique),
		Level:     EventLevelInfo,
		Data:      data,
	})
}

// PublishPolicyRejected publishes a candidate rejected by an admission policy.
func (ep *EventPublisher) PublishPolicyRejected(sessionID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypePolicyRejected,
		Source:    "policy_engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Candidate rejected by %s: %s", policyName, reason),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches. A batch is delivered
// when it is full or when the flush interval elapses.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers pending events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.stopOnce.Do(ep.cancel)

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySessionID creates a filter that only allows events for a specific session.
func FilterBySessionID(sessionID string) EventFilter {
	return func(event Event) bool {
		return event.SessionID == sessionID
	}
}
