package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle event of a plan or run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id" yaml:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Type is the event type.
	Type string `json:"type" yaml:"type"`

	// Source identifies where the event originated.
	Source string `json:"source" yaml:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty" yaml:"run_id,omitempty"`

	// Profile is the profile being planned or run.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// Unit is the associated unit name, if applicable.
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// Position is the unit's 1-based plan position, if applicable.
	Position int `json:"position,omitempty" yaml:"position,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message" yaml:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level" yaml:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypePlanResolved  = "plan.resolved"
	EventTypePlanRejected  = "plan.rejected"
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeRunFailed     = "run.failed"
	EventTypeUnitStarted   = "unit.started"
	EventTypeUnitCompleted = "unit.completed"
	EventTypeUnitFailed    = "unit.failed"
	EventTypeUnitSkipped   = "unit.skipped"
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

// ErrPublisherStopped is returned for events published after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// EventPublisher manages event publishing and subscriptions.
// Subscribers are called one at a time, in publish order. Every event
// Publish accepts is delivered, including those still buffered at Shutdown.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc

	// stateMu orders buffer sends against Shutdown: once stopped is set no
	// send is in flight, so the drain in processEvents sees every event.
	stateMu sync.RWMutex
	stopped bool
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
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		return ep.enqueue(event)
	}

	ep.stateMu.RLock()
	stopped := ep.stopped
	ep.stateMu.RUnlock()
	if stopped {
		return ErrPublisherStopped
	}
	ep.deliverEvent(event)
	return nil
}

func (ep *EventPublisher) enqueue(event Event) error {
	ep.stateMu.RLock()
	defer ep.stateMu.RUnlock()

	if ep.stopped {
		return ErrPublisherStopped
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishPlanResolved publishes a plan resolved event.
func (ep *EventPublisher) PublishPlanResolved(profile, planID string, units, depth int) error {
	return ep.Publish(Event{
		Type:    EventTypePlanResolved,
		Source:  "resolver",
		Profile: profile,
		Message: fmt.Sprintf("Profile %s resolved to %d units in %d levels", profile, units, depth),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"plan_id": planID,
			"units":   units,
			"depth":   depth,
		},
	})
}

// PublishPlanRejected publishes a structural or policy rejection of a profile.
func (ep *EventPublisher) PublishPlanRejected(profile, code, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePlanRejected,
		Source:  "resolver",
		Profile: profile,
		Message: fmt.Sprintf("Profile %s rejected: %s", profile, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		},
	})
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, profile string, units int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "executor",
		RunID:   runID,
		Profile: profile,
		Message: fmt.Sprintf("Run %s started for profile %s", runID, profile),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"units": units,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, profile string, duration time.Duration, capabilities int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "executor",
		RunID:   runID,
		Profile: profile,
		Message: fmt.Sprintf("Run %s completed with %d capabilities", runID, capabilities),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"duration":     duration.Seconds(),
			"capabilities": capabilities,
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, profile, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "executor",
		RunID:   runID,
		Profile: profile,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishUnitStarted publishes a unit started event.
func (ep *EventPublisher) PublishUnitStarted(runID, unit string, position int) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitStarted,
		Source:   "executor",
		RunID:    runID,
		Unit:     unit,
		Position: position,
		Message:  fmt.Sprintf("Unit %s started at position %d", unit, position),
		Level:    EventLevelInfo,
	})
}

// PublishUnitCompleted publishes a unit completed event.
func (ep *EventPublisher) PublishUnitCompleted(runID, unit string, position int, duration time.Duration, produced []string) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitCompleted,
		Source:   "executor",
		RunID:    runID,
		Unit:     unit,
		Position: position,
		Message:  fmt.Sprintf("Unit %s produced %d capabilities", unit, len(produced)),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
			"produced": produced,
		},
	})
}

// PublishUnitFailed publishes a unit failed event.
func (ep *EventPublisher) PublishUnitFailed(runID, unit string, position int, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitFailed,
		Source:   "executor",
		RunID:    runID,
		Unit:     unit,
		Position: position,
		Message:  fmt.Sprintf("Unit %s failed at position %d: %s", unit, position, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishUnitSkipped publishes an event for a unit that never ran.
func (ep *EventPublisher) PublishUnitSkipped(runID, unit string, position int) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitSkipped,
		Source:   "executor",
		RunID:    runID,
		Unit:     unit,
		Position: position,
		Message:  fmt.Sprintf("Unit %s skipped after an earlier failure", unit),
		Level:    EventLevelWarning,
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

// processEvents delivers buffered events in batches, flushing on size or interval.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-tick:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			// Drain whatever is still buffered before shutting down
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

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.stateMu.Lock()
	ep.stopped = true
	ep.stateMu.Unlock()
	ep.cancel()

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
