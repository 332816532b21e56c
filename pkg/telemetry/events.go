package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of a run's event log: a state transition, an action
// attempt or a service outcome.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Type is the engine event type, e.g. "service.completed".
	Type string `json:"type"`

	// Source is the component that emitted the event.
	Source string `json:"source"`

	RunID     string `json:"run_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Kind      string `json:"kind,omitempty"`

	Message string `json:"message"`

	// Level is info, warning or error.
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var eventLevels = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// ErrEventDropped is returned by Publish when the buffer is full.
var ErrEventDropped = errors.New("event buffer full, event dropped")

var errPublisherStopped = errors.New("event publisher stopped")

// EventSubscriber receives delivered events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In async mode events are
// buffered and delivered in publication order from a single goroutine, so
// a slow subscriber (the history store) never stalls a run.
type EventPublisher struct {
	config EventsConfig
	buffer chan Event

	mu          sync.RWMutex
	subscribers []subscription
	filters     []EventFilter

	wg     sync.WaitGroup
	stop   context.CancelFunc
	closed <-chan struct{}
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// discards every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	if cfg.BufferSize <= 0 || cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("event buffer and batch size must be positive")
	}
	if cfg.MinLevel != "" {
		ep.filters = append(ep.filters, FilterByLevel(cfg.MinLevel))
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep.stop = cancel
	ep.closed = ctx.Done()
	ep.buffer = make(chan Event, cfg.BufferSize)

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.run()
	}
	return ep, nil
}

// Publish stamps the event and delivers it. In async mode it never blocks:
// a full buffer drops the event and returns ErrEventDropped.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}
	if !ep.accept(event) {
		return nil
	}

	if !ep.config.EnableAsync {
		ep.deliver(event)
		return nil
	}
	select {
	case <-ep.closed:
		return errPublisherStopped
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return ErrEventDropped
	}
}

func (ep *EventPublisher) accept(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, f := range ep.filters {
		if !f(event) {
			return false
		}
	}
	return true
}

// Subscribe registers fn for events matching filter. filter may be nil.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscription{fn: fn, filter: filter})
}

// AddFilter adds a filter applied to every event before delivery.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// run delivers buffered events in batches of MaxBatchSize, flushing a
// partial batch every FlushInterval and draining the buffer on shutdown.
func (ep *EventPublisher) run() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.buffer:
			batch = append(batch, e)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.closed:
			for {
				select {
				case e := <-ep.buffer:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subscribers {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops accepting events and waits until buffered events have
// been delivered or ctx ends.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.stop()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := eventLevels[minLevel]
	return func(event Event) bool {
		return eventLevels[event.Level] >= floor
	}
}

// FilterByRunID passes the events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
