package engine

import (
	"context"
	"time"
)

// Launcher starts browser pages. Each call yields an independent page.
type Launcher interface {
	// Launch starts a browser page. The page is not navigated anywhere yet.
	Launch(ctx context.Context) (Page, error)
}

// Observation is a single look at an element.
type Observation struct {
	// Present is true if the element exists in the page.
	Present bool

	// Value is the element's input value or visible text.
	Value string
}

// Page is the UI-control driver for one browser page.
//
// Implementations wrap ErrTargetNotFound, ErrNotRendered and ErrSessionLost
// so failures can be classified. Calls are made from a single goroutine.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Select(ctx context.Context, selector, option string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitFor(ctx context.Context, selector string) error

	// Observe looks at an element once without waiting for it.
	Observe(ctx context.Context, selector string) (Observation, error)

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// Probe is a cheap liveness check.
	Probe(ctx context.Context) error

	// Close releases the browser. Further calls fail with ErrSessionLost.
	Close() error
}

// ActionRunner executes actions against a session with a fixed retry policy.
type ActionRunner interface {
	Run(ctx context.Context, s *Session, spec ActionSpec) ActionOutcome
}

// Configurator turns one service request into an added estimate entry.
type Configurator interface {
	// Kind returns the service kind this configurator handles.
	Kind() ServiceKind

	// Validate checks a request without touching the UI.
	Validate(req ServiceRequest) error

	// Configure validates and then drives the UI for req. It always returns
	// a result; a validation failure yields a Skipped result.
	Configure(ctx context.Context, runner ActionRunner, s *Session, req ServiceRequest) ServiceResult
}

// LinkGenerator produces shareable estimate links once services were added.
type LinkGenerator interface {
	Generate(ctx context.Context, runner ActionRunner, s *Session) (EstimateLinks, error)
}

// EventType identifies a monitor event.
type EventType string

const (
	EventRunStateChanged  EventType = "run.state_changed"
	EventSessionOpened    EventType = "session.opened"
	EventSessionRecovered EventType = "session.recovered"
	EventSessionClosed    EventType = "session.closed"
	EventHealthChecked    EventType = "session.health_checked"
	EventActionAttempt    EventType = "action.attempt"
	EventActionSkipped    EventType = "action.skipped"
	EventServiceStarted   EventType = "service.started"
	EventServiceCompleted EventType = "service.completed"
	EventLinksGenerated   EventType = "links.generated"
)

// Event is a structured record handed to the Monitor.
type Event struct {
	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id,omitempty"`

	// SessionID is the ID of the session involved, if any.
	SessionID string `json:"session_id,omitempty"`

	// RequestID is the ID of the service request, if applicable.
	RequestID string `json:"request_id,omitempty"`

	// Kind is the service kind, if applicable.
	Kind ServiceKind `json:"kind,omitempty"`

	// Action is the action label, for action events.
	Action string `json:"action,omitempty"`

	// Operation is the UI operation, for action events.
	Operation Operation `json:"operation,omitempty"`

	// Attempt is the 1-based attempt number, for action events.
	Attempt int `json:"attempt,omitempty"`

	// Success reports whether the recorded step succeeded.
	Success bool `json:"success"`

	// ErrorClass is the failure classification, if any.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// Duration is how long the recorded step took.
	Duration time.Duration `json:"duration,omitempty"`

	// From and To describe state changes.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Monitor receives engine events. Record must not block; implementations
// drop events they cannot accept.
type Monitor interface {
	Record(event Event)
}

// NopMonitor discards all events.
type NopMonitor struct{}

// Record implements Monitor.
func (NopMonitor) Record(Event) {}

// record delivers an event without letting a misbehaving monitor affect the run.
func record(m Monitor, event Event) {
	if m == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	defer func() { _ = recover() }()
	m.Record(event)
}
