package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// Monitor implements engine.Monitor. It turns engine events into metrics
// and publishes them; it never blocks the run.
type Monitor struct {
	metrics *Metrics
	events  *EventPublisher
	logger  *Logger

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewMonitor returns a monitor feeding metrics and events. Either may be nil.
func NewMonitor(metrics *Metrics, events *EventPublisher, logger *Logger) *Monitor {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Monitor{
		metrics: metrics,
		events:  events,
		logger:  logger,
		starts:  make(map[string]time.Time),
	}
}

// Record implements engine.Monitor.
func (m *Monitor) Record(ev engine.Event) {
	m.observe(ev)

	if m.events == nil {
		return
	}
	if err := m.events.Publish(Convert(ev)); err != nil {
		if errors.Is(err, ErrEventDropped) {
			m.metrics.RecordEventDropped()
		}
		if m.logger != nil {
			m.logger.WithError(err).WithField("event", string(ev.Type)).Debug("Event not published")
		}
	}
}

func (m *Monitor) observe(ev engine.Event) {
	if !ev.Success {
		m.metrics.RecordError(string(ev.ErrorClass))
	}

	switch ev.Type {
	case engine.EventRunStateChanged:
		m.observeRunState(ev)
	case engine.EventServiceCompleted:
		m.metrics.RecordService(string(ev.Kind), ev.To, ev.Duration)
	case engine.EventActionAttempt:
		out := "success"
		if !ev.Success {
			out = string(ev.ErrorClass)
		}
		m.metrics.RecordActionAttempt(string(ev.Operation), out, ev.Duration)
	case engine.EventActionSkipped:
		m.metrics.RecordActionSkipped(string(ev.Operation))
	case engine.EventSessionOpened, engine.EventSessionRecovered, engine.EventSessionClosed, engine.EventHealthChecked:
		m.metrics.RecordSessionEvent(string(ev.Type), outcome(ev.Success))
	case engine.EventLinksGenerated:
		m.metrics.RecordLinks(ev.Success)
	}
}

func (m *Monitor) observeRunState(ev engine.Event) {
	switch engine.RunState(ev.To) {
	case engine.RunStateValidating:
		m.mu.Lock()
		m.starts[ev.RunID] = ev.Timestamp
		m.mu.Unlock()
		m.metrics.RecordRunStarted()
	case engine.RunStateDone, engine.RunStateAborted:
		m.mu.Lock()
		start, ok := m.starts[ev.RunID]
		delete(m.starts, ev.RunID)
		m.mu.Unlock()
		if !ok {
			return
		}
		m.metrics.RecordRunCompleted(ev.To, ev.Timestamp.Sub(start))
	}
}

// Convert maps an engine event onto a telemetry event.
func Convert(ev engine.Event) Event {
	out := Event{
		Timestamp: ev.Timestamp,
		Type:      string(ev.Type),
		Source:    "engine",
		RunID:     ev.RunID,
		RequestID: ev.RequestID,
		Kind:      string(ev.Kind),
		Level:     EventLevelInfo,
		Message:   describe(ev),
		Data:      make(map[string]interface{}, len(ev.Details)+6),
	}
	for k, v := range ev.Details {
		out.Data[k] = v
	}
	if !ev.Success {
		out.Level = EventLevelWarning
		if ev.Type == engine.EventRunStateChanged || ev.Type == engine.EventServiceCompleted {
			out.Level = EventLevelError
		}
	}
	if ev.SessionID != "" {
		out.Data["session_id"] = ev.SessionID
	}
	if ev.Action != "" {
		out.Data["action"] = ev.Action
		out.Data["operation"] = string(ev.Operation)
		out.Data["attempt"] = ev.Attempt
	}
	if ev.ErrorClass != "" {
		out.Data["error_class"] = string(ev.ErrorClass)
	}
	if ev.Error != "" {
		out.Data["error"] = ev.Error
	}
	if ev.Duration > 0 {
		out.Data["duration_ms"] = ev.Duration.Milliseconds()
	}
	return out
}

func describe(ev engine.Event) string {
	switch ev.Type {
	case engine.EventRunStateChanged:
		return fmt.Sprintf("run %s -> %s", ev.From, ev.To)
	case engine.EventServiceStarted:
		return fmt.Sprintf("configuring %s %s", ev.Kind, ev.RequestID)
	case engine.EventServiceCompleted:
		return fmt.Sprintf("%s %s %s", ev.Kind, ev.RequestID, ev.To)
	case engine.EventActionAttempt:
		if ev.Success {
			return fmt.Sprintf("%s attempt %d succeeded", ev.Action, ev.Attempt)
		}
		return fmt.Sprintf("%s attempt %d failed: %s", ev.Action, ev.Attempt, ev.Error)
	case engine.EventActionSkipped:
		return fmt.Sprintf("%s already satisfied", ev.Action)
	case engine.EventLinksGenerated:
		if ev.Success {
			return "estimate links generated"
		}
		return "estimate link generation failed: " + ev.Error
	default:
		if ev.Error != "" {
			return fmt.Sprintf("%s: %s", ev.Type, ev.Error)
		}
		return string(ev.Type)
	}
}
