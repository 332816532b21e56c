package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is a finished estimation run.
type Run struct {
	ID                string     `json:"id"`
	Source            string     `json:"source"` // request file or "-"
	Status            string     `json:"status"` // overall status
	ServicesRequested int        `json:"services_requested"`
	ServicesAdded     int        `json:"services_added"`
	ServicesFailed    int        `json:"services_failed"`
	OnDemandLink      *string    `json:"ondemand_link,omitempty"`
	SavingsPlanLink   *string    `json:"savings_plan_link,omitempty"`
	Error             *string    `json:"error,omitempty"`
	LinkError         *string    `json:"link_error,omitempty"`
	Report            string     `json:"report"` // JSON blob
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       time.Time  `json:"completed_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ServiceResult is the stored outcome of one service request.
type ServiceResult struct {
	ID          int64         `json:"id"`
	RunID       string        `json:"run_id"`
	Position    int           `json:"position"`
	RequestID   string        `json:"request_id"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	Attempts    int           `json:"attempts"`
	ErrorClass  *string       `json:"error_class,omitempty"`
	ErrorDetail *string       `json:"error_detail,omitempty"`
	AutoFilled  string        `json:"auto_filled"` // JSON object
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Event is an entry of the append-only event log.
type Event struct {
	ID        string    `json:"id"`
	RunID     *string   `json:"run_id,omitempty"`
	RequestID *string   `json:"request_id,omitempty"`
	Kind      *string   `json:"kind,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Data      *string   `json:"data,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// EventQuery narrows GetEvents. Zero fields match everything.
type EventQuery struct {
	RunID  string
	Type   string
	Level  string
	Limit  int
	Offset int
}

// Store defines the run history persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	SaveRun(ctx context.Context, run *Run, results []*ServiceResult) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListServiceResults(ctx context.Context, runID string) ([]*ServiceResult, error)
	DeleteRun(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, q EventQuery) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
