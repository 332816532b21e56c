package engine

import (
	"encoding/json"
	"fmt"
)

// SessionStatus represents the lifecycle status of a browser session.
type SessionStatus string

const (
	// SessionOpening indicates the browser is being launched.
	SessionOpening SessionStatus = "opening"

	// SessionReady indicates the session can accept actions.
	SessionReady SessionStatus = "ready"

	// SessionDegraded indicates the last health check found the session unhealthy.
	SessionDegraded SessionStatus = "degraded"

	// SessionClosed indicates the session has been released.
	SessionClosed SessionStatus = "closed"
)

// sessionTransitions lists the legal status changes of a session.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionOpening:  {SessionReady, SessionClosed},
	SessionReady:    {SessionDegraded, SessionClosed},
	SessionDegraded: {SessionReady, SessionClosed},
	SessionClosed:   nil,
}

// CanTransitionTo reports whether a session may move from s to next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the session can no longer be used.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionClosed
}

// Validate checks if the session status is valid.
func (s SessionStatus) Validate() error {
	if _, ok := sessionTransitions[s]; !ok {
		return fmt.Errorf("invalid session status: %s", s)
	}
	return nil
}

// Health is the result of a session health check.
type Health string

const (
	// HealthHealthy indicates the session responds and is on the calculator.
	HealthHealthy Health = "healthy"

	// HealthDegraded indicates the session responds slowly or navigated away.
	HealthDegraded Health = "degraded"

	// HealthDead indicates the browser is gone.
	HealthDead Health = "dead"
)

// RunState represents the orchestrator state of an estimation run.
type RunState string

const (
	RunStateInit                RunState = "init"
	RunStateValidating          RunState = "validating"
	RunStateSessionAcquired     RunState = "session_acquired"
	RunStateConfiguringServices RunState = "configuring_services"
	RunStateLinkGeneration      RunState = "link_generation"
	RunStateReporting           RunState = "reporting"
	RunStateDone                RunState = "done"
	RunStateAborted             RunState = "aborted"
)

// IsTerminal returns true if the run state is final.
func (s RunState) IsTerminal() bool {
	return s == RunStateDone || s == RunStateAborted
}

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	switch s {
	case RunStateInit, RunStateValidating, RunStateSessionAcquired,
		RunStateConfiguringServices, RunStateLinkGeneration,
		RunStateReporting, RunStateDone, RunStateAborted:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// ResultStatus represents the outcome of configuring one service.
type ResultStatus string

const (
	// ResultAdded indicates the service was added to the estimate.
	ResultAdded ResultStatus = "added"

	// ResultFailed indicates a UI interaction for the service failed.
	ResultFailed ResultStatus = "failed"

	// ResultSkipped indicates the service was never attempted.
	ResultSkipped ResultStatus = "skipped"
)

// Validate checks if the result status is valid.
func (s ResultStatus) Validate() error {
	switch s {
	case ResultAdded, ResultFailed, ResultSkipped:
		return nil
	default:
		return fmt.Errorf("invalid result status: %s", s)
	}
}

// OverallStatus summarizes a run for the final report.
type OverallStatus string

const (
	// StatusSuccess indicates every requested service was added.
	StatusSuccess OverallStatus = "success"

	// StatusPartialSuccess indicates at least one service was added and at least one was not.
	StatusPartialSuccess OverallStatus = "partial_success"

	// StatusFailure indicates nothing was added or the run was aborted.
	StatusFailure OverallStatus = "failure"
)

// Validate checks if the overall status is valid.
func (s OverallStatus) Validate() error {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusFailure:
		return nil
	default:
		return fmt.Errorf("invalid overall status: %s", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s OverallStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *OverallStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = OverallStatus(str)
	return s.Validate()
}

// Operation is the kind of UI interaction an action performs.
type Operation string

const (
	OpNavigate Operation = "navigate"
	OpSelect   Operation = "select"
	OpFill     Operation = "fill"
	OpClick    Operation = "click"
	OpWaitFor  Operation = "wait_for"
)

// Validate checks if the operation is valid.
func (o Operation) Validate() error {
	switch o {
	case OpNavigate, OpSelect, OpFill, OpClick, OpWaitFor:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// VerifyStatus is the terminal result of verifying an expected signal.
type VerifyStatus string

const (
	VerifyConfirmed  VerifyStatus = "confirmed"
	VerifyTimedOut   VerifyStatus = "timed_out"
	VerifyMismatched VerifyStatus = "mismatched"
)
