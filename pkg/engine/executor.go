package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Executor performs single UI actions with verification and retries.
// One executor may be shared by concurrent runs; each run uses its own session.
type Executor struct {
	verifier *Verifier
	limiter  *rate.Limiter
	monitor  Monitor
	logger   zerolog.Logger
	random   func() float64
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRateLimit paces UI attempts across all runs of the executor.
func WithRateLimit(perSecond float64, burst int) ExecutorOption {
	return func(e *Executor) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithRandom replaces the jitter source. sample must return values in [0,1).
func WithRandom(sample func() float64) ExecutorOption {
	return func(e *Executor) {
		e.random = sample
	}
}

// NewExecutor creates an action executor.
func NewExecutor(verifier *Verifier, monitor Monitor, logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	if verifier == nil {
		verifier = NewVerifier(0)
	}
	if monitor == nil {
		monitor = NopMonitor{}
	}
	e := &Executor{
		verifier: verifier,
		monitor:  monitor,
		logger:   logger.With().Str("component", "executor").Logger(),
		random:   rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scope identifies where an action runs, for monitor events and logs.
type Scope struct {
	RunID     string
	RequestID string
	Kind      ServiceKind
}

// Runner binds the executor to a retry policy and scope.
func (e *Executor) Runner(policy RetryPolicy, scope Scope) ActionRunner {
	return &boundRunner{executor: e, policy: policy, scope: scope}
}

type boundRunner struct {
	executor *Executor
	policy   RetryPolicy
	scope    Scope
}

func (r *boundRunner) Run(ctx context.Context, s *Session, spec ActionSpec) ActionOutcome {
	return r.executor.Execute(ctx, s, spec, r.policy, r.scope)
}

// Execute performs spec, verifying after every attempt and retrying transient
// failures according to policy. It never panics and always returns an outcome.
func (e *Executor) Execute(ctx context.Context, s *Session, spec ActionSpec, policy RetryPolicy, scope Scope) ActionOutcome {
	if err := spec.Operation.Validate(); err != nil {
		return ActionOutcome{LastError: ErrorClassValidation, Err: NewValidationError("invalid action", err).WithOperation(spec.Label())}
	}

	if spec.Idempotent && e.verifier.Check(ctx, s, spec.ExpectedSignal) {
		record(e.monitor, e.event(EventActionSkipped, scope, spec, 0, true, "", nil, 0))
		return ActionOutcome{Success: true, Verified: true}
	}

	state := RetryState{}
	var outcome ActionOutcome

	for {
		if err := ctx.Err(); err != nil {
			outcome.LastError = ClassOf(err)
			outcome.Err = err
			return outcome
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				outcome.LastError = ClassOf(ctx.Err())
				if outcome.LastError == "" {
					outcome.LastError = ErrorClassTransient
				}
				outcome.Err = err
				return outcome
			}
		}

		state.Attempt++
		outcome.Attempts = state.Attempt
		start := time.Now()

		err := e.attempt(ctx, s, spec, policy)
		class := ClassOf(err)
		duration := time.Since(start)

		record(e.monitor, e.event(EventActionAttempt, scope, spec, state.Attempt, err == nil, class, err, duration))

		if err == nil {
			outcome.Success = true
			outcome.Verified = true
			outcome.LastError = ""
			outcome.Err = nil
			return outcome
		}

		outcome.LastError = class
		outcome.Err = err

		e.logger.Debug().
			Err(err).
			Str("run_id", scope.RunID).
			Str("request_id", scope.RequestID).
			Str("action", spec.Label()).
			Int("attempt", state.Attempt).
			Str("class", string(class)).
			Msg("Action attempt failed")

		retry, next := ShouldRetry(state, class, policy)
		if !retry {
			return outcome
		}
		state = next

		wait := policy.Jittered(state.NextDelay, e.random())
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			outcome.LastError = ClassOf(ctx.Err())
			outcome.Err = ctx.Err()
			return outcome
		}
	}
}

// attempt performs the UI operation once and verifies its signal.
func (e *Executor) attempt(ctx context.Context, s *Session, spec ActionSpec, policy RetryPolicy) error {
	page := s.Page()
	if page == nil {
		return NewSessionError("session is not usable", ErrSessionLost).
			WithCode(ErrCodeSessionLost).
			WithResource(s.ID)
	}

	opCtx := ctx
	if policy.ActionTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, policy.ActionTimeout)
		defer cancel()
	}

	if err := perform(opCtx, page, spec); err != nil {
		return err
	}
	if spec.Operation == OpNavigate {
		s.setNavigation(spec.Target)
	}

	result := e.verifier.Verify(ctx, s, spec.ExpectedSignal, policy.VerifyTimeout)
	switch result.Status {
	case VerifyConfirmed:
		return nil
	case VerifyMismatched:
		return NewStructuralError("expected signal mismatched", nil).
			WithCode(ErrCodeSignalMismatch).
			WithResource(spec.ExpectedSignal.Selector).
			WithOperation(spec.Label()).
			WithDetail("expected", spec.ExpectedSignal.Value).
			WithDetail("observed", result.Observed)
	default:
		return NewTransientError("verification timed out", nil).
			WithResource(spec.ExpectedSignal.Selector).
			WithOperation(spec.Label()).
			WithDetail("polls", result.Polls)
	}
}

func perform(ctx context.Context, page Page, spec ActionSpec) error {
	switch spec.Operation {
	case OpNavigate:
		return page.Navigate(ctx, spec.Target)
	case OpSelect:
		return page.Select(ctx, spec.Target, spec.Value)
	case OpFill:
		return page.Fill(ctx, spec.Target, spec.Value)
	case OpClick:
		return page.Click(ctx, spec.Target)
	case OpWaitFor:
		return page.WaitFor(ctx, spec.Target)
	default:
		return NewValidationError(fmt.Sprintf("unsupported operation %q", spec.Operation), nil)
	}
}

func (e *Executor) event(typ EventType, scope Scope, spec ActionSpec, attempt int, success bool, class ErrorClass, err error, d time.Duration) Event {
	ev := Event{
		Type:       typ,
		RunID:      scope.RunID,
		RequestID:  scope.RequestID,
		Kind:       scope.Kind,
		Action:     spec.Label(),
		Operation:  spec.Operation,
		Attempt:    attempt,
		Success:    success,
		ErrorClass: class,
		Duration:   d,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
