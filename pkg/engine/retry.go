package engine

import (
	"fmt"
	"math"
	"time"
)

// RetryPolicy controls how an action is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxDelay caps the exponential delay.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// Multiplier grows the delay between attempts.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// Jitter is the fraction of the delay randomized on each wait (0..1).
	Jitter float64 `json:"jitter" yaml:"jitter"`

	// ActionTimeout bounds a single UI interaction.
	ActionTimeout time.Duration `json:"action_timeout" yaml:"action_timeout"`

	// VerifyTimeout bounds signal verification after an attempt.
	VerifyTimeout time.Duration `json:"verify_timeout" yaml:"verify_timeout"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2,
		Jitter:        0.25,
		ActionTimeout: 30 * time.Second,
		VerifyTimeout: 10 * time.Second,
	}
}

// Validate checks the policy for unusable values.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be between 0 and 1, got %v", p.Jitter)
	}
	return nil
}

// RetryState is the bookkeeping carried between attempts of one action.
type RetryState struct {
	// Attempt is the number of attempts made so far.
	Attempt int

	// NextDelay is the un-jittered wait before the next attempt.
	NextDelay time.Duration
}

// ShouldRetry decides whether another attempt follows a failure of the
// given class. It is a pure function of its inputs: the returned state
// carries the attempt count and the delay to wait before the next attempt.
func ShouldRetry(state RetryState, class ErrorClass, policy RetryPolicy) (bool, RetryState) {
	if !class.IsRetryable() || state.Attempt >= policy.MaxAttempts {
		return false, RetryState{Attempt: state.Attempt}
	}

	// delay = base * multiplier^(attempt-1), capped
	exp := math.Pow(policy.Multiplier, float64(max(state.Attempt-1, 0)))
	delay := time.Duration(float64(policy.BaseDelay) * exp)
	if policy.MaxDelay > 0 && (delay > policy.MaxDelay || delay < 0) {
		delay = policy.MaxDelay
	}
	return true, RetryState{Attempt: state.Attempt, NextDelay: delay}
}

// Jittered spreads d by ±Jitter/2 using sample, a value in [0,1).
func (p RetryPolicy) Jittered(d time.Duration, sample float64) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return d + time.Duration(spread*sample-spread/2)
}
