package engine

import (
	"context"
	"time"
)

// VerifyResult is the outcome of verifying a signal.
type VerifyResult struct {
	// Status is confirmed, timed_out or mismatched.
	Status VerifyStatus

	// Observed is the last value seen, if the target was present.
	Observed string

	// Polls is the number of observations made.
	Polls int
}

// Verifier polls the page until an expected signal is confirmed.
type Verifier struct {
	// Interval is the delay between polls.
	Interval time.Duration

	// SettlePolls is how many consecutive identical wrong values make a
	// mismatch final before the timeout.
	SettlePolls int
}

// NewVerifier creates a verifier with the given poll interval.
func NewVerifier(interval time.Duration) *Verifier {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Verifier{Interval: interval, SettlePolls: 3}
}

// Verify polls sig until it is confirmed, settles on a wrong value, or
// timeout elapses. An empty signal is confirmed without looking.
func (v *Verifier) Verify(ctx context.Context, s *Session, sig Signal, timeout time.Duration) VerifyResult {
	if sig.IsZero() {
		return VerifyResult{Status: VerifyConfirmed}
	}

	deadline := time.Now().Add(timeout)
	var (
		result   VerifyResult
		mismatch bool
		streak   int
	)

	for {
		obs, err := v.observe(ctx, s, sig)
		result.Polls++
		if err == nil && obs.Present {
			if sig.Matches(obs.Value) {
				result.Observed = obs.Value
				result.Status = VerifyConfirmed
				return result
			}
			if mismatch && obs.Value == result.Observed {
				streak++
			} else {
				streak = 1
			}
			result.Observed = obs.Value
			mismatch = true
			if v.SettlePolls > 0 && streak >= v.SettlePolls {
				result.Status = VerifyMismatched
				return result
			}
		} else {
			mismatch = false
			streak = 0
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		if wait > v.Interval {
			wait = v.Interval
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			result.Status = VerifyTimedOut
			return result
		}
	}

	if mismatch {
		result.Status = VerifyMismatched
	} else {
		result.Status = VerifyTimedOut
	}
	return result
}

// Check makes a single observation and reports whether sig already holds.
func (v *Verifier) Check(ctx context.Context, s *Session, sig Signal) bool {
	if sig.IsZero() {
		return false
	}
	obs, err := v.observe(ctx, s, sig)
	return err == nil && obs.Present && sig.Matches(obs.Value)
}

func (v *Verifier) observe(ctx context.Context, s *Session, sig Signal) (Observation, error) {
	if sig.Kind == SignalLocation {
		page := s.Page()
		if page == nil {
			return Observation{}, ErrSessionLost
		}
		loc, err := page.Location(ctx)
		if err != nil {
			return Observation{}, err
		}
		return Observation{Present: true, Value: loc}, nil
	}
	return s.Observe(ctx, sig.Selector)
}
