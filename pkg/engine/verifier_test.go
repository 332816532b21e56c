package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/engine/enginetest"
)

func TestVerifyConfirmed(t *testing.T) {
	page := enginetest.NewPage()
	page.Set("#qty", "2")
	s := engine.NewSessionForPage(page)

	res := engine.NewVerifier(time.Millisecond).Verify(context.Background(), s, engine.Signal{Selector: "#qty", Value: "2"}, 50*time.Millisecond)
	if res.Status != engine.VerifyConfirmed {
		t.Fatalf("expected confirmed, got %s", res.Status)
	}
	if res.Polls != 1 {
		t.Errorf("expected a single poll, got %d", res.Polls)
	}
}

func TestVerifyTimesOutWhenAbsent(t *testing.T) {
	page := enginetest.NewPage()
	page.Hide("#qty")
	s := engine.NewSessionForPage(page)

	start := time.Now()
	res := engine.NewVerifier(time.Millisecond).Verify(context.Background(), s, engine.Signal{Selector: "#qty"}, 20*time.Millisecond)
	if res.Status != engine.VerifyTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Status)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned before the timeout: %v", elapsed)
	}
}

func TestVerifyMismatchSettles(t *testing.T) {
	page := enginetest.NewPage()
	page.Set("#qty", "5")
	s := engine.NewSessionForPage(page)

	v := engine.NewVerifier(time.Millisecond)
	res := v.Verify(context.Background(), s, engine.Signal{Selector: "#qty", Value: "2"}, time.Second)
	if res.Status != engine.VerifyMismatched {
		t.Fatalf("expected mismatched, got %s", res.Status)
	}
	if res.Observed != "5" {
		t.Errorf("expected observed value 5, got %q", res.Observed)
	}
	if res.Polls != v.SettlePolls {
		t.Errorf("expected mismatch after %d polls, got %d", v.SettlePolls, res.Polls)
	}
}

func TestVerifyLocationSignal(t *testing.T) {
	page := enginetest.NewPage()
	page.SetLocation("https://calculator.aws/#/estimate?id=1")
	s := engine.NewSessionForPage(page)

	sig := engine.Signal{Kind: engine.SignalLocation, Value: "#/estimate", Contains: true}
	res := engine.NewVerifier(time.Millisecond).Verify(context.Background(), s, sig, 20*time.Millisecond)
	if res.Status != engine.VerifyConfirmed {
		t.Fatalf("expected confirmed, got %s", res.Status)
	}
}

func TestVerifyEmptySignal(t *testing.T) {
	page := enginetest.NewPage()
	page.Kill()
	s := engine.NewSessionForPage(page)

	res := engine.NewVerifier(time.Millisecond).Verify(context.Background(), s, engine.Signal{}, time.Millisecond)
	if res.Status != engine.VerifyConfirmed || res.Polls != 0 {
		t.Errorf("expected confirmation without polling, got %+v", res)
	}
}
