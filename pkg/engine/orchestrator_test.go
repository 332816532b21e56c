package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/calcpilot/calcpilot/pkg/catalog"
	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/engine/enginetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func network() engine.ServiceRequest {
	return engine.ServiceRequest{ID: "vpc", Kind: engine.KindNetwork, Origin: engine.OriginTemplateDefault}
}

func compute(params map[string]string) engine.ServiceRequest {
	return engine.ServiceRequest{ID: "web", Kind: engine.KindCompute, Parameters: params, Origin: engine.OriginUserSupplied}
}

func storage() engine.ServiceRequest {
	return engine.ServiceRequest{ID: "bucket", Kind: engine.KindStorage}
}

func TestRunNetworkAndCompute(t *testing.T) {
	h := newHarness(t, nil, nil)

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{
		compute(map[string]string{"instance_type": "t3.medium", "quantity": "2"}),
		network(),
	})

	if report.Status != engine.StatusSuccess {
		t.Fatalf("expected success, got %s (error=%q, results=%+v)", report.Status, report.Error, report.Results)
	}
	if diff := cmp.Diff([]engine.ServiceKind{engine.KindCompute, engine.KindNetwork}, report.ServicesAdded); diff != "" {
		t.Errorf("services_added mismatch (-want +got):\n%s", diff)
	}
	if report.EstimateLinks.OnDemand == nil || *report.EstimateLinks.OnDemand != testLink {
		t.Errorf("expected on-demand link, got %v", report.EstimateLinks.OnDemand)
	}
	if report.Summary != (engine.ReportSummary{TotalServices: 2, Successful: 2, Failed: 0}) {
		t.Errorf("unexpected summary %+v", report.Summary)
	}

	// network is configured before compute even though it was listed second
	var started []string
	for _, ev := range h.monitor.Events(engine.EventServiceStarted) {
		started = append(started, ev.RequestID)
	}
	if diff := cmp.Diff([]string{"vpc", "web"}, started); diff != "" {
		t.Errorf("configuration order mismatch (-want +got):\n%s", diff)
	}

	wantStates := []engine.RunState{
		engine.RunStateValidating,
		engine.RunStateSessionAcquired,
		engine.RunStateConfiguringServices,
		engine.RunStateLinkGeneration,
		engine.RunStateReporting,
		engine.RunStateDone,
	}
	if diff := cmp.Diff(wantStates, h.monitor.States()); diff != "" {
		t.Errorf("state sequence mismatch (-want +got):\n%s", diff)
	}
	if len(h.launcher.Pages()) != 1 {
		t.Errorf("expected one session, got %d", len(h.launcher.Pages()))
	}
	h.assertClosedOnce(t)
}

func TestRunMissingRequiredFieldOpensNoSession(t *testing.T) {
	h := newHarness(t, nil, nil)

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{
		compute(map[string]string{"quantity": "2"}),
	})

	if report.Status != engine.StatusFailure {
		t.Errorf("expected failure, got %s", report.Status)
	}
	if diff := cmp.Diff([]engine.ServiceKind{engine.KindCompute}, report.ServicesFailed); diff != "" {
		t.Errorf("services_failed mismatch (-want +got):\n%s", diff)
	}
	if report.Results[0].Status != engine.ResultSkipped {
		t.Errorf("expected skipped, got %s", report.Results[0].Status)
	}
	if !strings.Contains(report.Results[0].ErrorDetail, "instance_type") {
		t.Errorf("expected detail to name the missing field, got %q", report.Results[0].ErrorDetail)
	}
	if len(h.launcher.Pages()) != 0 {
		t.Error("no session may be opened when nothing is valid")
	}
}

func TestRunFieldTimeoutFailsServiceAndClosesSession(t *testing.T) {
	req := engine.ServiceRequest{ID: "db", Kind: engine.KindDatabase, Parameters: map[string]string{"engine": "postgresql"}}
	steps, err := catalog.NewDatabase(calc).Procedure(req)
	if err != nil {
		t.Fatalf("procedure failed: %v", err)
	}
	var fills []string
	for _, s := range steps {
		if s.Operation == engine.OpFill {
			fills = append(fills, s.Target)
		}
	}
	third := fills[2]

	h := newHarness(t, func(p *enginetest.Page) {
		p.Fail("fill", third, enginetest.ErrTimeout, -1)
	}, nil)

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{req})

	if report.Status != engine.StatusFailure {
		t.Errorf("expected failure, got %s", report.Status)
	}
	res := report.Results[0]
	if res.Status != engine.ResultFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.ErrorClass != engine.ErrorClassTransient {
		t.Errorf("expected transient classification, got %s", res.ErrorClass)
	}
	if !strings.Contains(res.ErrorDetail, "3 attempt(s)") {
		t.Errorf("expected detail to report 3 attempts, got %q", res.ErrorDetail)
	}
	if n := h.launcher.Pages()[0].CountCalls("fill", third); n != 3 {
		t.Errorf("expected 3 fill attempts, got %d", n)
	}
	if report.EstimateLinks.Any() {
		t.Error("no links may be generated when nothing was added")
	}
	h.assertClosedOnce(t)
}

func TestRunRecoversDeadSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.monitor.hook = func(ev engine.Event) {
		if ev.Type == engine.EventServiceCompleted && ev.Kind == engine.KindNetwork {
			h.launcher.Pages()[0].Kill()
		}
	}

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{
		network(),
		compute(map[string]string{"instance_type": "t3.medium"}),
		storage(),
	})

	if report.Status != engine.StatusSuccess {
		t.Fatalf("expected success after recovery, got %s (%+v)", report.Status, report.Results)
	}
	if n := len(h.monitor.Events(engine.EventSessionRecovered)); n != 1 {
		t.Errorf("expected one recovery, got %d", n)
	}
	if n := len(h.launcher.Pages()); n != 2 {
		t.Errorf("expected a replacement session, got %d launches", n)
	}
	h.assertClosedOnce(t)
}

func TestRunRecoveryBudgetExhausted(t *testing.T) {
	h := newHarness(t, nil, func(c *engine.OrchestratorConfig) { c.RecoveryBudget = 0 })
	h.monitor.hook = func(ev engine.Event) {
		if ev.Type == engine.EventServiceCompleted && ev.Kind == engine.KindNetwork {
			h.launcher.Pages()[0].Kill()
		}
	}

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{network(), storage()})

	if report.Status != engine.StatusFailure {
		t.Errorf("aborted runs report failure, got %s", report.Status)
	}
	if report.Results[1].Status != engine.ResultSkipped {
		t.Errorf("expected storage skipped, got %s", report.Results[1].Status)
	}
	if !strings.Contains(report.Error, "recovery budget") {
		t.Errorf("expected recovery error, got %q", report.Error)
	}
	if h.monitor.States()[len(h.monitor.States())-1] != engine.RunStateAborted {
		t.Errorf("expected aborted, got %v", h.monitor.States())
	}
	h.assertClosedOnce(t)
}

func TestRunContinuesPastFailedService(t *testing.T) {
	h := newHarness(t, func(p *enginetest.Page) {
		p.Hide(`[aria-label="Search instance type"]`)
	}, nil)

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{
		network(),
		compute(map[string]string{"instance_type": "t3.medium"}),
		storage(),
	})

	if report.Status != engine.StatusPartialSuccess {
		t.Fatalf("expected partial_success, got %s", report.Status)
	}
	want := []engine.ResultStatus{engine.ResultAdded, engine.ResultFailed, engine.ResultAdded}
	for i, res := range report.Results {
		if res.Status != want[i] {
			t.Errorf("result %d (%s): expected %s, got %s", i, res.RequestID, want[i], res.Status)
		}
	}
	if report.EstimateLinks.OnDemand == nil {
		t.Error("expected links when at least one service was added")
	}
}

func TestRunEmptyRequests(t *testing.T) {
	h := newHarness(t, nil, nil)

	report := h.orch.Run(context.Background(), nil)

	if report.Status != engine.StatusFailure || report.Error == "" {
		t.Errorf("expected failure with error, got %s %q", report.Status, report.Error)
	}
	if len(h.launcher.Pages()) != 0 {
		t.Error("no session may be opened")
	}
	if diff := cmp.Diff([]engine.RunState{engine.RunStateValidating, engine.RunStateAborted}, h.monitor.States()); diff != "" {
		t.Errorf("state sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRunUnknownKindRejectsRun(t *testing.T) {
	h := newHarness(t, nil, nil)

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{
		network(),
		{ID: "fn", Kind: engine.ServiceKind("Lambda")},
	})

	if report.Status != engine.StatusFailure {
		t.Errorf("expected failure, got %s", report.Status)
	}
	if report.Summary.Failed != 2 || len(report.Results) != 2 {
		t.Errorf("every request needs a failed result, got %+v", report.Summary)
	}
	if len(h.launcher.Pages()) != 0 {
		t.Error("no session may be opened")
	}
}

func TestRunSessionOpenFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.launcher.FailLaunches(errors.New("no chrome"), errors.New("no chrome"))

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{network(), storage()})

	if report.Status != engine.StatusFailure {
		t.Errorf("expected failure, got %s", report.Status)
	}
	if !strings.Contains(report.Error, "failed to open session") {
		t.Errorf("expected session error, got %q", report.Error)
	}
	for _, res := range report.Results {
		if res.Status != engine.ResultSkipped {
			t.Errorf("%s: expected skipped, got %s", res.RequestID, res.Status)
		}
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, nil, nil)
	h.monitor.hook = func(ev engine.Event) {
		if ev.Type == engine.EventServiceCompleted && ev.Kind == engine.KindNetwork {
			cancel()
		}
	}

	report := h.orch.Run(ctx, []engine.ServiceRequest{network(), storage()})

	if report.Status != engine.StatusFailure {
		t.Errorf("expected failure, got %s", report.Status)
	}
	if report.Results[0].Status != engine.ResultAdded || report.Results[1].Status != engine.ResultSkipped {
		t.Errorf("expected network added and storage skipped, got %+v", report.Results)
	}
	if !strings.Contains(report.Error, "cancelled") {
		t.Errorf("expected cancellation error, got %q", report.Error)
	}
	h.assertClosedOnce(t)
}

func TestRunCancelFinishesServiceInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, nil, nil)
	h.monitor.hook = func(ev engine.Event) {
		if ev.Type == engine.EventActionAttempt && ev.Kind == engine.KindNetwork {
			cancel()
		}
	}

	report := h.orch.Run(ctx, []engine.ServiceRequest{network(), storage()})

	if got := report.Results[0]; got.Status != engine.ResultAdded {
		t.Errorf("network was in flight when cancelled and must finish, got %s (%s: %s)",
			got.Status, got.ErrorClass, got.ErrorDetail)
	}
	if report.Results[1].Status != engine.ResultSkipped {
		t.Errorf("expected storage skipped, got %s", report.Results[1].Status)
	}
	if !strings.Contains(report.Error, "cancelled") {
		t.Errorf("expected cancellation error, got %q", report.Error)
	}
	h.assertClosedOnce(t)
}

func TestRunCancelledBeforeSessionOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, nil, nil)
	report := h.orch.Run(ctx, []engine.ServiceRequest{network()})

	if report.Status != engine.StatusFailure {
		t.Errorf("expected failure, got %s", report.Status)
	}
	if report.Results[0].Status != engine.ResultSkipped {
		t.Errorf("expected network skipped, got %s", report.Results[0].Status)
	}
}

func TestRunTimeoutAbortsAndCloses(t *testing.T) {
	h := newHarness(t, func(p *enginetest.Page) {
		p.Stale(`[aria-label="Storage amount"]`)
	}, func(c *engine.OrchestratorConfig) {
		c.RunTimeout = 40 * time.Millisecond
	})

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{network(), storage()})

	if report.Status != engine.StatusFailure {
		t.Errorf("expected failure, got %s", report.Status)
	}
	if !strings.Contains(report.Error, "run timeout") {
		t.Errorf("expected run timeout, got %q", report.Error)
	}
	if report.Results[1].Status == engine.ResultAdded {
		t.Error("storage must not be added")
	}
	h.assertClosedOnce(t)
}

func TestRunUnlinkableEstimate(t *testing.T) {
	h := newHarness(t, func(p *enginetest.Page) {
		p.Set(catalog.PublicLinkSelector, "")
	}, nil)

	report := h.orch.Run(context.Background(), []engine.ServiceRequest{network()})

	if report.Status != engine.StatusSuccess {
		t.Errorf("link failure must not change the service outcome, got %s", report.Status)
	}
	if report.LinkError == "" {
		t.Error("expected link error")
	}
	if report.EstimateLinks.Any() {
		t.Errorf("expected null links, got %+v", report.EstimateLinks)
	}
}

func TestNewOrchestratorRequiresEveryKind(t *testing.T) {
	launcher := enginetest.NewLauncher(nil)
	_, err := engine.NewOrchestrator(engine.Components{
		Sessions:      engine.NewSessionManager(launcher, sessionConfig(), nil, zerolog.Nop()),
		Executor:      engine.NewExecutor(nil, nil, zerolog.Nop()),
		Configurators: []engine.Configurator{catalog.NewCompute(calc)},
	}, engine.DefaultOrchestratorConfig(), zerolog.Nop())

	if err == nil || !strings.Contains(err.Error(), "Network") {
		t.Errorf("expected missing configurator error, got %v", err)
	}
}

func TestConcurrentRunsUseSeparateSessions(t *testing.T) {
	h := newHarness(t, nil, nil)

	done := make(chan *engine.Report, 2)
	for i := 0; i < 2; i++ {
		go func() {
			done <- h.orch.Run(context.Background(), []engine.ServiceRequest{network()})
		}()
	}
	for i := 0; i < 2; i++ {
		if r := <-done; r.Status != engine.StatusSuccess {
			t.Errorf("run %d: expected success, got %s", i, r.Status)
		}
	}
	if len(h.launcher.Pages()) != 2 {
		t.Errorf("expected one session per run, got %d", len(h.launcher.Pages()))
	}
	h.assertClosedOnce(t)
}
