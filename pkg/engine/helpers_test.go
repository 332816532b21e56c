package engine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/catalog"
	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/engine/enginetest"
)

const testLink = "https://calculator.aws/#/estimate?id=5eed"

var calc = catalog.DefaultCalculator()

func fastPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Multiplier:    2,
		Jitter:        0.25,
		ActionTimeout: time.Second,
		VerifyTimeout: 20 * time.Millisecond,
	}
}

func sessionConfig() engine.SessionConfig {
	return engine.SessionConfig{
		StartURL:      calc.AddServiceURL(),
		ReadySelector: calc.ReadySelector(),
		OpenAttempts:  2,
		OpenBackoff:   time.Millisecond,
		OpenTimeout:   time.Second,
		ProbeTimeout:  50 * time.Millisecond,
	}
}

// calculatorPage prepares a fake page that behaves like the calculator for
// the happy path: the summary button moves to the estimate page and the
// share dialog shows a link.
func calculatorPage(p *enginetest.Page) {
	p.Set(catalog.PublicLinkSelector, testLink)
	p.OnCall = func(p *enginetest.Page, c enginetest.Call) {
		if c.Op == "click" && strings.Contains(c.Selector, "View summary") {
			p.SetLocation(calc.EstimateURL())
		}
	}
}

// hookMonitor records events and lets a test react to them synchronously.
type hookMonitor struct {
	*enginetest.Monitor
	hook func(engine.Event)
}

func (m *hookMonitor) Record(ev engine.Event) {
	m.Monitor.Record(ev)
	if m.hook != nil {
		m.hook(ev)
	}
}

type harness struct {
	launcher *enginetest.Launcher
	monitor  *hookMonitor
	orch     *engine.Orchestrator
}

func newHarness(t *testing.T, setup func(p *enginetest.Page), tweak func(c *engine.OrchestratorConfig)) *harness {
	t.Helper()
	h := &harness{
		launcher: enginetest.NewLauncher(func(p *enginetest.Page) {
			calculatorPage(p)
			if setup != nil {
				setup(p)
			}
		}),
		monitor: &hookMonitor{Monitor: &enginetest.Monitor{}},
	}

	cfg := engine.OrchestratorConfig{
		Retry:          fastPolicy(),
		ServiceTimeout: 2 * time.Second,
		RunTimeout:     10 * time.Second,
		RecoveryBudget: 2,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	logger := zerolog.Nop()
	orch, err := engine.NewOrchestrator(engine.Components{
		Sessions:      engine.NewSessionManager(h.launcher, sessionConfig(), h.monitor, logger),
		Executor:      engine.NewExecutor(engine.NewVerifier(time.Millisecond), h.monitor, logger),
		Configurators: catalog.New(calc),
		Links:         catalog.NewLinkGenerator(),
		Monitor:       h.monitor,
	}, cfg, logger)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) assertClosedOnce(t *testing.T) {
	t.Helper()
	for i, p := range h.launcher.Pages() {
		if p.Closes() != 1 {
			t.Errorf("page %d closed %d times, expected exactly once", i, p.Closes())
		}
	}
}
