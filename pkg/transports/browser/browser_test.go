package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestSameDocument(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		target   string
		fragment string
		ok       bool
	}{
		{"fragment change", "https://calculator.aws/#/addService", "https://calculator.aws/#/estimate", "/estimate", true},
		{"blank page", "about:blank", "https://calculator.aws/#/addService", "", false},
		{"other host", "https://example.com/#/a", "https://calculator.aws/#/a", "", false},
		{"other path", "https://calculator.aws/a#/x", "https://calculator.aws/b#/y", "", false},
		{"same url reloads", "https://calculator.aws/#/addService", "https://calculator.aws/#/addService", "", false},
		{"no fragment", "https://calculator.aws/#/addService", "https://calculator.aws/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fragment, ok := sameDocument(tt.current, tt.target)
			if ok != tt.ok || fragment != tt.fragment {
				t.Errorf("sameDocument() = %q, %v; want %q, %v", fragment, ok, tt.fragment, tt.ok)
			}
		})
	}
}

func TestScriptsQuoteSelectors(t *testing.T) {
	sel := `[aria-label="Number of instances"]`

	obs := observeScript(sel)
	if !strings.Contains(obs, `document.querySelector("[aria-label=\"Number of instances\"]")`) {
		t.Errorf("selector not quoted as a JS string:\n%s", obs)
	}

	sc := selectScript(sel, `Linux "free"`, 1500*time.Millisecond)
	if !strings.Contains(sc, `"Linux \"free\""`) {
		t.Errorf("option not quoted:\n%s", sc)
	}
	if !strings.HasSuffix(sc, `, 1500)`) {
		t.Errorf("expected timeout in milliseconds:\n%s", sc)
	}
	for _, outcome := range []string{selectOK, selectMissing, selectNoOption} {
		if !strings.Contains(sc, jsString(outcome)) {
			t.Errorf("select script never reports %q", outcome)
		}
	}

	if got := assignHashScript("/estimate"); !strings.Contains(got, `window.location.hash = "/estimate"`) {
		t.Errorf("unexpected hash script %s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.SettleTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected zero settle timeout to fail")
	}
	cfg = DefaultConfig()
	cfg.WindowWidth = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected negative window width to fail")
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	l := NewLauncher(DefaultConfig(), testLogger())
	if got := len(l.allocatorOptions()); got != base+2 {
		t.Errorf("expected headless and window size on top of defaults, got %d extra", got-base)
	}

	cfg := DefaultConfig()
	cfg.ExecPath = "/usr/bin/chromium"
	cfg.UserAgent = "calcpilot"
	cfg.NoSandbox = true
	l = NewLauncher(cfg, testLogger())
	if got := len(l.allocatorOptions()); got != base+5 {
		t.Errorf("expected five extra options, got %d", got-base)
	}
}

func TestClosedPageReportsSessionLost(t *testing.T) {
	tab, cancel := context.WithCancel(context.Background())
	p := &Page{
		tab:         tab,
		tabCancel:   cancel,
		allocCancel: func() {},
		config:      DefaultConfig(),
		logger:      testLogger(),
	}
	p.closed.Store(true)
	cancel()

	if _, err := p.Observe(context.Background(), "body"); !errors.Is(err, engine.ErrSessionLost) {
		t.Errorf("Observe on closed page: expected ErrSessionLost, got %v", err)
	}
	if err := p.Click(context.Background(), "button"); !errors.Is(err, engine.ErrSessionLost) {
		t.Errorf("Click on closed page: expected ErrSessionLost, got %v", err)
	}
	if engine.ClassOf(p.classify(context.Background(), errors.New("boom"))) != engine.ErrorClassSession {
		t.Error("expected failures on a closed page to classify as session errors")
	}
}

func TestLostTarget(t *testing.T) {
	if !lostTarget(chromedp.ErrInvalidContext) {
		t.Error("expected invalid context to mean a lost target")
	}
	if !lostTarget(errors.New("websocket: close 1006")) {
		t.Error("expected websocket failure to mean a lost target")
	}
	if lostTarget(errors.New("node not visible")) {
		t.Error("unexpected lost target")
	}
}
