package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/engine/enginetest"
)

func testRunner() engine.ActionRunner {
	exec := engine.NewExecutor(engine.NewVerifier(time.Millisecond), nil, zerolog.Nop())
	return exec.Runner(engine.RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Multiplier:    2,
		ActionTimeout: time.Second,
		VerifyTimeout: 20 * time.Millisecond,
	}, engine.Scope{RunID: "test"})
}

func TestNewCoversEveryKind(t *testing.T) {
	seen := make(map[engine.ServiceKind]bool)
	for _, c := range New(DefaultCalculator()) {
		if seen[c.Kind()] {
			t.Errorf("duplicate configurator for %s", c.Kind())
		}
		seen[c.Kind()] = true
	}
	for _, kind := range engine.AllKinds() {
		if !seen[kind] {
			t.Errorf("missing configurator for %s", kind)
		}
	}
}

func TestComputeRequiresInstanceType(t *testing.T) {
	c := NewCompute(DefaultCalculator())
	err := c.Validate(engine.ServiceRequest{ID: "c1", Kind: engine.KindCompute, Parameters: map[string]string{"quantity": "2"}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !engine.IsValidation(err) {
		t.Errorf("expected validation class, got %v", engine.ClassOf(err))
	}
	if !strings.Contains(err.Error(), "instance_type") {
		t.Errorf("expected error to name instance_type, got %q", err.Error())
	}
}

func TestResolveBackfillsDefaults(t *testing.T) {
	c := NewCompute(DefaultCalculator())
	values, filled, err := c.resolve(engine.ServiceRequest{
		ID:         "c1",
		Kind:       engine.KindCompute,
		Parameters: map[string]string{"instance_type": "t3.medium"},
		Defaults:   map[string]string{"storage_size": "30"},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	tests := []struct {
		field  string
		value  string
		filled bool
	}{
		{"instance_type", "t3.medium", false},
		{"quantity", "1", true},
		{"operating_system", "Linux", true},
		{"storage_size", "30", true},
		{"region", DefaultRegion, true},
	}
	for _, tt := range tests {
		if values[tt.field] != tt.value {
			t.Errorf("%s: expected %q, got %q", tt.field, tt.value, values[tt.field])
		}
		_, ok := filled[tt.field]
		if ok != tt.filled {
			t.Errorf("%s: expected filled=%v, got %v", tt.field, tt.filled, ok)
		}
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{"non-numeric quantity", map[string]string{"instance_type": "t3.medium", "quantity": "two"}, "quantity"},
		{"zero quantity", map[string]string{"instance_type": "t3.medium", "quantity": "0"}, "quantity"},
		{"unknown parameter", map[string]string{"instance_type": "t3.medium", "gpu": "1"}, "gpu"},
		{"malformed instance type", map[string]string{"instance_type": "big"}, "instance_type"},
	}
	c := NewCompute(DefaultCalculator())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Validate(engine.ServiceRequest{ID: "c1", Kind: engine.KindCompute, Parameters: tt.params})
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestDatabaseEngineSelectsService(t *testing.T) {
	d := NewDatabase(DefaultCalculator())
	steps, err := d.Procedure(engine.ServiceRequest{ID: "d1", Kind: engine.KindDatabase, Parameters: map[string]string{"engine": "PostgreSQL"}})
	if err != nil {
		t.Fatalf("procedure failed: %v", err)
	}
	if steps[1].Value != "Amazon RDS for PostgreSQL" {
		t.Errorf("expected PostgreSQL search, got %q", steps[1].Value)
	}
	for _, s := range steps {
		if s.Name == "set engine" {
			t.Error("engine must not be entered as a form field")
		}
	}

	if err := d.Validate(engine.ServiceRequest{ID: "d2", Kind: engine.KindDatabase, Parameters: map[string]string{"engine": "db2"}}); err == nil {
		t.Error("expected unsupported engine to be rejected")
	}
}

func TestConfigureAddsService(t *testing.T) {
	page := enginetest.NewPage()
	s := engine.NewSessionForPage(page)
	c := NewCompute(DefaultCalculator())

	result := c.Configure(context.Background(), testRunner(), s, engine.ServiceRequest{
		ID:         "c1",
		Kind:       engine.KindCompute,
		Parameters: map[string]string{"instance_type": "t3.medium", "quantity": "2"},
	})

	if result.Status != engine.ResultAdded {
		t.Fatalf("expected added, got %s (%s)", result.Status, result.ErrorDetail)
	}
	if page.Value(`[aria-label="Number of instances"]`) != "2" {
		t.Errorf("expected quantity 2 in form, got %q", page.Value(`[aria-label="Number of instances"]`))
	}
	if page.CountCalls("click", saveSelector) != 1 {
		t.Errorf("expected one save click, got %d", page.CountCalls("click", saveSelector))
	}
	if result.AutoFilledFields["operating_system"] != "Linux" {
		t.Errorf("expected operating_system auto-filled, got %v", result.AutoFilledFields)
	}
}

func TestConfigureSkippedNeverTouchesUI(t *testing.T) {
	page := enginetest.NewPage()
	s := engine.NewSessionForPage(page)

	result := NewCompute(DefaultCalculator()).Configure(context.Background(), testRunner(), s, engine.ServiceRequest{
		ID:   "c1",
		Kind: engine.KindCompute,
	})

	if result.Status != engine.ResultSkipped {
		t.Fatalf("expected skipped, got %s", result.Status)
	}
	if len(page.Calls()) != 0 {
		t.Errorf("expected no UI calls, got %v", page.Calls())
	}
}

func TestConfigurePartialFailureKeepsEarlierFields(t *testing.T) {
	page := enginetest.NewPage()
	amount := `[aria-label="Storage amount"]`
	page.Hide(amount)
	s := engine.NewSessionForPage(page)

	result := NewStorage(DefaultCalculator()).Configure(context.Background(), testRunner(), s, engine.ServiceRequest{
		ID:   "s1",
		Kind: engine.KindStorage,
	})

	if result.Status != engine.ResultFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ErrorClass != engine.ErrorClassStructural {
		t.Errorf("expected structural failure, got %s", result.ErrorClass)
	}
	if page.CountCalls("fill", amount) != 1 {
		t.Errorf("structural failure must not be retried, got %d fills", page.CountCalls("fill", amount))
	}
	if page.Value(`[aria-label="Choose a Region"]`) != DefaultRegion {
		t.Error("expected region set before the failing field to stay set")
	}
	if page.CountCalls("click", saveSelector) != 0 {
		t.Error("service must not be saved after a field failure")
	}
}

func TestLinkGenerator(t *testing.T) {
	page := enginetest.NewPage()
	page.SetLocation("https://calculator.aws/#/estimate")
	page.Set(PublicLinkSelector, "https://calculator.aws/#/estimate?id=0a1b2c")
	page.OnCall = func(p *enginetest.Page, c enginetest.Call) {
		if c.Op == "select" && c.Value == SavingsPlanOption {
			p.Set(PublicLinkSelector, "calculator.aws/#/estimate?id=ffee99")
		}
	}
	s := engine.NewSessionForPage(page)

	links, err := NewLinkGenerator().Generate(context.Background(), testRunner(), s)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if links.OnDemand == nil || *links.OnDemand != "https://calculator.aws/#/estimate?id=0a1b2c" {
		t.Errorf("unexpected on-demand link: %v", links.OnDemand)
	}
	if links.SavingsPlan == nil || *links.SavingsPlan != "https://calculator.aws/#/estimate?id=ffee99" {
		t.Errorf("unexpected savings-plan link: %v", links.SavingsPlan)
	}
}

func TestLinkGeneratorWithoutLink(t *testing.T) {
	page := enginetest.NewPage()
	page.SetLocation("https://calculator.aws/#/estimate")
	s := engine.NewSessionForPage(page)

	links, err := NewLinkGenerator().Generate(context.Background(), testRunner(), s)
	if err == nil {
		t.Fatal("expected error when no link is shown")
	}
	if links.Any() {
		t.Errorf("expected no links, got %+v", links)
	}
}
