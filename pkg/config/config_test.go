package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.Session.StartURL != "https://calculator.aws/#/addService" {
		t.Errorf("unexpected start url %s", cfg.Engine.Session.StartURL)
	}
	if cfg.Engine.Session.ReadySelector == "" {
		t.Error("expected ready selector derived from the calculator")
	}
	if cfg.Engine.Orchestrator.ServiceTimeouts[engine.KindNetwork] != 100*time.Second {
		t.Error("expected the network service timeout override")
	}
	if !cfg.Policy.Enabled || len(cfg.Policy.Disable) != 0 {
		t.Errorf("expected all guardrails enabled, got %+v", cfg.Policy)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
calculator:
  base_url: https://calc.example.com/
  region: eu-west-1
browser:
  headless: false
engine:
  orchestrator:
    retry:
      max_attempts: 5
    service_timeouts:
      Database: 3m
  pacing:
    actions_per_second: 0
batch:
  parallel: 4
store:
  enabled: false
policy:
  disable: [single-region]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Calculator.Region != "eu-west-1" {
		t.Errorf("region not applied: %s", cfg.Calculator.Region)
	}
	if cfg.Engine.Session.StartURL != "https://calc.example.com/#/addService" {
		t.Errorf("start url should follow the calculator, got %s", cfg.Engine.Session.StartURL)
	}
	if len(cfg.Policy.Disable) != 1 || !cfg.Policy.Enabled {
		t.Errorf("policy overlay not applied: %+v", cfg.Policy)
	}
	if cfg.Browser.Headless {
		t.Error("headless not overridden")
	}
	if cfg.Browser.SettleTimeout != 10*time.Second {
		t.Error("unset browser fields should keep their defaults")
	}
	retry := cfg.Engine.Orchestrator.Retry
	if retry.MaxAttempts != 5 || retry.BaseDelay != engine.DefaultRetryPolicy().BaseDelay {
		t.Errorf("unexpected retry policy %+v", retry)
	}
	timeouts := cfg.Engine.Orchestrator.ServiceTimeouts
	if timeouts[engine.KindDatabase] != 3*time.Minute || timeouts[engine.KindNetwork] != 100*time.Second {
		t.Errorf("service timeouts not merged: %v", timeouts)
	}
	if cfg.Batch.Parallel != 4 || cfg.Store.Enabled {
		t.Errorf("unexpected batch/store: %+v %+v", cfg.Batch, cfg.Store)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "engine:\n  turbo: true\n"},
		{"bad url", "calculator:\n  base_url: not a url\n"},
		{"unknown kind timeout", "engine:\n  orchestrator:\n    service_timeouts:\n      Lambda: 10s\n"},
		{"zero attempts", "engine:\n  orchestrator:\n    retry:\n      max_attempts: 0\n"},
		{"too parallel", "batch:\n  parallel: 100\n"},
		{"pacing without burst", "engine:\n  pacing:\n    actions_per_second: 3\n    burst: 0\n"},
		{"watch without dir", "templates:\n  watch: true\n"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n"},
		{"store without path", "store:\n  enabled: true\n  path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.yaml)); err == nil {
				t.Errorf("expected %s to be rejected", tt.name)
			}
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Batch.Parallel != Default().Batch.Parallel {
		t.Error("empty document should yield the defaults")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calcpilot.yaml")
	if err := os.WriteFile(path, []byte("batch:\n  parallel: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Batch.Parallel != 3 {
		t.Errorf("expected parallel 3, got %d", cfg.Batch.Parallel)
	}

	t.Setenv(EnvConfigPath, path)
	cfg, err = Load("")
	if err != nil || cfg.Batch.Parallel != 3 {
		t.Errorf("expected $%s to be used, got %v %v", EnvConfigPath, cfg, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected missing file to fail")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Templates.Dir = "/etc/calcpilot/templates"

	data, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "verify_interval: 250ms") {
		t.Errorf("expected durations rendered as strings:\n%s", data)
	}

	back, err := Parse(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("rendered config does not parse: %v", err)
	}
	if back.Templates.Dir != cfg.Templates.Dir {
		t.Errorf("templates dir lost: %q", back.Templates.Dir)
	}
}
