package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/calcpilot/calcpilot/pkg/catalog"
	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/stores"
	"github.com/calcpilot/calcpilot/pkg/telemetry"
	"github.com/calcpilot/calcpilot/pkg/transports/browser"
)

// EnvConfigPath names the environment variable consulted when no config
// file is given explicitly.
const EnvConfigPath = "CALCPILOT_CONFIG"

// Config is the complete calcpilot configuration.
type Config struct {
	Calculator catalog.Calculator `yaml:"calculator"`
	Browser    browser.Config     `yaml:"browser"`
	Engine     EngineConfig       `yaml:"engine"`
	Batch      BatchConfig        `yaml:"batch"`
	Telemetry  telemetry.Config   `yaml:"telemetry"`
	Store      StoreConfig        `yaml:"store"`
	Templates  TemplatesConfig    `yaml:"templates"`
	Policy     PolicyConfig       `yaml:"policy"`
}

// EngineConfig configures sessions, retries and pacing of UI actions.
type EngineConfig struct {
	Session      engine.SessionConfig      `yaml:"session"`
	Orchestrator engine.OrchestratorConfig `yaml:"orchestrator"`
	Pacing       PacingConfig              `yaml:"pacing"`

	// VerifyInterval is the delay between verification polls.
	VerifyInterval time.Duration `yaml:"verify_interval" validate:"gte=0"`
}

// PacingConfig limits how fast actions hit the page. A zero rate disables
// pacing.
type PacingConfig struct {
	ActionsPerSecond float64 `yaml:"actions_per_second" validate:"gte=0"`
	Burst            int     `yaml:"burst" validate:"gte=0"`
}

// BatchConfig configures multi-file runs.
type BatchConfig struct {
	// Parallel is the number of estimations run at once, one browser each.
	Parallel int `yaml:"parallel" validate:"gte=1,lte=16"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Enabled       bool `yaml:"enabled"`
	stores.Config `yaml:",inline"`
}

// TemplatesConfig configures where user templates are loaded from.
type TemplatesConfig struct {
	// Dir holds additional *.yaml template files. Empty means built-ins only.
	Dir string `yaml:"dir"`

	// Watch reloads templates from Dir when files change.
	Watch bool `yaml:"watch"`
}

// PolicyConfig configures the request guardrails checked before a run.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir holds additional *.rego policies. A file named like a built-in
	// replaces it.
	Dir string `yaml:"dir"`

	// Disable lists policies that are loaded but not evaluated.
	Disable []string `yaml:"disable"`
}

// DefaultStorePath returns the default history database location.
func DefaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return filepath.Join(".calcpilot", "history.db")
	}
	return filepath.Join(dir, "calcpilot", "history.db")
}

func defaults() *Config {
	return &Config{
		Calculator: catalog.DefaultCalculator(),
		Browser:    browser.DefaultConfig(),
		Engine: EngineConfig{
			Session: engine.SessionConfig{
				OpenAttempts: 2,
				OpenBackoff:  2 * time.Second,
				OpenTimeout:  60 * time.Second,
				ProbeTimeout: 5 * time.Second,
			},
			Orchestrator:   engine.DefaultOrchestratorConfig(),
			Pacing:         PacingConfig{ActionsPerSecond: 4, Burst: 2},
			VerifyInterval: 250 * time.Millisecond,
		},
		Batch:     BatchConfig{Parallel: 2},
		Telemetry: *telemetry.DefaultConfig(),
		Store: StoreConfig{
			Enabled: true,
			Config:  stores.Config{Path: DefaultStorePath()},
		},
		Policy: PolicyConfig{Enabled: true},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaults()
	cfg.finalize()
	return cfg
}

// finalize derives the settings that follow from others unless they were
// set explicitly.
func (c *Config) finalize() {
	if c.Engine.Session.StartURL == "" {
		c.Engine.Session.StartURL = c.Calculator.AddServiceURL()
	}
	if c.Engine.Session.ReadySelector == "" {
		c.Engine.Session.ReadySelector = c.Calculator.ReadySelector()
	}
}

// Load reads the configuration at path on top of the defaults. An empty path
// falls back to $CALCPILOT_CONFIG and then to the defaults alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := defaults()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("invalid browser config: %w", err)
	}
	if err := c.validateEngine(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("invalid store config: path is required when the store is enabled")
	}
	if c.Templates.Watch && c.Templates.Dir == "" {
		return fmt.Errorf("invalid templates config: watch requires a directory")
	}
	return nil
}

func (c *Config) validateEngine() error {
	s := c.Engine.Session
	if s.StartURL == "" {
		return fmt.Errorf("session start url is required")
	}
	if s.OpenAttempts < 1 {
		return fmt.Errorf("session open attempts must be at least 1")
	}
	if s.OpenTimeout <= 0 || s.ProbeTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}

	o := c.Engine.Orchestrator
	if err := o.Retry.Validate(); err != nil {
		return err
	}
	if o.ServiceTimeout <= 0 {
		return fmt.Errorf("service timeout must be positive")
	}
	for kind, d := range o.ServiceTimeouts {
		if err := kind.Validate(); err != nil {
			return fmt.Errorf("service timeouts: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("service timeout for %s must be positive", kind)
		}
	}
	if o.RunTimeout < 0 {
		return fmt.Errorf("run timeout must not be negative")
	}
	if o.RecoveryBudget < 0 {
		return fmt.Errorf("recovery budget must not be negative")
	}
	if c.Engine.Pacing.ActionsPerSecond > 0 && c.Engine.Pacing.Burst < 1 {
		return fmt.Errorf("pacing burst must be at least 1")
	}
	return nil
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
