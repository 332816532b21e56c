package browser

import (
	"fmt"
	"time"
)

// Config holds browser launch configuration.
type Config struct {
	// Headless runs Chrome without a window.
	Headless bool `yaml:"headless"`

	// ExecPath overrides the Chrome binary lookup.
	ExecPath string `yaml:"exec_path"`

	// UserAgent overrides the browser user agent.
	UserAgent string `yaml:"user_agent"`

	WindowWidth  int `yaml:"window_width" validate:"gte=0"`
	WindowHeight int `yaml:"window_height" validate:"gte=0"`

	// NoSandbox disables the Chrome sandbox, needed when running as root
	// inside containers.
	NoSandbox bool `yaml:"no_sandbox"`

	// SettleTimeout bounds how long an interaction waits for its target
	// to render before the target is reported missing.
	SettleTimeout time.Duration `yaml:"settle_timeout" validate:"gte=0"`

	// OptionTimeout bounds how long a dropdown waits for a listed option.
	OptionTimeout time.Duration `yaml:"option_timeout" validate:"gte=0"`
}

// DefaultConfig returns the default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless:      true,
		WindowWidth:   1440,
		WindowHeight:  900,
		SettleTimeout: 10 * time.Second,
		OptionTimeout: 3 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WindowWidth < 0 || c.WindowHeight < 0 {
		return fmt.Errorf("window size must not be negative")
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive")
	}
	if c.OptionTimeout <= 0 {
		return fmt.Errorf("option timeout must be positive")
	}
	return nil
}
