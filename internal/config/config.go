// Package config loads the run configuration from YAML and maps it onto the
// component configs. A missing file yields usable defaults; credentials can
// always be supplied through the environment instead of the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"evalbot/internal/driver/apicall"
	"evalbot/internal/driver/browser"
	"evalbot/internal/match"
	"evalbot/internal/transport"
	"evalbot/internal/traverse"
)

// Mode selects the execution driver.
const (
	ModeBrowser = "browser"
	ModeAPI     = "api"
)

// Config holds the whole run configuration.
type Config struct {
	Mode     string `yaml:"mode"` // browser, api
	BankPath string `yaml:"bank_path"`
	CourseID string `yaml:"course_id"`

	// SkipCompleted pre-scans server-side unit status and skips passed or
	// exhausted units without opening them. Only the direct-call path can
	// pre-scan; the browser path always discovers state on screen.
	SkipCompleted bool `yaml:"skip_completed"`

	// UnitDelayMs paces consecutive unit attempts. Zero means 3000ms.
	UnitDelayMs int `yaml:"unit_delay_ms"`

	Remote    RemoteConfig    `yaml:"remote"`
	Transport TransportConfig `yaml:"transport"`
	Matcher   match.Config    `yaml:"matcher"`
	Traversal traverse.Config `yaml:"traversal"`
	API       apicall.Config  `yaml:"api"`
	Browser   browser.Config  `yaml:"browser"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RemoteConfig carries the assessment service endpoint and credentials.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	SignKey string `yaml:"sign_key"`
}

// TransportConfig is the YAML shape of the resilience settings.
type TransportConfig struct {
	Rate          string `yaml:"rate"` // low, medium, medium_high, high
	MaxRetries    int    `yaml:"max_retries"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	BackoffBaseMs int    `yaml:"backoff_base_ms"`
}

// Build maps the YAML shape onto the transport client config.
func (t TransportConfig) Build() transport.Config {
	return transport.Config{
		Rate:          transport.ParseRateLevel(t.Rate),
		MaxRetries:    t.MaxRetries,
		TimeoutMs:     t.TimeoutMs,
		BackoffBaseMs: t.BackoffBaseMs,
	}
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the defaults a fresh checkout runs with.
func DefaultConfig() *Config {
	return &Config{
		Mode:          ModeBrowser,
		BankPath:      "bank.json",
		SkipCompleted: true,
		Transport: TransportConfig{
			Rate: string(transport.RateMedium),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets credentials stay out of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EVALBOT_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("EVALBOT_SIGN_KEY"); v != "" {
		c.Remote.SignKey = v
	}
	if v := os.Getenv("EVALBOT_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("EVALBOT_DEBUGGER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
}

// Validate checks the mode-dependent requirements before a run starts.
func (c *Config) Validate() error {
	if c.Mode != ModeBrowser && c.Mode != ModeAPI {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.BankPath == "" {
		return fmt.Errorf("bank_path is required")
	}
	if c.Mode == ModeAPI {
		if c.Remote.Token == "" {
			return fmt.Errorf("remote.token is required in api mode (or EVALBOT_TOKEN)")
		}
		if c.Remote.SignKey == "" {
			return fmt.Errorf("remote.sign_key is required in api mode (or EVALBOT_SIGN_KEY)")
		}
		if c.CourseID == "" {
			return fmt.Errorf("course_id is required in api mode")
		}
	}
	return nil
}
