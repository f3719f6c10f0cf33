// Package config assembles runtime configuration for the bridge runtime:
// a Config struct built from defaults, an optional YAML file, and then
// functional Options applied on top. Environment variables are not read.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the runtime's components read at startup.
// Individual components (breaker, plan, stream, ...) narrow this down to
// the fields they need rather than taking the whole struct.
type Config struct {
	AppName string `yaml:"app_name"`
	AppRoot string `yaml:"app_root"`

	PrimaryWebhookURL string `yaml:"primary_webhook_url"`
	StreamingURL      string `yaml:"streaming_url"`

	SessionWindowTurns int `yaml:"session_window_turns"`

	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`

	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitSuccessThreshold int           `yaml:"circuit_success_threshold"`
	CircuitCooldown         time.Duration `yaml:"circuit_cooldown"`

	SnapshotRetention int `yaml:"snapshot_retention"`

	BudgetMonthlyLimit float64 `yaml:"budget_monthly_limit"`
	BudgetWarningRatio float64 `yaml:"budget_warning_ratio"`
	BudgetCriticalRatio float64 `yaml:"budget_critical_ratio"`

	DeliverablesDir string `yaml:"deliverables_dir"`

	RedisURL string `yaml:"redis_url"`

	OTELEndpoint string `yaml:"otel_endpoint"`
}

// Option mutates a Config during construction.
type Option func(*Config) error

// Default returns a Config with sane defaults: a 5-turn session window,
// 3 retries, a circuit breaker with failure_threshold=5, cooldown=300s,
// success_threshold=2, and a snapshot retention of 10.
func Default() *Config {
	return &Config{
		AppName:                 "alpha-bridge",
		AppRoot:                 ".",
		SessionWindowTurns:      5,
		RetryAttempts:           3,
		RetryBackoff:            3 * time.Second,
		CircuitFailureThreshold: 5,
		CircuitSuccessThreshold: 2,
		CircuitCooldown:         300 * time.Second,
		SnapshotRetention:       10,
		BudgetMonthlyLimit:      10000,
		BudgetWarningRatio:      0.70,
		BudgetCriticalRatio:     0.90,
		DeliverablesDir:         "deliverables",
	}
}

// New builds a Config from defaults, an optional YAML file, then options,
// in that order, so options always win (used mainly by tests to override
// individual fields without a file).
func New(yamlPath string, opts ...Option) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if err := loadYAML(yamlPath, cfg); err != nil {
			return nil, err
		}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying config option: %w", err)
		}
	}

	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// WithAppRoot sets the directory the file-tree tool and deliverables
// directory are anchored under.
func WithAppRoot(root string) Option {
	return func(c *Config) error {
		if root == "" {
			return fmt.Errorf("app root must not be empty")
		}
		c.AppRoot = root
		return nil
	}
}

// WithPrimaryWebhookURL sets the LLM webhook the dispatcher calls.
func WithPrimaryWebhookURL(url string) Option {
	return func(c *Config) error {
		c.PrimaryWebhookURL = url
		return nil
	}
}

// WithSessionWindow sets the session memory's window size, in turns.
func WithSessionWindow(turns int) Option {
	return func(c *Config) error {
		if turns <= 0 {
			return fmt.Errorf("session window must be positive, got %d", turns)
		}
		c.SessionWindowTurns = turns
		return nil
	}
}

// WithRedisURL enables a remote-backed session store / agent registry.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}
