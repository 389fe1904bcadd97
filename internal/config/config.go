package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pytheus/watchdog/internal/models"
)

// Config is the full watchdog configuration. It is loaded once at startup;
// nothing reloads it during a run.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	DatabasePath string `yaml:"database_path"`
	BaseURL      string `yaml:"base_url"`
	LogLevel     string `yaml:"log_level"`

	Retry         Retry           `yaml:"retry"`
	Notifications Notifications   `yaml:"notifications"`
	Digest        Digest          `yaml:"digest"`
	AI            AI              `yaml:"ai"`
	Targets       []models.Target `yaml:"targets"`
	DeadmanSwitch []DeadmanSwitch `yaml:"deadman_switches"`
}

// Retry controls the prober's attempt budget and backoff.
type Retry struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	DelaySeconds      float64 `yaml:"delay_seconds"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// Notifications holds per-channel delivery settings.
type Notifications struct {
	Slack    Slack    `yaml:"slack"`
	Telegram Telegram `yaml:"telegram"`
}

type Slack struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type Telegram struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Digest configures the daily status summary.
type Digest struct {
	Hour     int    `yaml:"hour"`
	Minute   int    `yaml:"minute"`
	Timezone string `yaml:"timezone"`
}

// AI configures the optional triage integration. An empty API key disables it.
type AI struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// DeadmanSwitch is the configured shape of a heartbeat contract. Tokens are
// generated at seed time, not configured.
type DeadmanSwitch struct {
	Name             string `yaml:"name"`
	ExpectedInterval int    `yaml:"expected_interval"`
	Severity         string `yaml:"severity"`
}

// DefaultConfig returns sensible defaults for everything a config file may omit.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		DatabasePath: "watchdog.db",
		BaseURL:      "http://localhost:8080",
		LogLevel:     "info",
		Retry: Retry{
			MaxAttempts:       3,
			DelaySeconds:      10,
			BackoffMultiplier: 1.5,
		},
		Digest: Digest{
			Hour:     7,
			Minute:   0,
			Timezone: "UTC",
		},
		AI: AI{
			Model: "claude-sonnet-4-20250514",
		},
	}
}

// Load reads configuration from a yaml file. Environment variable references
// of the form ${VAR} are expanded before parsing so secrets can stay out of
// the file. A missing file falls back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded := os.Expand(string(content), func(key string) string {
		return os.Getenv(key)
	})

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.DelaySeconds <= 0 {
		c.Retry.DelaySeconds = def.Retry.DelaySeconds
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = def.Retry.BackoffMultiplier
	}
	if c.Digest.Timezone == "" {
		c.Digest.Timezone = def.Digest.Timezone
	}
	if c.AI.Model == "" {
		c.AI.Model = def.AI.Model
	}

	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Type == "" {
			t.Type = "http"
		}
		if t.TimeoutSeconds <= 0 {
			t.TimeoutSeconds = 10
		}
		if t.IntervalSecs <= 0 {
			t.IntervalSecs = 60
		}
		if t.ExpectedStatus == 0 {
			t.ExpectedStatus = 200
		}
		if t.Severity == "" {
			t.Severity = models.SeverityWarning
		}
		if len(t.Alerts) == 0 {
			t.Alerts = []string{"slack", "telegram"}
		}
	}

	for i := range c.DeadmanSwitch {
		if c.DeadmanSwitch[i].Severity == "" {
			c.DeadmanSwitch[i].Severity = models.SeverityWarning
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if t.Name == "" {
			return errors.New("target with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true

		switch t.Type {
		case "http":
			if t.URL == "" {
				return fmt.Errorf("target %q: url is required for http targets", t.Name)
			}
		case "ping":
			if t.URL == "" {
				return fmt.Errorf("target %q: host is required for ping targets", t.Name)
			}
		default:
			return fmt.Errorf("target %q: unsupported type %q", t.Name, t.Type)
		}
	}

	for _, s := range c.DeadmanSwitch {
		if s.Name == "" {
			return errors.New("deadman switch with empty name")
		}
		if s.ExpectedInterval <= 0 {
			return fmt.Errorf("deadman switch %q: expected_interval must be positive", s.Name)
		}
	}

	return nil
}
