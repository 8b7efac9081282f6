// Package config reads process settings from MUDBRIDGE_* environment
// variables. Command-line flags override them.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/mudbridge/internal/bridge"
	"github.com/roach88/mudbridge/internal/replica"
)

// Config holds process settings.
type Config struct {
	DBPath         string        `env:"MUDBRIDGE_DB_PATH"          envDefault:"mudbridge.db"`
	WorldDir       string        `env:"MUDBRIDGE_WORLD"`
	Component      string        `env:"MUDBRIDGE_COMPONENT"        envDefault:"Counter"`
	DevToolsAddr   string        `env:"MUDBRIDGE_DEVTOOLS_ADDR"`
	PollInterval   time.Duration `env:"MUDBRIDGE_POLL_INTERVAL"    envDefault:"100ms"`
	ConfirmTimeout time.Duration `env:"MUDBRIDGE_CONFIRM_TIMEOUT"  envDefault:"10s"`
	LogLevel       string        `env:"MUDBRIDGE_LOG_LEVEL"        envDefault:"info"`
	ErrorPolicy    string        `env:"MUDBRIDGE_HOOK_ERROR_POLICY" envDefault:"continue"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the environment and checks it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Component == "" {
		return errors.New("MUDBRIDGE_COMPONENT must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("MUDBRIDGE_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("MUDBRIDGE_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Policy parses ErrorPolicy.
func (c Config) Policy() (replica.ErrorPolicy, error) {
	p, err := replica.ParseErrorPolicy(c.ErrorPolicy)
	if err != nil {
		return 0, fmt.Errorf("MUDBRIDGE_HOOK_ERROR_POLICY: %w", err)
	}
	return p, nil
}

// BridgeOptions returns the bridge options this config selects.
func (c Config) BridgeOptions() ([]bridge.Option, error) {
	p, err := c.Policy()
	if err != nil {
		return nil, err
	}
	return []bridge.Option{
		bridge.WithComponent(c.Component),
		bridge.WithErrorPolicy(p),
	}, nil
}
