// Package config holds the engine's configuration surface: typed defaults
// matching spec.md §6, and a TOML loader for CLI/service consumers who
// prefer a file over functional options.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel mirrors the logLevel config option's enum.
type LogLevel string

const (
	LogTrace    LogLevel = "trace"
	LogDebug    LogLevel = "debug"
	LogInfo     LogLevel = "info"
	LogWarn     LogLevel = "warn"
	LogError    LogLevel = "error"
	LogDisabled LogLevel = "disabled"
)

// Config is the engine's configuration surface, spec.md §6.
type Config struct {
	KeepaliveInterval      time.Duration
	KeepaliveTimeout       time.Duration
	AcceptKeepaliveTimeout time.Duration
	ActionTimeout          time.Duration
	LogLevel               LogLevel
}

// Default returns the built-in default configuration.
func Default() Config {
	return Config{
		KeepaliveInterval:      30 * time.Second,
		KeepaliveTimeout:       60 * time.Second,
		AcceptKeepaliveTimeout: 60 * time.Second,
		ActionTimeout:          10 * time.Second,
		LogLevel:               LogWarn,
	}
}

// fileConfig is the TOML-facing shape; durations are strings there (e.g.
// "30s") and translated into Config's time.Duration fields.
type fileConfig struct {
	KeepaliveInterval      string `toml:"keepalive_interval"`
	KeepaliveTimeout       string `toml:"keepalive_timeout"`
	AcceptKeepaliveTimeout string `toml:"accept_keepalive_timeout"`
	ActionTimeout          string `toml:"action_timeout"`
	LogLevel               string `toml:"log_level"`
}

// Load reads a TOML config file at path, overlaying any fields present
// onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if fc.KeepaliveInterval != "" {
		if d, err := time.ParseDuration(fc.KeepaliveInterval); err == nil {
			cfg.KeepaliveInterval = d
		} else {
			return Config{}, fmt.Errorf("config: invalid keepalive_interval: %w", err)
		}
	}
	if fc.KeepaliveTimeout != "" {
		if d, err := time.ParseDuration(fc.KeepaliveTimeout); err == nil {
			cfg.KeepaliveTimeout = d
		} else {
			return Config{}, fmt.Errorf("config: invalid keepalive_timeout: %w", err)
		}
	}
	if fc.AcceptKeepaliveTimeout != "" {
		if d, err := time.ParseDuration(fc.AcceptKeepaliveTimeout); err == nil {
			cfg.AcceptKeepaliveTimeout = d
		} else {
			return Config{}, fmt.Errorf("config: invalid accept_keepalive_timeout: %w", err)
		}
	}
	if fc.ActionTimeout != "" {
		if d, err := time.ParseDuration(fc.ActionTimeout); err == nil {
			cfg.ActionTimeout = d
		} else {
			return Config{}, fmt.Errorf("config: invalid action_timeout: %w", err)
		}
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = LogLevel(fc.LogLevel)
	}

	return cfg, nil
}
