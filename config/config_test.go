package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultMatchesSpecTable(t *testing.T) {
	cfg := Default()

	if cfg.KeepaliveInterval != 30*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 30s", cfg.KeepaliveInterval)
	}
	if cfg.KeepaliveTimeout != 60*time.Second {
		t.Errorf("KeepaliveTimeout = %v, want 60s", cfg.KeepaliveTimeout)
	}
	if cfg.AcceptKeepaliveTimeout != 60*time.Second {
		t.Errorf("AcceptKeepaliveTimeout = %v, want 60s", cfg.AcceptKeepaliveTimeout)
	}
	if cfg.ActionTimeout != 10*time.Second {
		t.Errorf("ActionTimeout = %v, want 10s", cfg.ActionTimeout)
	}
	if cfg.LogLevel != LogWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "duplex.toml")
	body := "keepalive_interval = \"15s\"\nlog_level = \"debug\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.KeepaliveInterval != 15*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 15s", cfg.KeepaliveInterval)
	}
	if cfg.LogLevel != LogDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.ActionTimeout != Default().ActionTimeout {
		t.Errorf("ActionTimeout = %v, want untouched default %v", cfg.ActionTimeout, Default().ActionTimeout)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "duplex.toml")
	if err := os.WriteFile(path, []byte("action_timeout = \"soon\"\n"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
