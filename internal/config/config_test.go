package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromPath("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Sweeper.Schedule != "@every 10m" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.Sweeper.Schedule)
	}
	if cfg.RateLimit.RequestsPerSecond != 25 || cfg.RateLimit.Burst != 50 {
		t.Fatalf("rate limit defaults wrong: %+v", cfg.RateLimit)
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  port: 9090\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090 from yaml, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("expected default host, got %q", cfg.Server.Host)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MADLAB_PORT", "7070")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("environment should win over yaml, got %d", cfg.Server.Port)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected port validation error")
	}
}

func TestValidateRequiresSweepSchedule(t *testing.T) {
	cfg := Default()
	cfg.Sweeper.Schedule = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected schedule validation error")
	}
	cfg.Sweeper.Disabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled sweeper needs no schedule: %v", err)
	}
}

func TestStaticTokens(t *testing.T) {
	a := AuthConfig{Tokens: []string{"ci:token-1", "bare-token", " : "}}
	tokens := a.StaticTokens()

	if tokens["token-1"] != "ci" {
		t.Fatalf("named token not parsed: %v", tokens)
	}
	if tokens["bare-token"] != "service" {
		t.Fatalf("bare token should default to service: %v", tokens)
	}
	if len(tokens) != 2 {
		t.Fatalf("blank entries must be dropped: %v", tokens)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromPath("/does/not/exist.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
