package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Agent.ConfidenceThreshold != 0.55 {
		t.Fatalf("threshold = %v", cfg.Agent.ConfidenceThreshold)
	}
	if cfg.Agent.ContextTTL != 15*time.Minute {
		t.Fatalf("context ttl = %v", cfg.Agent.ContextTTL)
	}
	if len(cfg.Apps) == 0 {
		t.Fatal("no default app aliases")
	}
}

func TestLoadAppliesYAMLOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
agent:
  model: qwen2:7b
  confidence_threshold: 0.7
gateway:
  port: 9001
paths:
  whitelist:
    - ` + dir + `
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Model != "qwen2:7b" {
		t.Fatalf("model = %q", cfg.Agent.Model)
	}
	if cfg.Agent.ConfidenceThreshold != 0.7 {
		t.Fatalf("threshold = %v", cfg.Agent.ConfidenceThreshold)
	}
	if cfg.Gateway.Port != 9001 {
		t.Fatalf("port = %d", cfg.Gateway.Port)
	}
	if len(cfg.Paths.Whitelist) != 1 || cfg.Paths.Whitelist[0] != dir {
		t.Fatalf("whitelist = %v", cfg.Paths.Whitelist)
	}
	// Untouched sections keep their defaults.
	if cfg.Web.SearchURL == "" || cfg.Sandbox.Timeout <= 0 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  model: qwen2:7b\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DESKMATE_MODEL", "llama3.1:8b")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Model != "llama3.1:8b" {
		t.Fatalf("model = %q, env override lost", cfg.Agent.Model)
	}
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  confidence_threshold: 1.5\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("out-of-range threshold accepted")
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing explicit config accepted")
	}
}
