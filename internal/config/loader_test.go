package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Context.MaxContextTokens != 12000 {
		t.Errorf("maxContextTokens = %d, want default 12000", cfg.Context.MaxContextTokens)
	}
	if cfg.Memory.DedupThreshold != 0.95 {
		t.Errorf("dedupThreshold = %f, want default 0.95", cfg.Memory.DedupThreshold)
	}
}

func TestLoadValidJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"context": {"maxContextTokens": 8000, "summarizeFraction": 0.5},
		"scheduler": {"classes": {"primary": {"concurrency": 1, "maxDepth": 4}}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Context.MaxContextTokens != 8000 || cfg.Context.SummarizeFraction != 0.5 {
		t.Errorf("context overrides not applied: %+v", cfg.Context)
	}
	if cfg.Scheduler.Classes["primary"].MaxDepth != 4 {
		t.Errorf("scheduler override not applied: %+v", cfg.Scheduler.Classes)
	}
	// Untouched sections keep their defaults.
	if cfg.Memory.Capacity != 10000 {
		t.Errorf("memory capacity = %d, want default 10000", cfg.Memory.Capacity)
	}
}

func TestLoadValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "memory:\n  capacity: 500\n  minSimilarity: 0.8\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.Capacity != 500 || cfg.Memory.MinSimilarity != 0.8 {
		t.Errorf("yaml overrides not applied: %+v", cfg.Memory)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, "config.json", "{not json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Context.MaxContextTokens != 12000 {
		t.Errorf("invalid config did not fall back to defaults")
	}
}

func TestEnvCredentialFallback(t *testing.T) {
	t.Setenv("HALCYON_API_KEY", "from-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Completion.APIKey != "from-env" {
		t.Errorf("apiKey = %q, want env fallback", cfg.Completion.APIKey)
	}
}
