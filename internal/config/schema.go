// Package config defines the halcyon configuration schema and loader.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/halcyonbot/halcyon/internal/scheduler"
)

// Config is the root configuration.
type Config struct {
	Completion CompletionConfig `json:"completion" yaml:"completion"`
	Embedding  EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Context    ContextConfig    `json:"context" yaml:"context"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Store      StoreConfig      `json:"store" yaml:"store"`
}

// CompletionConfig selects and tunes the chat backend.
type CompletionConfig struct {
	Provider       string `json:"provider" yaml:"provider"`
	APIKey         string `json:"apiKey" yaml:"apiKey"`
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	Model          string `json:"model" yaml:"model"`
	SummaryModel   string `json:"summaryModel" yaml:"summaryModel"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

func (c CompletionConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"`
	APIKey     string `json:"apiKey" yaml:"apiKey"`
	APIBase    string `json:"apiBase" yaml:"apiBase"`
	Model      string `json:"model" yaml:"model"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
}

// ContextConfig tunes the per-session window manager.
type ContextConfig struct {
	MaxContextTokens   int     `json:"maxContextTokens" yaml:"maxContextTokens"`
	SummarizeFraction  float64 `json:"summarizeFraction" yaml:"summarizeFraction"`
	MaxCachedSessions  int     `json:"maxCachedSessions" yaml:"maxCachedSessions"`
	MaxWindowTurns     int     `json:"maxWindowTurns" yaml:"maxWindowTurns"`
	LockTimeoutSeconds int     `json:"lockTimeoutSeconds" yaml:"lockTimeoutSeconds"`
}

func (c ContextConfig) LockTimeout() time.Duration {
	if c.LockTimeoutSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// MemoryConfig tunes the semantic store and its maintenance jobs.
type MemoryConfig struct {
	Capacity          int     `json:"capacity" yaml:"capacity"`
	PruneFraction     float64 `json:"pruneFraction" yaml:"pruneFraction"`
	DedupThreshold    float64 `json:"dedupThreshold" yaml:"dedupThreshold"`
	DedupLookbackDays int     `json:"dedupLookbackDays" yaml:"dedupLookbackDays"`
	MinSimilarity     float64 `json:"minSimilarity" yaml:"minSimilarity"`
	LookbackDays      int     `json:"lookbackDays" yaml:"lookbackDays"`
	DecayRatePerDay   float64 `json:"decayRatePerDay" yaml:"decayRatePerDay"`
	MaxCandidates     int     `json:"maxCandidates" yaml:"maxCandidates"`
	EmbedCacheSize    int64   `json:"embedCacheSize" yaml:"embedCacheSize"`
	MaxAgeDays        int     `json:"maxAgeDays" yaml:"maxAgeDays"`
	PurgeAfterDays    int     `json:"purgeAfterDays" yaml:"purgeAfterDays"`
	MaintenanceSpec   string  `json:"maintenanceSpec" yaml:"maintenanceSpec"`
}

// SchedulerConfig maps resource class names to their bounds.
type SchedulerConfig struct {
	Classes map[string]scheduler.ClassConfig `json:"classes" yaml:"classes"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// DatabasePath expands ~ in the configured path.
func (c StoreConfig) DatabasePath() string {
	path := c.Path
	if path == "" {
		return filepath.Join(DataDir(), "halcyon.db")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// DefaultConfig returns the standard defaults.
func DefaultConfig() Config {
	return Config{
		Completion: CompletionConfig{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-20250514",
			TimeoutSeconds: 120,
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Context: ContextConfig{
			MaxContextTokens:   12000,
			SummarizeFraction:  0.6,
			MaxCachedSessions:  100,
			MaxWindowTurns:     50,
			LockTimeoutSeconds: 90,
		},
		Memory: MemoryConfig{
			Capacity:          10000,
			PruneFraction:     0.2,
			DedupThreshold:    0.95,
			DedupLookbackDays: 7,
			MinSimilarity:     0.65,
			LookbackDays:      30,
			DecayRatePerDay:   0.01,
			MaxCandidates:     500,
			EmbedCacheSize:    2048,
			MaxAgeDays:        365,
			PurgeAfterDays:    30,
			MaintenanceSpec:   "0 0 4 * * *",
		},
		Scheduler: SchedulerConfig{
			Classes: map[string]scheduler.ClassConfig{
				scheduler.ClassPrimary:   {Concurrency: 2, MaxDepth: 16},
				scheduler.ClassLight:     {Concurrency: 2, MaxDepth: 32},
				scheduler.ClassEmbedding: {Concurrency: 4, MaxDepth: 64},
			},
		},
		Store: StoreConfig{},
	}
}
