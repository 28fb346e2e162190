package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath returns the default configuration file path: ~/.halcyon/config.json.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".halcyon/config.json"
	}
	return filepath.Join(home, ".halcyon", "config.json")
}

// DataDir returns the halcyon data directory: ~/.halcyon.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".halcyon"
	}
	return filepath.Join(home, ".halcyon")
}

// Load reads and parses the config file at path. JSON and YAML are both
// accepted, picked by extension. If path is empty, ConfigPath() is used.
// On parse failure it prints a warning and returns DefaultConfig().
// Credentials left empty in the file are filled from the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := unmarshal(path, data, &cfg); err != nil {
		fmt.Printf("Warning: failed to parse config %s: %v\n", path, err)
		fmt.Println("Using default configuration.")
		cfg = DefaultConfig()
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Save writes cfg to path as indented JSON.
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// Append a trailing newline for POSIX compliance.
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// applyEnv fills credentials from the environment when the file left them
// empty.
func applyEnv(cfg *Config) {
	if cfg.Completion.APIKey == "" {
		if key := os.Getenv("HALCYON_API_KEY"); key != "" {
			cfg.Completion.APIKey = key
		} else if cfg.Completion.Provider == "anthropic" {
			cfg.Completion.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		} else {
			cfg.Completion.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}
