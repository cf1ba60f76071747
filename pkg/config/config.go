// Package config loads host configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mkosler/aide/pkg/llm"
)

// LoopConfig tunes the tool-calling loop.
type LoopConfig struct {
	MaxRounds           int     `yaml:"maxRounds,omitempty"`
	MaxToolCallsPerTurn int     `yaml:"maxToolCallsPerTurn,omitempty"`
	TriggerFraction     float64 `yaml:"triggerFraction,omitempty"`
	MaxLLMRetries       int     `yaml:"maxLLMRetries,omitempty"`
}

// LogConfig tunes host logging.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Config is the full host configuration.
type Config struct {
	Model      llm.Model   `yaml:"model"`
	APIKey     string      `yaml:"apiKey,omitempty"`
	SessionDir string      `yaml:"sessionDir,omitempty"`
	Loop       *LoopConfig `yaml:"loop,omitempty"`
	Log        *LogConfig  `yaml:"log,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: llm.Model{
			ID:            "gpt-4o-mini",
			Provider:      "openai",
			BaseURL:       "https://api.openai.com/v1",
			ContextWindow: 128000,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aide", "config.yaml"), nil
}

// Load reads the config file at path, falling back to defaults when it does
// not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if cfg.Model.BaseURL == "" {
		return nil, fmt.Errorf("config: model.baseUrl is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AIDE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("AIDE_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("AIDE_MODEL"); v != "" {
		cfg.Model.ID = v
	}
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
