// Package config loads todoforge configuration from .forge/config.json.
// This is the single source of truth for configuration; environment
// variables provide targeted overrides for the completion endpoint and model.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"todoforge/internal/logging"
)

// Config holds all todoforge configuration from .forge/config.json.
type Config struct {
	// Completion service endpoint (local Ollama-compatible server).
	OllamaHost string `json:"ollama_host,omitempty"`

	// Model is the default model for all phases.
	Model string `json:"model,omitempty"`

	// PhaseModels optionally overrides the model per workflow phase
	// (analyze, plan, execute, test).
	PhaseModels map[string]string `json:"phase_models,omitempty"`

	// TodoFile is the TODO specification path, relative to the workspace.
	TodoFile string `json:"todo_file,omitempty"`

	// TestTimeoutSeconds is the hard wall-clock limit for the generated
	// test script.
	TestTimeoutSeconds int `json:"test_timeout_seconds,omitempty"`

	// Compression settings.
	MaxCompressionRounds int `json:"max_compression_rounds,omitempty"`
	UsableBudgetPercent  int `json:"usable_budget_percent,omitempty"`

	// Congress settings.
	CongressEnabled    bool   `json:"congress_enabled"`
	VoteTimeoutSeconds int    `json:"vote_timeout_seconds,omitempty"`
	PersonaFile        string `json:"persona_file,omitempty"`

	// Logging configuration.
	Logging logging.Config `json:"logging"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		OllamaHost:           "http://localhost:11434",
		Model:                "llama3.2",
		TodoFile:             "TODO.md",
		TestTimeoutSeconds:   60,
		MaxCompressionRounds: 3,
		UsableBudgetPercent:  70,
		CongressEnabled:      true,
		VoteTimeoutSeconds:   120,
		PersonaFile:          filepath.Join(".forge", "personas.yaml"),
		Logging: logging.Config{
			DebugMode: false,
			Level:     "debug",
		},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".forge", "config.json")
}

// Load reads .forge/config.json from the workspace, falling back to
// defaults when the file is absent. Environment variables FORGE_OLLAMA_HOST
// and FORGE_MODEL override the loaded values.
func Load(workspace string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(workspace))
	switch {
	case os.IsNotExist(err):
		// Defaults are a complete configuration.
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
		applyDefaults(&cfg)
	}

	if host := os.Getenv("FORGE_OLLAMA_HOST"); host != "" {
		cfg.OllamaHost = host
	}
	if model := os.Getenv("FORGE_MODEL"); model != "" {
		cfg.Model = model
	}

	return cfg, nil
}

// Save writes the configuration back to .forge/config.json.
func Save(workspace string, cfg Config) error {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = def.OllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.TodoFile == "" {
		cfg.TodoFile = def.TodoFile
	}
	if cfg.TestTimeoutSeconds <= 0 {
		cfg.TestTimeoutSeconds = def.TestTimeoutSeconds
	}
	if cfg.MaxCompressionRounds <= 0 {
		cfg.MaxCompressionRounds = def.MaxCompressionRounds
	}
	if cfg.UsableBudgetPercent <= 0 || cfg.UsableBudgetPercent > 100 {
		cfg.UsableBudgetPercent = def.UsableBudgetPercent
	}
	if cfg.VoteTimeoutSeconds <= 0 {
		cfg.VoteTimeoutSeconds = def.VoteTimeoutSeconds
	}
	if cfg.PersonaFile == "" {
		cfg.PersonaFile = def.PersonaFile
	}
}

// ModelFor returns the model to use for a workflow phase.
func (c Config) ModelFor(phase string) string {
	if m, ok := c.PhaseModels[phase]; ok && m != "" {
		return m
	}
	return c.Model
}
