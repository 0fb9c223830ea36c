// Package config loads and validates the narrative runtime's configuration
// surface: scene loading, memory/window tuning, coordinator/provider
// timeouts and retry policy, per-contributor roster settings, and provider
// credentials.
//
// A single global Config instance is maintained in memory, protected by a
// mutex, and loaded once at startup via LoadConfig. Callers always receive
// a copy via Get, never a pointer into the shared instance.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"orchestrator/pkg/coordinator"
)

//nolint:gochecknoglobals // intentional singleton, mirroring the loader this package is adapted from
var (
	current *Config
	mu      sync.RWMutex
)

// ContributorConfig configures one roster entry, per the "Contributor-
// specific" row of spec §6.
type ContributorConfig struct {
	ID                      string                      `yaml:"id"`
	ProviderKind            string                      `yaml:"provider_kind"` // anthropic | openai | ollama | gemini
	ModelID                 string                      `yaml:"model_id"`
	SystemPrompt            string                      `yaml:"system_prompt"`
	Temperature             float32                     `yaml:"temperature"`
	APIKeyEnv               string                      `yaml:"api_key_env"`
	BaseURL                 string                      `yaml:"base_url,omitempty"`
	SubscribesToPlayerInput bool                        `yaml:"subscribes_to_player_input"`
	IsolationPolicy         coordinator.IsolationPolicy `yaml:"isolation_policy"`
}

// Config is the complete, validated runtime configuration for one session
// template. It is immutable after LoadConfig: callers that need a variant
// build a new value and call Validate themselves.
type Config struct {
	ScenePath    string `yaml:"scene_path"`
	StartScene   string `yaml:"start_scene,omitempty"`
	StrictSchema bool   `yaml:"strict_schema"`

	MemoryCapacity           int `yaml:"memory_capacity"`
	DefaultActionWindow      int `yaml:"default_action_window"`
	DefaultObservationWindow int `yaml:"default_observation_window"`

	TurnDeadlineMS           int `yaml:"turn_deadline_ms"`
	ProviderRequestTimeoutMS int `yaml:"provider_request_timeout_ms"`
	RetryMaxAttempts         int `yaml:"retry_max_attempts"`
	RetryBackoffBaseMS       int `yaml:"retry_backoff_base_ms"`
	RetryBackoffCapMS        int `yaml:"retry_backoff_cap_ms"`

	Contributors []ContributorConfig `yaml:"contributors"`
}

// TurnDeadline returns the configured per-turn deadline as a Duration.
func (c Config) TurnDeadline() time.Duration {
	return time.Duration(c.TurnDeadlineMS) * time.Millisecond
}

// ProviderRequestTimeout returns the configured per-request provider
// timeout as a Duration.
func (c Config) ProviderRequestTimeout() time.Duration {
	return time.Duration(c.ProviderRequestTimeoutMS) * time.Millisecond
}

// Defaults returns the baseline configuration applied before a file is
// loaded over it.
func Defaults() Config {
	return Config{
		StrictSchema:             false,
		MemoryCapacity:           200,
		DefaultActionWindow:      8,
		DefaultObservationWindow: 8,
		TurnDeadlineMS:           30_000,
		ProviderRequestTimeoutMS: 20_000,
		RetryMaxAttempts:         4,
		RetryBackoffBaseMS:       500,
		RetryBackoffCapMS:        8_000,
	}
}

// LoadConfig loads configuration from a YAML file at path, layering it over
// Defaults(), loading any sibling .env file into the process environment
// first (so api_key_env references resolve), validating the result, and
// storing it as the global singleton.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load(envPathFor(path))

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	mu.Lock()
	current = &cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns a copy of the current global config. It panics if LoadConfig
// has not been called, matching the teacher's "config must be loaded
// before use" invariant.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		panic("config: Get called before LoadConfig")
	}
	return *current
}

// Validate checks every required field and rejects invalid combinations.
// Loading is all-or-nothing: the first violation aborts with a full
// message, consistent with the Scene Repository's own total-validation
// discipline.
func (c Config) Validate() error {
	if c.ScenePath == "" {
		return fmt.Errorf("config: scene_path is required")
	}
	if c.MemoryCapacity < 0 {
		return fmt.Errorf("config: memory_capacity must be >= 0")
	}
	if c.TurnDeadlineMS <= 0 {
		return fmt.Errorf("config: turn_deadline_ms must be > 0")
	}
	seen := make(map[string]bool, len(c.Contributors))
	for _, contrib := range c.Contributors {
		if contrib.ID == "" {
			return fmt.Errorf("config: contributor entry missing id")
		}
		if seen[contrib.ID] {
			return fmt.Errorf("config: duplicate contributor id %q", contrib.ID)
		}
		seen[contrib.ID] = true
		switch contrib.ProviderKind {
		case "anthropic", "openai", "ollama", "gemini":
		default:
			return fmt.Errorf("config: contributor %q has unknown provider_kind %q", contrib.ID, contrib.ProviderKind)
		}
		switch contrib.IsolationPolicy {
		case "", coordinator.IsolationQuarantine, coordinator.IsolationRetry:
		default:
			return fmt.Errorf("config: contributor %q has unknown isolation_policy %q", contrib.ID, contrib.IsolationPolicy)
		}
	}
	return nil
}

func envPathFor(configPath string) string {
	if configPath == "" {
		return ".env"
	}
	return configPath + ".env"
}
