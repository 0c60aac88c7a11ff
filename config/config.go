// Package config defines the opsboard application configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level opsboard configuration.
type Config struct {
	Server   ServerConfig  `json:"server" yaml:"server"`
	Agents   []AgentConfig `json:"agents" yaml:"agents" validate:"dive"`
	DataDir  string        `json:"data_dir" yaml:"data_dir" validate:"required"`
	LogLevel string        `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`

	// ActivityLimit caps the retained activity feed.
	ActivityLimit int `json:"activity_limit" yaml:"activity_limit" validate:"gte=0"`

	// AgentStaleAfterSeconds controls when an agent with no heartbeat is
	// marked offline. Zero disables the sweep.
	AgentStaleAfterSeconds int `json:"agent_stale_after_seconds" yaml:"agent_stale_after_seconds" validate:"gte=0"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"` // listen address, e.g., ":9090"
}

// AgentConfig declares a fleet agent known at startup.
type AgentConfig struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`
	Role string `json:"role,omitempty" yaml:"role"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		DataDir:                "./data",
		LogLevel:               "info",
		ActivityLimit:          200,
		AgentStaleAfterSeconds: 90,
	}
}

var validate = validator.New()

// Load reads a YAML config file, applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
