// Package config defines the colony configuration file, its loader and
// validation.
package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main colony configuration
type Config struct {
	// Profiles
	Profiles      []ProfileConfig `json:"profiles" mapstructure:"profiles"`
	ActiveProfile string          `json:"active_profile" mapstructure:"active_profile"`

	// Models
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Daemon
	Daemon DaemonConfig `json:"daemon" mapstructure:"daemon"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProfileConfig is one credential set for the LLM gateway
type ProfileConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	URL    string `json:"url" mapstructure:"url"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// ModelsConfig holds model selection configuration
type ModelsConfig struct {
	Default string            `json:"default" mapstructure:"default"`
	Aliases map[string]string `json:"aliases" mapstructure:"aliases"`
}

// StoreConfig holds persistence configuration
type StoreConfig struct {
	Backend      string `json:"backend" mapstructure:"backend"` // json, sqlite
	Path         string `json:"path" mapstructure:"path"`
	FlushDelayMS int    `json:"flush_delay_ms" mapstructure:"flush_delay_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DaemonConfig holds the daemon's listen and lifecycle settings
type DaemonConfig struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	PIDFile string `json:"pid_file" mapstructure:"pid_file"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			Default: "claude-sonnet-4-20250514",
			Aliases: map[string]string{},
		},
		Store: StoreConfig{
			Backend:      "json",
			FlushDelayMS: 500,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Daemon: DaemonConfig{
			Listen: "127.0.0.1:7077",
		},
	}
}

// ActiveProfileConfig returns the profile selected by ActiveProfile, or
// the first profile when none is selected.
func (c *Config) ActiveProfileConfig() (ProfileConfig, bool) {
	if len(c.Profiles) == 0 {
		return ProfileConfig{}, false
	}
	if c.ActiveProfile == "" {
		return c.Profiles[0], true
	}
	for _, p := range c.Profiles {
		if p.Name == c.ActiveProfile {
			return p, true
		}
	}
	return ProfileConfig{}, false
}

// ResolveModel maps an alias to its model id, passing unknown ids through.
func (c *Config) ResolveModel(name string) string {
	if name == "" {
		return c.Models.Default
	}
	if resolved, ok := c.Models.Aliases[name]; ok {
		return resolved
	}
	return name
}

// String renders the config as indented JSON with API keys masked.
func (c *Config) String() string {
	masked := *c
	masked.Profiles = make([]ProfileConfig, len(c.Profiles))
	for i, p := range c.Profiles {
		p.APIKey = mask(p.APIKey)
		masked.Profiles[i] = p
	}
	b, err := json.MarshalIndent(&masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(b)
}

func mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
