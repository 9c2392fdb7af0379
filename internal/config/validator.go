package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole config for launch readiness.
func (v *Validator) Validate(cfg *Config) error {
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("no profiles configured")
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name: %s", p.Name)
		}
		seen[p.Name] = true
		if err := v.ValidateProfileURL(p.URL); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
		// Profiles on the provider default endpoints need a real
		// provider key; self-hosted URLs may carry arbitrary
		// credentials.
		if p.URL == "" {
			if v.ValidateAPIKey(p.APIKey, "anthropic") != nil {
				if err := v.ValidateAPIKey(p.APIKey, "openai"); err != nil {
					return fmt.Errorf("profile %s: %w", p.Name, err)
				}
			}
		}
	}
	if _, ok := cfg.ActiveProfileConfig(); !ok {
		return fmt.Errorf("active profile %s not found", cfg.ActiveProfile)
	}

	switch cfg.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown store backend: %s (expected json or sqlite)", cfg.Store.Backend)
	}
	if cfg.Store.FlushDelayMS < 0 {
		return fmt.Errorf("flush_delay_ms must not be negative")
	}
	return nil
}

// ValidateProfileURL validates a gateway base URL. Empty means the
// provider default endpoint.
func (v *Validator) ValidateProfileURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https")
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}
