// Package config resolves FableFlow configuration from the config file,
// environment variables, and CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider holds configuration for a single LLM provider.
type Provider struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
}

// ProviderMap maps provider names to their configurations.
type ProviderMap map[string]Provider

// Defaults holds session defaults applied when flags leave them unset.
type Defaults struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// SaveDir is where save slots live. Empty means ~/.fableflow/saves.
	SaveDir string `json:"save_dir,omitempty"`

	// Library is the prompt fragment library path. Empty means
	// ~/.fableflow/library.json.
	Library string `json:"library,omitempty"`
}

// File represents the ~/.fableflow/config.json file structure.
type File struct {
	Providers map[string]Provider `json:"providers"`
	Defaults  Defaults            `json:"defaults,omitempty"`
}

// ResolveProviders builds a ProviderMap from CLI flags, environment
// variables, and the config file. Priority: flags > env vars > config file.
func ResolveProviders(flags map[string]string) (ProviderMap, error) {
	providers := make(ProviderMap)

	// 1. Load from config file (lowest priority)
	cfg, err := Load()
	if err != nil {
		// Config file is optional -- only error if it exists but is malformed
		return nil, err
	}
	if cfg != nil {
		for name, pc := range cfg.Providers {
			providers[name] = pc
		}
	}

	// 2. Override with environment variables
	// Pattern: FABLEFLOW_PROVIDER_{NAME}_API_KEY, FABLEFLOW_PROVIDER_{NAME}_BASE_URL
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if !strings.HasPrefix(key, "FABLEFLOW_PROVIDER_") {
			continue
		}
		rest := strings.TrimPrefix(key, "FABLEFLOW_PROVIDER_")
		if strings.HasSuffix(rest, "_API_KEY") {
			name := strings.ToLower(strings.TrimSuffix(rest, "_API_KEY"))
			pc := providers[name]
			pc.APIKey = val
			providers[name] = pc
		} else if strings.HasSuffix(rest, "_BASE_URL") {
			name := strings.ToLower(strings.TrimSuffix(rest, "_BASE_URL"))
			pc := providers[name]
			pc.BaseURL = val
			providers[name] = pc
		}
	}

	// 3. Override with CLI flags (highest priority)
	// Flags are key=value pairs like "openai=sk-..."
	for name, apiKey := range flags {
		pc := providers[name]
		pc.APIKey = apiKey
		providers[name] = pc
	}

	return providers, nil
}

// Load reads ~/.fableflow/config.json (or the FABLEFLOW_CONFIG env var).
// Returns nil, nil if the file doesn't exist.
func Load() (*File, error) {
	path := os.Getenv("FABLEFLOW_CONFIG")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil // Can't determine home dir, skip config
		}
		path = filepath.Join(home, ".fableflow", "config.json")
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path from well-known config location
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg File
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveDefaults returns the file's defaults with the well-known paths
// filled in when the file leaves them empty.
func ResolveDefaults() (Defaults, error) {
	var def Defaults
	cfg, err := Load()
	if err != nil {
		return def, err
	}
	if cfg != nil {
		def = cfg.Defaults
	}

	if def.SaveDir == "" || def.Library == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			if def.SaveDir == "" {
				def.SaveDir = filepath.Join(home, ".fableflow", "saves")
			}
			if def.Library == "" {
				def.Library = filepath.Join(home, ".fableflow", "library.json")
			}
		}
	}
	return def, nil
}

// ParseProviderFlags parses --provider-key flag values ("name=key") into a map.
func ParseProviderFlags(flags []string) (map[string]string, error) {
	result := make(map[string]string, len(flags))
	for _, flag := range flags {
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid provider-key format %q: expected name=key", flag)
		}
		result[parts[0]] = parts[1]
	}
	return result, nil
}
