// Package config loads the server configuration from an optional YAML
// file and the environment. Environment variables only seed provider
// config values that the file leaves empty.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zjjiang/opd/internal/capability"
)

// Defaults.
const (
	DefaultListen      = ":8080"
	DefaultDatabaseURL = "opd.db"
)

// Config is the full server configuration.
type Config struct {
	Listen      string `yaml:"listen"`
	DatabaseURL string `yaml:"database_url"`
	Development bool   `yaml:"development"`

	// Capabilities selects the active provider per capability.
	Capabilities map[string]capability.Config `yaml:"capabilities"`
}

// Load reads the YAML file at path (missing file is fine) and applies
// environment seeding.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Listen:       DefaultListen,
		DatabaseURL:  DefaultDatabaseURL,
		Capabilities: map[string]capability.Config{},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No file: env and defaults only.
		case err != nil:
			return nil, fmt.Errorf("config: reading %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %q: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv seeds values from the environment where the file left them
// empty.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" && c.DatabaseURL == DefaultDatabaseURL {
		c.DatabaseURL = v
	}

	seed := func(cap, provider, key, env string) {
		v := os.Getenv(env)
		if v == "" {
			return
		}
		entry, ok := c.Capabilities[cap]
		if !ok {
			entry = capability.Config{Provider: provider, Config: map[string]string{}}
		}
		if entry.Config == nil {
			entry.Config = map[string]string{}
		}
		if entry.Config[key] == "" {
			entry.Config[key] = v
		}
		c.Capabilities[cap] = entry
	}

	seed(capability.CategoryAI, "claude", "auth_token", "ANTHROPIC_AUTH_TOKEN")
	seed(capability.CategoryAI, "claude", "base_url", "ANTHROPIC_BASE_URL")
	seed(capability.CategorySCM, "github", "token", "GITHUB_TOKEN")
	seed(capability.CategorySCM, "github", "webhook_secret", "GITHUB_WEBHOOK_SECRET")
	seed(capability.CategoryCI, "github_actions", "token", "GITHUB_TOKEN")
}

// GitToken returns the token used for workspace clone authentication.
func (c *Config) GitToken() string {
	if scm, ok := c.Capabilities[capability.CategorySCM]; ok {
		if t := scm.Config["token"]; t != "" {
			return t
		}
	}
	return os.Getenv("GITHUB_TOKEN")
}
