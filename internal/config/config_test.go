package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zjjiang/opd/internal/capability"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != DefaultListen || cfg.DatabaseURL != DefaultDatabaseURL {
		t.Errorf("defaults = %q %q", cfg.Listen, cfg.DatabaseURL)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opd.yaml")
	content := `
listen: ":9090"
database_url: "custom.db"
capabilities:
  ai:
    provider: claude
    config:
      model: fast
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.DatabaseURL != "custom.db" {
		t.Errorf("loaded = %q %q", cfg.Listen, cfg.DatabaseURL)
	}
	if cfg.Capabilities["ai"].Config["model"] != "fast" {
		t.Errorf("capabilities = %+v", cfg.Capabilities)
	}
}

func TestLoad_EnvSeedsEmptyValues(t *testing.T) {
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "env-token")
	t.Setenv("GITHUB_TOKEN", "gh-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	aiCfg := cfg.Capabilities[capability.CategoryAI]
	if aiCfg.Provider != "claude" || aiCfg.Config["auth_token"] != "env-token" {
		t.Errorf("ai seed = %+v", aiCfg)
	}
	if cfg.Capabilities[capability.CategorySCM].Config["token"] != "gh-token" {
		t.Errorf("scm seed = %+v", cfg.Capabilities[capability.CategorySCM])
	}
	if cfg.GitToken() != "gh-token" {
		t.Errorf("GitToken = %q", cfg.GitToken())
	}
}

func TestLoad_FileValueWinsOverEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "env-token")
	path := filepath.Join(t.TempDir(), "opd.yaml")
	content := `
capabilities:
  ai:
    provider: claude
    config:
      auth_token: file-token
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Capabilities["ai"].Config["auth_token"]; got != "file-token" {
		t.Errorf("auth_token = %q, env must not override the file", got)
	}
}
