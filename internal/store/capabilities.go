package store

import (
	"context"
	"fmt"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
)

// ListCapabilityConfigs returns every global capability config with its
// config map decoded.
func (s *Store) ListCapabilityConfigs(ctx context.Context) ([]model.CapabilityConfig, error) {
	var configs []model.CapabilityConfig
	err := s.db.SelectContext(ctx, &configs,
		`SELECT * FROM capability_configs ORDER BY capability`)
	if err != nil {
		return nil, fmt.Errorf("store: listing capability configs: %w", err)
	}
	for i := range configs {
		m, err := capability.DecodeConfigMap(configs[i].ConfigJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decoding config for %q: %w", configs[i].Capability, err)
		}
		configs[i].Config = m
	}
	return configs, nil
}

// GetCapabilityConfig returns one global capability config.
func (s *Store) GetCapabilityConfig(ctx context.Context, cap string) (*model.CapabilityConfig, error) {
	var cfg model.CapabilityConfig
	err := s.db.GetContext(ctx, &cfg,
		`SELECT * FROM capability_configs WHERE capability = ?`, cap)
	if err != nil {
		return nil, notFound(err, "capability config", cap)
	}
	m, err := capability.DecodeConfigMap(cfg.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("store: decoding config for %q: %w", cap, err)
	}
	cfg.Config = m
	return &cfg, nil
}

// SaveCapabilityConfig upserts a global capability config.
func (s *Store) SaveCapabilityConfig(ctx context.Context, cfg *model.CapabilityConfig) error {
	encoded, err := capability.EncodeConfigMap(cfg.Config)
	if err != nil {
		return fmt.Errorf("store: encoding config for %q: %w", cfg.Capability, err)
	}
	cfg.ConfigJSON = encoded
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO capability_configs (capability, provider, config)
		VALUES (?, ?, ?)
		ON CONFLICT(capability) DO UPDATE SET provider = excluded.provider, config = excluded.config`,
		cfg.Capability, cfg.Provider, cfg.ConfigJSON)
	if err != nil {
		return fmt.Errorf("store: saving capability config %q: %w", cfg.Capability, err)
	}
	return nil
}

// ListProjectCapabilityConfigs returns a project's capability overrides.
func (s *Store) ListProjectCapabilityConfigs(ctx context.Context, projectID string) ([]model.ProjectCapabilityConfig, error) {
	var configs []model.ProjectCapabilityConfig
	err := s.db.SelectContext(ctx, &configs, `
		SELECT * FROM project_capability_configs WHERE project_id = ? ORDER BY capability`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing project capability configs for %q: %w", projectID, err)
	}
	for i := range configs {
		m, err := capability.DecodeConfigMap(configs[i].ConfigJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decoding override for %q: %w", configs[i].Capability, err)
		}
		configs[i].ConfigOverride = m
	}
	return configs, nil
}

// GetProjectCapabilityConfig returns one project override, or ErrNotFound.
func (s *Store) GetProjectCapabilityConfig(ctx context.Context, projectID, cap string) (*model.ProjectCapabilityConfig, error) {
	var cfg model.ProjectCapabilityConfig
	err := s.db.GetContext(ctx, &cfg, `
		SELECT * FROM project_capability_configs
		WHERE project_id = ? AND capability = ?`, projectID, cap)
	if err != nil {
		return nil, notFound(err, "project capability config", cap)
	}
	m, err := capability.DecodeConfigMap(cfg.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("store: decoding override for %q: %w", cap, err)
	}
	cfg.ConfigOverride = m
	return &cfg, nil
}

// SaveProjectCapabilityConfig upserts a project capability override.
func (s *Store) SaveProjectCapabilityConfig(ctx context.Context, cfg *model.ProjectCapabilityConfig) error {
	if cfg.ID == "" {
		cfg.ID = model.NewID()
	}
	encoded, err := capability.EncodeConfigMap(cfg.ConfigOverride)
	if err != nil {
		return fmt.Errorf("store: encoding override for %q: %w", cfg.Capability, err)
	}
	cfg.ConfigJSON = encoded
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_capability_configs (id, project_id, capability, enabled, provider_override, config_override)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, capability) DO UPDATE SET
			enabled = excluded.enabled,
			provider_override = excluded.provider_override,
			config_override = excluded.config_override`,
		cfg.ID, cfg.ProjectID, cfg.Capability, cfg.Enabled, cfg.ProviderOverride, cfg.ConfigJSON)
	if err != nil {
		return fmt.Errorf("store: saving project capability config %q: %w", cfg.Capability, err)
	}
	return nil
}
