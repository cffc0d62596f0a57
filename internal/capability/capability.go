// Package capability implements the pluggable catalog of named external
// services (ai, scm, ci, doc, sandbox, notification).
//
// A capability is a role; a provider is a concrete implementation bound to
// that role. The registry holds one active provider per capability at the
// process level and can produce per-project views with overrides applied.
package capability

import (
	"context"
	"encoding/json"
	"time"
)

// Capability category names.
const (
	CategoryAI           = "ai"
	CategorySCM          = "scm"
	CategoryCI           = "ci"
	CategoryDoc          = "doc"
	CategorySandbox      = "sandbox"
	CategoryNotification = "notification"
)

// Categories lists every known capability category.
var Categories = []string{
	CategoryAI, CategorySCM, CategoryCI, CategoryDoc, CategorySandbox, CategoryNotification,
}

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// FieldType is the UI input type of a config schema field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldSelect   FieldType = "select"
)

// ConfigField describes one entry of a provider's config schema. The order
// of fields is meaningful for the UI, so schemas are slices, not maps.
type ConfigField struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Default  string    `json:"default,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// Provider is the base contract every capability implementation satisfies.
// Capability-specific method sets (AI streaming, SCM operations, ...) are
// declared in the provider packages and reached by type assertion.
type Provider interface {
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
	HealthCheck(ctx context.Context) HealthStatus
	Config() map[string]string
}

// Factory builds a provider instance from its config map.
type Factory func(config map[string]string) (Provider, error)

// Registration pairs a provider factory with its config schema so the
// catalog can be listed without instantiating anything.
type Registration struct {
	Name    string
	Schema  []ConfigField
	Factory Factory
}

// Capability is a named role backed by a provider instance.
type Capability struct {
	Name     string
	Provider Provider

	lastHealth *HealthStatus
}

// HealthCheck probes the backing provider and remembers the result.
func (c *Capability) HealthCheck(ctx context.Context) HealthStatus {
	hs := c.Provider.HealthCheck(ctx)
	c.lastHealth = &hs
	return hs
}

// LastHealth returns the most recent probe result, or nil if never probed.
func (c *Capability) LastHealth() *HealthStatus {
	return c.lastHealth
}

// Config is the stored provider choice for one capability.
type Config struct {
	Provider string            `json:"provider" yaml:"provider"`
	Config   map[string]string `json:"config" yaml:"config"`
}

// Override is a per-project shadow of a global capability config.
type Override struct {
	Capability       string            `json:"capability"`
	Enabled          bool              `json:"enabled"`
	ProviderOverride string            `json:"provider_override,omitempty"`
	ConfigOverride   map[string]string `json:"config_override,omitempty"`
}

// PreflightResult collects required-capability errors and
// optional-capability warnings gathered before a stage runs.
type PreflightResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether no required capability failed.
func (r PreflightResult) OK() bool {
	return len(r.Errors) == 0
}

// CatalogProvider is one provider entry in the UI catalog.
type CatalogProvider struct {
	Name         string        `json:"name"`
	ConfigSchema []ConfigField `json:"config_schema"`
}

// CatalogEntry is one capability category in the UI catalog.
type CatalogEntry struct {
	Capability     string            `json:"capability"`
	Providers      []CatalogProvider `json:"providers"`
	ActiveProvider string            `json:"active_provider,omitempty"`
}

// DecodeConfigMap parses a JSON-encoded config column into a map. An empty
// payload decodes to an empty map, never nil.
func DecodeConfigMap(raw string) (map[string]string, error) {
	m := map[string]string{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeConfigMap serializes a config map for storage.
func EncodeConfigMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
