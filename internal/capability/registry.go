package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages provider registrations and the active provider per
// capability. Registrations happen at process start; the active set is
// immutable after InitializeFromConfig except through project-override
// views, which are fresh Registry values owned by their caller.
type Registry struct {
	log *zap.Logger

	mu            sync.RWMutex
	registrations map[string]map[string]Registration // category → name → registration
	caps          map[string]*Capability             // category → active capability

	// view marks a project-override view. viewOwned names the capabilities
	// the view constructed itself; Cleanup on a view tears down only those,
	// while process-level providers outlive every view.
	view      bool
	viewOwned map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:           log,
		registrations: map[string]map[string]Registration{},
		caps:          map[string]*Capability{},
		viewOwned:     map[string]bool{},
	}
}

// Register adds a provider implementation under a capability category.
// Call at process start, before InitializeFromConfig.
func (r *Registry) Register(category, name string, reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg.Name = name
	if r.registrations[category] == nil {
		r.registrations[category] = map[string]Registration{}
	}
	r.registrations[category][name] = reg
}

// InitializeFromConfig instantiates and initializes the active provider for
// each configured capability. Unknown providers are skipped with a warning
// so a half-configured install still serves the capabilities it can.
func (r *Registry) InitializeFromConfig(ctx context.Context, configs map[string]Config) error {
	for category, cfg := range configs {
		provider, err := r.build(category, cfg.Provider, cfg.Config)
		if err != nil {
			r.log.Warn("capability provider unavailable, skipping",
				zap.String("capability", category),
				zap.String("provider", cfg.Provider),
				zap.Error(err))
			continue
		}
		if err := provider.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing %s provider %q: %w", category, cfg.Provider, err)
		}
		r.mu.Lock()
		r.caps[category] = &Capability{Name: category, Provider: provider}
		r.mu.Unlock()
		r.log.Info("capability initialized",
			zap.String("capability", category),
			zap.String("provider", cfg.Provider))
	}
	return nil
}

// Get returns the active capability for a category, or nil.
func (r *Registry) Get(category string) *Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[category]
}

// build constructs (without initializing) a provider by category and name.
func (r *Registry) build(category, name string, config map[string]string) (Provider, error) {
	r.mu.RLock()
	reg, ok := r.registrations[category][name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered for capability %q", name, category)
	}
	return reg.Factory(config)
}

// CreateTemp builds a non-registered provider instance for testing a
// candidate config without touching the live registry. The caller owns
// Initialize and Cleanup.
func (r *Registry) CreateTemp(category, name string, config map[string]string) (Provider, error) {
	return r.build(category, name, config)
}

// Schema returns the config schema for a provider, or the first registered
// provider's schema for the category when name is empty.
func (r *Registry) Schema(category, name string) []ConfigField {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.registrations[category]
	if reg, ok := regs[name]; ok {
		return reg.Schema
	}
	for _, n := range sortedNames(regs) {
		return regs[n].Schema
	}
	return nil
}

// ProviderName returns the registered name of a capability's active
// provider, when the implementation reports one.
func (r *Registry) ProviderName(category string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap := r.caps[category]
	if cap == nil {
		return ""
	}
	if named, ok := cap.Provider.(interface{ ProviderName() string }); ok {
		return named.ProviderName()
	}
	return ""
}

// Preflight verifies a stage's capability requirements. Missing or
// unhealthy required capabilities produce errors; optional ones produce
// warnings only.
func (r *Registry) Preflight(ctx context.Context, required, optional []string) PreflightResult {
	result := PreflightResult{Errors: []string{}, Warnings: []string{}}

	for _, name := range required {
		cap := r.Get(name)
		if cap == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("capability [%s] is not configured", name))
			continue
		}
		health := cap.HealthCheck(ctx)
		if !health.Healthy {
			result.Errors = append(result.Errors, fmt.Sprintf("capability [%s] is unavailable: %s", name, health.Message))
		}
	}

	for _, name := range optional {
		cap := r.Get(name)
		if cap == nil {
			continue
		}
		health := cap.HealthCheck(ctx)
		if !health.Healthy {
			result.Warnings = append(result.Warnings, fmt.Sprintf("capability [%s] is unavailable, degrading: %s", name, health.Message))
		}
	}

	return result
}

// WithProjectOverrides returns a new registry view with the overrides
// applied. For each override: disabled drops the capability; a provider
// name builds a fresh provider from base-config merged with the override
// config; config keys alone rebuild the same provider with merged config.
// The caller must call Cleanup on the view when done with it.
func (r *Registry) WithProjectOverrides(ctx context.Context, overrides []Override) (*Registry, error) {
	view := NewRegistry(r.log)
	view.view = true

	r.mu.RLock()
	view.registrations = r.registrations
	for category, cap := range r.caps {
		view.caps[category] = cap
	}
	r.mu.RUnlock()

	for _, ov := range overrides {
		if !ov.Enabled {
			delete(view.caps, ov.Capability)
			continue
		}
		if ov.ProviderOverride == "" && len(ov.ConfigOverride) == 0 {
			continue
		}

		base := r.Get(ov.Capability)
		providerName := ov.ProviderOverride
		if providerName == "" {
			if base == nil {
				continue
			}
			providerName = r.ProviderName(ov.Capability)
			if providerName == "" {
				continue
			}
		}

		merged := map[string]string{}
		if base != nil {
			for k, v := range base.Provider.Config() {
				merged[k] = v
			}
		}
		for k, v := range ov.ConfigOverride {
			merged[k] = v
		}

		provider, err := view.build(ov.Capability, providerName, merged)
		if err != nil {
			r.log.Warn("project override provider unavailable",
				zap.String("capability", ov.Capability),
				zap.String("provider", providerName),
				zap.Error(err))
			continue
		}
		if err := provider.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initializing override %s provider %q: %w", ov.Capability, providerName, err)
		}
		view.caps[ov.Capability] = &Capability{Name: ov.Capability, Provider: provider}
		view.viewOwned[ov.Capability] = true
	}

	return view, nil
}

// Cleanup tears down providers this registry owns. On a project-override
// view that is only the overridden providers; on the process registry it is
// every active provider.
func (r *Registry) Cleanup(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for category, cap := range r.caps {
		if r.view && !r.viewOwned[category] {
			continue
		}
		if err := cap.Provider.Cleanup(ctx); err != nil {
			r.log.Error("capability cleanup failed",
				zap.String("capability", category), zap.Error(err))
		}
	}
}

// ListAvailable returns the catalog of every registered provider per
// category, with config schemas, for the settings UI.
func (r *Registry) ListAvailable() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]string, 0, len(r.registrations))
	for c := range r.registrations {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	entries := make([]CatalogEntry, 0, len(categories))
	for _, category := range categories {
		regs := r.registrations[category]
		providers := make([]CatalogProvider, 0, len(regs))
		for _, name := range sortedNames(regs) {
			providers = append(providers, CatalogProvider{
				Name:         name,
				ConfigSchema: regs[name].Schema,
			})
		}
		entry := CatalogEntry{Capability: category, Providers: providers}
		if cap := r.caps[category]; cap != nil {
			if named, ok := cap.Provider.(interface{ ProviderName() string }); ok {
				entry.ActiveProvider = named.ProviderName()
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func sortedNames(regs map[string]Registration) []string {
	names := make([]string, 0, len(regs))
	for n := range regs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
