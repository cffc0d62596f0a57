package capability

import (
	"context"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

// stubProvider is a minimal provider with a switchable health result.
type stubProvider struct {
	name      string
	config    map[string]string
	healthy   bool
	message   string
	cleanups  *atomic.Int32
	initErr   error
	initCount int
}

func (p *stubProvider) ProviderName() string { return p.name }

func (p *stubProvider) Initialize(ctx context.Context) error {
	p.initCount++
	return p.initErr
}

func (p *stubProvider) Cleanup(ctx context.Context) error {
	if p.cleanups != nil {
		p.cleanups.Add(1)
	}
	return nil
}

func (p *stubProvider) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{Healthy: p.healthy, Message: p.message}
}

func (p *stubProvider) Config() map[string]string { return p.config }

func stubFactory(name string, healthy bool, cleanups *atomic.Int32) Factory {
	return func(config map[string]string) (Provider, error) {
		return &stubProvider{name: name, config: config, healthy: healthy, cleanups: cleanups}, nil
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zap.NewNop())
	r.Register(CategoryAI, "stub", Registration{
		Schema:  []ConfigField{{Name: "auth_token", Type: FieldPassword}},
		Factory: stubFactory("stub", true, nil),
	})
	r.Register(CategorySCM, "stub-scm", Registration{
		Factory: stubFactory("stub-scm", false, nil),
	})
	err := r.InitializeFromConfig(context.Background(), map[string]Config{
		CategoryAI:  {Provider: "stub", Config: map[string]string{"auth_token": "t"}},
		CategorySCM: {Provider: "stub-scm"},
	})
	if err != nil {
		t.Fatalf("InitializeFromConfig: %v", err)
	}
	return r
}

func TestRegistry_Get(t *testing.T) {
	r := newTestRegistry(t)
	if r.Get(CategoryAI) == nil {
		t.Error("ai capability missing")
	}
	if r.Get(CategoryCI) != nil {
		t.Error("unconfigured capability present")
	}
}

func TestRegistry_UnknownProviderSkipped(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	err := r.InitializeFromConfig(context.Background(), map[string]Config{
		CategoryAI: {Provider: "nope"},
	})
	if err != nil {
		t.Fatalf("unknown provider should be skipped, got %v", err)
	}
	if r.Get(CategoryAI) != nil {
		t.Error("capability registered despite unknown provider")
	}
}

func TestPreflight(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	result := r.Preflight(ctx, []string{CategoryAI}, nil)
	if !result.OK() {
		t.Errorf("healthy required capability failed preflight: %v", result.Errors)
	}

	result = r.Preflight(ctx, []string{CategorySCM}, nil)
	if result.OK() {
		t.Error("unhealthy required capability passed preflight")
	}

	result = r.Preflight(ctx, []string{CategoryCI}, nil)
	if result.OK() {
		t.Error("missing required capability passed preflight")
	}

	// Optional problems surface as warnings only.
	result = r.Preflight(ctx, []string{CategoryAI}, []string{CategorySCM, CategoryCI})
	if !result.OK() {
		t.Errorf("optional failures must not error: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v, want one (missing optionals are silent)", result.Warnings)
	}
}

func TestCreateTemp_DoesNotTouchRegistry(t *testing.T) {
	r := newTestRegistry(t)
	before := r.Get(CategoryAI).Provider

	temp, err := r.CreateTemp(CategoryAI, "stub", map[string]string{"auth_token": "candidate"})
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if temp == before {
		t.Error("temp provider is the live instance")
	}
	if r.Get(CategoryAI).Provider != before {
		t.Error("live registry changed")
	}
}

func TestWithProjectOverrides_Disable(t *testing.T) {
	r := newTestRegistry(t)
	view, err := r.WithProjectOverrides(context.Background(), []Override{
		{Capability: CategoryAI, Enabled: false},
	})
	if err != nil {
		t.Fatalf("WithProjectOverrides: %v", err)
	}
	if view.Get(CategoryAI) != nil {
		t.Error("disabled capability visible in view")
	}
	if r.Get(CategoryAI) == nil {
		t.Error("base registry lost the capability")
	}
}

func TestWithProjectOverrides_ConfigMerge(t *testing.T) {
	r := newTestRegistry(t)
	view, err := r.WithProjectOverrides(context.Background(), []Override{
		{Capability: CategoryAI, Enabled: true, ConfigOverride: map[string]string{"model": "fast"}},
	})
	if err != nil {
		t.Fatalf("WithProjectOverrides: %v", err)
	}
	cap := view.Get(CategoryAI)
	if cap == nil {
		t.Fatal("capability missing from view")
	}
	config := cap.Provider.Config()
	if config["auth_token"] != "t" {
		t.Errorf("base config key lost: %v", config)
	}
	if config["model"] != "fast" {
		t.Errorf("override key missing: %v", config)
	}
	if cap.Provider == r.Get(CategoryAI).Provider {
		t.Error("view reuses the base provider instance despite config override")
	}
}

func TestWithProjectOverrides_CleanupOnlyOwned(t *testing.T) {
	var baseCleanups, viewCleanups atomic.Int32
	r := NewRegistry(zap.NewNop())
	r.Register(CategoryAI, "stub", Registration{Factory: stubFactory("stub", true, &baseCleanups)})
	r.Register(CategorySCM, "stub-scm", Registration{Factory: stubFactory("stub-scm", true, &viewCleanups)})
	err := r.InitializeFromConfig(context.Background(), map[string]Config{
		CategoryAI:  {Provider: "stub"},
		CategorySCM: {Provider: "stub-scm"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Reset counters after init; only track view-era cleanups.
	baseCleanups.Store(0)
	viewCleanups.Store(0)

	view, err := r.WithProjectOverrides(context.Background(), []Override{
		{Capability: CategorySCM, Enabled: true, ConfigOverride: map[string]string{"k": "v"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	view.Cleanup(context.Background())

	if baseCleanups.Load() != 0 {
		t.Error("view cleanup touched an inherited provider")
	}
	if viewCleanups.Load() != 1 {
		t.Errorf("view-owned provider cleanups = %d, want 1", viewCleanups.Load())
	}
}

func TestListAvailable(t *testing.T) {
	r := newTestRegistry(t)
	catalog := r.ListAvailable()
	if len(catalog) != 2 {
		t.Fatalf("catalog entries = %d, want 2", len(catalog))
	}
	var aiEntry *CatalogEntry
	for i := range catalog {
		if catalog[i].Capability == CategoryAI {
			aiEntry = &catalog[i]
		}
	}
	if aiEntry == nil {
		t.Fatal("ai entry missing")
	}
	if aiEntry.ActiveProvider != "stub" {
		t.Errorf("active provider = %q", aiEntry.ActiveProvider)
	}
	if len(aiEntry.Providers) != 1 || len(aiEntry.Providers[0].ConfigSchema) != 1 {
		t.Errorf("providers = %+v", aiEntry.Providers)
	}
}
