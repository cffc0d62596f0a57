package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/store"
)

// --- Global capability settings ---

func (s *Server) globalCapabilities(w http.ResponseWriter, r *http.Request) {
	catalog := s.orch.Capabilities().ListAvailable()
	saved, err := s.orch.Store().ListCapabilityConfigs(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	savedByCap := map[string]model.CapabilityConfig{}
	for _, c := range saved {
		savedByCap[c.Capability] = c
	}

	out := make([]map[string]any, 0, len(catalog))
	for _, entry := range catalog {
		item := map[string]any{
			"capability":      entry.Capability,
			"providers":       entry.Providers,
			"active_provider": entry.ActiveProvider,
		}
		if sc, ok := savedByCap[entry.Capability]; ok {
			schema := s.orch.Capabilities().Schema(entry.Capability, sc.Provider)
			item["saved"] = map[string]any{
				"provider": sc.Provider,
				"config":   capability.MaskConfig(sc.Config, schema),
			}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

type saveCapabilityRequest struct {
	Provider string            `json:"provider" validate:"required"`
	Config   map[string]string `json:"config"`
}

func (s *Server) saveGlobalCapability(w http.ResponseWriter, r *http.Request) {
	cap := chi.URLParam(r, "capability")
	var req saveCapabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	// Restore masked password values from the stored config.
	schema := s.orch.Capabilities().Schema(cap, req.Provider)
	config := req.Config
	if prior, err := s.orch.Store().GetCapabilityConfig(r.Context(), cap); err == nil {
		config = capability.ResolveMasked(config, schema, prior.Config)
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, s.log, err)
		return
	}

	if err := s.orch.Store().SaveCapabilityConfig(r.Context(), &model.CapabilityConfig{
		Capability: cap,
		Provider:   req.Provider,
		Config:     config,
	}); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) testGlobalCapability(w http.ResponseWriter, r *http.Request) {
	cap := chi.URLParam(r, "capability")
	var req saveCapabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	config := req.Config
	schema := s.orch.Capabilities().Schema(cap, req.Provider)
	if prior, err := s.orch.Store().GetCapabilityConfig(r.Context(), cap); err == nil {
		config = capability.ResolveMasked(config, schema, prior.Config)
	}
	s.testCandidate(w, r, cap, req.Provider, config)
}

// testCandidate builds a temporary provider and probes it.
func (s *Server) testCandidate(w http.ResponseWriter, r *http.Request, cap, providerName string, config map[string]string) {
	provider, err := s.orch.Capabilities().CreateTemp(cap, providerName, config)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"healthy": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := provider.Initialize(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"healthy": false, "message": err.Error()})
		return
	}
	defer func() {
		if err := provider.Cleanup(context.Background()); err != nil {
			s.log.Warn("temp provider cleanup failed")
		}
	}()
	health := provider.HealthCheck(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"healthy": health.Healthy, "message": health.Message})
}

// --- Project capability overrides ---

func (s *Server) projectCapabilities(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.orch.Store().GetProject(r.Context(), projectID); err != nil {
		writeError(w, s.log, err)
		return
	}
	catalog := s.orch.Capabilities().ListAvailable()
	saved, err := s.orch.Store().ListProjectCapabilityConfigs(r.Context(), projectID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	savedByCap := map[string]model.ProjectCapabilityConfig{}
	for _, c := range saved {
		savedByCap[c.Capability] = c
	}

	out := make([]map[string]any, 0, len(catalog))
	for _, entry := range catalog {
		item := map[string]any{
			"capability": entry.Capability,
			"providers":  entry.Providers,
		}
		savedView := map[string]any{
			"enabled":           true,
			"provider_override": "",
			"config_override":   map[string]string{},
		}
		if sc, ok := savedByCap[entry.Capability]; ok {
			schema := s.orch.Capabilities().Schema(entry.Capability, sc.ProviderOverride)
			savedView["enabled"] = sc.Enabled
			savedView["provider_override"] = sc.ProviderOverride
			savedView["config_override"] = capability.MaskConfig(sc.ConfigOverride, schema)
		}
		item["saved"] = savedView
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

type saveProjectCapabilityRequest struct {
	Enabled          bool              `json:"enabled"`
	ProviderOverride string            `json:"provider_override"`
	ConfigOverride   map[string]string `json:"config_override"`
}

func (s *Server) saveProjectCapability(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	cap := chi.URLParam(r, "capability")
	var req saveProjectCapabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if _, err := s.orch.Store().GetProject(r.Context(), projectID); err != nil {
		writeError(w, s.log, err)
		return
	}

	schema := s.orch.Capabilities().Schema(cap, req.ProviderOverride)
	config := req.ConfigOverride
	if prior, err := s.orch.Store().GetProjectCapabilityConfig(r.Context(), projectID, cap); err == nil {
		config = capability.ResolveMasked(config, schema, prior.ConfigOverride)
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, s.log, err)
		return
	}

	if err := s.orch.Store().SaveProjectCapabilityConfig(r.Context(), &model.ProjectCapabilityConfig{
		ProjectID:        projectID,
		Capability:       cap,
		Enabled:          req.Enabled,
		ProviderOverride: req.ProviderOverride,
		ConfigOverride:   config,
	}); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) testProjectCapability(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	cap := chi.URLParam(r, "capability")
	var req saveCapabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	config := req.Config
	schema := s.orch.Capabilities().Schema(cap, req.Provider)
	if prior, err := s.orch.Store().GetProjectCapabilityConfig(r.Context(), projectID, cap); err == nil {
		config = capability.ResolveMasked(config, schema, prior.ConfigOverride)
	}
	s.testCandidate(w, r, cap, req.Provider, config)
}
