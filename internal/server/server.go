// Package server wires all components and runs the HTTP service.
//
// This is the composition root: it creates concrete implementations and
// injects them into the layers that depend on abstractions. No business
// logic lives here — only wiring.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zjjiang/opd/internal/api"
	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/config"
	"github.com/zjjiang/opd/internal/executor"
	"github.com/zjjiang/opd/internal/orchestrator"
	"github.com/zjjiang/opd/internal/provider/ai"
	"github.com/zjjiang/opd/internal/provider/ci"
	"github.com/zjjiang/opd/internal/provider/doc"
	"github.com/zjjiang/opd/internal/provider/notification"
	"github.com/zjjiang/opd/internal/provider/sandbox"
	"github.com/zjjiang/opd/internal/provider/scm"
	"github.com/zjjiang/opd/internal/sse"
	"github.com/zjjiang/opd/internal/store"
	"github.com/zjjiang/opd/internal/workspace"
)

// Server owns every long-lived component.
type Server struct {
	cfg   *config.Config
	log   *zap.Logger
	store *store.Store
	caps  *capability.Registry
	exec  *executor.Executor
	http  *http.Server
}

// registerProviders declares every built-in provider implementation.
func registerProviders(registry *capability.Registry) {
	registry.Register(capability.CategoryAI, "claude", capability.Registration{
		Schema: ai.ClaudeSchema, Factory: ai.NewClaude,
	})
	registry.Register(capability.CategorySCM, "github", capability.Registration{
		Schema: scm.GitHubSchema, Factory: scm.NewGitHub,
	})
	registry.Register(capability.CategoryCI, "github_actions", capability.Registration{
		Schema: ci.GitHubActionsSchema, Factory: ci.NewGitHubActions,
	})
	registry.Register(capability.CategoryDoc, "local", capability.Registration{
		Schema: doc.LocalSchema, Factory: doc.NewLocal,
	})
	registry.Register(capability.CategorySandbox, "docker_local", capability.Registration{
		Schema: sandbox.DockerLocalSchema, Factory: sandbox.NewDockerLocal,
	})
	registry.Register(capability.CategoryNotification, "web", capability.Registration{
		Schema: notification.WebSchema, Factory: notification.NewWeb,
	})
}

// New builds the full component graph.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	var log *zap.Logger
	var err error
	if cfg.Development {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	registry := capability.NewRegistry(log)
	registerProviders(registry)

	// Saved capability settings shadow the file config.
	configs := map[string]capability.Config{}
	for cap, c := range cfg.Capabilities {
		configs[cap] = c
	}
	saved, err := st.ListCapabilityConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range saved {
		configs[c.Capability] = capability.Config{Provider: c.Provider, Config: c.Config}
	}
	if err := registry.InitializeFromConfig(ctx, configs); err != nil {
		return nil, err
	}

	exec := executor.New(ctx, log)
	bus := sse.NewBus()
	git := workspace.NewGit(log)

	orch := orchestrator.New(orchestrator.Options{
		Log:      log,
		Store:    st,
		Caps:     registry,
		Exec:     exec,
		Bus:      bus,
		Git:      git,
		GitToken: cfg.GitToken(),
	})

	apiServer := api.NewServer(log, orch)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:   cfg,
		log:   log,
		store: st,
		caps:  registry,
		exec:  exec,
		http:  httpServer,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then drains background tasks,
// cleans up providers, and closes the store.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("listening", zap.String("addr", s.cfg.Listen))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.exec.StopAll(drainCtx)
	s.caps.Cleanup(drainCtx)
	if closeErr := s.store.Close(); closeErr != nil {
		s.log.Warn("closing store failed", zap.Error(closeErr))
	}
	_ = s.log.Sync()
	return err
}
