package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/zjjiang/opd/internal/orchestrator"
)

// Server holds the handler dependencies.
type Server struct {
	log  *zap.Logger
	orch *orchestrator.Orchestrator
}

// NewServer wires the API server.
func NewServer(log *zap.Logger, orch *orchestrator.Orchestrator) *Server {
	return &Server{log: log, orch: orch}
}

// Router builds the chi router with the full HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.createProject)
			r.Get("/", s.listProjects)
			r.Post("/verify-repo", s.verifyRepo)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Put("/", s.updateProject)
				r.Post("/init-workspace", s.initWorkspace)
				r.Get("/workspace-status", s.workspaceStatus)
				r.Post("/stories", s.createStory)
				r.Get("/capabilities", s.projectCapabilities)
				r.Put("/capabilities/{capability}", s.saveProjectCapability)
				r.Post("/capabilities/{capability}/test", s.testProjectCapability)
			})
		})

		r.Route("/settings/capabilities", func(r chi.Router) {
			r.Get("/", s.globalCapabilities)
			r.Put("/{capability}", s.saveGlobalCapability)
			r.Post("/{capability}/test", s.testGlobalCapability)
		})

		r.Route("/stories/{storyID}", func(r chi.Router) {
			r.Get("/", s.getStory)
			r.Post("/confirm", s.confirmStage)
			r.Post("/reject", s.rejectStage)
			r.Post("/rollback", s.rollback)
			r.Post("/chat", s.chat)
			r.Post("/answer", s.answerClarifications)
			r.Post("/iterate", s.iterate)
			r.Post("/restart", s.restart)
			r.Post("/stop", s.stop)
			r.Get("/stream", s.stream)
			r.Get("/preflight", s.preflight)
			r.Get("/docs", s.listDocs)
			r.Get("/docs/{filename}", s.getDoc)
			r.Put("/docs/{filename}", s.putDoc)
		})

		r.Post("/webhooks/github", s.githubWebhook)
	})

	return r
}
