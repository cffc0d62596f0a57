package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/provider/scm"
)

type projectRequest struct {
	Name         string `json:"name" validate:"required"`
	RepoURL      string `json:"repo_url" validate:"required,url"`
	Description  string `json:"description"`
	TechStack    string `json:"tech_stack"`
	Architecture string `json:"architecture"`
	WorkspaceDir string `json:"workspace_dir"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	project := &model.Project{
		Name:         req.Name,
		RepoURL:      req.RepoURL,
		Description:  req.Description,
		TechStack:    req.TechStack,
		Architecture: req.Architecture,
		WorkspaceDir: req.WorkspaceDir,
	}
	if err := s.orch.CreateProject(r.Context(), project); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": project.ID, "name": project.Name})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.orch.Store().ListProjects(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		count, err := s.orch.Store().CountStories(r.Context(), p.ID)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		out = append(out, map[string]any{
			"id":               p.ID,
			"name":             p.Name,
			"repo_url":         p.RepoURL,
			"story_count":      count,
			"workspace_status": p.WorkspaceStatus,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	ctx := r.Context()

	project, err := s.orch.Store().GetProject(ctx, id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	rules, err := s.orch.Store().ListRules(ctx, id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	skills, err := s.orch.Store().ListSkills(ctx, id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	stories, err := s.orch.Store().ListStories(ctx, id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	storyViews := make([]map[string]any, 0, len(stories))
	for _, st := range stories {
		storyViews = append(storyViews, map[string]any{
			"id":     st.ID,
			"title":  st.Title,
			"status": st.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               project.ID,
		"name":             project.Name,
		"repo_url":         project.RepoURL,
		"description":      project.Description,
		"tech_stack":       project.TechStack,
		"architecture":     project.Architecture,
		"workspace_dir":    project.WorkspaceDir,
		"workspace_status": project.WorkspaceStatus,
		"workspace_error":  project.WorkspaceError,
		"rules":            rules,
		"skills":           skills,
		"stories":          storyViews,
	})
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	var req projectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	project, err := s.orch.Store().GetProject(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	repoChanged := project.RepoURL != req.RepoURL
	project.Name = req.Name
	project.RepoURL = req.RepoURL
	project.Description = req.Description
	project.TechStack = req.TechStack
	project.Architecture = req.Architecture
	project.WorkspaceDir = req.WorkspaceDir
	if err := s.orch.UpdateProject(r.Context(), project, repoChanged); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": project.ID, "name": project.Name})
}

func (s *Server) initWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	if err := s.orch.InitWorkspace(r.Context(), id); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) workspaceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	project, err := s.orch.Store().GetProject(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(project.WorkspaceStatus),
		"error":  project.WorkspaceError,
	})
}

type verifyRepoRequest struct {
	RepoURL string `json:"repo_url" validate:"required,url"`
}

// verifyRepo health-checks the SCM provider against a repository URL
// before a project is created.
func (s *Server) verifyRepo(w http.ResponseWriter, r *http.Request) {
	var req verifyRepoRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	cap := s.orch.Capabilities().Get(capability.CategorySCM)
	if cap == nil {
		writeJSON(w, http.StatusOK, map[string]any{"healthy": false, "message": "scm capability not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if prov, ok := cap.Provider.(scm.Provider); ok {
		if slug, found := repoSlug(req.RepoURL); found {
			status := prov.PreflightCheck(ctx, slug)
			msg := ""
			if len(status.Errors) > 0 {
				msg = status.Errors[0]
			}
			writeJSON(w, http.StatusOK, map[string]any{"healthy": status.OK, "message": msg})
			return
		}
	}
	health := cap.HealthCheck(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"healthy": health.Healthy, "message": health.Message})
}

// repoSlug extracts the "owner/name" slug from an HTTPS git URL.
func repoSlug(repoURL string) (string, bool) {
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	if strings.Count(path, "/") != 1 {
		return "", false
	}
	return path, true
}
