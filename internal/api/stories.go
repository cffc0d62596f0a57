package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/orchestrator"
	"github.com/zjjiang/opd/internal/workspace"
)

type createStoryRequest struct {
	Title      string `json:"title" validate:"required"`
	RawInput   string `json:"raw_input" validate:"required"`
	FeatureTag string `json:"feature_tag"`
}

func (s *Server) createStory(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req createStoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	story := &model.Story{
		Title:      req.Title,
		RawInput:   req.RawInput,
		FeatureTag: req.FeatureTag,
	}
	if err := s.orch.CreateStory(r.Context(), projectID, story); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": story.ID, "status": string(story.Status)})
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	bundle, err := s.orch.Store().LoadBundle(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	story := bundle.Story

	// Resolve doc fields to their effective content for the client.
	resolve := func(d model.StoryDoc) string {
		content, ok, err := workspace.ResolveDoc(bundle.Project, story, d)
		if err != nil || !ok {
			return ""
		}
		return content
	}

	rounds := make([]map[string]any, 0, len(bundle.Rounds))
	for _, round := range bundle.Rounds {
		prs := []map[string]any{}
		if bundle.ActiveRound != nil && round.ID == bundle.ActiveRound.ID {
			for _, pr := range bundle.PullRequests {
				prs = append(prs, map[string]any{
					"pr_number": pr.Number, "pr_url": pr.URL, "status": pr.Status,
				})
			}
		}
		rounds = append(rounds, map[string]any{
			"id":            round.ID,
			"round_number":  round.RoundNumber,
			"type":          round.Type,
			"status":        round.Status,
			"branch_name":   round.BranchName,
			"pull_requests": prs,
		})
	}

	stageRunning, chatRunning := s.orch.AIRunning(id)
	activeRoundID := ""
	if bundle.ActiveRound != nil {
		activeRoundID = bundle.ActiveRound.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":               story.ID,
		"title":            story.Title,
		"status":           story.Status,
		"feature_tag":      story.FeatureTag,
		"raw_input":        story.RawInput,
		"prd":              resolve(model.DocPRD),
		"confirmed_prd":    resolve(model.DocConfirmedPRD),
		"technical_design": resolve(model.DocTechnicalDesign),
		"detailed_design":  resolve(model.DocDetailedDesign),
		"coding_report":    resolve(model.DocCodingReport),
		"test_guide":       resolve(model.DocTestGuide),
		"current_round":    story.CurrentRound,
		"rounds":           rounds,
		"clarifications":   bundle.Clarifications,
		"tasks":            bundle.Tasks,
		"active_round_id":  activeRoundID,
		"ai_running":       stageRunning || chatRunning,
		"ai_stage_running": stageRunning,
	})
}

func (s *Server) confirmStage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	story, err := s.orch.ConfirmStage(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": story.ID, "status": string(story.Status)})
}

func (s *Server) rejectStage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	story, err := s.orch.RejectStage(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id": story.ID, "status": string(story.Status), "message": "stage re-triggered",
	})
}

type rollbackRequest struct {
	TargetStage string `json:"target_stage" validate:"required"`
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	var req rollbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	story, err := s.orch.Rollback(r.Context(), id, model.StoryStatus(req.TargetStage))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": story.ID, "status": string(story.Status)})
}

type chatRequest struct {
	Message string `json:"message" validate:"required"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.orch.Chat(r.Context(), id, req.Message); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

type answerRequest struct {
	Answers []struct {
		ID       string `json:"id"`
		Question string `json:"question"`
		Answer   string `json:"answer" validate:"required"`
	} `json:"answers" validate:"required,dive"`
}

func (s *Server) answerClarifications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	answers := make([]orchestrator.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, orchestrator.Answer{ID: a.ID, Question: a.Question, Reply: a.Answer})
	}
	count, err := s.orch.AnswerClarifications(r.Context(), id, answers)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "answers recorded", "count": count})
}

func (s *Server) iterate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	story, err := s.orch.Iterate(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id": story.ID, "status": string(story.Status), "action": "iterate",
	})
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	story, err := s.orch.Restart(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id": story.ID, "status": string(story.Status), "action": "restart",
	})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	stopped, err := s.orch.Stop(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) preflight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storyID")
	result, err := s.orch.Preflight(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": result.OK(), "errors": result.Errors, "warnings": result.Warnings,
	})
}

// --- Story docs ---

func (s *Server) storyWithProject(r *http.Request) (*model.Story, *model.Project, error) {
	id := chi.URLParam(r, "storyID")
	story, err := s.orch.Store().GetStory(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	project, err := s.orch.Store().GetProject(r.Context(), story.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return story, project, nil
}

func (s *Server) listDocs(w http.ResponseWriter, r *http.Request) {
	story, project, err := s.storyWithProject(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	files, err := workspace.ListDocs(project, story)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) getDoc(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	story, project, err := s.storyWithProject(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	content, found, err := workspace.ReadDoc(project, story, filename)
	if err != nil {
		writeError(w, s.log, &orchestrator.ValidationError{Msg: err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: "document not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": filename, "content": content})
}

type updateDocRequest struct {
	Content string `json:"content" validate:"required"`
}

func (s *Server) putDoc(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	var req updateDocRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	story, project, err := s.storyWithProject(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	// Manual PRD edits are only meaningful while the PRD is under review.
	if filename == "prd.md" &&
		story.Status != model.StatusPreparing && story.Status != model.StatusClarifying {
		writeError(w, s.log, &orchestrator.ValidationError{
			Msg: "prd.md can only be edited in preparing/clarifying stages",
		})
		return
	}

	relPath, err := workspace.WriteDoc(project, story, filename, req.Content)
	if err != nil {
		writeError(w, s.log, &orchestrator.ValidationError{Msg: err.Error()})
		return
	}
	if d, ok := model.DocForFilename(filename); ok {
		story.Set(d, relPath)
		if err := s.orch.Store().UpdateStory(r.Context(), story); err != nil {
			writeError(w, s.log, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": filename, "path": relPath})
}
