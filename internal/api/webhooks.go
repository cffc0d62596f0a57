package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
)

// githubWebhook receives GitHub PR events. When a webhook secret is
// configured on the SCM provider, the X-Hub-Signature-256 HMAC is
// verified before anything is parsed.
func (s *Server) githubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Detail: "unreadable body"})
		return
	}

	if secret := s.webhookSecret(); secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !verifyGitHubSignature(payload, signature, secret) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Detail: "invalid signature"})
			return
		}
	}

	event := r.Header.Get("X-GitHub-Event")
	s.log.Info("github webhook received", zap.String("event", event))

	switch event {
	case "pull_request":
		s.handlePREvent(r, payload)
	case "pull_request_review":
		s.handlePRReviewEvent(r, payload)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// webhookSecret reads the secret from the active SCM provider config.
func (s *Server) webhookSecret() string {
	cap := s.orch.Capabilities().Get(capability.CategorySCM)
	if cap == nil {
		return ""
	}
	return cap.Provider.Config()["webhook_secret"]
}

// verifyGitHubSignature checks the sha256= HMAC over the body.
func verifyGitHubSignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type prEventPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int  `json:"number"`
		Merged bool `json:"merged"`
	} `json:"pull_request"`
	Review struct {
		State string `json:"state"`
	} `json:"review"`
}

// handlePREvent closes the round when its PR is merged or closed
// externally.
func (s *Server) handlePREvent(r *http.Request, payload []byte) {
	var body prEventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		s.log.Warn("webhook: unparseable pull_request payload", zap.Error(err))
		return
	}
	if body.Action != "closed" {
		return
	}

	round, pr, err := s.orch.Store().FindRoundByPRNumber(r.Context(), body.PullRequest.Number)
	if err != nil {
		s.log.Debug("webhook: no round for PR", zap.Int("pr", body.PullRequest.Number))
		return
	}

	status := model.PRClosed
	closeReason := "PR closed without merge"
	if body.PullRequest.Merged {
		status = model.PRMerged
		closeReason = "PR merged"
	}
	if err := s.orch.Store().UpdatePullRequestStatus(r.Context(), pr.ID, status); err != nil {
		s.log.Warn("webhook: updating PR status failed", zap.Error(err))
		return
	}
	if round.Status == model.RoundActive {
		round.Status = model.RoundClosed
		round.CloseReason = closeReason
		if err := s.orch.Store().UpdateRound(r.Context(), round); err != nil {
			s.log.Warn("webhook: closing round failed", zap.Error(err))
			return
		}
		s.log.Info("round closed via webhook",
			zap.String("round_id", round.ID), zap.String("reason", closeReason))
	}
}

// handlePRReviewEvent records a changes-requested review on the round.
func (s *Server) handlePRReviewEvent(r *http.Request, payload []byte) {
	var body prEventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		s.log.Warn("webhook: unparseable review payload", zap.Error(err))
		return
	}
	if body.Review.State != "changes_requested" {
		return
	}
	round, _, err := s.orch.Store().FindRoundByPRNumber(r.Context(), body.PullRequest.Number)
	if err != nil {
		return
	}
	round.CloseReason = "changes requested in review"
	if err := s.orch.Store().UpdateRound(r.Context(), round); err != nil {
		s.log.Warn("webhook: recording review state failed", zap.Error(err))
		return
	}
	s.log.Info("review changes requested", zap.String("round_id", round.ID))
}
