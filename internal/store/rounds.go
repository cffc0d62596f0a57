package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zjjiang/opd/internal/model"
)

const insertRoundSQL = `
	INSERT INTO rounds (id, story_id, round_number, type, status, branch_name,
		close_reason, created_at, updated_at)
	VALUES (:id, :story_id, :round_number, :type, :status, :branch_name,
		:close_reason, :created_at, :updated_at)`

// ListRounds returns a story's rounds in round order.
func (s *Store) ListRounds(ctx context.Context, storyID string) ([]model.Round, error) {
	var rounds []model.Round
	err := s.db.SelectContext(ctx, &rounds,
		`SELECT * FROM rounds WHERE story_id = ? ORDER BY round_number`, storyID)
	if err != nil {
		return nil, fmt.Errorf("store: listing rounds for %q: %w", storyID, err)
	}
	return rounds, nil
}

// ActiveRound returns the story's single active round.
func (s *Store) ActiveRound(ctx context.Context, storyID string) (*model.Round, error) {
	var round model.Round
	err := s.db.GetContext(ctx, &round,
		`SELECT * FROM rounds WHERE story_id = ? AND status = ?`, storyID, model.RoundActive)
	if err != nil {
		return nil, notFound(err, "active round for story", storyID)
	}
	return &round, nil
}

// UpdateRound persists mutable round fields.
func (s *Store) UpdateRound(ctx context.Context, r *model.Round) error {
	r.UpdatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE rounds SET status = :status, branch_name = :branch_name,
			close_reason = :close_reason, updated_at = :updated_at
		WHERE id = :id`, r)
	if err != nil {
		return fmt.Errorf("store: updating round %q: %w", r.ID, err)
	}
	return nil
}

// RotateRound closes the active round and opens a new one in a single
// transaction, keeping the one-active-round invariant. Returns the new
// round.
func (s *Store) RotateRound(ctx context.Context, story *model.Story, roundType model.RoundType, closeReason string) (*model.Round, error) {
	now := s.now()
	story.CurrentRound++
	newRound := &model.Round{
		ID:          model.NewID(),
		StoryID:     story.ID,
		RoundNumber: story.CurrentRound,
		Type:        roundType,
		Status:      model.RoundActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE rounds SET status = ?, close_reason = ?, updated_at = ?
			WHERE story_id = ? AND status = ?`,
			model.RoundClosed, closeReason, now, story.ID, model.RoundActive); err != nil {
			return fmt.Errorf("store: closing active round: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, insertRoundSQL, newRound); err != nil {
			return fmt.Errorf("store: opening round %d: %w", newRound.RoundNumber, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stories SET current_round = ?, updated_at = ? WHERE id = ?`,
			story.CurrentRound, now, story.ID); err != nil {
			return fmt.Errorf("store: bumping current round: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newRound, nil
}

// AppendMessage adds one entry to a round's AI message log.
func (s *Store) AppendMessage(ctx context.Context, roundID string, role model.MessageRole, content string) (*model.AIMessage, error) {
	msg := &model.AIMessage{
		ID:        model.NewID(),
		RoundID:   roundID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ai_messages (id, round_id, role, content, created_at)
		VALUES (:id, :round_id, :role, :content, :created_at)`, msg)
	if err != nil {
		return nil, fmt.Errorf("store: appending message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a round's AI messages in creation order.
func (s *Store) ListMessages(ctx context.Context, roundID string) ([]model.AIMessage, error) {
	var msgs []model.AIMessage
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT * FROM ai_messages WHERE round_id = ? ORDER BY created_at, rowid`, roundID)
	if err != nil {
		return nil, fmt.Errorf("store: listing messages for round %q: %w", roundID, err)
	}
	return msgs, nil
}

// DeleteMessages clears a round's AI message log.
func (s *Store) DeleteMessages(ctx context.Context, roundID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ai_messages WHERE round_id = ?`, roundID); err != nil {
		return fmt.Errorf("store: deleting messages for round %q: %w", roundID, err)
	}
	return nil
}

// CreatePullRequest records a remote PR for a round.
func (s *Store) CreatePullRequest(ctx context.Context, pr *model.PullRequest) error {
	if pr.ID == "" {
		pr.ID = model.NewID()
	}
	if pr.Status == "" {
		pr.Status = model.PROpen
	}
	pr.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pull_requests (id, round_id, pr_number, pr_url, status, created_at)
		VALUES (:id, :round_id, :pr_number, :pr_url, :status, :created_at)`, pr)
	if err != nil {
		return fmt.Errorf("store: creating pull request: %w", err)
	}
	return nil
}

// ListPullRequests returns a round's tracked PRs.
func (s *Store) ListPullRequests(ctx context.Context, roundID string) ([]model.PullRequest, error) {
	var prs []model.PullRequest
	err := s.db.SelectContext(ctx, &prs,
		`SELECT * FROM pull_requests WHERE round_id = ? ORDER BY created_at`, roundID)
	if err != nil {
		return nil, fmt.Errorf("store: listing pull requests for round %q: %w", roundID, err)
	}
	return prs, nil
}

// FindRoundByPRNumber locates the round tracking a PR number, for webhook
// correlation. Returns ErrNotFound when no round tracks it.
func (s *Store) FindRoundByPRNumber(ctx context.Context, prNumber int) (*model.Round, *model.PullRequest, error) {
	var pr model.PullRequest
	err := s.db.GetContext(ctx, &pr,
		`SELECT * FROM pull_requests WHERE pr_number = ? ORDER BY created_at DESC LIMIT 1`, prNumber)
	if err != nil {
		return nil, nil, notFound(err, "pull request", fmt.Sprintf("#%d", prNumber))
	}
	var round model.Round
	if err := s.db.GetContext(ctx, &round, `SELECT * FROM rounds WHERE id = ?`, pr.RoundID); err != nil {
		return nil, nil, notFound(err, "round", pr.RoundID)
	}
	return &round, &pr, nil
}

// UpdatePullRequestStatus flips the tracked status of a PR.
func (s *Store) UpdatePullRequestStatus(ctx context.Context, id string, status model.PRStatus) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("store: updating pull request %q: %w", id, err)
	}
	return nil
}
