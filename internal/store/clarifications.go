package store

import (
	"context"
	"fmt"

	"github.com/zjjiang/opd/internal/model"
)

// CreateClarification inserts one unanswered clarification.
func (s *Store) CreateClarification(ctx context.Context, c *model.Clarification) error {
	if c.ID == "" {
		c.ID = model.NewID()
	}
	c.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO clarifications (id, story_id, question, options, answer, answered, created_at)
		VALUES (:id, :story_id, :question, :options, :answer, :answered, :created_at)`, c)
	if err != nil {
		return fmt.Errorf("store: creating clarification: %w", err)
	}
	return nil
}

// ListClarifications returns a story's clarifications in creation order.
func (s *Store) ListClarifications(ctx context.Context, storyID string) ([]model.Clarification, error) {
	var cs []model.Clarification
	err := s.db.SelectContext(ctx, &cs,
		`SELECT * FROM clarifications WHERE story_id = ? ORDER BY created_at, rowid`, storyID)
	if err != nil {
		return nil, fmt.Errorf("store: listing clarifications for %q: %w", storyID, err)
	}
	return cs, nil
}

// AnswerClarificationByID sets the answer on a clarification by id.
// Returns the number of rows updated.
func (s *Store) AnswerClarificationByID(ctx context.Context, storyID, id, answer string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE clarifications SET answer = ?, answered = 1
		WHERE id = ? AND story_id = ?`, answer, id, storyID)
	if err != nil {
		return 0, fmt.Errorf("store: answering clarification %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AnswerClarificationByQuestion sets the answer on the first unanswered
// clarification matching the question text. Fallback path when the client
// has no id.
func (s *Store) AnswerClarificationByQuestion(ctx context.Context, storyID, question, answer string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE clarifications SET answer = ?, answered = 1
		WHERE story_id = ? AND question = ? AND answered = 0`, answer, storyID, question)
	if err != nil {
		return 0, fmt.Errorf("store: answering clarification by question: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteClarifications removes every clarification of a story.
func (s *Store) DeleteClarifications(ctx context.Context, storyID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM clarifications WHERE story_id = ?`, storyID); err != nil {
		return fmt.Errorf("store: deleting clarifications for %q: %w", storyID, err)
	}
	return nil
}
