package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zjjiang/opd/internal/model"
)

// CreateStory inserts a story and its initial round in one transaction.
// The first round is always number 1, type initial, status active.
func (s *Store) CreateStory(ctx context.Context, story *model.Story) (*model.Round, error) {
	if story.ID == "" {
		story.ID = model.NewID()
	}
	if story.Status == "" {
		story.Status = model.StatusPreparing
	}
	story.CurrentRound = 1
	story.CreatedAt = s.now()
	story.UpdatedAt = story.CreatedAt

	round := &model.Round{
		ID:          model.NewID(),
		StoryID:     story.ID,
		RoundNumber: 1,
		Type:        model.RoundInitial,
		Status:      model.RoundActive,
		CreatedAt:   story.CreatedAt,
		UpdatedAt:   story.CreatedAt,
	}

	err := s.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO stories (id, project_id, title, feature_tag, raw_input, status,
				current_round, prd, confirmed_prd, technical_design, detailed_design,
				coding_report, test_guide, planning_input_hash, designing_input_hash,
				coding_input_hash, created_at, updated_at)
			VALUES (:id, :project_id, :title, :feature_tag, :raw_input, :status,
				:current_round, :prd, :confirmed_prd, :technical_design, :detailed_design,
				:coding_report, :test_guide, :planning_input_hash, :designing_input_hash,
				:coding_input_hash, :created_at, :updated_at)`, story); err != nil {
			return fmt.Errorf("store: creating story %q: %w", story.Title, err)
		}
		if _, err := tx.NamedExecContext(ctx, insertRoundSQL, round); err != nil {
			return fmt.Errorf("store: creating initial round: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// GetStory loads one story by id.
func (s *Store) GetStory(ctx context.Context, id string) (*model.Story, error) {
	var story model.Story
	err := s.db.GetContext(ctx, &story, `SELECT * FROM stories WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "story", id)
	}
	return &story, nil
}

// UpdateStory persists every mutable story field.
func (s *Store) UpdateStory(ctx context.Context, story *model.Story) error {
	story.UpdatedAt = s.now()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE stories SET title = :title, feature_tag = :feature_tag, status = :status,
			current_round = :current_round, prd = :prd, confirmed_prd = :confirmed_prd,
			technical_design = :technical_design, detailed_design = :detailed_design,
			coding_report = :coding_report, test_guide = :test_guide,
			planning_input_hash = :planning_input_hash,
			designing_input_hash = :designing_input_hash,
			coding_input_hash = :coding_input_hash, updated_at = :updated_at
		WHERE id = :id`, story)
	if err != nil {
		return fmt.Errorf("store: updating story %q: %w", story.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("story %q: %w", story.ID, ErrNotFound)
	}
	return nil
}

// ListStories returns a project's stories, newest first.
func (s *Store) ListStories(ctx context.Context, projectID string) ([]model.Story, error) {
	var stories []model.Story
	err := s.db.SelectContext(ctx, &stories,
		`SELECT * FROM stories WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing stories for %q: %w", projectID, err)
	}
	return stories, nil
}

// LoadBundle reads the full aggregate a background task needs in one call:
// story, project, rules, skills, rounds, clarifications, tasks, PRs of the
// active round, and capability overrides.
func (s *Store) LoadBundle(ctx context.Context, storyID string) (*model.StoryBundle, error) {
	story, err := s.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	project, err := s.GetProject(ctx, story.ProjectID)
	if err != nil {
		return nil, err
	}
	rules, err := s.ListRules(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	skills, err := s.ListSkills(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	rounds, err := s.ListRounds(ctx, storyID)
	if err != nil {
		return nil, err
	}
	clarifications, err := s.ListClarifications(ctx, storyID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks(ctx, storyID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.ListProjectCapabilityConfigs(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	bundle := &model.StoryBundle{
		Story:          story,
		Project:        project,
		Rules:          rules,
		Skills:         skills,
		Rounds:         rounds,
		Clarifications: clarifications,
		Tasks:          tasks,
		CapOverrides:   overrides,
	}
	for i := range rounds {
		if rounds[i].Status == model.RoundActive {
			bundle.ActiveRound = &rounds[i]
			break
		}
	}
	if bundle.ActiveRound != nil {
		prs, err := s.ListPullRequests(ctx, bundle.ActiveRound.ID)
		if err != nil {
			return nil, err
		}
		bundle.PullRequests = prs
	}
	return bundle, nil
}

// ListTasks returns a story's tasks in execution order.
func (s *Store) ListTasks(ctx context.Context, storyID string) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT * FROM tasks WHERE story_id = ? ORDER BY task_order`, storyID)
	if err != nil {
		return nil, fmt.Errorf("store: listing tasks for %q: %w", storyID, err)
	}
	return tasks, nil
}

// DeleteTasks removes every task of a story.
func (s *Store) DeleteTasks(ctx context.Context, storyID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE story_id = ?`, storyID); err != nil {
		return fmt.Errorf("store: deleting tasks for %q: %w", storyID, err)
	}
	return nil
}
