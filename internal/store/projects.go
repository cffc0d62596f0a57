package store

import (
	"context"
	"fmt"

	"github.com/zjjiang/opd/internal/model"
)

// CreateProject inserts a new project. Names are unique across the space
// of projects.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = model.NewID()
	}
	if p.WorkspaceStatus == "" {
		p.WorkspaceStatus = model.WorkspacePending
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO projects (id, name, repo_url, description, tech_stack, architecture,
			workspace_dir, workspace_status, workspace_error, created_at, updated_at)
		VALUES (:id, :name, :repo_url, :description, :tech_stack, :architecture,
			:workspace_dir, :workspace_status, :workspace_error, :created_at, :updated_at)`, p)
	if err != nil {
		return fmt.Errorf("store: creating project %q: %w", p.Name, err)
	}
	return nil
}

// GetProject loads one project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.GetContext(ctx, &p, `SELECT * FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "project", id)
	}
	return &p, nil
}

// ListProjects returns every project, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	err := s.db.SelectContext(ctx, &projects, `SELECT * FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: listing projects: %w", err)
	}
	return projects, nil
}

// UpdateProject persists mutable project fields.
func (s *Store) UpdateProject(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = s.now()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE projects SET name = :name, repo_url = :repo_url, description = :description,
			tech_stack = :tech_stack, architecture = :architecture,
			workspace_dir = :workspace_dir, workspace_status = :workspace_status,
			workspace_error = :workspace_error, updated_at = :updated_at
		WHERE id = :id`, p)
	if err != nil {
		return fmt.Errorf("store: updating project %q: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %q: %w", p.ID, ErrNotFound)
	}
	return nil
}

// SetWorkspaceStatus records clone progress for a project.
func (s *Store) SetWorkspaceStatus(ctx context.Context, projectID string, status model.WorkspaceStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET workspace_status = ?, workspace_error = ?, updated_at = ?
		WHERE id = ?`, status, errMsg, s.now(), projectID)
	if err != nil {
		return fmt.Errorf("store: setting workspace status for %q: %w", projectID, err)
	}
	return nil
}

// CountStories returns the number of stories in a project.
func (s *Store) CountStories(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM stories WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, fmt.Errorf("store: counting stories for %q: %w", projectID, err)
	}
	return n, nil
}

// ListRules returns a project's rules in creation order.
func (s *Store) ListRules(ctx context.Context, projectID string) ([]model.Rule, error) {
	var rules []model.Rule
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM rules WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing rules for %q: %w", projectID, err)
	}
	return rules, nil
}

// CreateRule inserts a project rule.
func (s *Store) CreateRule(ctx context.Context, r *model.Rule) error {
	if r.ID == "" {
		r.ID = model.NewID()
	}
	r.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO rules (id, project_id, category, content, enabled, created_at)
		VALUES (:id, :project_id, :category, :content, :enabled, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("store: creating rule: %w", err)
	}
	return nil
}

// ListSkills returns a project's skills in creation order.
func (s *Store) ListSkills(ctx context.Context, projectID string) ([]model.Skill, error) {
	var skills []model.Skill
	err := s.db.SelectContext(ctx, &skills,
		`SELECT * FROM skills WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing skills for %q: %w", projectID, err)
	}
	return skills, nil
}

// CreateSkill inserts a project skill.
func (s *Store) CreateSkill(ctx context.Context, sk *model.Skill) error {
	if sk.ID == "" {
		sk.ID = model.NewID()
	}
	sk.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO skills (id, project_id, name, description, command, trigger, created_at)
		VALUES (:id, :project_id, :name, :description, :command, :trigger, :created_at)`, sk)
	if err != nil {
		return fmt.Errorf("store: creating skill: %w", err)
	}
	return nil
}
