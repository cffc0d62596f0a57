// Package store is the persistence gateway: a narrow read/write API over
// the domain entities backed by SQLite. Nothing outside this package
// writes SQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the database handle. One Store is shared process-wide;
// SQLite serializes writers via the busy timeout.
type Store struct {
	db      *sqlx.DB
	timeNow func() time.Time
}

// Open opens (creating if needed) the SQLite database at dsn and runs
// migrations. WAL mode keeps readers unblocked while background tasks
// write.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, timeNow: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.timeNow().UTC()
}

// notFound maps sql.ErrNoRows onto ErrNotFound with entity context.
func notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
	}
	return err
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			repo_url         TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			tech_stack       TEXT NOT NULL DEFAULT '',
			architecture     TEXT NOT NULL DEFAULT '',
			workspace_dir    TEXT NOT NULL DEFAULT '',
			workspace_status TEXT NOT NULL DEFAULT 'pending',
			workspace_error  TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rules (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			category   TEXT NOT NULL,
			content    TEXT NOT NULL,
			enabled    INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rules_project ON rules(project_id);

		CREATE TABLE IF NOT EXISTS skills (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			command     TEXT NOT NULL,
			trigger     TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_skills_project ON skills(project_id);

		CREATE TABLE IF NOT EXISTS stories (
			id                   TEXT PRIMARY KEY,
			project_id           TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			title                TEXT NOT NULL,
			feature_tag          TEXT NOT NULL DEFAULT '',
			raw_input            TEXT NOT NULL,
			status               TEXT NOT NULL DEFAULT 'preparing',
			current_round        INTEGER NOT NULL DEFAULT 1,
			prd                  TEXT NOT NULL DEFAULT '',
			confirmed_prd        TEXT NOT NULL DEFAULT '',
			technical_design     TEXT NOT NULL DEFAULT '',
			detailed_design      TEXT NOT NULL DEFAULT '',
			coding_report        TEXT NOT NULL DEFAULT '',
			test_guide           TEXT NOT NULL DEFAULT '',
			planning_input_hash  TEXT NOT NULL DEFAULT '',
			designing_input_hash TEXT NOT NULL DEFAULT '',
			coding_input_hash    TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMP NOT NULL,
			updated_at           TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stories_project ON stories(project_id);

		CREATE TABLE IF NOT EXISTS rounds (
			id           TEXT PRIMARY KEY,
			story_id     TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
			round_number INTEGER NOT NULL,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'active',
			branch_name  TEXT NOT NULL DEFAULT '',
			close_reason TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rounds_story ON rounds(story_id);

		CREATE TABLE IF NOT EXISTS clarifications (
			id         TEXT PRIMARY KEY,
			story_id   TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
			question   TEXT NOT NULL,
			options    TEXT NOT NULL DEFAULT '',
			answer     TEXT NOT NULL DEFAULT '',
			answered   INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_clarifications_story ON clarifications(story_id);

		CREATE TABLE IF NOT EXISTS ai_messages (
			id         TEXT PRIMARY KEY,
			round_id   TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ai_messages_round ON ai_messages(round_id, created_at);

		CREATE TABLE IF NOT EXISTS pull_requests (
			id         TEXT PRIMARY KEY,
			round_id   TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
			pr_number  INTEGER NOT NULL,
			pr_url     TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pull_requests_round ON pull_requests(round_id);

		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			story_id    TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			task_order  INTEGER NOT NULL DEFAULT 0,
			depends_on  TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_story ON tasks(story_id);

		CREATE TABLE IF NOT EXISTS capability_configs (
			capability TEXT PRIMARY KEY,
			provider   TEXT NOT NULL,
			config     TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS project_capability_configs (
			id                TEXT PRIMARY KEY,
			project_id        TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			capability        TEXT NOT NULL,
			enabled           INTEGER NOT NULL DEFAULT 1,
			provider_override TEXT NOT NULL DEFAULT '',
			config_override   TEXT NOT NULL DEFAULT '{}',
			UNIQUE(project_id, capability)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// InTx runs fn inside a transaction, committing on nil error.
func (s *Store) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
