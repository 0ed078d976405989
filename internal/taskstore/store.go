// Package taskstore caches the last good collection snapshot in SQLite
// so the console has something to show before the server answers.
package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/orch-console/internal/domain"
)

// Store provides SQLite-backed snapshot persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// An in-memory database lives as long as its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the cached snapshot
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	accountsJSON, err := json.Marshal(snap.Accounts)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"environments", "tasks"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for i, env := range snap.Environments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO environments (id, position, name, repo_url, default_branch)
			VALUES (?, ?, ?, ?, ?)
		`, env.ID, i, env.Name, env.RepoURL, env.DefaultBranch)
		if err != nil {
			return fmt.Errorf("saving environment %s: %w", env.ID, err)
		}
	}

	for i, task := range snap.Tasks {
		runsJSON, err := json.Marshal(task.Runs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, position, env_id, title, status, runs, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			task.ID,
			i,
			task.EnvID,
			task.Title,
			string(task.Status),
			string(runsJSON),
			task.CreatedAt,
			task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("saving task %s: %w", task.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, state) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state
	`, string(accountsJSON))
	if err != nil {
		return fmt.Errorf("saving accounts: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, saved_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at
	`, s.now().UTC())
	if err != nil {
		return err
	}

	return tx.Commit()
}

// LoadSnapshot returns the cached snapshot. The bool is false when
// nothing was ever saved.
func (s *Store) LoadSnapshot(ctx context.Context) (domain.Snapshot, bool, error) {
	if _, ok, err := s.SavedAt(ctx); err != nil || !ok {
		return domain.Snapshot{}, false, err
	}

	snap := domain.Snapshot{
		Environments: []domain.Environment{},
		Tasks:        []domain.Task{},
	}

	envs, err := s.listEnvironments(ctx)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	snap.Environments = append(snap.Environments, envs...)

	tasks, err := s.listTasks(ctx)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	snap.Tasks = append(snap.Tasks, tasks...)

	var accountsJSON string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM accounts WHERE id = 1`).Scan(&accountsJSON)
	if err != nil && err != sql.ErrNoRows {
		return domain.Snapshot{}, false, err
	}
	if accountsJSON != "" {
		if err := json.Unmarshal([]byte(accountsJSON), &snap.Accounts); err != nil {
			return domain.Snapshot{}, false, fmt.Errorf("decoding accounts: %w", err)
		}
	}

	return snap, true, nil
}

// SavedAt returns when the snapshot was last saved
func (s *Store) SavedAt(ctx context.Context) (time.Time, bool, error) {
	var savedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM snapshot_meta WHERE id = 1`).Scan(&savedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return savedAt, true, nil
}

func (s *Store) listEnvironments(ctx context.Context) ([]domain.Environment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, repo_url, default_branch FROM environments ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []domain.Environment
	for rows.Next() {
		var env domain.Environment
		var repoURL, branch sql.NullString
		if err := rows.Scan(&env.ID, &env.Name, &repoURL, &branch); err != nil {
			return nil, err
		}
		env.RepoURL = repoURL.String
		env.DefaultBranch = branch.String
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func (s *Store) listTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, env_id, title, status, runs, created_at, updated_at FROM tasks ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(rows *sql.Rows) (domain.Task, error) {
	var task domain.Task
	var envID, title, runsJSON sql.NullString
	var status string

	err := rows.Scan(&task.ID, &envID, &title, &status, &runsJSON, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}

	task.EnvID = envID.String
	task.Title = title.String
	task.Status = domain.ParseTaskStatus(status)

	if runsJSON.Valid && runsJSON.String != "" && runsJSON.String != "null" {
		if err := json.Unmarshal([]byte(runsJSON.String), &task.Runs); err != nil {
			return domain.Task{}, err
		}
	}
	return task, nil
}
