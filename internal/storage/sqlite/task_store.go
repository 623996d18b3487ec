// Package sqlite provides the default durable TaskStore backed by an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	// Registers the pure-Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/storage/migrations"
)

// Config controls how the SQLite database is opened.
type Config struct {
	Path        string
	AutoMigrate bool
}

// TaskStore persists users, tasks, and repositories in SQLite.
type TaskStore struct {
	db     *sql.DB
	clock  crawler.Clock
	logger *zap.Logger
}

var _ crawler.TaskStore = (*TaskStore)(nil)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(ctx context.Context, cfg Config, clock crawler.Clock, logger *zap.Logger) (*TaskStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps transactions simple.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}
	store := &TaskStore{db: db, clock: clock, logger: logger}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

// Migrate applies the embedded schema.
func (s *TaskStore) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db, migrations.DialectSQLite, s.logger)
}

// DB exposes the underlying handle for schema tooling.
func (s *TaskStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *TaskStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetOrCreateTask returns the user's task, creating the user and a pending
// task when missing.
func (s *TaskStore) GetOrCreateTask(ctx context.Context, user string) (crawler.Task, bool, error) {
	var (
		task    crawler.Task
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		userID, err := upsertUser(ctx, tx, user)
		if err != nil {
			return err
		}
		var taskID int64
		err = tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE user_id = ?`, userID).Scan(&taskID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			now := s.now().UnixMilli()
			err = tx.QueryRowContext(ctx,
				`INSERT INTO tasks (user_id, status, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING id`,
				userID, string(crawler.TaskStatusPending), now, now,
			).Scan(&taskID)
			if err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("select task: %w", err)
		}
		task, err = getTask(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return crawler.Task{}, false, err
	}
	return task, created, nil
}

// GetTask loads a task by id.
func (s *TaskStore) GetTask(ctx context.Context, id int64) (crawler.Task, error) {
	return getTask(ctx, s.db, id)
}

// SetTaskStatus overwrites the status of a task.
func (s *TaskStore) SetTaskStatus(ctx context.Context, id int64, status crawler.TaskStatus) (crawler.Task, error) {
	if !status.Valid() {
		return crawler.Task{}, fmt.Errorf("invalid task status %q", status)
	}
	var task crawler.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), s.now().UnixMilli(), id,
		)
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
		}
		task, err = getTask(ctx, tx, id)
		return err
	})
	return task, err
}

// GetPendingTasks lists pending tasks ordered by id.
func (s *TaskStore) GetPendingTasks(ctx context.Context) ([]crawler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, u.name, t.status, t.created_at, t.updated_at
FROM tasks t JOIN users u ON u.id = t.user_id
WHERE t.status = ?
ORDER BY t.id`, string(crawler.TaskStatusPending))
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending tasks: %w", err)
	}
	return out, nil
}

// UpdateOrCreateRepository upserts a repository keyed by (owner, name).
func (s *TaskStore) UpdateOrCreateRepository(
	ctx context.Context,
	owner string,
	repo crawler.Repository,
) (crawler.Repository, bool, error) {
	if repo.Name == "" {
		return crawler.Repository{}, false, fmt.Errorf("repository name is required")
	}
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ownerID, err := upsertUser(ctx, tx, owner)
		if err != nil {
			return err
		}
		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM repositories WHERE owner_id = ? AND name = ?`, ownerID, repo.Name,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("select repository: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO repositories (owner_id, name, stars, forks) VALUES (?, ?, ?, ?)
ON CONFLICT (owner_id, name) DO UPDATE SET stars = excluded.stars, forks = excluded.forks`,
			ownerID, repo.Name, repo.Stars, repo.Forks,
		)
		if err != nil {
			return fmt.Errorf("upsert repository: %w", err)
		}
		created = exists == 0
		return nil
	})
	if err != nil {
		return crawler.Repository{}, false, err
	}
	repo.Owner = owner
	return repo, created, nil
}

// ListRepositories returns the owner's repositories ordered by name.
func (s *TaskStore) ListRepositories(ctx context.Context, owner string) ([]crawler.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.name, r.stars, r.forks
FROM repositories r JOIN users u ON u.id = r.owner_id
WHERE u.name = ?
ORDER BY r.name`, owner)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []crawler.Repository{}
	for rows.Next() {
		repo := crawler.Repository{Owner: owner}
		if err := rows.Scan(&repo.Name, &repo.Stars, &repo.Forks); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return out, nil
}

func (s *TaskStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *TaskStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func upsertUser(ctx context.Context, q queryRower, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO users (name) VALUES (?) ON CONFLICT (name) DO UPDATE SET name = excluded.name RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert user %s: %w", name, err)
	}
	return id, nil
}

func getTask(ctx context.Context, q queryRower, id int64) (crawler.Task, error) {
	row := q.QueryRowContext(ctx, `
SELECT t.id, u.name, t.status, t.created_at, t.updated_at
FROM tasks t JOIN users u ON u.id = t.user_id
WHERE t.id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Task{}, fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
	}
	return task, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (crawler.Task, error) {
	var (
		task               crawler.Task
		status             string
		created, updatedAt int64
	)
	if err := row.Scan(&task.ID, &task.User, &status, &created, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Task{}, err
		}
		return crawler.Task{}, fmt.Errorf("scan task: %w", err)
	}
	task.Status = crawler.TaskStatus(status)
	task.CreatedAt = time.UnixMilli(created).UTC()
	task.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return task, nil
}
