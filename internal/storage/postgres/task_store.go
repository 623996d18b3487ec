// Package postgres provides the Postgres-backed TaskStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/storage/migrations"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

// pgxPool is the subset of pgxpool.Pool used by the store; pgxmock satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// TaskStore persists users, tasks, and repositories in Postgres. Every
// method is a single statement, so each is atomic on its own.
type TaskStore struct {
	pool   pgxPool
	raw    *pgxpool.Pool
	clock  crawler.Clock
	logger *zap.Logger
}

var _ crawler.TaskStore = (*TaskStore)(nil)

const taskColumns = `t.id, u.name, t.status, t.created_at, t.updated_at`

const getOrCreateTaskSQL = `
WITH u AS (
	INSERT INTO users (name) VALUES ($1)
	ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	RETURNING id, name
), ins AS (
	INSERT INTO tasks (user_id, status, created_at, updated_at)
	SELECT id, $3, $2, $2 FROM u
	ON CONFLICT (user_id) DO NOTHING
	RETURNING id, user_id, status, created_at, updated_at
)
SELECT ins.id, u.name, ins.status, ins.created_at, ins.updated_at, true
FROM ins JOIN u ON u.id = ins.user_id
UNION ALL
SELECT t.id, u.name, t.status, t.created_at, t.updated_at, false
FROM tasks t JOIN u ON u.id = t.user_id
WHERE NOT EXISTS (SELECT 1 FROM ins)`

const getTaskSQL = `
SELECT ` + taskColumns + `
FROM tasks t JOIN users u ON u.id = t.user_id
WHERE t.id = $1`

const setTaskStatusSQL = `
UPDATE tasks t SET status = $2, updated_at = $3
FROM users u
WHERE t.id = $1 AND u.id = t.user_id
RETURNING ` + taskColumns

const pendingTasksSQL = `
SELECT ` + taskColumns + `
FROM tasks t JOIN users u ON u.id = t.user_id
WHERE t.status = $1
ORDER BY t.id`

const upsertRepositorySQL = `
WITH u AS (
	INSERT INTO users (name) VALUES ($1)
	ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	RETURNING id
)
INSERT INTO repositories (owner_id, name, stars, forks)
SELECT id, $2, $3, $4 FROM u
ON CONFLICT (owner_id, name) DO UPDATE SET stars = EXCLUDED.stars, forks = EXCLUDED.forks
RETURNING (xmax = 0)`

const listRepositoriesSQL = `
SELECT r.name, r.stars, r.forks
FROM repositories r JOIN users u ON u.id = r.owner_id
WHERE u.name = $1
ORDER BY r.name`

// New connects a pool using cfg and optionally applies migrations.
func New(ctx context.Context, cfg Config, clock crawler.Clock, logger *zap.Logger) (*TaskStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewWithPool(pool, clock, logger)
	store.raw = pool
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, clock crawler.Clock, logger *zap.Logger) *TaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskStore{pool: pool, clock: clock, logger: logger}
}

// Migrate applies the embedded schema through a database/sql view of the pool.
func (s *TaskStore) Migrate(ctx context.Context) error {
	if s.raw == nil {
		return fmt.Errorf("migrations need a pgxpool-backed store")
	}
	db := stdlib.OpenDBFromPool(s.raw)
	defer func() { _ = db.Close() }()
	return migrations.Up(ctx, db, migrations.DialectPostgres, s.logger)
}

// Ping checks the pool can reach the server.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *TaskStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// GetOrCreateTask returns the user's task, creating the user and a pending
// task when missing.
func (s *TaskStore) GetOrCreateTask(ctx context.Context, user string) (crawler.Task, bool, error) {
	// A concurrent insert committed after this statement's snapshot makes both
	// branches empty; the second attempt sees it.
	for attempt := 0; attempt < 2; attempt++ {
		row := s.pool.QueryRow(ctx, getOrCreateTaskSQL, user, s.now(), string(crawler.TaskStatusPending))
		var (
			task    crawler.Task
			status  string
			created bool
		)
		err := row.Scan(&task.ID, &task.User, &status, &task.CreatedAt, &task.UpdatedAt, &created)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return crawler.Task{}, false, fmt.Errorf("get or create task: %w", err)
		}
		task.Status = crawler.TaskStatus(status)
		return task, created, nil
	}
	return crawler.Task{}, false, fmt.Errorf("get or create task for %s: concurrent insert not visible", user)
}

// GetTask loads a task by id.
func (s *TaskStore) GetTask(ctx context.Context, id int64) (crawler.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, getTaskSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Task{}, fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
	}
	return task, err
}

// SetTaskStatus overwrites the status of a task.
func (s *TaskStore) SetTaskStatus(ctx context.Context, id int64, status crawler.TaskStatus) (crawler.Task, error) {
	if !status.Valid() {
		return crawler.Task{}, fmt.Errorf("invalid task status %q", status)
	}
	task, err := scanTask(s.pool.QueryRow(ctx, setTaskStatusSQL, id, string(status), s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Task{}, fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
	}
	return task, err
}

// GetPendingTasks lists pending tasks ordered by id.
func (s *TaskStore) GetPendingTasks(ctx context.Context) ([]crawler.Task, error) {
	rows, err := s.pool.Query(ctx, pendingTasksSQL, string(crawler.TaskStatusPending))
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()

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
	err := s.pool.QueryRow(ctx, upsertRepositorySQL, owner, repo.Name, repo.Stars, repo.Forks).Scan(&created)
	if err != nil {
		return crawler.Repository{}, false, fmt.Errorf("upsert repository %s/%s: %w", owner, repo.Name, err)
	}
	repo.Owner = owner
	return repo, created, nil
}

// ListRepositories returns the owner's repositories ordered by name.
func (s *TaskStore) ListRepositories(ctx context.Context, owner string) ([]crawler.Repository, error) {
	rows, err := s.pool.Query(ctx, listRepositoriesSQL, owner)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

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

func (s *TaskStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func scanTask(row pgx.Row) (crawler.Task, error) {
	var (
		task   crawler.Task
		status string
	)
	if err := row.Scan(&task.ID, &task.User, &status, &task.CreatedAt, &task.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Task{}, err
		}
		return crawler.Task{}, fmt.Errorf("scan task: %w", err)
	}
	task.Status = crawler.TaskStatus(status)
	return task, nil
}
