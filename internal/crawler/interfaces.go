package crawler

import (
	"context"
	"time"
)

// TaskStore persists users, repositories, and tasks.
type TaskStore interface {
	// GetOrCreateTask returns the user's task, creating the user and a pending
	// task when none exists. The bool reports whether the task was created.
	GetOrCreateTask(ctx context.Context, user string) (Task, bool, error)
	// GetTask loads a task or returns ErrNotFound.
	GetTask(ctx context.Context, id int64) (Task, error)
	// SetTaskStatus atomically overwrites the task status.
	SetTaskStatus(ctx context.Context, id int64, status TaskStatus) (Task, error)
	// GetPendingTasks lists every task still in pending status.
	GetPendingTasks(ctx context.Context) ([]Task, error)
	// UpdateOrCreateRepository upserts by (owner, name), overwriting stars and forks.
	UpdateOrCreateRepository(ctx context.Context, owner string, repo Repository) (Repository, bool, error)
	// ListRepositories returns the owner's repositories ordered by name.
	ListRepositories(ctx context.Context, owner string) ([]Repository, error)
	Close() error
}

// RemoteSource fetches repository data from a code-hosting service.
type RemoteSource interface {
	GetUserRepos(ctx context.Context, user string) ([]string, error)
	GetRepoDetail(ctx context.Context, owner, repo string) (Repository, error)
}

// WorkQueue runs work units concurrently and tracks each one by handle.
type WorkQueue interface {
	Submit(ctx context.Context, ownerTaskID int64, unit WorkUnit) (UnitHandle, error)
	Status(handle UnitHandle) (UnitStatus, error)
	Remove(handle UnitHandle) error
	// Prune removes every finished unit owned by the task and returns how many
	// were dropped. Units of the task still running are dropped when they
	// finish.
	Prune(ownerTaskID int64) int
	// Reopen undoes the drop-on-finish behavior of Prune for a re-armed task.
	Reopen(ownerTaskID int64)
}

// Publisher pushes task completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unit handles.
type IDGenerator interface {
	NewID() (string, error)
}
