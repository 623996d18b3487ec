package crawler

import (
	"context"
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Terminal reports whether no further transition is expected from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusDone, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Task is one crawl run for one user.
type Task struct {
	ID        int64      `json:"id"`
	User      string     `json:"user"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Repository is the persisted detail of one repository owned by a user.
type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Stars int    `json:"stars"`
	Forks int    `json:"forks"`
}

// TaskResult is returned by the orchestrator and the API result endpoint.
type TaskResult struct {
	Task         Task         `json:"task"`
	Repositories []Repository `json:"repositories"`
}

// UnitStatus is the execution state of a single work unit.
type UnitStatus string

// Work unit states reported by the WorkQueue.
const (
	UnitStatusPending UnitStatus = "pending"
	UnitStatusDone    UnitStatus = "done"
	UnitStatusFailed  UnitStatus = "failed"
)

// UnitHandle identifies one tracked work unit. Handles are never reused while
// the unit they name is still tracked.
type UnitHandle string

// Work unit kinds used for logging and metrics.
const (
	UnitKindRepoList   = "repo_list"
	UnitKindRepoDetail = "repo_detail"
)

// WorkUnit is one asynchronous fetch scheduled on the WorkQueue.
type WorkUnit struct {
	Kind string
	Run  func(ctx context.Context) error
}

// TaskEvent is published when a task reaches a terminal status.
type TaskEvent struct {
	TaskID    int64      `json:"task_id"`
	User      string     `json:"user"`
	Status    TaskStatus `json:"status"`
	Timestamp string     `json:"timestamp"`
}
