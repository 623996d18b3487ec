// Package memory provides an in-memory TaskStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
)

// TaskStore keeps users, tasks, and repositories in maps guarded by one lock.
// Every method is individually atomic.
type TaskStore struct {
	clock crawler.Clock

	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]crawler.Task
	byUser map[string]int64
	repos  map[string]map[string]crawler.Repository
}

var _ crawler.TaskStore = (*TaskStore)(nil)

// NewTaskStore constructs a TaskStore. A nil clock falls back to UTC wall time.
func NewTaskStore(clock crawler.Clock) *TaskStore {
	return &TaskStore{
		clock:  clock,
		tasks:  make(map[int64]crawler.Task),
		byUser: make(map[string]int64),
		repos:  make(map[string]map[string]crawler.Repository),
	}
}

// GetOrCreateTask returns the user's task or creates a pending one.
func (s *TaskStore) GetOrCreateTask(_ context.Context, user string) (crawler.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUser[user]; ok {
		return s.tasks[id], false, nil
	}
	s.nextID++
	now := s.now()
	task := crawler.Task{
		ID:        s.nextID,
		User:      user,
		Status:    crawler.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[task.ID] = task
	s.byUser[user] = task.ID
	if _, ok := s.repos[user]; !ok {
		s.repos[user] = make(map[string]crawler.Repository)
	}
	return task, true, nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(_ context.Context, id int64) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return crawler.Task{}, fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
	}
	return task, nil
}

// SetTaskStatus overwrites the status of a task.
func (s *TaskStore) SetTaskStatus(_ context.Context, id int64, status crawler.TaskStatus) (crawler.Task, error) {
	if !status.Valid() {
		return crawler.Task{}, fmt.Errorf("invalid task status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return crawler.Task{}, fmt.Errorf("task %d: %w", id, crawler.ErrNotFound)
	}
	task.Status = status
	task.UpdatedAt = s.now()
	s.tasks[id] = task
	return task, nil
}

// GetPendingTasks lists pending tasks ordered by id.
func (s *TaskStore) GetPendingTasks(_ context.Context) ([]crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Task
	for _, task := range s.tasks {
		if task.Status == crawler.TaskStatusPending {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateOrCreateRepository upserts a repository, creating the owner on first
// reference.
func (s *TaskStore) UpdateOrCreateRepository(
	_ context.Context,
	owner string,
	repo crawler.Repository,
) (crawler.Repository, bool, error) {
	if repo.Name == "" {
		return crawler.Repository{}, false, fmt.Errorf("repository name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.repos[owner]
	if !ok {
		byName = make(map[string]crawler.Repository)
		s.repos[owner] = byName
	}
	_, exists := byName[repo.Name]
	repo.Owner = owner
	byName[repo.Name] = repo
	return repo, !exists, nil
}

// ListRepositories returns a copy of the owner's repositories ordered by name.
func (s *TaskStore) ListRepositories(_ context.Context, owner string) ([]crawler.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.repos[owner]
	out := make([]crawler.Repository, 0, len(byName))
	for _, repo := range byName {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close is a no-op.
func (s *TaskStore) Close() error {
	return nil
}

func (s *TaskStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
