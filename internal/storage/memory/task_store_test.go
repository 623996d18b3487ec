package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestTaskStoreLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewTaskStore(fixedClock{t: now})
	ctx := context.Background()

	task, created, err := store.GetOrCreateTask(ctx, "alice")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(1), task.ID)
	require.Equal(t, crawler.TaskStatusPending, task.Status)
	require.Equal(t, now, task.CreatedAt)

	again, created, err := store.GetOrCreateTask(ctx, "alice")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, task.ID, again.ID)

	bob, _, err := store.GetOrCreateTask(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(2), bob.ID)

	done, err := store.SetTaskStatus(ctx, task.ID, crawler.TaskStatusDone)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusDone, done.Status)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusDone, got.Status)

	pending, err := store.GetPendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "bob", pending[0].User)

	_, err = store.GetTask(ctx, 99)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.SetTaskStatus(ctx, 99, crawler.TaskStatusDone)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.SetTaskStatus(ctx, task.ID, crawler.TaskStatus("bogus"))
	require.Error(t, err)
	require.NoError(t, store.Close())
}

func TestTaskStoreRepositoryUpsertOverwrites(t *testing.T) {
	t.Parallel()

	store := NewTaskStore(nil)
	ctx := context.Background()

	repo, created, err := store.UpdateOrCreateRepository(ctx, "alice", crawler.Repository{Name: "r1", Stars: 5, Forks: 1})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "alice", repo.Owner)

	repo, created, err = store.UpdateOrCreateRepository(ctx, "alice", crawler.Repository{Name: "r1", Stars: 7, Forks: 2})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, 7, repo.Stars)

	_, _, err = store.UpdateOrCreateRepository(ctx, "alice", crawler.Repository{Name: "a0", Stars: 1})
	require.NoError(t, err)

	repos, err := store.ListRepositories(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []crawler.Repository{
		{Owner: "alice", Name: "a0", Stars: 1},
		{Owner: "alice", Name: "r1", Stars: 7, Forks: 2},
	}, repos)

	repos[0].Stars = 100
	fresh, err := store.ListRepositories(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, fresh[0].Stars)

	empty, err := store.ListRepositories(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, empty)

	_, _, err = store.UpdateOrCreateRepository(ctx, "alice", crawler.Repository{})
	require.Error(t, err)
}
