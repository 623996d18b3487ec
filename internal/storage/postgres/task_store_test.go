package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*TaskStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock, fixedClock{t: testNow}, nil), mock
}

func taskRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"})
}

func TestGetOrCreateTaskCreates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("alice", testNow, "pending").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at", "created"}).
			AddRow(int64(1), "alice", "pending", testNow, testNow, true))

	task, created, err := store.GetOrCreateTask(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, crawler.Task{
		ID: 1, User: "alice", Status: crawler.TaskStatusPending, CreatedAt: testNow, UpdatedAt: testNow,
	}, task)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateTaskRetriesInvisibleConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cols := []string{"id", "name", "status", "created_at", "updated_at", "created"}
	mock.ExpectQuery(`ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("alice", testNow, "pending").
		WillReturnRows(pgxmock.NewRows(cols))
	mock.ExpectQuery(`ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("alice", testNow, "pending").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(3), "alice", "done", testNow, testNow, false))

	task, created, err := store.GetOrCreateTask(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, crawler.TaskStatusDone, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE t.id = \$1`).WithArgs(int64(9)).WillReturnRows(taskRows())

	_, err := store.GetTask(context.Background(), 9)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTaskStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE tasks t SET status`).
		WithArgs(int64(1), "failed", testNow).
		WillReturnRows(taskRows().AddRow(int64(1), "alice", "failed", testNow, testNow))
	mock.ExpectQuery(`UPDATE tasks t SET status`).
		WithArgs(int64(2), "done", testNow).
		WillReturnRows(taskRows())

	task, err := store.SetTaskStatus(context.Background(), 1, crawler.TaskStatusFailed)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusFailed, task.Status)

	_, err = store.SetTaskStatus(context.Background(), 2, crawler.TaskStatusDone)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	_, err = store.SetTaskStatus(context.Background(), 1, crawler.TaskStatus("paused"))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPendingTasks(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE t.status = \$1`).
		WithArgs("pending").
		WillReturnRows(taskRows().
			AddRow(int64(1), "alice", "pending", testNow, testNow).
			AddRow(int64(4), "bob", "pending", testNow, testNow))

	tasks, err := store.GetPendingTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "bob", tasks[1].User)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrCreateRepository(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO repositories`).
		WithArgs("alice", "r1", 5, 1).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO repositories`).
		WithArgs("alice", "r1", 9, 2).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(false))

	repo, created, err := store.UpdateOrCreateRepository(context.Background(), "alice", crawler.Repository{Name: "r1", Stars: 5, Forks: 1})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "alice", repo.Owner)

	repo, created, err = store.UpdateOrCreateRepository(context.Background(), "alice", crawler.Repository{Name: "r1", Stars: 9, Forks: 2})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, 9, repo.Stars)

	_, _, err = store.UpdateOrCreateRepository(context.Background(), "alice", crawler.Repository{})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRepositories(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM repositories r JOIN users u`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{"name", "stars", "forks"}).
			AddRow("r1", 5, 1).
			AddRow("r2", 0, 0))

	repos, err := store.ListRepositories(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []crawler.Repository{
		{Owner: "alice", Name: "r1", Stars: 5, Forks: 1},
		{Owner: "alice", Name: "r2"},
	}, repos)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(`WHERE t.status = \$1`).WithArgs("pending").WillReturnError(boom)

	_, err := store.GetPendingTasks(context.Background())
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil, nil)
	require.Error(t, err)
}

func TestMigrateNeedsRealPool(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	require.Error(t, store.Migrate(context.Background()))
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewWithPool(mock, fixedClock{t: testNow}, nil)
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("refused"))

	require.NoError(t, store.Ping(context.Background()))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
