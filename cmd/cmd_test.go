package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/codehub-crawler/internal/app"
	"github.com/JakeFAU/codehub-crawler/internal/config"
	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/emulator"
	"github.com/JakeFAU/codehub-crawler/internal/storage/migrations"
	"github.com/JakeFAU/codehub-crawler/internal/storage/sqlite"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func memoryConfig(t *testing.T, baseURL string) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf(`
logging:
  development: false
  level: error
storage:
  driver: memory
remote:
  base_url: %s
`, baseURL))
}

func startEmulator(t *testing.T, repos map[string]emulator.Repo) string {
	t.Helper()
	hub := httptest.NewServer(emulator.NewServer(emulator.Config{Repos: repos}, nil).Handler())
	t.Cleanup(hub.Close)
	return hub.URL
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"serve", "crawl", "task", "migrate", "emulator"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
	}
}

func TestCrawlPrintsResult(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(t, startEmulator(t, nil))
	out, err := execute("crawl", "alice", "--config", cfg, "--poll-interval", "10ms")
	require.NoError(t, err)

	var result crawler.TaskResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, crawler.TaskStatusDone, result.Task.Status)
	require.Equal(t, "alice", result.Task.User)
	require.Len(t, result.Repositories, 3)
}

func TestCrawlReportsFailure(t *testing.T) {
	t.Parallel()

	repos := emulator.DefaultRepos()
	repos[emulator.FailureRepo] = emulator.Repo{Name: emulator.FailureRepo}
	cfg := memoryConfig(t, startEmulator(t, repos))

	out, err := execute("crawl", "alice", "--config", cfg, "--poll-interval", "10ms")
	require.ErrorContains(t, err, "failed")

	var result crawler.TaskResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, crawler.TaskStatusFailed, result.Task.Status)
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "storage:\n  driver: mysql\n")
	_, err := execute("crawl", "alice", "--config", cfg)
	require.ErrorContains(t, err, "load config")
}

func TestMigrateSQLite(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "codehub.sqlite")
	cfg := writeConfig(t, fmt.Sprintf(`
logging:
  development: false
  level: error
storage:
  driver: sqlite
  sqlite_path: %s
  auto_migrate: false
`, dbPath))
	_, err := execute("migrate", "--config", cfg)
	require.NoError(t, err)

	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.Config{Path: dbPath}, nil, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	version, err := migrations.Version(ctx, store.DB(), migrations.DialectSQLite, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestMigrateMemoryIsNoop(t *testing.T) {
	t.Parallel()

	_, err := execute("migrate", "--config", memoryConfig(t, "http://localhost:8000"))
	require.NoError(t, err)
}

func TestTaskRequestCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := app.New(ctx, config.Config{
		Server:  config.ServerConfig{Port: 5000, RequestTimeoutSeconds: 5},
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Remote: config.RemoteConfig{
			Provider:       config.ProviderEmulator,
			BaseURL:        startEmulator(t, nil),
			TimeoutSeconds: 5,
		},
		Queue: config.QueueConfig{DrainTimeoutSeconds: 5},
	}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()
	api := httptest.NewServer(a.APIServer().Handler())
	defer api.Close()

	cfg := memoryConfig(t, "http://localhost:8000")
	out, err := execute("task", "request-create", "alice", "--server", api.URL, "--config", cfg)
	require.NoError(t, err)
	var created struct {
		TaskID int64 `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Positive(t, created.TaskID)
	require.NoError(t, a.Drain(ctx))

	out, err = execute("task", "request-get", fmt.Sprint(created.TaskID), "--server", api.URL, "--config", cfg)
	require.NoError(t, err)
	var result crawler.TaskResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, crawler.TaskStatusDone, result.Task.Status)

	_, err = execute("task", "request-get", "999", "--server", api.URL, "--config", cfg)
	require.ErrorContains(t, err, "status 404")
}

func TestTaskGetUnknownTask(t *testing.T) {
	t.Parallel()

	_, err := execute("task", "get", "42", "--config", memoryConfig(t, "http://localhost:8000"))
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestParseTaskID(t *testing.T) {
	t.Parallel()

	id, err := parseTaskID("12")
	require.NoError(t, err)
	require.Equal(t, int64(12), id)
	for _, raw := range []string{"0", "-3", "abc", ""} {
		_, err := parseTaskID(raw)
		require.Error(t, err, raw)
	}
}

func TestNewAPIClientValidatesURL(t *testing.T) {
	t.Parallel()

	_, err := newAPIClient("localhost:5000", nil)
	require.Error(t, err)
	c, err := newAPIClient("http://localhost:5000/", nil)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:5000", c.base)
}
