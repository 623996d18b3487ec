package emulator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/remote/ratelimit"
)

func TestGetUserReposShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "array of names", body: `["a","b"]`, want: []string{"a", "b"}},
		{name: "array of objects", body: `[{"name":"x","stars":1},{"name":"y"}]`, want: []string{"x", "y"}},
		{name: "keyed object", body: `{"windows":{"name":"windows"},"linux":{"name":"linux"}}`, want: []string{"linux", "windows"}},
		{name: "empty", body: `[]`, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/users/alice/repos", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := New(Config{BaseURL: srv.URL}, srv.Client())
			require.NoError(t, err)
			names, err := client.GetUserRepos(context.Background(), "alice")
			require.NoError(t, err)
			require.Equal(t, tt.want, names)
		})
	}
}

func TestGetRepoDetail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/repos/alice/r1":
			_, _ = w.Write([]byte(`{"name":"r1","stars":5,"forks":1}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client, err := New(Config{
		BaseURL:        srv.URL + "/api",
		RepoDetailPath: "/repos/{username}/{repo_name}",
	}, nil)
	require.NoError(t, err)

	repo, err := client.GetRepoDetail(context.Background(), "alice", "r1")
	require.NoError(t, err)
	require.Equal(t, crawler.Repository{Owner: "alice", Name: "r1", Stars: 5, Forks: 1}, repo)

	_, err = client.GetRepoDetail(context.Background(), "alice", "failure")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.Code)
	require.Contains(t, err.Error(), "boom")
}

func TestMalformedPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"nope"`))
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = client.GetUserRepos(context.Background(), "alice")
	require.ErrorContains(t, err, "decode repository list")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
	_, err = New(Config{BaseURL: "://bad"}, nil)
	require.Error(t, err)
}

func TestExpandEscapes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/repos/a%20b/c", expand(DefaultRepoDetailPath, "a b", "c"))
}

func TestNewWrapsTransportWhenRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["a"]`))
	}))
	defer srv.Close()

	base := srv.Client()
	client, err := New(Config{BaseURL: srv.URL, RateLimit: ratelimit.Config{RPS: 100, Burst: 2}}, base)
	require.NoError(t, err)
	require.IsType(t, &ratelimit.Transport{}, client.client.Transport)
	require.NotSame(t, base, client.client)

	names, err := client.GetUserRepos(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names)
}
