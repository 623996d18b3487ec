// Package emulator serves a small fake code-hosting API used for local runs
// and end-to-end tests of the crawler.
package emulator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// FailureRepo always answers the detail endpoint with a 500.
const FailureRepo = "failure"

// Repo is one fixture repository.
type Repo struct {
	Name  string `json:"name"`
	Stars int    `json:"stars"`
	Forks int    `json:"forks"`
}

// DefaultRepos is the fixture set served for every user.
func DefaultRepos() map[string]Repo {
	return map[string]Repo{
		"linux":   {Name: "linux", Stars: 100, Forks: 100},
		"windows": {Name: "windows", Stars: 100, Forks: 100},
		"python":  {Name: "python", Stars: 100, Forks: 100},
	}
}

// Config controls fixture data and artificial latency.
type Config struct {
	Repos       map[string]Repo
	ListDelay   time.Duration
	DetailDelay time.Duration
}

// Server answers repo list and repo detail requests.
type Server struct {
	cfg    Config
	logger *zap.Logger
	router chi.Router
}

// NewServer builds the emulator router. A nil Repos map serves DefaultRepos.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	if cfg.Repos == nil {
		cfg.Repos = DefaultRepos()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}
	r := chi.NewRouter()
	r.Get("/users/{username}/repos", s.repoList)
	r.Get("/repos/{username}/{repo}", s.repoDetail)
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// repoList answers with an object keyed by repository name.
func (s *Server) repoList(w http.ResponseWriter, r *http.Request) {
	if !sleep(r.Context(), s.cfg.ListDelay) {
		return
	}
	s.logger.Debug("repo list served", zap.String("user", chi.URLParam(r, "username")))
	s.writeJSON(w, http.StatusOK, s.cfg.Repos)
}

func (s *Server) repoDetail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "repo")
	if name == FailureRepo {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failure"})
		return
	}
	if !sleep(r.Context(), s.cfg.DetailDelay) {
		return
	}
	repo, ok := s.cfg.Repos[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "repository not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, repo)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

// sleep waits for d and reports false when the request went away first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
