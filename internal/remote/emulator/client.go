// Package emulator implements a RemoteSource against the code-hosting
// emulator API (or any service with the same JSON shapes).
package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/remote/ratelimit"
)

// Default path templates served by the emulator.
const (
	DefaultRepoListPath   = "/users/{username}/repos"
	DefaultRepoDetailPath = "/repos/{username}/{repo_name}"
)

// Config controls how the client reaches the emulator.
type Config struct {
	BaseURL        string
	RepoListPath   string
	RepoDetailPath string
	Timeout        time.Duration
	RateLimit      ratelimit.Config
}

// Client fetches repository names and details over HTTP.
type Client struct {
	base   *url.URL
	cfg    Config
	client *http.Client
}

var _ crawler.RemoteSource = (*Client)(nil)

// New validates cfg and returns a Client. A nil httpClient gets one with
// cfg.Timeout. An enabled cfg.RateLimit throttles whichever client is used.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote.base_url: %w", err)
	}
	if cfg.RepoListPath == "" {
		cfg.RepoListPath = DefaultRepoListPath
	}
	if cfg.RepoDetailPath == "" {
		cfg.RepoDetailPath = DefaultRepoDetailPath
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RateLimit.Enabled() {
		throttled := *httpClient
		throttled.Transport = ratelimit.Wrap(httpClient.Transport, cfg.RateLimit)
		httpClient = &throttled
	}
	return &Client{base: base, cfg: cfg, client: httpClient}, nil
}

type repoDetail struct {
	Name  string `json:"name"`
	Stars int    `json:"stars"`
	Forks int    `json:"forks"`
}

// GetUserRepos lists repository names. The payload may be an array of names,
// an array of objects with a name, or an object keyed by repository name.
func (c *Client) GetUserRepos(ctx context.Context, user string) ([]string, error) {
	path := expand(c.cfg.RepoListPath, user, "")
	var raw json.RawMessage
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	return decodeNames(raw)
}

// GetRepoDetail fetches stars and forks for one repository.
func (c *Client) GetRepoDetail(ctx context.Context, owner, repo string) (crawler.Repository, error) {
	path := expand(c.cfg.RepoDetailPath, owner, repo)
	var detail repoDetail
	if err := c.getJSON(ctx, path, &detail); err != nil {
		return crawler.Repository{}, err
	}
	if detail.Name == "" {
		detail.Name = repo
	}
	return crawler.Repository{Owner: owner, Name: detail.Name, Stars: detail.Stars, Forks: detail.Forks}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	target := strings.TrimSuffix(c.base.String(), "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: target, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

func expand(tmpl, user, repo string) string {
	r := strings.NewReplacer(
		"{username}", url.PathEscape(user),
		"{repo_name}", url.PathEscape(repo),
	)
	return r.Replace(tmpl)
}

func decodeNames(raw json.RawMessage) ([]string, error) {
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names, nil
	}

	var objects []repoDetail
	if err := json.Unmarshal(raw, &objects); err == nil {
		out := make([]string, 0, len(objects))
		for _, obj := range objects {
			out = append(out, obj.Name)
		}
		return out, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("decode repository list: %w", err)
	}
	out := make([]string, 0, len(keyed))
	for name := range keyed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
