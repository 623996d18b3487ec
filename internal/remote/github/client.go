// Package github implements a RemoteSource backed by the GitHub REST API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/remote/ratelimit"
)

const perPage = 100

// secondaryLimitSleep caps a single wait on GitHub's secondary rate limit.
const secondaryLimitSleep = time.Minute

// Config controls the GitHub client.
type Config struct {
	Token string
	// BaseURL overrides the API root (GitHub Enterprise or tests).
	BaseURL string
	Timeout time.Duration
	// RateLimit throttles API calls per host; GitHub enforces secondary limits.
	RateLimit ratelimit.Config
}

// Client lists a user's repositories and reads their stargazer and fork counts.
type Client struct {
	rest *github.Client
}

var _ crawler.RemoteSource = (*Client)(nil)

// New builds a token-authenticated client. An empty token yields
// crawler.ErrMissingToken.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, crawler.ErrMissingToken
	}
	waiter, err := github_ratelimit.NewRateLimitWaiter(
		ratelimit.Wrap(http.DefaultTransport, cfg.RateLimit),
		github_ratelimit.WithSingleSleepLimit(secondaryLimitSleep, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &oauth2.Transport{
			Base:   waiter,
			Source: ts,
		},
	}
	return newWithHTTPClient(httpClient, cfg.BaseURL)
}

func newWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	rest := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse remote.github_base_url: %w", err)
		}
		rest.BaseURL = u
	}
	return &Client{rest: rest}, nil
}

// GetUserRepos pages through every repository owned by user.
func (c *Client) GetUserRepos(ctx context.Context, user string) ([]string, error) {
	opts := &github.RepositoryListByUserOptions{
		Type:        "owner",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var names []string
	for {
		repos, resp, err := c.rest.Repositories.ListByUser(ctx, user, opts)
		if err != nil {
			return nil, fmt.Errorf("list repositories for %s: %w", user, err)
		}
		for _, repo := range repos {
			names = append(names, repo.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// GetRepoDetail reads stargazers_count and forks_count for one repository.
func (c *Client) GetRepoDetail(ctx context.Context, owner, repo string) (crawler.Repository, error) {
	r, _, err := c.rest.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return crawler.Repository{}, fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	name := r.GetName()
	if name == "" {
		name = repo
	}
	return crawler.Repository{
		Owner: owner,
		Name:  name,
		Stars: r.GetStargazersCount(),
		Forks: r.GetForksCount(),
	}, nil
}
