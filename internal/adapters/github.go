// Package adapters holds clients for external data sources.
package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/ZanzyTHEbar/pr-o-meter/internal/errors"
)

// SourceGitHub tags raw rows fetched from the GitHub REST API.
const SourceGitHub = "github"

const defaultBaseURL = "https://api.github.com"

// Response is one successful origin API reply with its rate-limit metadata.
// RateRemaining is -1 when the header was absent.
type Response struct {
	Status        int
	Body          []byte
	Header        http.Header
	RateRemaining int
	RateReset     time.Time
}

// OriginError is a non-2xx origin reply, carrying everything the caller
// needs to distinguish rate-limit exhaustion from other failures.
type OriginError struct {
	Status        int
	Header        http.Header
	Body          string
	RateRemaining int
	RateReset     time.Time
}

func (e *OriginError) Error() string {
	return fmt.Sprintf("github API error: status %d, body: %s", e.Status, e.Body)
}

// IsRateLimit reports whether the failure is rate-limit exhaustion: a 403 or
// 429 accompanied by a drained x-ratelimit-remaining header.
func (e *OriginError) IsRateLimit() bool {
	if e.Status != http.StatusForbidden && e.Status != http.StatusTooManyRequests {
		return false
	}
	return e.RateRemaining == 0 || e.Status == http.StatusTooManyRequests
}

// GitHubClient fetches single resources from the GitHub REST API. It does not
// retry; backoff policy belongs to callers.
type GitHubClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGitHubClient creates a client authenticated with a static token. The
// token is required; configuration failures surface immediately rather than
// as mid-run 401s.
func NewGitHubClient(token string) (*GitHubClient, error) {
	if token == "" {
		return nil, apperrors.NewConfigurationError("GITHUB_TOKEN is not configured", nil)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubClient{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &oauth2.Transport{Source: ts},
		},
	}, nil
}

// NewGitHubClientWithBaseURL is used by tests to point the client at a stub.
func NewGitHubClientWithBaseURL(token, baseURL string) (*GitHubClient, error) {
	c, err := NewGitHubClient(token)
	if err != nil {
		return nil, err
	}
	c.baseURL = baseURL
	return c, nil
}

// Fetch GETs one endpoint path (relative, no leading slash) and returns the
// reply with rate-limit metadata. Non-2xx replies become an *OriginError.
func (g *GitHubClient) Fetch(ctx context.Context, endpoint string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "PR-o-Meter/1.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewOriginError("failed to reach origin API", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewOriginError("failed to read origin response", err)
	}

	remaining, reset := rateLimitInfo(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &OriginError{
			Status:        resp.StatusCode,
			Header:        resp.Header,
			Body:          string(body),
			RateRemaining: remaining,
			RateReset:     reset,
		}
	}

	return &Response{
		Status:        resp.StatusCode,
		Body:          body,
		Header:        resp.Header,
		RateRemaining: remaining,
		RateReset:     reset,
	}, nil
}

// RepoEndpoint is the metadata endpoint for a repository.
func RepoEndpoint(owner, repo string) string {
	return fmt.Sprintf("repos/%s/%s", owner, repo)
}

// PullsPageEndpoint lists closed PRs against a base branch, most recently
// updated first.
func PullsPageEndpoint(owner, repo, base string, perPage, page int) string {
	return fmt.Sprintf("repos/%s/%s/pulls?state=closed&base=%s&sort=updated&direction=desc&per_page=%d&page=%d",
		owner, repo, base, perPage, page)
}

// PullDetailEndpoint is the detail endpoint for one PR.
func PullDetailEndpoint(owner, repo string, number int64) string {
	return fmt.Sprintf("repos/%s/%s/pulls/%d", owner, repo, number)
}

// PullDetailPrefix matches all stored detail endpoints for a repository.
func PullDetailPrefix(owner, repo string) string {
	return fmt.Sprintf("repos/%s/%s/pulls/", owner, repo)
}

func rateLimitInfo(h http.Header) (int, time.Time) {
	remaining := -1
	if v := h.Get("x-ratelimit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
		}
	}

	var reset time.Time
	if v := h.Get("x-ratelimit-reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			reset = time.Unix(secs, 0).UTC()
		}
	}

	return remaining, reset
}
