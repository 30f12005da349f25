// Package githost is a read-only client for the code hosting API used
// by the ingestion pipeline. Every call goes through a client-side rate
// limiter and a bounded retry loop so a flaky or throttling upstream
// degrades ingestion instead of failing it outright.
package githost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"golang.org/x/time/rate"
)

// Artifact is one changed item returned by ListChangedArtifacts. Path
// doubles as the storage path for the resulting chunks: real file paths
// for files, synthetic paths (commits/<sha>, issues/<n>) for metadata.
type Artifact struct {
	Kind      domain.ArtifactKind
	Path      string
	Title     string
	Content   string
	Ref       string
	URL       string
	UpdatedAt time.Time
}

type RepoMetadata struct {
	DefaultBranch string
	Visibility    string
	PushedAt      time.Time
}

type ClientConfig struct {
	Token      string
	BaseURL    string
	RPS        float64
	Burst      int
	MaxRetries int
	PageSize   int
	HTTPClient *http.Client
}

type Client struct {
	token      string
	baseURL    string
	limiter    *rate.Limiter
	maxRetries int
	pageSize   int
	httpClient *http.Client

	// remaining mirrors the last X-RateLimit-Remaining header seen.
	remaining atomic.Int64
}

func NewClient(config ClientConfig) *Client {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.github.com"
	}
	if config.RPS <= 0 {
		config.RPS = 8
	}
	if config.Burst <= 0 {
		config.Burst = 16
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 4
	}
	if config.PageSize <= 0 || config.PageSize > 100 {
		config.PageSize = 100
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	client := &Client{
		token:      strings.TrimSpace(config.Token),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		maxRetries: config.MaxRetries,
		pageSize:   config.PageSize,
		httpClient: config.HTTPClient,
	}
	client.remaining.Store(5000)
	return client
}

var repoURLPattern = regexp.MustCompile(`github\.com/([\w.-]+)/([\w.-]+)(?:/tree/([\w./-]+))?`)

// ParseRepoURL extracts "owner/name" and an optional branch from a
// repository URL. A bare "owner/name" string passes through unchanged.
func ParseRepoURL(repoURL string) (repo string, branch string, err error) {
	repoURL = strings.TrimSpace(repoURL)
	if match := repoURLPattern.FindStringSubmatch(repoURL); match != nil {
		return match[1] + "/" + strings.TrimSuffix(match[2], ".git"), match[3], nil
	}
	if strings.Count(repoURL, "/") == 1 && !strings.Contains(repoURL, "github.com") {
		return repoURL, "", nil
	}
	return "", "", fmt.Errorf("invalid repository reference: %q", repoURL)
}

// RemainingBudget reports the API credit balance observed on the most
// recent response. The ingestion engine sizes its download parallelism
// from this value.
func (c *Client) RemainingBudget() int {
	return int(c.remaining.Load())
}

func (c *Client) GetRepoMetadata(ctx context.Context, repo string) (RepoMetadata, error) {
	var raw struct {
		DefaultBranch string    `json:"default_branch"`
		Visibility    string    `json:"visibility"`
		PushedAt      time.Time `json:"pushed_at"`
	}
	if err := c.getJSON(ctx, "/repos/"+repo, nil, &raw); err != nil {
		return RepoMetadata{}, err
	}
	meta := RepoMetadata{
		DefaultBranch: raw.DefaultBranch,
		Visibility:    raw.Visibility,
		PushedAt:      raw.PushedAt,
	}
	if meta.DefaultBranch == "" {
		meta.DefaultBranch = "main"
	}
	return meta, nil
}

// ListChangedArtifacts returns commits, issues and pull requests
// changed after since, oldest first. A zero since means everything. The
// per-page retry budget is bounded; cancellation is honored between
// pages so a cooperative job cancel never interrupts a page mid-read.
func (c *Client) ListChangedArtifacts(ctx context.Context, repo, branch string, since time.Time) ([]Artifact, error) {
	var artifacts []Artifact

	commits, err := c.listCommits(ctx, repo, branch, since)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, commits...)

	issues, pulls, err := c.listIssuesAndPulls(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, issues...)
	artifacts = append(artifacts, pulls...)

	return artifacts, nil
}

func (c *Client) listCommits(ctx context.Context, repo, branch string, since time.Time) ([]Artifact, error) {
	var artifacts []Artifact
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query := url.Values{}
		query.Set("per_page", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))
		if branch != "" {
			query.Set("sha", branch)
		}
		if !since.IsZero() {
			query.Set("since", since.UTC().Format(time.RFC3339))
		}

		var raw []struct {
			SHA    string `json:"sha"`
			Commit struct {
				Message string `json:"message"`
				Author  struct {
					Name string    `json:"name"`
					Date time.Time `json:"date"`
				} `json:"author"`
			} `json:"commit"`
			HTMLURL string `json:"html_url"`
		}
		if err := c.getJSON(ctx, "/repos/"+repo+"/commits", query, &raw); err != nil {
			return nil, err
		}

		for _, item := range raw {
			title := strings.SplitN(item.Commit.Message, "\n", 2)[0]
			artifacts = append(artifacts, Artifact{
				Kind:  domain.ArtifactCommit,
				Path:  "commits/" + item.SHA,
				Title: title,
				Content: fmt.Sprintf("Commit %s by %s: %s",
					shortSHA(item.SHA), item.Commit.Author.Name, item.Commit.Message),
				Ref:       item.SHA,
				URL:       item.HTMLURL,
				UpdatedAt: item.Commit.Author.Date,
			})
		}
		if len(raw) < c.pageSize {
			return artifacts, nil
		}
	}
}

func (c *Client) listIssuesAndPulls(ctx context.Context, repo string, since time.Time) (issues, pulls []Artifact, err error) {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		query := url.Values{}
		query.Set("per_page", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))
		query.Set("state", "all")
		query.Set("sort", "updated")
		query.Set("direction", "asc")
		if !since.IsZero() {
			query.Set("since", since.UTC().Format(time.RFC3339))
		}

		// The issues endpoint returns pull requests too, flagged by the
		// pull_request field.
		var raw []struct {
			Number      int       `json:"number"`
			Title       string    `json:"title"`
			Body        string    `json:"body"`
			State       string    `json:"state"`
			HTMLURL     string    `json:"html_url"`
			UpdatedAt   time.Time `json:"updated_at"`
			PullRequest *struct{} `json:"pull_request"`
		}
		if err := c.getJSON(ctx, "/repos/"+repo+"/issues", query, &raw); err != nil {
			return nil, nil, err
		}

		for _, item := range raw {
			kind := domain.ArtifactIssue
			pathPrefix := "issues/"
			if item.PullRequest != nil {
				kind = domain.ArtifactPullRequest
				pathPrefix = "pulls/"
			}
			label := "Issue"
			if kind == domain.ArtifactPullRequest {
				label = "Pull request"
			}
			artifact := Artifact{
				Kind:  kind,
				Path:  pathPrefix + strconv.Itoa(item.Number),
				Title: item.Title,
				Content: fmt.Sprintf("%s #%d (%s): %s\n%s",
					label, item.Number, item.State, item.Title, item.Body),
				Ref:       strconv.Itoa(item.Number),
				URL:       item.HTMLURL,
				UpdatedAt: item.UpdatedAt,
			}
			if kind == domain.ArtifactPullRequest {
				pulls = append(pulls, artifact)
			} else {
				issues = append(issues, artifact)
			}
		}
		if len(raw) < c.pageSize {
			return issues, pulls, nil
		}
	}
}

// GetFileTree returns path -> blob SHA for every text file reachable on
// the branch.
func (c *Client) GetFileTree(ctx context.Context, repo, branch string) (map[string]string, error) {
	var raw struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			SHA  string `json:"sha"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	query := url.Values{}
	query.Set("recursive", "1")
	if err := c.getJSON(ctx, "/repos/"+repo+"/git/trees/"+url.PathEscape(branch), query, &raw); err != nil {
		return nil, err
	}

	files := make(map[string]string, len(raw.Tree))
	for _, entry := range raw.Tree {
		if entry.Type != "blob" || !IsTextPath(entry.Path) {
			continue
		}
		files[entry.Path] = entry.SHA
	}
	return files, nil
}

func (c *Client) GetFileContent(ctx context.Context, repo, path, ref string) (string, error) {
	var raw struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	if err := c.getJSON(ctx, "/repos/"+repo+"/contents/"+escapePath(path), query, &raw); err != nil {
		return "", err
	}
	if raw.Encoding != "base64" {
		return raw.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode content of %s: %w", path, err)
	}
	return string(decoded), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		retryable, err := c.doOnce(ctx, target, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * 500 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, lastErr)
}

func (c *Client) doOnce(ctx context.Context, target string, out any) (retryable bool, err error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return true, fmt.Errorf("code host transport error: %w", err)
	}
	defer response.Body.Close()

	if header := response.Header.Get("X-RateLimit-Remaining"); header != "" {
		if value, parseErr := strconv.ParseInt(header, 10, 64); parseErr == nil {
			c.remaining.Store(value)
		}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return true, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case response.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("code host resource not found: %s", target)
	case response.StatusCode == http.StatusTooManyRequests || response.StatusCode == http.StatusForbidden && c.remaining.Load() == 0:
		return true, fmt.Errorf("code host rate limited (status %d)", response.StatusCode)
	case response.StatusCode >= 500:
		return true, fmt.Errorf("code host status %d", response.StatusCode)
	case response.StatusCode < 200 || response.StatusCode > 299:
		return false, fmt.Errorf("code host status %d: %s", response.StatusCode, truncate(string(body), 300))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

var textExtensions = map[string]struct{}{
	".py": {}, ".js": {}, ".mjs": {}, ".ts": {}, ".tsx": {}, ".html": {}, ".css": {},
	".scss": {}, ".json": {}, ".md": {}, ".txt": {}, ".rst": {}, ".java": {}, ".c": {},
	".h": {}, ".cpp": {}, ".go": {}, ".php": {}, ".rb": {}, ".swift": {}, ".kt": {},
	".sql": {}, ".xml": {}, ".yml": {}, ".yaml": {}, ".toml": {}, ".ini": {}, ".cfg": {},
	".sh": {}, ".bat": {}, ".ps1": {}, ".dockerfile": {}, ".gitignore": {}, ".env": {},
	".conf": {}, ".properties": {}, ".tf": {}, ".proto": {}, ".gradle": {}, ".mod": {},
	".sum": {}, ".lock": {},
}

var textBasenames = map[string]struct{}{
	"dockerfile": {}, "makefile": {}, "procfile": {}, "gemfile": {}, "license": {},
	"readme": {}, "requirements.txt": {}, "package.json": {}, "go.mod": {}, "go.sum": {},
}

// IsTextPath reports whether the path looks like ingestable text.
func IsTextPath(path string) bool {
	lowered := strings.ToLower(path)
	base := lowered
	if index := strings.LastIndex(lowered, "/"); index >= 0 {
		base = lowered[index+1:]
	}
	if _, ok := textBasenames[base]; ok {
		return true
	}
	if index := strings.LastIndex(base, "."); index >= 0 {
		_, ok := textExtensions[base[index:]]
		return ok
	}
	return false
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) > limit {
		return value[:limit]
	}
	return value
}
