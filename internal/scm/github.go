// Package scm is the source-control collaborator: it fetches pull-request
// snapshots and posts review output back to GitHub.
package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/reviewpilot/pkg/models"
)

// InlineComment is one review comment anchored to a resolved diff line.
type InlineComment struct {
	File string
	Line int
	Body string
}

// Client is the interface the pipeline consumes. Implemented by GitHubClient
// and by test doubles.
type Client interface {
	GetPRSnapshot(ctx context.Context, owner, repo string, number int) (*models.PRSnapshot, error)
	PostSummaryComment(ctx context.Context, owner, repo string, number int, body string) error

	// PostInlineComments posts each comment and returns the indexes of the
	// ones that were rejected, so callers can track exactly which findings
	// made it onto the pull request.
	PostInlineComments(ctx context.Context, owner, repo string, number int, headSHA string, comments []InlineComment) (rejected []int, err error)
}

// GitHubClient talks to the GitHub REST API.
type GitHubClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewGitHubClient creates a client against baseURL (the api.github.com form,
// no trailing slash). Requests are rate-limited to stay under GitHub's
// secondary limits when a burst of PRs arrives at once.
func NewGitHubClient(baseURL, token string) *GitHubClient {
	return &GitHubClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (c *GitHubClient) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("GitHub API %s %s failed with status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

type prResponse struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Draft bool   `json:"draft"`
	Head  struct {
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

type fileResponse struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Patch    string `json:"patch"`
}

type commentResponse struct {
	ID   int64 `json:"id"`
	User struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// GetPRSnapshot fetches the pull request's metadata, changed files with
// per-file patch text, and existing discussion comments.
func (c *GitHubClient) GetPRSnapshot(ctx context.Context, owner, repo string, number int) (*models.PRSnapshot, error) {
	var pr prResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), nil, &pr); err != nil {
		return nil, fmt.Errorf("failed to fetch pull request: %w", err)
	}

	snapshot := &models.PRSnapshot{
		Owner:      owner,
		Repo:       repo,
		Number:     number,
		Title:      pr.Title,
		Body:       pr.Body,
		HeadSHA:    pr.Head.SHA,
		BaseBranch: pr.Base.Ref,
		Draft:      pr.Draft,
	}

	// Changed files are paginated; large PRs routinely exceed one page.
	for page := 1; ; page++ {
		var files []fileResponse
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=100&page=%d", owner, repo, number, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &files); err != nil {
			return nil, fmt.Errorf("failed to fetch changed files: %w", err)
		}
		for _, f := range files {
			snapshot.Files = append(snapshot.Files, models.FileDiff{
				Filename: f.Filename,
				Status:   normalizeStatus(f.Status),
				Patch:    f.Patch,
			})
		}
		if len(files) < 100 {
			break
		}
	}

	var comments []commentResponse
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments?per_page=100", owner, repo, number)
	if err := c.do(ctx, http.MethodGet, path, nil, &comments); err != nil {
		return nil, fmt.Errorf("failed to fetch existing comments: %w", err)
	}
	for _, cm := range comments {
		snapshot.ExistingComments = append(snapshot.ExistingComments, models.Comment{
			ID:        cm.ID,
			Author:    cm.User.Login,
			Body:      cm.Body,
			IsBot:     cm.User.Type == "Bot",
			CreatedAt: cm.CreatedAt,
		})
	}

	return snapshot, nil
}

func normalizeStatus(s string) models.FileStatus {
	switch s {
	case "added", "copied":
		return models.FileAdded
	case "removed", "deleted":
		return models.FileDeleted
	default:
		return models.FileModified
	}
}

// PostSummaryComment posts body as a plain issue comment on the PR.
func (c *GitHubClient) PostSummaryComment(ctx context.Context, owner, repo string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("failed to post summary comment: %w", err)
	}
	return nil
}

// PostInlineComments posts each comment as a review comment anchored to a
// line on the new side of the diff. A rejection of one comment (GitHub
// answers 422 when it dislikes the position) is logged and skipped so the
// remaining comments still land; the rejected indexes are reported back.
func (c *GitHubClient) PostInlineComments(ctx context.Context, owner, repo string, number int, headSHA string, comments []InlineComment) ([]int, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/comments", owner, repo, number)

	var rejected []int
	for i, cm := range comments {
		payload := map[string]any{
			"body":      cm.Body,
			"commit_id": headSHA,
			"path":      cm.File,
			"line":      cm.Line,
			"side":      "RIGHT",
		}
		if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
			rejected = append(rejected, i)
			log.Warn().Err(err).Str("file", cm.File).Int("line", cm.Line).
				Msg("inline comment rejected, skipping")
		}
	}

	if len(rejected) == len(comments) && len(comments) > 0 {
		return rejected, fmt.Errorf("all %d inline comments were rejected", len(rejected))
	}
	return rejected, nil
}
