package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/internal/coordinator"
	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/retry"
	"github.com/reviewpilot/internal/scm"
	"github.com/reviewpilot/pkg/models"
)

type noopSCM struct{}

func (noopSCM) GetPRSnapshot(ctx context.Context, owner, repo string, number int) (*models.PRSnapshot, error) {
	return &models.PRSnapshot{Owner: owner, Repo: repo, Number: number}, nil
}
func (noopSCM) PostSummaryComment(ctx context.Context, owner, repo string, number int, body string) error {
	return nil
}
func (noopSCM) PostInlineComments(ctx context.Context, owner, repo string, number int, headSHA string, comments []scm.InlineComment) ([]int, error) {
	return nil, nil
}

type noopLLM struct{}

func (noopLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return `{"findings":[],"assessment":"PROPERLY_REVIEWED"}`, nil
}

func newTestServer(t *testing.T) (*Server, *coordinator.Coordinator) {
	t.Helper()
	fast := retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	coord := coordinator.New(noopSCM{}, llm.NewResilientClient(noopLLM{}, fast, time.Second), coordinator.Options{})
	t.Cleanup(func() { coord.Close(time.Second) })
	return NewServer(0, coord, "reviewpilot[bot]"), coord
}

func postWebhook(s *Server, eventType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const openedPayload = `{
	"action": "opened",
	"pull_request": {"number": 12, "draft": false, "base": {"ref": "main"}},
	"repository": {"name": "hello", "owner": {"login": "octocat"}},
	"sender": {"login": "alice", "type": "User"}
}`

func TestWebhookAcceptsPullRequestOpened(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postWebhook(s, "pull_request", openedPayload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted"`)
}

func TestWebhookRespondsBeforeAnalysisFinishes(t *testing.T) {
	s, _ := newTestServer(t)

	start := time.Now()
	rec := postWebhook(s, "pull_request", openedPayload)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, elapsed, 500*time.Millisecond, "webhook response must not wait on the pipeline")
}

func TestWebhookIgnoresBotSender(t *testing.T) {
	s, _ := newTestServer(t)

	botPayload := strings.Replace(openedPayload, `"type": "User"`, `"type": "Bot"`, 1)
	rec := postWebhook(s, "pull_request", botPayload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored_bot_event")

	ownPayload := strings.Replace(openedPayload, `"login": "alice"`, `"login": "reviewpilot[bot]"`, 1)
	rec = postWebhook(s, "pull_request", ownPayload)
	assert.Contains(t, rec.Body.String(), "ignored_bot_event")
}

func TestWebhookDebouncesCommentEvents(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{
		"action": "created",
		"pull_request": {"number": 12, "base": {"ref": "main"}},
		"repository": {"name": "hello", "owner": {"login": "octocat"}},
		"sender": {"login": "alice", "type": "User"}
	}`
	rec := postWebhook(s, "pull_request_review_comment", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "debounced")
}

func TestWebhookUnknownEventAndBadPayload(t *testing.T) {
	s, _ := newTestServer(t)

	rec := postWebhook(s, "issues", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored_event_type")

	rec = postWebhook(s, "ping", `{"zen": "Design for failure."}`)
	assert.Contains(t, rec.Body.String(), "pong")

	rec = postWebhook(s, "pull_request", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postWebhook(s, "pull_request_review", `{"action": "submitted"}`)
	assert.Contains(t, rec.Body.String(), "ignored_no_pull_request")
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "in_flight")
}
