package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/pkg/models"
)

// webhookPayload covers the fields shared by the GitHub event types we care
// about. Unknown fields in the payload are ignored.
type webhookPayload struct {
	Action      string `json:"action"`
	PullRequest *struct {
		Number int  `json:"number"`
		Draft  bool `json:"draft"`
		Base   struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"sender"`
}

// handleWebhook translates a GitHub webhook delivery into a trigger event
// and hands it to the coordinator. Processing is asynchronous: the response
// only reports the intake decision, never analysis results.
func (s *Server) handleWebhook(c echo.Context) error {
	eventType := c.Request().Header.Get("X-GitHub-Event")

	var kind models.TriggerKind
	switch eventType {
	case "pull_request":
		kind = models.TriggerPR
	case "pull_request_review":
		kind = models.TriggerReview
	case "pull_request_review_comment":
		kind = models.TriggerReviewComment
	case "ping":
		return c.JSON(http.StatusOK, map[string]string{"result": "pong"})
	default:
		return c.JSON(http.StatusOK, map[string]string{"result": "ignored_event_type"})
	}

	var payload webhookPayload
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("unparseable webhook payload")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if payload.PullRequest == nil {
		// Review and comment events without a PR context (and PR events
		// with broken payloads) have nothing to analyze.
		return c.JSON(http.StatusOK, map[string]string{"result": "ignored_no_pull_request"})
	}

	event := models.TriggerEvent{
		Kind:       kind,
		Owner:      payload.Repository.Owner.Login,
		Repo:       payload.Repository.Name,
		Number:     payload.PullRequest.Number,
		Action:     payload.Action,
		Draft:      payload.PullRequest.Draft,
		BaseBranch: payload.PullRequest.Base.Ref,
		IsBot:      payload.Sender.Type == "Bot" || (s.botLogin != "" && payload.Sender.Login == s.botLogin),
	}

	result := s.coordinator.HandleEvent(event)
	return c.JSON(http.StatusOK, map[string]string{"result": result})
}
