package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/events"
	"github.com/isclabs/codeconnect/internal/store"
)

// FeedbackRequest is the body for POST /feedback.
type FeedbackRequest struct {
	UserID      string `json:"user_id"`
	Category    string `json:"category"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	MessageID   string `json:"message_id"`
}

// FeedbackResponse acknowledges a stored feedback document. Jira
// escalation happens asynchronously; jira_status starts out pending.
type FeedbackResponse struct {
	ID         string `json:"id"`
	JiraStatus string `json:"jira_status"`
}

var feedbackCategories = map[string]bool{
	"bug": true, "idea": true, "question": true, "other": true,
}

// handleFeedback stores the feedback and publishes an event for the
// Jira worker. A publish failure leaves the document pending; the
// feedback itself is never lost.
func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		req.UserID = c.Request().Header.Get("X-User-ID")
	}
	if req.UserID == "" || strings.TrimSpace(req.Description) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and description are required")
	}
	if req.Category == "" {
		req.Category = "other"
	}
	if !feedbackCategories[req.Category] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
	}

	ctx := c.Request().Context()
	fb := &store.Feedback{
		UserID:      req.UserID,
		Category:    req.Category,
		Summary:     strings.TrimSpace(req.Summary),
		Description: strings.TrimSpace(req.Description),
		MessageID:   req.MessageID,
	}
	if err := s.deps.Store.InsertFeedback(ctx, fb); err != nil {
		return fmt.Errorf("storing feedback: %w", err)
	}

	s.publishFeedbackEvent(c, events.FeedbackEvent{
		FeedbackID: fb.ID.Hex(),
		UserID:     fb.UserID,
		Category:   fb.Category,
	})

	return c.JSON(http.StatusAccepted, FeedbackResponse{
		ID:         fb.ID.Hex(),
		JiraStatus: fb.JiraStatus,
	})
}

// SubtaskRequest is the body for POST /feedback/:id/subtask.
type SubtaskRequest struct {
	ParentKey string `json:"parent_key"`
}

// handleFeedbackSubtask requests a Jira subtask under an existing issue
// for an already-stored feedback document.
func (s *Server) handleFeedbackSubtask(c echo.Context) error {
	var req SubtaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ParentKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "parent_key is required")
	}

	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid feedback id")
	}

	ctx := c.Request().Context()
	fb, err := s.deps.Store.GetFeedback(ctx, id)
	if err != nil {
		return err
	}

	s.publishFeedbackEvent(c, events.FeedbackEvent{
		FeedbackID: fb.ID.Hex(),
		UserID:     fb.UserID,
		Category:   fb.Category,
		ParentKey:  req.ParentKey,
	})

	return c.JSON(http.StatusAccepted, FeedbackResponse{
		ID:         fb.ID.Hex(),
		JiraStatus: fb.JiraStatus,
	})
}

var feedbackStatuses = map[string]bool{
	store.JiraStatusPending: true,
	store.JiraStatusCreated: true,
	store.JiraStatusFailed:  true,
}

// handleAdminFeedback lists feedback documents, optionally filtered by
// escalation state. Operators use it to find pending or failed Jira
// escalations behind the dashboard breakdown.
func (s *Server) handleAdminFeedback(c echo.Context) error {
	status := c.QueryParam("status")
	if status != "" && !feedbackStatuses[status] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown jira status")
	}

	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	items, err := s.deps.Store.ListFeedback(c.Request().Context(), status, limit)
	if err != nil {
		return fmt.Errorf("listing feedback: %w", err)
	}
	if items == nil {
		items = []store.Feedback{}
	}
	return c.JSON(http.StatusOK, items)
}

// handleAdminUser returns one user's activity profile.
func (s *Server) handleAdminUser(c echo.Context) error {
	user, err := s.deps.Store.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) publishFeedbackEvent(c echo.Context, event events.FeedbackEvent) {
	if s.deps.Publisher == nil {
		return
	}
	ctx := c.Request().Context()
	if err := s.deps.Publisher.PublishFeedback(ctx, event); err != nil {
		// The document stays in pending; operators find it on the
		// dashboard feedback breakdown.
		s.logger.Error(ctx, "publishing feedback event failed",
			zap.String("feedback_id", event.FeedbackID), zap.Error(err))
	}
}
