package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/chat"
	"github.com/isclabs/codeconnect/internal/events"
	"github.com/isclabs/codeconnect/internal/logging"
	"github.com/isclabs/codeconnect/internal/store"
)

// bindChatRequest decodes a chat request and fills the user from the
// identity header when the body omits it.
func bindChatRequest(c echo.Context) (chat.Request, error) {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		req.UserID = c.Request().Header.Get("X-User-ID")
	}
	if err := req.Validate(); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

// handleChat runs a non-streaming chat turn.
func (s *Server) handleChat(c echo.Context) error {
	req, err := bindChatRequest(c)
	if err != nil {
		return err
	}

	ctx := logging.WithSessionID(c.Request().Context(), req.SessionID)
	resp, err := s.deps.Chat.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("chat turn failed: %w", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleChatStream runs a chat turn over server-sent events. Each model
// fragment becomes a "delta" or "analysis" event; the stream ends with
// "done" (full response metadata) or "error".
func (s *Server) handleChatStream(c echo.Context) error {
	req, err := bindChatRequest(c)
	if err != nil {
		return err
	}

	ctx := logging.WithSessionID(c.Request().Context(), req.SessionID)
	eventCh, err := s.deps.Chat.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("starting chat stream: %w", err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for ev := range eventCh {
		if err := writeSSE(resp, ev); err != nil {
			s.logger.Warn(ctx, "sse write failed, client likely gone", zap.Error(err))
			return nil
		}
		resp.Flush()
	}
	return nil
}

// ssePayload is the data document for delta and analysis events.
type ssePayload struct {
	Text string `json:"text"`
}

// sseError is the data document for error events.
type sseError struct {
	Error string `json:"error"`
}

func writeSSE(w http.ResponseWriter, ev chat.Event) error {
	var data any
	switch ev.Kind {
	case "done":
		data = ev.Response
	case "error":
		data = sseError{Error: ev.Err.Error()}
	default:
		data = ssePayload{Text: ev.Text}
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, encoded)
	return err
}

// handleListChats lists the caller's chats, newest first.
func (s *Server) handleListChats(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = c.QueryParam("user")
	}
	if userID == "" {
		userID = c.Request().Header.Get("X-User-ID")
	}
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	chats, err := s.deps.Store.ListChats(c.Request().Context(), userID, limit)
	if err != nil {
		return fmt.Errorf("listing chats: %w", err)
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	return c.JSON(http.StatusOK, chats)
}

func (s *Server) handleGetChat(c echo.Context) error {
	chatDoc, err := s.deps.Store.GetChatBySession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatDoc)
}

func (s *Server) handleDeleteChat(c echo.Context) error {
	if err := s.deps.Store.DeleteChat(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleGetVote returns the caller's vote on a message, so the client
// can render the existing thumb state.
func (s *Server) handleGetVote(c echo.Context) error {
	messageID := c.QueryParam("message_id")
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = c.Request().Header.Get("X-User-ID")
	}
	if messageID == "" || userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message_id and user_id are required")
	}

	vote, err := s.deps.Store.GetVote(c.Request().Context(), messageID, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, vote)
}

// TitleRequest is the body for POST /chats/:id/title. An empty or
// missing title asks the model to generate one.
type TitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleSetTitle(c echo.Context) error {
	var req TitleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	sessionID := c.Param("id")

	title := strings.TrimSpace(req.Title)
	if title == "" {
		generated, err := s.deps.Chat.RegenerateTitle(ctx, sessionID)
		if err != nil {
			return err
		}
		title = generated
	} else if err := s.deps.Store.SetChatTitle(ctx, sessionID, title); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"title": title})
}

// VoteRequest is the body for POST /votes. Value must be 1 or -1.
type VoteRequest struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Value     int    `json:"value"`
	Comment   string `json:"comment"`
	Model     string `json:"model"`
}

func (s *Server) handleVote(c echo.Context) error {
	var req VoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		req.UserID = c.Request().Header.Get("X-User-ID")
	}
	if req.MessageID == "" || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message_id and user_id are required")
	}
	if req.Value != 1 && req.Value != -1 {
		return echo.NewHTTPError(http.StatusBadRequest, "value must be 1 or -1")
	}

	vote := &store.Vote{
		MessageID: req.MessageID,
		ChatID:    req.ChatID,
		UserID:    req.UserID,
		Value:     req.Value,
		Comment:   req.Comment,
		Model:     req.Model,
	}
	ctx := c.Request().Context()
	if err := s.deps.Store.UpsertVote(ctx, vote); err != nil {
		return fmt.Errorf("recording vote: %w", err)
	}

	// A downvote with a comment is actionable feedback: store it and
	// let the Jira worker pick it up.
	if req.Value == -1 && strings.TrimSpace(req.Comment) != "" {
		fb := &store.Feedback{
			UserID:      req.UserID,
			Category:    "downvote",
			Summary:     strings.TrimSpace(req.Comment),
			Description: strings.TrimSpace(req.Comment),
			MessageID:   req.MessageID,
		}
		if err := s.deps.Store.InsertFeedback(ctx, fb); err != nil {
			s.logger.Error(ctx, "storing downvote feedback failed",
				zap.String("message_id", req.MessageID), zap.Error(err))
		} else {
			s.publishFeedbackEvent(c, events.FeedbackEvent{
				FeedbackID: fb.ID.Hex(),
				UserID:     fb.UserID,
				Category:   fb.Category,
			})
		}
	}
	return c.NoContent(http.StatusNoContent)
}
