// Package chat orchestrates conversations: it scrubs user input,
// assembles prompts with retrieved context, calls the model, and
// persists the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/llm"
	"github.com/isclabs/codeconnect/internal/logging"
	"github.com/isclabs/codeconnect/internal/prompts"
	"github.com/isclabs/codeconnect/internal/retrieval"
	"github.com/isclabs/codeconnect/internal/secrets"
	"github.com/isclabs/codeconnect/internal/store"
)

// historyLimit bounds how many prior turns are replayed into the prompt.
const historyLimit = 10

// Generator is the slice of the model client the service needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error)
	GenerateStream(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error)
	Model() string
}

// Store is the persistence surface the service needs.
type Store interface {
	GetChatBySession(ctx context.Context, sessionID string) (*store.Chat, error)
	CreateChat(ctx context.Context, chat *store.Chat) error
	AppendMessages(ctx context.Context, sessionID string, msgs ...store.Message) error
	SetChatTitle(ctx context.Context, sessionID, title string) error
	TouchUser(ctx context.Context, userID, email, name string, delta int64) error
}

// Retriever finds similar past conversations. Optional.
type Retriever interface {
	Search(ctx context.Context, query string, where map[string]string) ([]retrieval.Result, error)
	Index(ctx context.Context, docs []retrieval.Document) error
}

// Request is one user turn.
type Request struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// Validate checks required fields.
func (r Request) Validate() error {
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("message is required")
	}
	return nil
}

// Response is one completed assistant turn.
type Response struct {
	SessionID     string   `json:"session_id"`
	MessageID     string   `json:"message_id"`
	Content       string   `json:"content"`
	Analysis      string   `json:"analysis,omitempty"`
	Model         string   `json:"model"`
	Title         string   `json:"title,omitempty"`
	ScrubFindings []string `json:"scrub_findings,omitempty"`
	LatencyMS     int64    `json:"latency_ms"`
}

// Event is one element of a streamed response.
type Event struct {
	// Kind is "delta", "analysis", "done", or "error".
	Kind     string
	Text     string
	Response *Response
	Err      error
}

// Service runs chat turns end to end.
type Service struct {
	store     Store
	llm       Generator
	scrubber  secrets.Scrubber
	retriever Retriever
	prompts   *prompts.Registry
	logger    *logging.Logger
}

// NewService wires a chat service. retriever may be nil.
func NewService(st Store, gen Generator, scrubber secrets.Scrubber, retriever Retriever, registry *prompts.Registry, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:     st,
		llm:       gen,
		scrubber:  scrubber,
		retriever: retriever,
		prompts:   registry,
		logger:    logger,
	}
}

// turn is the shared per-request state built before calling the model.
type turn struct {
	chat     *store.Chat
	newChat  bool
	scrubbed string
	findings []string
	prompt   string
	started  time.Time
}

// prepare scrubs the message, loads or creates the chat, gathers
// retrieval context, and renders the final prompt. Secrets never reach
// the model or the database unredacted.
func (s *Service) prepare(ctx context.Context, req Request) (*turn, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := &turn{started: time.Now()}

	t.scrubbed = req.Message
	if s.scrubber != nil && s.scrubber.IsEnabled() {
		result := s.scrubber.Scrub(req.Message)
		t.scrubbed = result.Scrubbed
		t.findings = result.RuleIDs()
		if len(t.findings) > 0 {
			s.logger.Info(ctx, "redacted secrets from chat message",
				zap.Int("findings", len(t.findings)))
		}
	}

	chat, err := s.store.GetChatBySession(ctx, req.SessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		chat = &store.Chat{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Model:     s.llm.Model(),
		}
		if err := s.store.CreateChat(ctx, chat); err != nil {
			return nil, fmt.Errorf("creating chat: %w", err)
		}
		t.newChat = true
	case err != nil:
		return nil, fmt.Errorf("loading chat: %w", err)
	}
	t.chat = chat

	retrieved := s.retrieveContext(ctx, t.scrubbed)

	system, err := s.prompts.Render(prompts.SystemPrompt, map[string]string{"Context": retrieved})
	if err != nil {
		return nil, fmt.Errorf("rendering system prompt: %w", err)
	}

	t.prompt = buildPrompt(system, chat.Messages, t.scrubbed)
	return t, nil
}

// retrieveContext searches past conversations for similar exchanges.
// Retrieval failures degrade to an empty context.
func (s *Service) retrieveContext(ctx context.Context, query string) string {
	if s.retriever == nil {
		return ""
	}
	results, err := s.retriever.Search(ctx, query, nil)
	if err != nil {
		s.logger.Warn(ctx, "retrieval failed, continuing without context", zap.Error(err))
		return ""
	}
	var b strings.Builder
	for _, r := range results {
		b.WriteString("- ")
		b.WriteString(r.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Complete runs one non-streaming chat turn.
func (s *Service) Complete(ctx context.Context, req Request) (*Response, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.llm.Generate(ctx, llm.GenerateRequest{Input: t.prompt})
	if err != nil {
		return nil, fmt.Errorf("generating completion: %w", err)
	}

	asm := NewAssembler()
	asm.Feed(result.Text)
	asm.Finish()

	return s.finish(ctx, req, t, asm)
}

// Stream runs one chat turn, emitting events as the model produces
// text. The channel closes after a "done" or "error" event.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks, err := s.llm.GenerateStream(ctx, llm.GenerateRequest{Input: t.prompt})
	if err != nil {
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		asm := NewAssembler()

		forward := func(deltas []Delta) {
			for _, d := range deltas {
				kind := "delta"
				if d.Kind == DeltaAnalysis {
					kind = "analysis"
				}
				events <- Event{Kind: kind, Text: d.Text}
			}
		}

		for chunk := range chunks {
			if chunk.Err != nil {
				events <- Event{Kind: "error", Err: chunk.Err}
				return
			}
			forward(asm.Feed(chunk.Text))
		}
		forward(asm.Finish())

		resp, err := s.finish(ctx, req, t, asm)
		if err != nil {
			events <- Event{Kind: "error", Err: err}
			return
		}
		events <- Event{Kind: "done", Response: resp}
	}()

	return events, nil
}

// finish persists the exchange and assembles the response. Persistence
// errors fail the turn; titling and indexing are best-effort.
func (s *Service) finish(ctx context.Context, req Request, t *turn, asm *Assembler) (*Response, error) {
	now := time.Now().UTC()
	latency := time.Since(t.started).Milliseconds()
	messageID := uuid.NewString()

	userMsg := store.Message{
		ID:            uuid.NewString(),
		Role:          store.RoleUser,
		Content:       t.scrubbed,
		ScrubFindings: t.findings,
		CreatedAt:     now,
	}
	assistantMsg := store.Message{
		ID:        messageID,
		Role:      store.RoleAssistant,
		Content:   asm.Content(),
		Analysis:  asm.Analysis(),
		Model:     s.llm.Model(),
		LatencyMS: latency,
		CreatedAt: now,
	}

	if err := s.store.AppendMessages(ctx, req.SessionID, userMsg, assistantMsg); err != nil {
		return nil, fmt.Errorf("persisting messages: %w", err)
	}
	if err := s.store.TouchUser(ctx, req.UserID, "", "", 1); err != nil {
		s.logger.Warn(ctx, "user stats update failed", zap.Error(err))
	}

	resp := &Response{
		SessionID:     req.SessionID,
		MessageID:     messageID,
		Content:       asm.Content(),
		Analysis:      asm.Analysis(),
		Model:         s.llm.Model(),
		ScrubFindings: t.findings,
		LatencyMS:     latency,
	}

	if t.newChat {
		title := s.generateTitle(ctx, t.scrubbed)
		if err := s.store.SetChatTitle(ctx, req.SessionID, title); err != nil {
			s.logger.Warn(ctx, "setting chat title failed", zap.Error(err))
		} else {
			resp.Title = title
		}
	}

	s.indexExchange(ctx, req, t.scrubbed, asm.Content())
	return resp, nil
}

// indexExchange stores the turn in the retrieval index. Best-effort.
func (s *Service) indexExchange(ctx context.Context, req Request, question, answer string) {
	if s.retriever == nil {
		return
	}
	doc := retrieval.Document{
		ID:      uuid.NewString(),
		Content: fmt.Sprintf("Q: %s\nA: %s", question, answer),
		Metadata: map[string]string{
			"session_id": req.SessionID,
			"user_id":    req.UserID,
		},
	}
	if err := s.retriever.Index(ctx, []retrieval.Document{doc}); err != nil {
		s.logger.Warn(ctx, "indexing exchange failed", zap.Error(err))
	}
}

// buildPrompt renders the Granite instruct chat template: system prompt,
// recent history, then the new user turn.
func buildPrompt(system string, history []store.Message, message string) string {
	var b strings.Builder
	writeRole := func(role, text string) {
		b.WriteString("<|start_of_role|>")
		b.WriteString(role)
		b.WriteString("<|end_of_role|>")
		b.WriteString(text)
		b.WriteString("<|end_of_text|>\n")
	}

	writeRole("system", system)

	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	for _, m := range history {
		writeRole(m.Role, m.Content)
	}

	writeRole(store.RoleUser, message)
	b.WriteString("<|start_of_role|>assistant<|end_of_role|>")
	return b.String()
}
