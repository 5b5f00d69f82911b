package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/llm"
	"github.com/isclabs/codeconnect/internal/prompts"
	"github.com/isclabs/codeconnect/internal/store"
)

const maxTitleLen = 80

// RegenerateTitle asks the model for a fresh title for an existing chat
// and persists it. A model failure falls back to a title derived from
// the first user message; only a missing chat or a persistence error
// fails the call.
func (s *Service) RegenerateTitle(ctx context.Context, sessionID string) (string, error) {
	chatDoc, err := s.store.GetChatBySession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var first string
	for _, m := range chatDoc.Messages {
		if m.Role == store.RoleUser {
			first = m.Content
			break
		}
	}

	title := s.generateTitle(ctx, first)
	if err := s.store.SetChatTitle(ctx, sessionID, title); err != nil {
		return "", fmt.Errorf("saving title: %w", err)
	}
	return title, nil
}

// generateTitle asks the model for a short conversation title. Failures
// are non-fatal: the fallback derives a title from the first message.
func (s *Service) generateTitle(ctx context.Context, firstMessage string) string {
	prompt, err := s.prompts.Render(prompts.TitlePrompt, map[string]string{"Message": firstMessage})
	if err != nil {
		s.logger.Warn(ctx, "title prompt render failed", zap.Error(err))
		return fallbackTitle(firstMessage)
	}

	result, err := s.llm.Generate(ctx, llm.GenerateRequest{Input: prompt, MaxTokens: 24})
	if err != nil {
		s.logger.Warn(ctx, "title generation failed, using fallback", zap.Error(err))
		return fallbackTitle(firstMessage)
	}

	title := cleanTitle(result.Text)
	if title == "" {
		return fallbackTitle(firstMessage)
	}
	return title
}

// cleanTitle strips quoting and whitespace the model tends to add.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return truncate(strings.TrimSpace(title), maxTitleLen)
}

// fallbackTitle derives a title from the first user message.
func fallbackTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" {
		return "New conversation"
	}
	return truncate(title, maxTitleLen)
}

// truncate cuts s at a rune boundary, preferring a word boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := runes[:max]
	for i := len(cut) - 1; i > max/2; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + "…"
}
