package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isclabs/codeconnect/internal/llm"
	"github.com/isclabs/codeconnect/internal/prompts"
	"github.com/isclabs/codeconnect/internal/retrieval"
	"github.com/isclabs/codeconnect/internal/secrets"
	"github.com/isclabs/codeconnect/internal/store"
)

type fakeStore struct {
	chats   map[string]*store.Chat
	titles  map[string]string
	touched int
}

func newFakeStore() *fakeStore {
	return &fakeStore{chats: map[string]*store.Chat{}, titles: map[string]string{}}
}

func (f *fakeStore) GetChatBySession(_ context.Context, sessionID string) (*store.Chat, error) {
	chat, ok := f.chats[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return chat, nil
}

func (f *fakeStore) CreateChat(_ context.Context, chat *store.Chat) error {
	f.chats[chat.SessionID] = chat
	return nil
}

func (f *fakeStore) AppendMessages(_ context.Context, sessionID string, msgs ...store.Message) error {
	chat, ok := f.chats[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	chat.Messages = append(chat.Messages, msgs...)
	return nil
}

func (f *fakeStore) SetChatTitle(_ context.Context, sessionID, title string) error {
	f.titles[sessionID] = title
	return nil
}

func (f *fakeStore) TouchUser(context.Context, string, string, string, int64) error {
	f.touched++
	return nil
}

type fakeGenerator struct {
	response  string
	lastInput string
	failTitle bool
}

func (f *fakeGenerator) Generate(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	if f.failTitle && req.MaxTokens == 24 {
		return nil, fmt.Errorf("model overloaded")
	}
	if req.MaxTokens == 24 {
		return &llm.GenerateResult{Text: `"Trigger Help"`}, nil
	}
	f.lastInput = req.Input
	return &llm.GenerateResult{Text: f.response}, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	f.lastInput = req.Input
	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		// Split mid-tag to exercise boundary handling downstream.
		text := f.response
		for len(text) > 0 {
			n := 7
			if n > len(text) {
				n = len(text)
			}
			ch <- llm.Chunk{Text: text[:n]}
			text = text[n:]
		}
	}()
	return ch, nil
}

func (f *fakeGenerator) Model() string { return "ibm/granite-3-8b-instruct" }

type fakeRetriever struct {
	results []retrieval.Result
	indexed []retrieval.Document
}

func (f *fakeRetriever) Search(context.Context, string, map[string]string) ([]retrieval.Result, error) {
	return f.results, nil
}

func (f *fakeRetriever) Index(_ context.Context, docs []retrieval.Document) error {
	f.indexed = append(f.indexed, docs...)
	return nil
}

func newTestService(t *testing.T, gen *fakeGenerator, ret Retriever) (*Service, *fakeStore) {
	t.Helper()
	registry, err := prompts.NewRegistry(t.TempDir(), false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	scrubber, err := secrets.New(nil)
	require.NoError(t, err)

	st := newFakeStore()
	return NewService(st, gen, scrubber, ret, registry, nil), st
}

func TestComplete_NewChat(t *testing.T) {
	gen := &fakeGenerator{response: "<analysis>simple ask</analysis>Use a trigger."}
	svc, st := newTestService(t, gen, nil)

	resp, err := svc.Complete(context.Background(), Request{
		SessionID: "s1", UserID: "u1", Message: "How do triggers work?",
	})
	require.NoError(t, err)

	assert.Equal(t, "Use a trigger.", resp.Content)
	assert.Equal(t, "simple ask", resp.Analysis)
	assert.Equal(t, "Trigger Help", resp.Title)
	assert.NotEmpty(t, resp.MessageID)

	chat := st.chats["s1"]
	require.NotNil(t, chat)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, store.RoleUser, chat.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, chat.Messages[1].Role)
	assert.Equal(t, "Use a trigger.", chat.Messages[1].Content)
	assert.Equal(t, "simple ask", chat.Messages[1].Analysis)
	assert.Equal(t, 1, st.touched)
}

func TestComplete_TitleFallbackIsNonFatal(t *testing.T) {
	gen := &fakeGenerator{response: "answer", failTitle: true}
	svc, st := newTestService(t, gen, nil)

	resp, err := svc.Complete(context.Background(), Request{
		SessionID: "s1", UserID: "u1", Message: "How do I   bulkify a trigger?",
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, "How do I bulkify a trigger?", st.titles["s1"])
}

func TestRegenerateTitle(t *testing.T) {
	gen := &fakeGenerator{response: "answer"}
	svc, st := newTestService(t, gen, nil)
	st.chats["s1"] = &store.Chat{SessionID: "s1", UserID: "u1", Messages: []store.Message{
		{Role: store.RoleUser, Content: "How do triggers work?"},
		{Role: store.RoleAssistant, Content: "answer"},
	}}

	title, err := svc.RegenerateTitle(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Trigger Help", title)
	assert.Equal(t, "Trigger Help", st.titles["s1"])
}

func TestRegenerateTitle_MissingChat(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, nil)

	_, err := svc.RegenerateTitle(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestComplete_ScrubsSecretsBeforeModel(t *testing.T) {
	gen := &fakeGenerator{response: "done"}
	svc, st := newTestService(t, gen, nil)

	secret := "token ghp_" + strings.Repeat("a", 36)
	resp, err := svc.Complete(context.Background(), Request{
		SessionID: "s1", UserID: "u1", Message: "my " + secret + " leaked",
	})
	require.NoError(t, err)

	assert.NotContains(t, gen.lastInput, "ghp_")
	assert.Contains(t, gen.lastInput, "[REDACTED]")
	assert.NotEmpty(t, resp.ScrubFindings)

	// The stored message is the scrubbed one.
	assert.NotContains(t, st.chats["s1"].Messages[0].Content, "ghp_")
}

func TestComplete_ExistingChatKeepsHistory(t *testing.T) {
	gen := &fakeGenerator{response: "second answer"}
	svc, st := newTestService(t, gen, nil)
	ctx := context.Background()

	_, err := svc.Complete(ctx, Request{SessionID: "s1", UserID: "u1", Message: "first"})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, Request{SessionID: "s1", UserID: "u1", Message: "second"})
	require.NoError(t, err)

	assert.Len(t, st.chats["s1"].Messages, 4)
	// History from the first turn appears in the second prompt.
	assert.Contains(t, gen.lastInput, "first")
}

func TestComplete_RetrievalContextInPrompt(t *testing.T) {
	gen := &fakeGenerator{response: "answer"}
	ret := &fakeRetriever{results: []retrieval.Result{{Content: "Q: old question\nA: old answer"}}}
	svc, _ := newTestService(t, gen, ret)

	_, err := svc.Complete(context.Background(), Request{
		SessionID: "s1", UserID: "u1", Message: "new question",
	})
	require.NoError(t, err)

	assert.Contains(t, gen.lastInput, "old question")
	// The exchange itself gets indexed for future retrieval.
	require.Len(t, ret.indexed, 1)
	assert.Contains(t, ret.indexed[0].Content, "new question")
	assert.Equal(t, "s1", ret.indexed[0].Metadata["session_id"])
}

func TestStream_EmitsDeltasThenDone(t *testing.T) {
	gen := &fakeGenerator{response: "<analysis>thinking here</analysis>final answer"}
	svc, _ := newTestService(t, gen, nil)

	events, err := svc.Stream(context.Background(), Request{
		SessionID: "s1", UserID: "u1", Message: "hello",
	})
	require.NoError(t, err)

	var content, analysis string
	var done *Response
	for ev := range events {
		switch ev.Kind {
		case "delta":
			content += ev.Text
		case "analysis":
			analysis += ev.Text
		case "done":
			done = ev.Response
		case "error":
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	assert.Equal(t, "final answer", content)
	assert.Equal(t, "thinking here", analysis)
	require.NotNil(t, done)
	assert.Equal(t, "final answer", done.Content)
	assert.Equal(t, "thinking here", done.Analysis)
}

func TestRequest_Validate(t *testing.T) {
	assert.Error(t, Request{UserID: "u", Message: "m"}.Validate())
	assert.Error(t, Request{SessionID: "s", Message: "m"}.Validate())
	assert.Error(t, Request{SessionID: "s", UserID: "u", Message: "  "}.Validate())
	assert.NoError(t, Request{SessionID: "s", UserID: "u", Message: "m"}.Validate())
}

func TestBuildPrompt_HistoryBounded(t *testing.T) {
	history := make([]store.Message, 20)
	for i := range history {
		history[i] = store.Message{Role: store.RoleUser, Content: fmt.Sprintf("turn-%d", i)}
	}
	prompt := buildPrompt("system text", history, "latest")

	assert.NotContains(t, prompt, "turn-0")
	assert.Contains(t, prompt, "turn-19")
	assert.Contains(t, prompt, "latest")
	assert.True(t, strings.HasSuffix(prompt, "<|start_of_role|>assistant<|end_of_role|>"))
}
