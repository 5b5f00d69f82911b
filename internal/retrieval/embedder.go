// Package retrieval indexes past conversations and retrieves the most
// similar ones as context for new chat requests.
package retrieval

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/isclabs/codeconnect/internal/config"
)

// Embedder generates embedding vectors for text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds an embedder against an OpenAI-compatible embedding
// endpoint (TEI, OpenAI, or a local server).
func NewEmbedder(cfg config.RetrievalConfig) (Embedder, error) {
	if cfg.EmbeddingBaseURL == "" {
		return nil, fmt.Errorf("embedding base URL required")
	}

	apiKey := cfg.EmbeddingAPIKey.Value()
	if apiKey == "" {
		// The client requires a token even for unauthenticated local servers.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.EmbeddingBaseURL),
		openai.WithModel(cfg.EmbeddingModel),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}
