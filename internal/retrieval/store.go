package retrieval

import (
	"context"
	"fmt"
	"os"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
)

// Document is one indexed conversation exchange.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is one retrieval hit.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Store persists conversation embeddings in an embedded chromem database.
type Store struct {
	db         *chromem.DB
	collection string
	embedder   Embedder
	topK       int
	logger     *logging.Logger
}

// NewStore opens (or creates) the persistent vector database.
func NewStore(cfg config.RetrievalConfig, embedder Embedder, logger *logging.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating vector store directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}

	return &Store{
		db:         db,
		collection: cfg.Collection,
		embedder:   embedder,
		topK:       topK,
		logger:     logger,
	}, nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *Store) getCollection() (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(s.collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", s.collection, err)
	}
	return collection, nil
}

// Index embeds and stores documents.
func (s *Store) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	collection, err := s.getCollection()
	if err != nil {
		return err
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding documents: %w", err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
		}
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug(ctx, "indexed documents", zap.Int("count", len(docs)))
	return nil
}

// Search returns the documents most similar to query, up to the
// configured top-K.
func (s *Store) Search(ctx context.Context, query string, where map[string]string) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	collection, err := s.getCollection()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the document count.
	k := s.topK
	if count := collection.Count(); count == 0 {
		return []Result{}, nil
	} else if k > count {
		k = count
	}

	hits, err := collection.Query(ctx, query, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.collection, err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: h.Metadata,
		}
	}
	return results, nil
}
