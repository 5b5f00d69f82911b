// Package store provides MongoDB persistence for chats, votes, feedback,
// and users.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
)

// Collection names.
const (
	collChats    = "chats"
	collVotes    = "votes"
	collFeedback = "feedback"
	collUsers    = "users"
)

// wrapFindErr maps mongo.ErrNoDocuments to ErrNotFound and wraps the rest.
func wrapFindErr(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Store wraps a MongoDB database.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	logger  *logging.Logger
	timeout time.Duration
}

// Connect establishes the MongoDB connection and bootstraps indexes.
func Connect(ctx context.Context, cfg config.MongoConfig, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	timeout := cfg.Timeout.Duration()
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI.Value()))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := &Store{
		client:  client,
		db:      client.Database(cfg.Database),
		logger:  logger,
		timeout: timeout,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensuring indexes: %w", err)
	}

	logger.Info(ctx, "connected to mongodb", zap.String("database", cfg.Database))
	return s, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// DB returns the underlying database. Used by the dashboard aggregator.
func (s *Store) DB() *mongo.Database {
	return s.db
}

// ensureIndexes creates the indexes the query paths depend on. Idempotent.
func (s *Store) ensureIndexes(ctx context.Context) error {
	idxCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	chatIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := s.db.Collection(collChats).Indexes().CreateMany(idxCtx, chatIndexes); err != nil {
		return fmt.Errorf("chat indexes: %w", err)
	}

	voteIndexes := []mongo.IndexModel{
		// One vote per (message, user); re-voting overwrites.
		{Keys: bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.db.Collection(collVotes).Indexes().CreateMany(idxCtx, voteIndexes); err != nil {
		return fmt.Errorf("vote indexes: %w", err)
	}

	feedbackIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "jira_status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.db.Collection(collFeedback).Indexes().CreateMany(idxCtx, feedbackIndexes); err != nil {
		return fmt.Errorf("feedback indexes: %w", err)
	}

	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := s.db.Collection(collUsers).Indexes().CreateMany(idxCtx, userIndexes); err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}

	return nil
}
