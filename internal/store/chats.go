package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateChat inserts a new chat. Timestamps are set here.
func (s *Store) CreateChat(ctx context.Context, chat *Chat) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	if chat.Messages == nil {
		chat.Messages = []Message{}
	}

	res, err := s.db.Collection(collChats).InsertOne(opCtx, chat)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		chat.ID = oid
	}
	return nil
}

// GetChatBySession fetches a chat by its session identifier.
func (s *Store) GetChatBySession(ctx context.Context, sessionID string) (*Chat, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var chat Chat
	err := s.db.Collection(collChats).FindOne(opCtx, bson.M{"session_id": sessionID}).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding chat: %w", err)
	}
	return &chat, nil
}

// ListChats returns a user's chats ordered by most recently updated,
// without message bodies.
func (s *Store) ListChats(ctx context.Context, userID string, limit int64) ([]Chat, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"messages": 0})

	cursor, err := s.db.Collection(collChats).Find(opCtx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer cursor.Close(opCtx)

	var chats []Chat
	if err := cursor.All(opCtx, &chats); err != nil {
		return nil, fmt.Errorf("decoding chats: %w", err)
	}
	return chats, nil
}

// AppendMessages pushes messages onto a chat and bumps updated_at.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.Collection(collChats).UpdateOne(opCtx,
		bson.M{"session_id": sessionID},
		bson.M{
			"$push": bson.M{"messages": bson.M{"$each": msgs}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("appending messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChatTitle updates a chat's title.
func (s *Store) SetChatTitle(ctx context.Context, sessionID, title string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.Collection(collChats).UpdateOne(opCtx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"title": title, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("setting chat title: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes a chat and its votes.
func (s *Store) DeleteChat(ctx context.Context, sessionID string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.Collection(collChats).DeleteOne(opCtx, bson.M{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	// Votes referencing the chat are orphaned otherwise.
	if _, err := s.db.Collection(collVotes).DeleteMany(opCtx, bson.M{"chat_id": sessionID}); err != nil {
		return fmt.Errorf("deleting chat votes: %w", err)
	}
	return nil
}
