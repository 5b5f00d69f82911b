package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpsertVote records a vote, replacing any prior vote by the same user on
// the same message.
func (s *Store) UpsertVote(ctx context.Context, vote *Vote) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{"message_id": vote.MessageID, "user_id": vote.UserID}
	update := bson.M{
		"$set": bson.M{
			"chat_id":    vote.ChatID,
			"value":      vote.Value,
			"comment":    vote.Comment,
			"model":      vote.Model,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}

	_, err := s.db.Collection(collVotes).UpdateOne(opCtx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting vote: %w", err)
	}
	return nil
}

// GetVote returns a user's vote on a message, or ErrNotFound.
func (s *Store) GetVote(ctx context.Context, messageID, userID string) (*Vote, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var vote Vote
	err := s.db.Collection(collVotes).FindOne(opCtx, bson.M{"message_id": messageID, "user_id": userID}).Decode(&vote)
	if err != nil {
		return nil, wrapFindErr("finding vote", err)
	}
	return &vote, nil
}
