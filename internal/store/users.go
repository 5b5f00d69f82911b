package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TouchUser upserts a user record, bumping last_seen_at and incrementing
// the message counter when delta > 0.
func (s *Store) TouchUser(ctx context.Context, userID, email, name string, delta int64) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	set := bson.M{"last_seen_at": now}
	if email != "" {
		set["email"] = email
	}
	if name != "" {
		set["name"] = name
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"first_seen_at": now},
	}
	if delta > 0 {
		update["$inc"] = bson.M{"message_count": delta}
	}

	_, err := s.db.Collection(collUsers).UpdateOne(opCtx,
		bson.M{"user_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("touching user: %w", err)
	}
	return nil
}

// GetUser fetches a user record by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var user User
	err := s.db.Collection(collUsers).FindOne(opCtx, bson.M{"user_id": userID}).Decode(&user)
	if err != nil {
		return nil, wrapFindErr("finding user", err)
	}
	return &user, nil
}
