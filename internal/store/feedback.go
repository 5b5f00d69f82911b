package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertFeedback stores a new feedback document in jira_status "pending".
func (s *Store) InsertFeedback(ctx context.Context, fb *Feedback) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	fb.CreatedAt = now
	fb.UpdatedAt = now
	if fb.JiraStatus == "" {
		fb.JiraStatus = JiraStatusPending
	}

	res, err := s.db.Collection(collFeedback).InsertOne(opCtx, fb)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		fb.ID = oid
	}
	return nil
}

// GetFeedback fetches a feedback document by id.
func (s *Store) GetFeedback(ctx context.Context, id primitive.ObjectID) (*Feedback, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var fb Feedback
	err := s.db.Collection(collFeedback).FindOne(opCtx, bson.M{"_id": id}).Decode(&fb)
	if err != nil {
		return nil, wrapFindErr("finding feedback", err)
	}
	return &fb, nil
}

// SetFeedbackJira records the outcome of a Jira escalation attempt.
// key may be empty when status is "failed".
func (s *Store) SetFeedbackJira(ctx context.Context, id primitive.ObjectID, key, status string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"jira_status": status, "updated_at": time.Now().UTC()}}
	if key != "" {
		update["$set"].(bson.M)["jira_key"] = key
	}

	res, err := s.db.Collection(collFeedback).UpdateOne(opCtx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("updating feedback jira state: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFeedback returns the most recent feedback documents, optionally
// filtered by jira_status.
func (s *Store) ListFeedback(ctx context.Context, jiraStatus string, limit int64) ([]Feedback, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{}
	if jiraStatus != "" {
		filter["jira_status"] = jiraStatus
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := s.db.Collection(collFeedback).Find(opCtx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	defer cursor.Close(opCtx)

	var items []Feedback
	if err := cursor.All(opCtx, &items); err != nil {
		return nil, fmt.Errorf("decoding feedback: %w", err)
	}
	return items, nil
}
