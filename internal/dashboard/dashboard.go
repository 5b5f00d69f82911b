// Package dashboard computes admin analytics over the persistence layer:
// rating summaries, model usage trends, top users, and feedback breakdowns.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/isclabs/codeconnect/internal/cache"
	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
)

// Service aggregates dashboard metrics. Results are cached briefly so
// dashboard refreshes do not fan out into repeated aggregations.
type Service struct {
	db     *mongo.Database
	cache  *cache.Cache
	logger *logging.Logger
	window time.Duration
}

// New creates a dashboard service over the given database.
func New(db *mongo.Database, cfg config.DashboardConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := cache.New(cfg.CacheTTL.Duration(), 32)
	c.SetMetrics(cache.NewMetrics("dashboard"))
	return &Service{
		db:     db,
		cache:  c,
		logger: logger,
		window: time.Duration(cfg.WindowDays) * 24 * time.Hour,
	}
}

// windowStart returns the inclusive lower bound for aggregation windows.
// days <= 0 falls back to the configured default.
func (s *Service) windowStart(days int) time.Time {
	window := s.window
	if days > 0 {
		window = time.Duration(days) * 24 * time.Hour
	}
	return time.Now().UTC().Add(-window).Truncate(24 * time.Hour)
}

func (s *Service) aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline, out any) error {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("aggregating %s: %w", collection, err)
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("decoding %s aggregation: %w", collection, err)
	}
	return nil
}

// RatingsSummary reports vote totals for the window.
type RatingsSummary struct {
	WindowDays int     `json:"window_days"`
	Upvotes    int64   `json:"upvotes"`
	Downvotes  int64   `json:"downvotes"`
	Total      int64   `json:"total"`
	Approval   float64 `json:"approval"`
}

type ratingsRow struct {
	Value int   `bson:"_id"`
	Count int64 `bson:"count"`
}

// Ratings computes the vote summary over the last N days.
func (s *Service) Ratings(ctx context.Context, days int) (*RatingsSummary, error) {
	key := fmt.Sprintf("ratings:%d", days)
	if v, ok := s.cache.Get(key); ok {
		return v.(*RatingsSummary), nil
	}

	pipeline := ratingsPipeline(s.windowStart(days))
	var rows []ratingsRow
	if err := s.aggregate(ctx, "votes", pipeline, &rows); err != nil {
		return nil, err
	}

	summary := summarizeRatings(rows, days)
	if days <= 0 {
		summary.WindowDays = int(s.window.Hours() / 24)
	}
	s.cache.Set(key, summary)
	return summary, nil
}

// ModelUsagePoint is one day of message volume for one model.
type ModelUsagePoint struct {
	Day      string `json:"day"`
	Model    string `json:"model"`
	Messages int64  `json:"messages"`
}

type modelUsageRow struct {
	ID struct {
		Day   string `bson:"day"`
		Model string `bson:"model"`
	} `bson:"_id"`
	Count int64 `bson:"count"`
}

// ModelUsage computes per-day, per-model message counts over the window.
func (s *Service) ModelUsage(ctx context.Context, days int) ([]ModelUsagePoint, error) {
	key := fmt.Sprintf("models:%d", days)
	if v, ok := s.cache.Get(key); ok {
		return v.([]ModelUsagePoint), nil
	}

	pipeline := modelUsagePipeline(s.windowStart(days))
	var rows []modelUsageRow
	if err := s.aggregate(ctx, "chats", pipeline, &rows); err != nil {
		return nil, err
	}

	points := make([]ModelUsagePoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, ModelUsagePoint{Day: r.ID.Day, Model: r.ID.Model, Messages: r.Count})
	}
	s.cache.Set(key, points)
	return points, nil
}

// TopUser is one row of the most-active-users table.
type TopUser struct {
	UserID   string    `bson:"_id" json:"user_id"`
	Messages int64     `bson:"messages" json:"messages"`
	Chats    int64     `bson:"chats" json:"chats"`
	LastSeen time.Time `bson:"last_seen" json:"last_seen"`
}

// TopUsers returns the most active users in the window.
func (s *Service) TopUsers(ctx context.Context, days, limit int) ([]TopUser, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	key := fmt.Sprintf("users:%d:%d", days, limit)
	if v, ok := s.cache.Get(key); ok {
		return v.([]TopUser), nil
	}

	pipeline := topUsersPipeline(s.windowStart(days), limit)
	// Pre-allocated so a zero-row window serializes as [] rather than null.
	users := make([]TopUser, 0, limit)
	if err := s.aggregate(ctx, "chats", pipeline, &users); err != nil {
		return nil, err
	}
	s.cache.Set(key, users)
	return users, nil
}

// FeedbackBreakdown reports feedback volume by category and Jira status.
type FeedbackBreakdown struct {
	WindowDays int              `json:"window_days"`
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
	ByStatus   map[string]int64 `json:"by_jira_status"`
}

type feedbackRow struct {
	ID struct {
		Category string `bson:"category"`
		Status   string `bson:"status"`
	} `bson:"_id"`
	Count int64 `bson:"count"`
}

// Feedback computes the feedback breakdown over the window.
func (s *Service) Feedback(ctx context.Context, days int) (*FeedbackBreakdown, error) {
	key := fmt.Sprintf("feedback:%d", days)
	if v, ok := s.cache.Get(key); ok {
		return v.(*FeedbackBreakdown), nil
	}

	pipeline := feedbackPipeline(s.windowStart(days))
	var rows []feedbackRow
	if err := s.aggregate(ctx, "feedback", pipeline, &rows); err != nil {
		return nil, err
	}

	breakdown := summarizeFeedback(rows, days)
	if days <= 0 {
		breakdown.WindowDays = int(s.window.Hours() / 24)
	}
	s.cache.Set(key, breakdown)
	return breakdown, nil
}

func ratingsPipeline(since time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$value",
			"count": bson.M{"$sum": 1},
		}}},
	}
}

func modelUsagePipeline(since time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$unwind", Value: "$messages"}},
		{{Key: "$match", Value: bson.M{
			"messages.role":       "assistant",
			"messages.created_at": bson.M{"$gte": since},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"day":   bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$messages.created_at"}},
				"model": "$messages.model",
			},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.day", Value: 1}, {Key: "_id.model", Value: 1}}}},
	}
}

func topUsersPipeline(since time.Time, limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"updated_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":       "$user_id",
			"messages":  bson.M{"$sum": bson.M{"$size": "$messages"}},
			"chats":     bson.M{"$sum": 1},
			"last_seen": bson.M{"$max": "$updated_at"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "messages", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
	}
}

func feedbackPipeline(since time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"category": "$category",
				"status":   "$jira_status",
			},
			"count": bson.M{"$sum": 1},
		}}},
	}
}

func summarizeRatings(rows []ratingsRow, days int) *RatingsSummary {
	summary := &RatingsSummary{WindowDays: days}
	for _, r := range rows {
		switch {
		case r.Value > 0:
			summary.Upvotes += r.Count
		case r.Value < 0:
			summary.Downvotes += r.Count
		}
	}
	summary.Total = summary.Upvotes + summary.Downvotes
	if summary.Total > 0 {
		summary.Approval = float64(summary.Upvotes) / float64(summary.Total)
	}
	return summary
}

func summarizeFeedback(rows []feedbackRow, days int) *FeedbackBreakdown {
	breakdown := &FeedbackBreakdown{
		WindowDays: days,
		ByCategory: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}
	for _, r := range rows {
		breakdown.Total += r.Count
		breakdown.ByCategory[r.ID.Category] += r.Count
		breakdown.ByStatus[r.ID.Status] += r.Count
	}
	return breakdown
}
