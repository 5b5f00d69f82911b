package dashboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestSummarizeRatings(t *testing.T) {
	rows := []ratingsRow{
		{Value: 1, Count: 30},
		{Value: -1, Count: 10},
	}
	summary := summarizeRatings(rows, 30)

	assert.Equal(t, int64(30), summary.Upvotes)
	assert.Equal(t, int64(10), summary.Downvotes)
	assert.Equal(t, int64(40), summary.Total)
	assert.InDelta(t, 0.75, summary.Approval, 1e-9)
	assert.Equal(t, 30, summary.WindowDays)
}

func TestTopUsers_EmptyWindowStaysEmptySlice(t *testing.T) {
	// An empty aggregation cursor must leave the pre-allocated slice
	// non-nil so the endpoint body is [] rather than null.
	cursor, err := mongo.NewCursorFromDocuments([]interface{}{}, nil, nil)
	require.NoError(t, err)

	users := make([]TopUser, 0, 10)
	require.NoError(t, cursor.All(context.Background(), &users))
	require.NotNil(t, users)

	body, err := json.Marshal(users)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestSummarizeRatings_Empty(t *testing.T) {
	summary := summarizeRatings(nil, 7)

	assert.Equal(t, int64(0), summary.Total)
	assert.Equal(t, float64(0), summary.Approval)
}

func TestSummarizeFeedback(t *testing.T) {
	rows := []feedbackRow{
		{Count: 5},
		{Count: 3},
		{Count: 2},
	}
	rows[0].ID.Category, rows[0].ID.Status = "bug", "created"
	rows[1].ID.Category, rows[1].ID.Status = "bug", "failed"
	rows[2].ID.Category, rows[2].ID.Status = "idea", "created"

	breakdown := summarizeFeedback(rows, 30)

	assert.Equal(t, int64(10), breakdown.Total)
	assert.Equal(t, int64(8), breakdown.ByCategory["bug"])
	assert.Equal(t, int64(2), breakdown.ByCategory["idea"])
	assert.Equal(t, int64(7), breakdown.ByStatus["created"])
	assert.Equal(t, int64(3), breakdown.ByStatus["failed"])
}

func TestWindowStart(t *testing.T) {
	s := &Service{window: 30 * 24 * time.Hour}

	t.Run("default window", func(t *testing.T) {
		start := s.windowStart(0)
		expected := time.Now().UTC().Add(-30 * 24 * time.Hour)
		assert.WithinDuration(t, expected, start, 25*time.Hour)
	})

	t.Run("explicit days", func(t *testing.T) {
		start := s.windowStart(7)
		expected := time.Now().UTC().Add(-7 * 24 * time.Hour)
		assert.WithinDuration(t, expected, start, 25*time.Hour)
	})
}

func TestRatingsPipeline_MatchesWindow(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pipeline := ratingsPipeline(since)

	assert.Len(t, pipeline, 2)
	assert.Equal(t, "$match", pipeline[0][0].Key)
	assert.Equal(t, "$group", pipeline[1][0].Key)
}

func TestTopUsersPipeline_Limit(t *testing.T) {
	pipeline := topUsersPipeline(time.Now(), 5)

	last := pipeline[len(pipeline)-1]
	assert.Equal(t, "$limit", last[0].Key)
	assert.Equal(t, 5, last[0].Value)
}
