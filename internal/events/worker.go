package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/jira"
	"github.com/isclabs/codeconnect/internal/logging"
	"github.com/isclabs/codeconnect/internal/store"
)

// IssueCreator is the slice of the Jira client the worker needs.
type IssueCreator interface {
	CreateIssue(ctx context.Context, fb *store.Feedback) (*jira.Issue, error)
	CreateSubtask(ctx context.Context, parentKey string, fb *store.Feedback) (*jira.Issue, error)
}

// FeedbackStore is the persistence surface the worker needs.
type FeedbackStore interface {
	GetFeedback(ctx context.Context, id primitive.ObjectID) (*store.Feedback, error)
	SetFeedbackJira(ctx context.Context, id primitive.ObjectID, key, status string) error
}

// Worker subscribes to feedback events and files Jira issues. Each event
// gets a bounded number of attempts; once exhausted the feedback is
// marked failed so the dashboard can surface it.
type Worker struct {
	prefix     string
	jira       IssueCreator
	store      FeedbackStore
	maxDeliver int
	logger     *logging.Logger

	sub *nats.Subscription
}

// NewWorker builds a worker. maxDeliver <= 0 defaults to 5 attempts.
func NewWorker(jiraClient IssueCreator, st FeedbackStore, prefix string, maxDeliver int, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxDeliver <= 0 {
		maxDeliver = 5
	}
	return &Worker{
		prefix:     prefix,
		jira:       jiraClient,
		store:      st,
		maxDeliver: maxDeliver,
		logger:     logger,
	}
}

// Start subscribes to feedback events on the given connection. Events
// are processed one at a time per message in their own goroutine via
// the NATS callback.
func (w *Worker) Start(nc *nats.Conn) error {
	subject := w.prefix + ".feedback.submitted"
	sub, err := nc.QueueSubscribe(subject, "jira-workers", func(msg *nats.Msg) {
		var event FeedbackEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			w.logger.Error(context.Background(), "dropping malformed feedback event", zap.Error(err))
			return
		}
		w.handle(context.Background(), event)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	w.sub = sub
	w.logger.Info(context.Background(), "jira worker subscribed", zap.String("subject", subject))
	return nil
}

// handle escalates one feedback event, retrying transient Jira failures
// up to the delivery bound before marking the feedback failed.
func (w *Worker) handle(ctx context.Context, event FeedbackEvent) {
	id, err := primitive.ObjectIDFromHex(event.FeedbackID)
	if err != nil {
		w.logger.Error(ctx, "feedback event carries invalid id",
			zap.String("feedback_id", event.FeedbackID), zap.Error(err))
		return
	}

	fb, err := w.store.GetFeedback(ctx, id)
	if err != nil {
		w.logger.Error(ctx, "loading feedback failed",
			zap.String("feedback_id", event.FeedbackID), zap.Error(err))
		return
	}
	if fb.JiraStatus == store.JiraStatusCreated {
		// Redelivered after a prior success.
		return
	}

	var issue *jira.Issue
	var lastErr error
	for attempt := 1; attempt <= w.maxDeliver; attempt++ {
		if event.ParentKey != "" {
			issue, lastErr = w.jira.CreateSubtask(ctx, event.ParentKey, fb)
		} else {
			issue, lastErr = w.jira.CreateIssue(ctx, fb)
		}
		if lastErr == nil {
			break
		}
		w.logger.Warn(ctx, "jira escalation attempt failed",
			zap.String("feedback_id", event.FeedbackID),
			zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < w.maxDeliver {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}

	if lastErr != nil {
		if err := w.store.SetFeedbackJira(ctx, id, "", store.JiraStatusFailed); err != nil {
			w.logger.Error(ctx, "marking feedback failed", zap.Error(err))
		}
		return
	}

	if err := w.store.SetFeedbackJira(ctx, id, issue.Key, store.JiraStatusCreated); err != nil {
		w.logger.Error(ctx, "recording jira key failed",
			zap.String("key", issue.Key), zap.Error(err))
		return
	}
	w.logger.Info(ctx, "feedback escalated to jira",
		zap.String("feedback_id", event.FeedbackID), zap.String("key", issue.Key))
}

// Stop unsubscribes from the event stream.
func (w *Worker) Stop() error {
	if w.sub == nil {
		return nil
	}
	return w.sub.Unsubscribe()
}
