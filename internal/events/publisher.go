// Package events connects the service to NATS: feedback submissions are
// published as events and a worker escalates them to Jira with bounded
// retries.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
)

// FeedbackEvent is published when feedback is submitted or escalated.
type FeedbackEvent struct {
	FeedbackID string    `json:"feedback_id"`
	UserID     string    `json:"user_id"`
	Category   string    `json:"category"`
	// ParentKey, when set, requests a subtask under that issue instead
	// of a top-level issue.
	ParentKey string    `json:"parent_key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes service events to NATS subjects under the
// configured prefix.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

// Connect dials NATS and returns a publisher.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("events URL required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// NewPublisher wraps an existing connection. Used by tests and the worker.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Conn exposes the underlying connection for subscribers.
func (p *Publisher) Conn() *nats.Conn {
	return p.nc
}

func (p *Publisher) subject(suffix string) string {
	return p.prefix + "." + suffix
}

// PublishFeedback emits a feedback.submitted event.
func (p *Publisher) PublishFeedback(ctx context.Context, event FeedbackEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling feedback event: %w", err)
	}
	if err := p.nc.Publish(p.subject("feedback.submitted"), data); err != nil {
		return fmt.Errorf("publishing feedback event: %w", err)
	}
	p.logger.Debug(ctx, "published feedback event", zap.String("feedback_id", event.FeedbackID))
	return nil
}

// Close drains the connection, letting in-flight messages settle.
func (p *Publisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		_ = p.nc.Drain()
	}
}
