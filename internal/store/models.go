package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Jira linkage states for feedback documents.
const (
	JiraStatusPending = "pending"
	JiraStatusCreated = "created"
	JiraStatusFailed  = "failed"
)

// Chat is a conversation document. Messages are embedded: conversations
// are read and rendered whole, and per-message access goes through the
// parent chat.
type Chat struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Title     string             `bson:"title" json:"title"`
	Model     string             `bson:"model" json:"model"`
	Messages  []Message          `bson:"messages" json:"messages"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// Message is a single turn within a chat. Analysis holds the model's
// reasoning text, kept separate from the answer content.
type Message struct {
	ID            string    `bson:"id" json:"id"`
	Role          string    `bson:"role" json:"role"`
	Content       string    `bson:"content" json:"content"`
	Analysis      string    `bson:"analysis,omitempty" json:"analysis,omitempty"`
	Model         string    `bson:"model,omitempty" json:"model,omitempty"`
	ScrubFindings []string  `bson:"scrub_findings,omitempty" json:"scrub_findings,omitempty"`
	LatencyMS     int64     `bson:"latency_ms,omitempty" json:"latency_ms,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// Vote records a thumbs up/down on an assistant message. Value is +1 or -1.
type Vote struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MessageID string             `bson:"message_id" json:"message_id"`
	ChatID    string             `bson:"chat_id" json:"chat_id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Value     int                `bson:"value" json:"value"`
	Comment   string             `bson:"comment,omitempty" json:"comment,omitempty"`
	Model     string             `bson:"model,omitempty" json:"model,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// Feedback is a user-submitted report that may be escalated to Jira.
// JiraStatus tracks the escalation lifecycle.
type Feedback struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      string             `bson:"user_id" json:"user_id"`
	Category    string             `bson:"category" json:"category"`
	Summary     string             `bson:"summary" json:"summary"`
	Description string             `bson:"description" json:"description"`
	MessageID   string             `bson:"message_id,omitempty" json:"message_id,omitempty"`
	JiraKey     string             `bson:"jira_key,omitempty" json:"jira_key,omitempty"`
	JiraStatus  string             `bson:"jira_status" json:"jira_status"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// User tracks usage per authenticated user.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	Email        string             `bson:"email,omitempty" json:"email,omitempty"`
	Name         string             `bson:"name,omitempty" json:"name,omitempty"`
	MessageCount int64              `bson:"message_count" json:"message_count"`
	FirstSeenAt  time.Time          `bson:"first_seen_at" json:"first_seen_at"`
	LastSeenAt   time.Time          `bson:"last_seen_at" json:"last_seen_at"`
}
