// Package jira escalates user feedback into Jira issues and subtasks.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
	"github.com/isclabs/codeconnect/internal/store"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
	maxSummaryLen  = 200
)

// Issue is the created Jira issue reference returned to callers.
type Issue struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Client creates issues in a single configured Jira project.
type Client struct {
	api         *gojira.Client
	baseURL     string
	projectKey  string
	issueType   string
	subtaskType string
	labels      []string
	logger      *logging.Logger
}

// New builds a Jira client using basic auth (Atlassian API token).
func New(cfg config.JiraConfig, logger *logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL required")
	}
	if !cfg.APIToken.IsSet() {
		return nil, fmt.Errorf("jira API token required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	tp := gojira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.APIToken.Value(),
	}
	api, err := gojira.NewClient(tp.Client(), cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating jira client: %w", err)
	}

	return &Client{
		api:         api,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		projectKey:  cfg.ProjectKey,
		issueType:   cfg.IssueType,
		subtaskType: cfg.SubtaskType,
		labels:      cfg.Labels,
		logger:      logger,
	}, nil
}

// CreateIssue files a Jira issue for the given feedback.
func (c *Client) CreateIssue(ctx context.Context, fb *store.Feedback) (*Issue, error) {
	fields := buildIssueFields(c.projectKey, c.issueType, c.labels, fb)
	return c.create(ctx, fields)
}

// CreateSubtask files a subtask under an existing issue.
func (c *Client) CreateSubtask(ctx context.Context, parentKey string, fb *store.Feedback) (*Issue, error) {
	if parentKey == "" {
		return nil, fmt.Errorf("parent issue key required")
	}
	fields := buildIssueFields(c.projectKey, c.subtaskType, c.labels, fb)
	fields.Parent = &gojira.Parent{Key: parentKey}
	return c.create(ctx, fields)
}

func (c *Client) create(ctx context.Context, fields *gojira.IssueFields) (*Issue, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		created, resp, err := c.api.Issue.CreateWithContext(ctx, &gojira.Issue{Fields: fields})
		if err == nil {
			c.logger.Info(ctx, "created jira issue",
				zap.String("key", created.Key), zap.String("type", fields.Type.Name))
			return &Issue{Key: created.Key, URL: c.issueURL(created.Key)}, nil
		}

		lastErr = err
		if !isRetryable(resp) {
			return nil, fmt.Errorf("creating jira issue: %w", err)
		}
		c.logger.Warn(ctx, "jira create failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, fmt.Errorf("creating jira issue: max retries exceeded: %w", lastErr)
}

func (c *Client) issueURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// isRetryable treats rate limiting and server errors as transient.
func isRetryable(resp *gojira.Response) bool {
	if resp == nil {
		// Transport failure before any response.
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// truncateSummary cuts s at a rune boundary so a multi-byte character is
// never split mid-sequence.
func truncateSummary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// buildIssueFields maps a feedback document onto Jira issue fields.
func buildIssueFields(projectKey, issueType string, labels []string, fb *store.Feedback) *gojira.IssueFields {
	summary := strings.TrimSpace(fb.Summary)
	if summary == "" {
		summary = strings.TrimSpace(fb.Description)
	}
	summary = truncateSummary(summary, maxSummaryLen)

	var desc strings.Builder
	desc.WriteString(fb.Description)
	desc.WriteString("\n\n----\n")
	fmt.Fprintf(&desc, "Category: %s\n", fb.Category)
	fmt.Fprintf(&desc, "Reported by: %s\n", fb.UserID)
	if fb.MessageID != "" {
		fmt.Fprintf(&desc, "Message: %s\n", fb.MessageID)
	}
	fmt.Fprintf(&desc, "Feedback ID: %s\n", fb.ID.Hex())

	return &gojira.IssueFields{
		Project:     gojira.Project{Key: projectKey},
		Type:        gojira.IssueType{Name: issueType},
		Summary:     summary,
		Description: desc.String(),
		Labels:      labels,
	}
}
