// Package llm provides a client for the IBM watsonx.ai text-generation
// API, with IAM token exchange, rate limiting, and streaming support.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
)

const (
	generationPath = "/ml/v1/text/generation"
	streamPath     = "/ml/v1/text/generation_stream"
	apiVersion     = "2024-05-01"

	defaultBaseBackoff = time.Second

	// Tokens are refreshed this far ahead of expiry so in-flight requests
	// never carry a token that expires mid-call.
	tokenRefreshMargin = 60 * time.Second
)

// Client calls the watsonx.ai generation endpoints.
type Client struct {
	baseURL    string
	iamURL     string
	apiKey     string
	projectID  string
	model      string
	maxTokens  int
	temp       float64
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *logging.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a watsonx client from configuration.
func New(cfg config.WatsonxConfig, logger *logging.Logger) (*Client, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("watsonx API key required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("watsonx project ID required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		iamURL:     cfg.IAMURL,
		apiKey:     cfg.APIKey.Value(),
		projectID:  cfg.ProjectID,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		temp:       cfg.Temperature,
		httpClient: &http.Client{Timeout: cfg.Timeout.Duration()},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// accessToken returns a valid IAM bearer token, exchanging the API key
// when the cached token is missing or close to expiry. Serialized so
// concurrent callers trigger at most one exchange.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > tokenRefreshMargin {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"urn:ibm:params:oauth:grant-type:apikey"},
		"apikey":     {c.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.iamURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("IAM token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IAM token exchange failed (%d): %s", resp.StatusCode, string(body))
	}

	var tok iamTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("IAM response missing access token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.logger.Debug(ctx, "refreshed IAM token", zap.Time("expires", c.tokenExpiry))
	return c.token, nil
}

func (c *Client) buildRequest(req GenerateRequest) generationRequest {
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temp := c.temp
	if req.Temperature > 0 {
		temp = req.Temperature
	}
	return generationRequest{
		Input:     req.Input,
		ModelID:   c.model,
		ProjectID: c.projectID,
		Parameters: generationParams{
			MaxNewTokens: maxTokens,
			Temperature:  temp,
		},
	}
}

// Generate produces a completion, retrying transient failures with
// exponential backoff.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	payload := c.buildRequest(req)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.doGenerate(ctx, payload)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		c.logger.Warn(ctx, "generation attempt failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doGenerate(ctx context.Context, payload generationRequest) (*GenerateResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + generationPath + "?version=" + apiVersion
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var genResp generationResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(genResp.Results) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}

	r := genResp.Results[0]
	return &GenerateResult{
		Text:            r.GeneratedText,
		StopReason:      r.StopReason,
		InputTokens:     r.InputTokenCount,
		GeneratedTokens: r.GeneratedTokens,
	}, nil
}

// GenerateStream produces a completion as a stream of chunks. The
// returned channel is closed when generation finishes; a Chunk with
// Err set terminates the stream early. Streaming requests are not
// retried once the first byte arrives.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Chunk, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + streamPath + "?version=" + apiVersion
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, checkStatusTerminal(resp.StatusCode, body)
	}

	ch := make(chan Chunk, 16)
	go c.readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream consumes the server-sent event body, emitting one Chunk per
// data event. Lines arrive as "event: <name>" / "data: <json>" pairs
// separated by blank lines.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, ch chan<- Chunk) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if data == "" {
				continue
			}
			if event == "error" {
				sendChunk(ctx, ch, Chunk{Err: fmt.Errorf("stream error event: %s", data)})
				return
			}
			var genResp generationResponse
			if err := json.Unmarshal([]byte(data), &genResp); err != nil {
				sendChunk(ctx, ch, Chunk{Err: fmt.Errorf("failed to parse stream event: %w", err)})
				return
			}
			for _, r := range genResp.Results {
				if !sendChunk(ctx, ch, Chunk{Text: r.GeneratedText, StopReason: r.StopReason}) {
					return
				}
			}
			event, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		sendChunk(ctx, ch, Chunk{Err: fmt.Errorf("stream read failed: %w", err)})
	}
}

func sendChunk(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// checkStatus classifies non-200 responses: 429 and 5xx are retryable,
// everything else is terminal.
func checkStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	case status >= 500:
		return &retryableError{err: fmt.Errorf("server error (%d): %s", status, string(body))}
	default:
		return checkStatusTerminal(status, body)
	}
}

func checkStatusTerminal(status int, body []byte) error {
	var errResp apiError
	if err := json.Unmarshal(body, &errResp); err == nil && len(errResp.Errors) > 0 {
		return fmt.Errorf("API error (%d): %s", status, errResp.Errors[0].Message)
	}
	return fmt.Errorf("API error (%d): %s", status, string(body))
}
