package llm

import (
	"errors"
	"fmt"
)

// GenerateRequest is a single text-generation call.
type GenerateRequest struct {
	// Input is the fully rendered prompt, including any chat template.
	Input string
	// MaxTokens overrides the configured default when > 0.
	MaxTokens int
	// Temperature overrides the configured default when >= 0.
	Temperature float64
}

// GenerateResult is the completed text plus usage counters.
type GenerateResult struct {
	Text            string
	StopReason      string
	InputTokens     int
	GeneratedTokens int
}

// Chunk is one streamed fragment of generated text.
type Chunk struct {
	Text       string
	StopReason string
	// Err terminates the stream; no further chunks follow it.
	Err error
}

// watsonx text-generation wire format.

type generationRequest struct {
	Input      string           `json:"input"`
	ModelID    string           `json:"model_id"`
	ProjectID  string           `json:"project_id"`
	Parameters generationParams `json:"parameters"`
}

type generationParams struct {
	MaxNewTokens int      `json:"max_new_tokens"`
	Temperature  float64  `json:"temperature"`
	StopSequence []string `json:"stop_sequences,omitempty"`
}

type generationResponse struct {
	Results []generationResult `json:"results"`
}

type generationResult struct {
	GeneratedText   string `json:"generated_text"`
	StopReason      string `json:"stop_reason"`
	InputTokenCount int    `json:"input_token_count"`
	GeneratedTokens int    `json:"generated_token_count"`
}

type apiError struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type iamTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// retryableError marks transient failures eligible for retry: transport
// errors, 429s, and 5xx responses. Everything else fails fast.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.err)
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
