package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isclabs/codeconnect/internal/config"
)

func newIAMServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ibm:params:oauth:grant-type:apikey", r.FormValue("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, genURL, iamURL string) *Client {
	t.Helper()
	var apiKey config.Secret
	require.NoError(t, apiKey.UnmarshalText([]byte("test-key")))

	client, err := New(config.WatsonxConfig{
		BaseURL:     genURL,
		IAMURL:      iamURL,
		APIKey:      apiKey,
		ProjectID:   "proj-1",
		Model:       "ibm/granite-3-8b-instruct",
		MaxTokens:   512,
		Temperature: 0.2,
		Timeout:     config.Duration(10 * time.Second),
		RateLimit:   100,
		Burst:       100,
		MaxRetries:  2,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestGenerate_Success(t *testing.T) {
	iam, iamCalls := newIAMServer(t)

	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.RawQuery, "version=")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"generated_text":"SOQL uses SELECT.","stop_reason":"eos_token","input_token_count":12,"generated_token_count":5}]}`)
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	result, err := client.Generate(context.Background(), GenerateRequest{Input: "What is SOQL?"})

	require.NoError(t, err)
	assert.Equal(t, "SOQL uses SELECT.", result.Text)
	assert.Equal(t, "eos_token", result.StopReason)
	assert.Equal(t, 12, result.InputTokens)
	assert.Equal(t, int64(1), iamCalls.Load())
}

func TestGenerate_TokenReuse(t *testing.T) {
	iam, iamCalls := newIAMServer(t)
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"generated_text":"ok"}]}`)
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	for i := 0; i < 3; i++ {
		_, err := client.Generate(context.Background(), GenerateRequest{Input: "hi"})
		require.NoError(t, err)
	}

	// One exchange serves all three calls.
	assert.Equal(t, int64(1), iamCalls.Load())
}

func TestGenerate_RefreshesExpiringToken(t *testing.T) {
	iam, iamCalls := newIAMServer(t)
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"generated_text":"ok"}]}`)
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Input: "hi"})
	require.NoError(t, err)

	// Inside the refresh margin the next call must exchange again.
	client.mu.Lock()
	client.tokenExpiry = time.Now().Add(30 * time.Second)
	client.mu.Unlock()

	_, err = client.Generate(context.Background(), GenerateRequest{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), iamCalls.Load())
}

func TestGenerate_RetriesOn429(t *testing.T) {
	iam, _ := newIAMServer(t)

	var genCalls atomic.Int64
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if genCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"results":[{"generated_text":"recovered"}]}`)
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	result, err := client.Generate(context.Background(), GenerateRequest{Input: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, int64(2), genCalls.Load())
}

func TestGenerate_DoesNotRetryClientErrors(t *testing.T) {
	iam, _ := newIAMServer(t)

	var genCalls atomic.Int64
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		genCalls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"code":"invalid_input","message":"bad prompt"}]}`)
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Input: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad prompt")
	assert.Equal(t, int64(1), genCalls.Load())
}

func TestGenerate_MaxRetriesExceeded(t *testing.T) {
	iam, _ := newIAMServer(t)

	var genCalls atomic.Int64
	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		genCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	_, err := client.Generate(context.Background(), GenerateRequest{Input: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	// Initial attempt plus two retries.
	assert.Equal(t, int64(3), genCalls.Load())
}

func TestGenerateStream(t *testing.T) {
	iam, _ := newIAMServer(t)

	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, `data: {"results":[{"generated_text":"Hello"}]}`+"\n\n")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, `data: {"results":[{"generated_text":" world","stop_reason":"eos_token"}]}`+"\n\n")
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	ch, err := client.GenerateStream(context.Background(), GenerateRequest{Input: "hi"})
	require.NoError(t, err)

	var text string
	var stop string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.Text
		if chunk.StopReason != "" {
			stop = chunk.StopReason
		}
	}

	assert.Equal(t, "Hello world", text)
	assert.Equal(t, "eos_token", stop)
}

func TestGenerateStream_ErrorEvent(t *testing.T) {
	iam, _ := newIAMServer(t)

	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\n")
		fmt.Fprint(w, `data: {"message":"model overloaded"}`+"\n\n")
	}))
	defer gen.Close()

	client := newTestClient(t, gen.URL, iam.URL)
	ch, err := client.GenerateStream(context.Background(), GenerateRequest{Input: "hi"})
	require.NoError(t, err)

	var streamErr error
	for chunk := range ch {
		if chunk.Err != nil {
			streamErr = chunk.Err
		}
	}
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "model overloaded")
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(config.WatsonxConfig{ProjectID: "p"}, nil)
	assert.Error(t, err)

	var key config.Secret
	require.NoError(t, key.UnmarshalText([]byte("k")))
	_, err = New(config.WatsonxConfig{APIKey: key}, nil)
	assert.Error(t, err)
}
