package githubstats

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isclabs/codeconnect/internal/cache"
	"github.com/isclabs/codeconnect/internal/logging"
)

// newTestService points the client at a local fake GitHub API.
func newTestService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := github.NewClient(srv.Client())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	return &Service{
		client: client,
		cache:  cache.New(time.Minute, 10),
		logger: logging.NewNop(),
	}, srv
}

func repoHandler(calls *atomic.Int64) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/isclabs/codeconnect", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"name":"codeconnect","stargazers_count":42,"forks_count":7,"open_issues_count":3,"subscribers_count":5,"pushed_at":"2026-08-01T12:00:00Z"}`)
	})
	mux.HandleFunc("/repos/isclabs/codeconnect/languages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Go":12345,"JavaScript":678}`)
	})
	return mux
}

func TestStats(t *testing.T) {
	var calls atomic.Int64
	svc, _ := newTestService(t, repoHandler(&calls))

	stats, err := svc.Stats(context.Background(), "isclabs", "codeconnect")
	require.NoError(t, err)

	assert.Equal(t, "codeconnect", stats.Name)
	assert.Equal(t, 42, stats.Stars)
	assert.Equal(t, 7, stats.Forks)
	assert.Equal(t, 3, stats.OpenIssues)
	assert.Equal(t, 12345, stats.Languages["Go"])
}

func TestStats_Cached(t *testing.T) {
	var calls atomic.Int64
	svc, _ := newTestService(t, repoHandler(&calls))

	_, err := svc.Stats(context.Background(), "isclabs", "codeconnect")
	require.NoError(t, err)
	_, err = svc.Stats(context.Background(), "isclabs", "codeconnect")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
}

func TestContributors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/isclabs/codeconnect/contributors", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"login":"alice","contributions":120,"avatar_url":"https://example.com/a.png"},{"login":"bob","contributions":30}]`)
	})
	svc, _ := newTestService(t, mux)

	contributors, err := svc.Contributors(context.Background(), "isclabs", "codeconnect", 25)
	require.NoError(t, err)

	require.Len(t, contributors, 2)
	assert.Equal(t, "alice", contributors[0].Login)
	assert.Equal(t, 120, contributors[0].Contributions)
}

func TestActivity_NotReadyIsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/isclabs/codeconnect/stats/commit_activity", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	svc, _ := newTestService(t, mux)

	activity, err := svc.Activity(context.Background(), "isclabs", "codeconnect")
	require.NoError(t, err)
	assert.Empty(t, activity)
}

func TestWithRetry_ServerErrorThenSuccess(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/isclabs/codeconnect", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"name":"codeconnect"}`)
	})
	mux.HandleFunc("/repos/isclabs/codeconnect/languages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	svc, _ := newTestService(t, mux)

	stats, err := svc.Stats(context.Background(), "isclabs", "codeconnect")
	require.NoError(t, err)
	assert.Equal(t, "codeconnect", stats.Name)
	assert.Equal(t, int64(2), calls.Load())
}

func TestWithRetry_NotFoundFailsFast(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	svc, _ := newTestService(t, mux)

	_, err := svc.Stats(context.Background(), "isclabs", "nope")
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}
