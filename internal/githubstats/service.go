// Package githubstats serves repository analytics from the GitHub API,
// with short-lived caching to stay inside rate limits.
package githubstats

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/isclabs/codeconnect/internal/cache"
	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
)

// RepoStats is the headline summary for one repository.
type RepoStats struct {
	Owner      string         `json:"owner"`
	Name       string         `json:"name"`
	Stars      int            `json:"stars"`
	Forks      int            `json:"forks"`
	OpenIssues int            `json:"open_issues"`
	Watchers   int            `json:"watchers"`
	Languages  map[string]int `json:"languages"`
	PushedAt   time.Time      `json:"pushed_at"`
}

// Contributor is one row of the contributors table.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
	AvatarURL     string `json:"avatar_url"`
}

// WeekActivity is one week of commit volume.
type WeekActivity struct {
	WeekStart time.Time `json:"week_start"`
	Commits   int       `json:"commits"`
}

// Service fetches and caches repository analytics.
type Service struct {
	client *github.Client
	cache  *cache.Cache
	logger *logging.Logger
}

// New builds the service. An unset token falls back to unauthenticated
// requests, which GitHub rate-limits heavily.
func New(cfg config.GitHubConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}

	httpClient := http.DefaultClient
	if cfg.Token.IsSet() {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		httpClient = oauth2.NewClient(context.Background(), src)
	} else {
		logger.Warn(context.Background(), "no github token configured, using unauthenticated client")
	}

	c := cache.New(cfg.CacheTTL.Duration(), cfg.CacheMaxEntries)
	c.SetMetrics(cache.NewMetrics("github"))

	return &Service{
		client: github.NewClient(httpClient),
		cache:  c,
		logger: logger,
	}
}

// Stats returns the repository summary.
func (s *Service) Stats(ctx context.Context, owner, repo string) (*RepoStats, error) {
	key := fmt.Sprintf("stats:%s/%s", owner, repo)
	if v, ok := s.cache.Get(key); ok {
		return v.(*RepoStats), nil
	}

	var r *github.Repository
	err := s.withRetry(ctx, "repository", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		r, resp, err = s.client.Repositories.Get(ctx, owner, repo)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching repository %s/%s: %w", owner, repo, err)
	}

	var langs map[string]int
	err = s.withRetry(ctx, "languages", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		langs, resp, err = s.client.Repositories.ListLanguages(ctx, owner, repo)
		return resp, err
	})
	if err != nil {
		// Languages are decorative; the summary is still useful.
		s.logger.Warn(ctx, "fetching languages failed", zap.Error(err))
		langs = map[string]int{}
	}

	stats := &RepoStats{
		Owner:      owner,
		Name:       r.GetName(),
		Stars:      r.GetStargazersCount(),
		Forks:      r.GetForksCount(),
		OpenIssues: r.GetOpenIssuesCount(),
		Watchers:   r.GetSubscribersCount(),
		Languages:  langs,
		PushedAt:   r.GetPushedAt().Time,
	}
	s.cache.Set(key, stats)
	return stats, nil
}

// Contributors returns the top contributors by commit count.
func (s *Service) Contributors(ctx context.Context, owner, repo string, limit int) ([]Contributor, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	key := fmt.Sprintf("contributors:%s/%s:%d", owner, repo, limit)
	if v, ok := s.cache.Get(key); ok {
		return v.([]Contributor), nil
	}

	var raw []*github.Contributor
	err := s.withRetry(ctx, "contributors", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = s.client.Repositories.ListContributors(ctx, owner, repo,
			&github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: limit}})
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching contributors for %s/%s: %w", owner, repo, err)
	}

	contributors := make([]Contributor, 0, len(raw))
	for _, c := range raw {
		contributors = append(contributors, Contributor{
			Login:         c.GetLogin(),
			Contributions: c.GetContributions(),
			AvatarURL:     c.GetAvatarURL(),
		})
	}
	s.cache.Set(key, contributors)
	return contributors, nil
}

// Activity returns weekly commit counts for roughly the last year.
// GitHub computes these asynchronously and may answer 202 while the
// numbers are being prepared; that surfaces as an empty slice.
func (s *Service) Activity(ctx context.Context, owner, repo string) ([]WeekActivity, error) {
	key := fmt.Sprintf("activity:%s/%s", owner, repo)
	if v, ok := s.cache.Get(key); ok {
		return v.([]WeekActivity), nil
	}

	var raw []*github.WeeklyCommitActivity
	err := s.withRetry(ctx, "commit activity", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = s.client.Repositories.ListCommitActivity(ctx, owner, repo)
		if resp != nil && resp.StatusCode == http.StatusAccepted {
			// Stats are being computed; not an error, just not ready.
			raw = nil
			return resp, nil
		}
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching commit activity for %s/%s: %w", owner, repo, err)
	}

	activity := make([]WeekActivity, 0, len(raw))
	for _, w := range raw {
		activity = append(activity, WeekActivity{
			WeekStart: w.GetWeek().Time,
			Commits:   w.GetTotal(),
		})
	}
	if len(activity) > 0 {
		s.cache.Set(key, activity)
	}
	return activity, nil
}

// withRetry runs op with exponential backoff on rate limits and server
// errors.
func (s *Service) withRetry(ctx context.Context, what string, op func() (*github.Response, error)) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		resp, err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err, resp) {
			return err
		}
		s.logger.Warn(ctx, "github request failed, retrying",
			zap.String("operation", what), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryable(err error, resp *github.Response) bool {
	if _, ok := err.(*github.RateLimitError); ok {
		return true
	}
	if _, ok := err.(*github.AbuseRateLimitError); ok {
		return true
	}
	if resp != nil && resp.StatusCode >= 500 {
		return true
	}
	// Transport errors arrive without a response.
	return resp == nil
}
