// Package httpapi exposes the service over HTTP: chat (including SSE
// streaming), conversation management, votes and feedback, GitHub
// analytics, the Salesforce explorer, and admin dashboards.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/chat"
	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/dashboard"
	"github.com/isclabs/codeconnect/internal/events"
	"github.com/isclabs/codeconnect/internal/githubstats"
	"github.com/isclabs/codeconnect/internal/logging"
	"github.com/isclabs/codeconnect/internal/salesforce"
	"github.com/isclabs/codeconnect/internal/secrets"
	"github.com/isclabs/codeconnect/internal/store"
)

// ChatService runs chat turns.
type ChatService interface {
	Complete(ctx context.Context, req chat.Request) (*chat.Response, error)
	Stream(ctx context.Context, req chat.Request) (<-chan chat.Event, error)
	RegenerateTitle(ctx context.Context, sessionID string) (string, error)
}

// Store is the persistence surface the handlers need.
type Store interface {
	GetChatBySession(ctx context.Context, sessionID string) (*store.Chat, error)
	ListChats(ctx context.Context, userID string, limit int64) ([]store.Chat, error)
	DeleteChat(ctx context.Context, sessionID string) error
	SetChatTitle(ctx context.Context, sessionID, title string) error
	UpsertVote(ctx context.Context, vote *store.Vote) error
	GetVote(ctx context.Context, messageID, userID string) (*store.Vote, error)
	InsertFeedback(ctx context.Context, fb *store.Feedback) error
	GetFeedback(ctx context.Context, id primitive.ObjectID) (*store.Feedback, error)
	ListFeedback(ctx context.Context, jiraStatus string, limit int64) ([]store.Feedback, error)
	GetUser(ctx context.Context, userID string) (*store.User, error)
}

// Dashboard computes admin aggregations.
type Dashboard interface {
	Ratings(ctx context.Context, days int) (*dashboard.RatingsSummary, error)
	ModelUsage(ctx context.Context, days int) ([]dashboard.ModelUsagePoint, error)
	TopUsers(ctx context.Context, days, limit int) ([]dashboard.TopUser, error)
	Feedback(ctx context.Context, days int) (*dashboard.FeedbackBreakdown, error)
}

// GitHub serves repository analytics.
type GitHub interface {
	Stats(ctx context.Context, owner, repo string) (*githubstats.RepoStats, error)
	Contributors(ctx context.Context, owner, repo string, limit int) ([]githubstats.Contributor, error)
	Activity(ctx context.Context, owner, repo string) ([]githubstats.WeekActivity, error)
}

// Salesforce serves org metadata and queries.
type Salesforce interface {
	ListObjects(ctx context.Context) ([]salesforce.SObject, error)
	DescribeObject(ctx context.Context, name string) (*salesforce.ObjectDescribe, error)
	Query(ctx context.Context, soql string) (*salesforce.QueryResult, error)
}

// Publisher emits service events.
type Publisher interface {
	PublishFeedback(ctx context.Context, event events.FeedbackEvent) error
}

// Deps collects everything the server serves. Nil optional fields
// (GitHub, Salesforce, Publisher) disable their endpoints with 503.
type Deps struct {
	Chat       ChatService
	Store      Store
	Dashboard  Dashboard
	Scrubber   secrets.Scrubber
	GitHub     GitHub
	Salesforce Salesforce
	Publisher  Publisher
}

// Server is the HTTP front end.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	cfg    config.ServerConfig
}

// NewServer wires routes and middleware.
func NewServer(cfg config.ServerConfig, deps Deps, logger *logging.Logger) (*Server, error) {
	if deps.Chat == nil || deps.Store == nil || deps.Dashboard == nil {
		return nil, fmt.Errorf("chat service, store, and dashboard are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.MustNew(nil)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(identityMiddleware)
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(logger).Middleware())

	s := &Server{echo: e, deps: deps, logger: logger, cfg: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/chat", s.handleChat)
	v1.POST("/chat/stream", s.handleChatStream)
	v1.GET("/chats", s.handleListChats)
	v1.GET("/chats/:id", s.handleGetChat)
	v1.DELETE("/chats/:id", s.handleDeleteChat)
	v1.POST("/chats/:id/title", s.handleSetTitle)

	v1.POST("/scrub", s.handleScrub)
	v1.POST("/votes", s.handleVote)
	v1.GET("/votes", s.handleGetVote)
	v1.POST("/feedback", s.handleFeedback)
	v1.POST("/feedback/:id/subtask", s.handleFeedbackSubtask)

	gh := v1.Group("/github")
	gh.GET("/:owner/:repo/stats", s.handleGitHubStats)
	gh.GET("/:owner/:repo/contributors", s.handleGitHubContributors)
	gh.GET("/:owner/:repo/activity", s.handleGitHubActivity)

	sf := v1.Group("/salesforce")
	sf.GET("/objects", s.handleSalesforceObjects)
	sf.GET("/objects/:name", s.handleSalesforceDescribe)
	sf.POST("/query", s.handleSalesforceQuery)

	admin := v1.Group("/admin")
	admin.GET("/feedback", s.handleAdminFeedback)
	admin.GET("/users/:id", s.handleAdminUser)

	dash := admin.Group("/dashboard")
	dash.GET("/ratings", s.handleDashboardRatings)
	dash.GET("/models", s.handleDashboardModels)
	dash.GET("/users", s.handleDashboardUsers)
	dash.GET("/feedback", s.handleDashboardFeedback)
}

// identityMiddleware threads the caller identity and request ID into the
// request context so downstream logs carry them.
func identityMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()

		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		}
		if user := req.Header.Get("X-User-ID"); user != "" {
			ctx = logging.WithUserID(ctx, user)
		}

		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// errorHandler maps errors onto the JSON envelope. Not-found sentinels
// from the store become 404s.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "internal server error"

		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &httpErr):
			status = httpErr.Code
			message = fmt.Sprintf("%v", httpErr.Message)
		case errors.Is(err, store.ErrNotFound):
			status = http.StatusNotFound
			message = "not found"
		}

		if status >= 500 {
			logger.Error(c.Request().Context(), "request failed", zap.Error(err))
		}

		_ = c.JSON(status, errorResponse{
			Error:     message,
			RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
		})
	}
}

// Start begins serving. Blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
