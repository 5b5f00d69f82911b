package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/isclabs/codeconnect/internal/chat"
	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/dashboard"
	"github.com/isclabs/codeconnect/internal/events"
	"github.com/isclabs/codeconnect/internal/githubstats"
	"github.com/isclabs/codeconnect/internal/httpapi"
	"github.com/isclabs/codeconnect/internal/jira"
	"github.com/isclabs/codeconnect/internal/llm"
	"github.com/isclabs/codeconnect/internal/logging"
	"github.com/isclabs/codeconnect/internal/prompts"
	"github.com/isclabs/codeconnect/internal/retrieval"
	"github.com/isclabs/codeconnect/internal/salesforce"
	"github.com/isclabs/codeconnect/internal/secrets"
	"github.com/isclabs/codeconnect/internal/store"
	"github.com/isclabs/codeconnect/internal/telemetry"
)

// dependencies holds all infrastructure and business services.
type dependencies struct {
	telemetry *telemetry.Telemetry
	store     *store.Store
	prompts   *prompts.Registry
	publisher *events.Publisher
	worker    *events.Worker

	chatSvc      *chat.Service
	dashboardSvc *dashboard.Service
	scrubber     secrets.Scrubber
	githubSvc    *githubstats.Service
	salesforce   *salesforce.Client
}

// Close releases resources in reverse dependency order. The HTTP server
// must already be stopped so no handler touches a closed dependency.
func (d *dependencies) Close(logger *logging.Logger) {
	ctx := context.Background()

	if d.worker != nil {
		if err := d.worker.Stop(); err != nil {
			logger.Warn(ctx, "stopping jira worker", zap.Error(err))
		}
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.prompts != nil {
		_ = d.prompts.Close()
	}
	if d.store != nil {
		if err := d.store.Close(ctx); err != nil {
			logger.Warn(ctx, "closing mongo connection", zap.Error(err))
		}
	}
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
}

// initDependencies connects to external systems and builds the service
// graph. Jira, GitHub, Salesforce, NATS, and retrieval are optional:
// when their configuration is absent the corresponding feature is
// disabled and the rest of the service runs normally.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{}

	tel, err := telemetry.New(ctx, cfg.Observability, version)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	deps.telemetry = tel

	st, err := store.Connect(ctx, cfg.Mongo, logger)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	deps.store = st
	logger.Info(ctx, "connected to mongodb", zap.String("database", cfg.Mongo.Database))

	generator, err := llm.New(cfg.Watsonx, logger)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("initializing watsonx client: %w", err)
	}

	scrubber, err := secrets.New(nil)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("initializing secret scrubber: %w", err)
	}
	deps.scrubber = scrubber

	registry, err := prompts.NewRegistry(cfg.Prompts.Dir, cfg.Prompts.Watch, logger)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}
	deps.prompts = registry

	var retriever chat.Retriever
	if cfg.Retrieval.Enabled {
		embedder, err := retrieval.NewEmbedder(cfg.Retrieval)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("initializing embedder: %w", err)
		}
		rs, err := retrieval.NewStore(cfg.Retrieval, embedder, logger)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("initializing retrieval store: %w", err)
		}
		retriever = rs
		logger.Info(ctx, "retrieval enabled",
			zap.String("collection", cfg.Retrieval.Collection),
			zap.Int("top_k", cfg.Retrieval.TopK))
	}

	deps.chatSvc = chat.NewService(st, generator, scrubber, retriever, registry, logger)
	deps.dashboardSvc = dashboard.New(st.DB(), cfg.Dashboard, logger)

	if cfg.GitHub.Token.IsSet() {
		deps.githubSvc = githubstats.New(cfg.GitHub, logger)
		logger.Info(ctx, "github analytics enabled")
	}

	if cfg.Salesforce.ClientID != "" {
		sf, err := salesforce.New(cfg.Salesforce, logger)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("initializing salesforce client: %w", err)
		}
		deps.salesforce = sf
		logger.Info(ctx, "salesforce explorer enabled",
			zap.String("api_version", cfg.Salesforce.APIVersion))
	}

	if cfg.Jira.BaseURL != "" {
		publisher, err := events.Connect(cfg.Events, logger)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		deps.publisher = publisher

		jiraClient, err := jira.New(cfg.Jira, logger)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("initializing jira client: %w", err)
		}

		worker := events.NewWorker(jiraClient, st, cfg.Events.SubjectPrefix, cfg.Events.MaxDeliver, logger)
		if err := worker.Start(publisher.Conn()); err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("starting jira worker: %w", err)
		}
		deps.worker = worker
		logger.Info(ctx, "jira escalation enabled",
			zap.String("project", cfg.Jira.ProjectKey),
			zap.String("nats_url", cfg.Events.URL))
	}

	return deps, nil
}

// initServer assembles the HTTP API around the initialized services.
func initServer(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*httpapi.Server, error) {
	apiDeps := httpapi.Deps{
		Chat:      deps.chatSvc,
		Store:     deps.store,
		Dashboard: deps.dashboardSvc,
		Scrubber:  deps.scrubber,
	}
	// Interface fields stay nil unless the feature is enabled; assigning
	// a nil concrete pointer would make the nil checks in the handlers
	// pass and then panic on use.
	if deps.githubSvc != nil {
		apiDeps.GitHub = deps.githubSvc
	}
	if deps.salesforce != nil {
		apiDeps.Salesforce = deps.salesforce
	}
	if deps.publisher != nil {
		apiDeps.Publisher = deps.publisher
	}
	return httpapi.NewServer(cfg.Server, apiDeps, logger)
}
