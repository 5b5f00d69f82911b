// Package config provides configuration loading for codeconnectd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Secrets (API tokens, connection strings with credentials)
// use the Secret type so they are redacted in logs and serialization.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete codeconnectd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Mongo         MongoConfig         `koanf:"mongo"`
	Watsonx       WatsonxConfig       `koanf:"watsonx"`
	Jira          JiraConfig          `koanf:"jira"`
	GitHub        GitHubConfig        `koanf:"github"`
	Salesforce    SalesforceConfig    `koanf:"salesforce"`
	Events        EventsConfig        `koanf:"events"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Prompts       PromptsConfig       `koanf:"prompts"`
	Dashboard     DashboardConfig     `koanf:"dashboard"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"` // OTLP collector endpoint
	Protocol    string  `koanf:"protocol"` // http or grpc
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	// URI may embed credentials, so it is treated as a secret.
	URI      Secret   `koanf:"uri"`
	Database string   `koanf:"database"`
	Timeout  Duration `koanf:"timeout"`
}

// WatsonxConfig holds IBM watsonx.ai configuration for Granite models.
type WatsonxConfig struct {
	BaseURL     string   `koanf:"base_url"`
	IAMURL      string   `koanf:"iam_url"`
	APIKey      Secret   `koanf:"api_key"`
	ProjectID   string   `koanf:"project_id"`
	Model       string   `koanf:"model"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	MaxRetries  int      `koanf:"max_retries"`
}

// JiraConfig holds Jira REST API configuration for feedback tickets.
type JiraConfig struct {
	BaseURL     string   `koanf:"base_url"`
	Username    string   `koanf:"username"`
	APIToken    Secret   `koanf:"api_token"`
	ProjectKey  string   `koanf:"project_key"`
	IssueType   string   `koanf:"issue_type"`
	SubtaskType string   `koanf:"subtask_type"`
	Labels      []string `koanf:"labels"`
}

// GitHubConfig holds GitHub API configuration for repository analytics.
type GitHubConfig struct {
	Token           Secret   `koanf:"token"`
	CacheTTL        Duration `koanf:"cache_ttl"`
	CacheMaxEntries int      `koanf:"cache_max_entries"`
}

// SalesforceConfig holds Salesforce REST API configuration.
type SalesforceConfig struct {
	LoginURL         string   `koanf:"login_url"`
	ClientID         string   `koanf:"client_id"`
	ClientSecret     Secret   `koanf:"client_secret"`
	Username         string   `koanf:"username"`
	Password         Secret   `koanf:"password"`
	APIVersion       string   `koanf:"api_version"`
	MaxQueryPages    int      `koanf:"max_query_pages"`
	DescribeCacheTTL Duration `koanf:"describe_cache_ttl"`
}

// EventsConfig holds NATS event bus configuration.
type EventsConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	MaxDeliver    int    `koanf:"max_deliver"` // Jira worker retry bound
}

// RetrievalConfig holds similar-conversation retrieval configuration.
type RetrievalConfig struct {
	Enabled          bool   `koanf:"enabled"`
	EmbeddingBaseURL string `koanf:"embedding_base_url"`
	EmbeddingModel   string `koanf:"embedding_model"`
	EmbeddingAPIKey  Secret `koanf:"embedding_api_key"`
	Path             string `koanf:"path"` // chromem persistence directory
	Collection       string `koanf:"collection"`
	TopK             int    `koanf:"top_k"`
}

// PromptsConfig holds prompt template registry configuration.
type PromptsConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// DashboardConfig holds admin dashboard aggregation configuration.
type DashboardConfig struct {
	WindowDays int      `koanf:"window_days"`
	CacheTTL   Duration `koanf:"cache_ttl"`
}

// applyDefaults fills in defaults for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "codeconnectd"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "http"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "codeconnect"
	}
	if cfg.Mongo.Timeout == 0 {
		cfg.Mongo.Timeout = Duration(10 * time.Second)
	}
	if cfg.Watsonx.BaseURL == "" {
		cfg.Watsonx.BaseURL = "https://us-south.ml.cloud.ibm.com"
	}
	if cfg.Watsonx.IAMURL == "" {
		cfg.Watsonx.IAMURL = "https://iam.cloud.ibm.com/identity/token"
	}
	if cfg.Watsonx.Model == "" {
		cfg.Watsonx.Model = "ibm/granite-3-8b-instruct"
	}
	if cfg.Watsonx.MaxTokens == 0 {
		cfg.Watsonx.MaxTokens = 4096
	}
	if cfg.Watsonx.Timeout == 0 {
		cfg.Watsonx.Timeout = Duration(120 * time.Second)
	}
	if cfg.Watsonx.RateLimit == 0 {
		cfg.Watsonx.RateLimit = 2.0
	}
	if cfg.Watsonx.Burst == 0 {
		cfg.Watsonx.Burst = 4
	}
	if cfg.Watsonx.MaxRetries == 0 {
		cfg.Watsonx.MaxRetries = 3
	}
	if cfg.Jira.IssueType == "" {
		cfg.Jira.IssueType = "Task"
	}
	if cfg.Jira.SubtaskType == "" {
		cfg.Jira.SubtaskType = "Sub-task"
	}
	if len(cfg.Jira.Labels) == 0 {
		cfg.Jira.Labels = []string{"codeconnect-feedback"}
	}
	if cfg.GitHub.CacheTTL == 0 {
		cfg.GitHub.CacheTTL = Duration(5 * time.Minute)
	}
	if cfg.GitHub.CacheMaxEntries == 0 {
		cfg.GitHub.CacheMaxEntries = 200
	}
	if cfg.Salesforce.LoginURL == "" {
		cfg.Salesforce.LoginURL = "https://login.salesforce.com"
	}
	if cfg.Salesforce.APIVersion == "" {
		cfg.Salesforce.APIVersion = "v59.0"
	}
	if cfg.Salesforce.MaxQueryPages == 0 {
		cfg.Salesforce.MaxQueryPages = 5
	}
	if cfg.Salesforce.DescribeCacheTTL == 0 {
		cfg.Salesforce.DescribeCacheTTL = Duration(15 * time.Minute)
	}
	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://localhost:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "codeconnect"
	}
	if cfg.Events.MaxDeliver == 0 {
		cfg.Events.MaxDeliver = 5
	}
	if cfg.Retrieval.EmbeddingBaseURL == "" {
		cfg.Retrieval.EmbeddingBaseURL = "http://localhost:8080/v1"
	}
	if cfg.Retrieval.EmbeddingModel == "" {
		cfg.Retrieval.EmbeddingModel = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Retrieval.Path == "" {
		cfg.Retrieval.Path = "~/.config/codeconnect/retrieval"
	}
	if cfg.Retrieval.Collection == "" {
		cfg.Retrieval.Collection = "conversations"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Prompts.Dir == "" {
		cfg.Prompts.Dir = "prompts"
	}
	if cfg.Dashboard.WindowDays == 0 {
		cfg.Dashboard.WindowDays = 30
	}
	if cfg.Dashboard.CacheTTL == 0 {
		cfg.Dashboard.CacheTTL = Duration(time.Minute)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (must be json or console)", c.Logging.Format)
	}
	if c.Observability.Enabled && c.Observability.Endpoint == "" {
		return errors.New("observability endpoint required when telemetry is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("sample rate must be in [0,1], got %v", c.Observability.SampleRate)
	}
	if !c.Mongo.URI.IsSet() {
		return errors.New("mongo URI is required")
	}
	if c.Watsonx.ProjectID == "" {
		return errors.New("watsonx project ID is required")
	}
	if !c.Watsonx.APIKey.IsSet() {
		return errors.New("watsonx API key is required")
	}
	if c.Jira.BaseURL != "" && !c.Jira.APIToken.IsSet() {
		return errors.New("jira API token required when jira base URL is set")
	}
	if c.Salesforce.ClientID != "" && !c.Salesforce.ClientSecret.IsSet() {
		return errors.New("salesforce client secret required when client ID is set")
	}
	if c.Dashboard.WindowDays < 1 {
		return fmt.Errorf("dashboard window must be at least 1 day, got %d", c.Dashboard.WindowDays)
	}
	return nil
}
