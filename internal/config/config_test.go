package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv sets the minimum env vars Load needs to validate.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WATSONX_PROJECT_ID", "proj-123")
	t.Setenv("WATSONX_API_KEY", "wx-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "codeconnect", cfg.Mongo.Database)
	assert.Equal(t, "ibm/granite-3-8b-instruct", cfg.Watsonx.Model)
	assert.Equal(t, "Sub-task", cfg.Jira.SubtaskType)
	assert.Equal(t, 5*time.Minute, cfg.GitHub.CacheTTL.Duration())
	assert.Equal(t, "v59.0", cfg.Salesforce.APIVersion)
	assert.Equal(t, 30, cfg.Dashboard.WindowDays)
}

func TestLoad_YAMLFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9000
  shutdown_timeout: 30s
logging:
  format: console
mongo:
  uri: mongodb://db.internal:27017
  database: cc_prod
watsonx:
  model: ibm/granite-3-2-8b-instruct
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "cc_prod", cfg.Mongo.Database)
	assert.Equal(t, "mongodb://db.internal:27017", cfg.Mongo.URI.Value())
	assert.Equal(t, "ibm/granite-3-2-8b-instruct", cfg.Watsonx.Model)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_PORT", "9443")
	t.Setenv("MONGO_DATABASE", "cc_staging")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "cc_staging", cfg.Mongo.Database)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "invalid server port",
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "invalid logging format",
		},
		{
			name:   "telemetry without endpoint",
			mutate: func(c *Config) { c.Observability.Enabled = true },
			want:   "observability endpoint required",
		},
		{
			name:   "missing watsonx key",
			mutate: func(c *Config) { c.Watsonx.APIKey = "" },
			want:   "watsonx API key is required",
		},
		{
			name: "jira url without token",
			mutate: func(c *Config) {
				c.Jira.BaseURL = "https://jira.example.com"
				c.Jira.APIToken = ""
			},
			want: "jira API token required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			cfg.Watsonx.ProjectID = "proj"
			cfg.Watsonx.APIKey = "key"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret-token", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "super-secret-token")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
}
