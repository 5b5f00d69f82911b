// Package salesforce is a minimal REST client for the Salesforce
// platform APIs: SOQL queries and object metadata (describe) calls.
package salesforce

import (
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

	"github.com/isclabs/codeconnect/internal/cache"
	"github.com/isclabs/codeconnect/internal/config"
	"github.com/isclabs/codeconnect/internal/logging"
)

// Client talks to one Salesforce org using the OAuth username-password
// flow.
type Client struct {
	loginURL      string
	clientID      string
	clientSecret  string
	username      string
	password      string
	apiVersion    string
	maxQueryPages int
	httpClient    *http.Client
	describeCache *cache.Cache
	logger        *logging.Logger

	mu          sync.Mutex
	accessToken string
	instanceURL string
}

// New creates a Salesforce client from configuration.
func New(cfg config.SalesforceConfig, logger *logging.Logger) (*Client, error) {
	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("salesforce login URL required")
	}
	if cfg.ClientID == "" || !cfg.ClientSecret.IsSet() {
		return nil, fmt.Errorf("salesforce connected app credentials required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	c := cache.New(cfg.DescribeCacheTTL.Duration(), 256)
	c.SetMetrics(cache.NewMetrics("salesforce_describe"))

	return &Client{
		loginURL:      strings.TrimSuffix(cfg.LoginURL, "/"),
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret.Value(),
		username:      cfg.Username,
		password:      cfg.Password.Value(),
		apiVersion:    cfg.APIVersion,
		maxQueryPages: cfg.MaxQueryPages,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		describeCache: c,
		logger:        logger,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// authenticate exchanges credentials for an access token. Serialized so
// concurrent 401 recoveries do not stampede the login endpoint.
func (c *Client) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"username":      {c.username},
		"password":      {c.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.loginURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce login failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("salesforce login failed (%d): %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" || tok.InstanceURL == "" {
		return fmt.Errorf("salesforce token response incomplete")
	}

	c.accessToken = tok.AccessToken
	c.instanceURL = strings.TrimSuffix(tok.InstanceURL, "/")
	c.logger.Debug(ctx, "authenticated with salesforce")
	return nil
}

func (c *Client) session(ctx context.Context) (token, instance string, err error) {
	c.mu.Lock()
	token, instance = c.accessToken, c.instanceURL
	c.mu.Unlock()
	if token != "" {
		return token, instance, nil
	}
	if err := c.authenticate(ctx); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	token, instance = c.accessToken, c.instanceURL
	c.mu.Unlock()
	return token, instance, nil
}

// get performs an authenticated GET against a REST path. On a 401 the
// session is re-established once and the request retried.
func (c *Client) get(ctx context.Context, path string, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, instance, err := c.session(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("salesforce request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.logger.Debug(ctx, "salesforce session expired, re-authenticating")
			c.mu.Lock()
			c.accessToken = ""
			c.mu.Unlock()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			var errs []apiError
			if jsonErr := json.Unmarshal(body, &errs); jsonErr == nil && len(errs) > 0 {
				return fmt.Errorf("salesforce API error (%d) %s: %s", resp.StatusCode, errs[0].ErrorCode, errs[0].Message)
			}
			return fmt.Errorf("salesforce API error (%d): %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("salesforce authentication retry exhausted")
}

func (c *Client) restPath(suffix string) string {
	return "/services/data/" + c.apiVersion + suffix
}

// SObject is one entry from the global describe.
type SObject struct {
	Name         string `json:"name"`
	Label        string `json:"label"`
	Custom       bool   `json:"custom"`
	Queryable    bool   `json:"queryable"`
	KeyPrefix    string `json:"keyPrefix,omitempty"`
	Retrieveable bool   `json:"retrieveable"`
}

type describeGlobalResponse struct {
	SObjects []SObject `json:"sobjects"`
}

// ListObjects returns the org's sobjects from the global describe.
// Results are cached for the configured describe TTL.
func (c *Client) ListObjects(ctx context.Context) ([]SObject, error) {
	if v, ok := c.describeCache.Get("global"); ok {
		return v.([]SObject), nil
	}

	var resp describeGlobalResponse
	if err := c.get(ctx, c.restPath("/sobjects"), &resp); err != nil {
		return nil, fmt.Errorf("describe global: %w", err)
	}

	c.describeCache.Set("global", resp.SObjects)
	return resp.SObjects, nil
}

// Field is one field from an object describe.
type Field struct {
	Name           string   `json:"name"`
	Label          string   `json:"label"`
	Type           string   `json:"type"`
	Length         int      `json:"length,omitempty"`
	Nillable       bool     `json:"nillable"`
	Custom         bool     `json:"custom"`
	PicklistValues []string `json:"picklist_values,omitempty"`
}

// ObjectDescribe is the metadata for one sobject.
type ObjectDescribe struct {
	Name   string  `json:"name"`
	Label  string  `json:"label"`
	Custom bool    `json:"custom"`
	Fields []Field `json:"fields"`
}

type describeResponse struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Custom bool   `json:"custom"`
	Fields []struct {
		Name           string `json:"name"`
		Label          string `json:"label"`
		Type           string `json:"type"`
		Length         int    `json:"length"`
		Nillable       bool   `json:"nillable"`
		Custom         bool   `json:"custom"`
		PicklistValues []struct {
			Value  string `json:"value"`
			Active bool   `json:"active"`
		} `json:"picklistValues"`
	} `json:"fields"`
}

// DescribeObject returns field metadata for one sobject, cached for the
// configured describe TTL.
func (c *Client) DescribeObject(ctx context.Context, name string) (*ObjectDescribe, error) {
	if err := validateObjectName(name); err != nil {
		return nil, err
	}
	key := "describe:" + name
	if v, ok := c.describeCache.Get(key); ok {
		return v.(*ObjectDescribe), nil
	}

	var resp describeResponse
	if err := c.get(ctx, c.restPath("/sobjects/"+name+"/describe"), &resp); err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}

	describe := &ObjectDescribe{
		Name:   resp.Name,
		Label:  resp.Label,
		Custom: resp.Custom,
		Fields: make([]Field, 0, len(resp.Fields)),
	}
	for _, f := range resp.Fields {
		field := Field{
			Name:     f.Name,
			Label:    f.Label,
			Type:     f.Type,
			Length:   f.Length,
			Nillable: f.Nillable,
			Custom:   f.Custom,
		}
		for _, pv := range f.PicklistValues {
			if pv.Active {
				field.PicklistValues = append(field.PicklistValues, pv.Value)
			}
		}
		describe.Fields = append(describe.Fields, field)
	}

	c.describeCache.Set(key, describe)
	return describe, nil
}

// QueryResult is the combined result of a paginated SOQL query.
type QueryResult struct {
	TotalSize int              `json:"total_size"`
	Done      bool             `json:"done"`
	Records   []map[string]any `json:"records"`
}

type queryPage struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

// Query runs a SOQL query, following nextRecordsUrl up to the configured
// page cap. Done is false when the cap cut pagination short.
func (c *Client) Query(ctx context.Context, soql string) (*QueryResult, error) {
	soql = strings.TrimSpace(soql)
	if err := validateQuery(soql); err != nil {
		return nil, err
	}

	result := &QueryResult{}
	path := c.restPath("/query?q=" + url.QueryEscape(soql))

	for page := 0; page < c.maxQueryPages; page++ {
		var qp queryPage
		if err := c.get(ctx, path, &qp); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		result.TotalSize = qp.TotalSize
		result.Done = qp.Done
		result.Records = append(result.Records, cleanRecords(qp.Records)...)

		if qp.Done || qp.NextRecordsURL == "" {
			break
		}
		path = qp.NextRecordsURL
	}

	if !result.Done {
		c.logger.Warn(ctx, "query pagination capped",
			zap.Int("pages", c.maxQueryPages), zap.Int("records", len(result.Records)))
	}
	return result, nil
}

// cleanRecords drops the per-record "attributes" envelope Salesforce
// injects into query results.
func cleanRecords(records []map[string]any) []map[string]any {
	for _, r := range records {
		delete(r, "attributes")
	}
	return records
}
