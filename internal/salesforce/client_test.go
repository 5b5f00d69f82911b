package salesforce

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

// fakeOrg stands in for a Salesforce org: login endpoint plus REST API.
type fakeOrg struct {
	srv        *httptest.Server
	mux        *http.ServeMux
	loginCalls atomic.Int64
	token      string
}

func newFakeOrg(t *testing.T) *fakeOrg {
	t.Helper()
	org := &fakeOrg{mux: http.NewServeMux(), token: "session-1"}
	org.mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		org.loginCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.FormValue("grant_type"))
		fmt.Fprintf(w, `{"access_token":%q,"instance_url":%q}`, org.token, org.srv.URL)
	})
	org.srv = httptest.NewServer(org.mux)
	t.Cleanup(org.srv.Close)
	return org
}

func (o *fakeOrg) client(t *testing.T, maxPages int) *Client {
	t.Helper()
	var secret, password config.Secret
	require.NoError(t, secret.UnmarshalText([]byte("client-secret")))
	require.NoError(t, password.UnmarshalText([]byte("hunter2")))

	c, err := New(config.SalesforceConfig{
		LoginURL:         o.srv.URL,
		ClientID:         "app-id",
		ClientSecret:     secret,
		Username:         "bot@example.com",
		Password:         password,
		APIVersion:       "v59.0",
		MaxQueryPages:    maxPages,
		DescribeCacheTTL: config.Duration(time.Minute),
	}, nil)
	require.NoError(t, err)
	return c
}

func TestListObjects_Cached(t *testing.T) {
	org := newFakeOrg(t)
	var calls atomic.Int64
	org.mux.HandleFunc("/services/data/v59.0/sobjects", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer session-1", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"sobjects":[{"name":"Account","label":"Account","queryable":true},{"name":"Case__c","label":"Case","custom":true,"queryable":true}]}`)
	})

	c := org.client(t, 5)
	objects, err := c.ListObjects(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "Account", objects[0].Name)
	assert.True(t, objects[1].Custom)

	_, err = c.ListObjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestDescribeObject(t *testing.T) {
	org := newFakeOrg(t)
	org.mux.HandleFunc("/services/data/v59.0/sobjects/Account/describe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"Account","label":"Account","fields":[
			{"name":"Name","label":"Account Name","type":"string","length":255,"nillable":false},
			{"name":"Industry","label":"Industry","type":"picklist","nillable":true,
			 "picklistValues":[{"value":"Tech","active":true},{"value":"Retired","active":false}]}
		]}`)
	})

	c := org.client(t, 5)
	describe, err := c.DescribeObject(context.Background(), "Account")
	require.NoError(t, err)

	require.Len(t, describe.Fields, 2)
	assert.Equal(t, "Name", describe.Fields[0].Name)
	assert.Equal(t, 255, describe.Fields[0].Length)
	// Only active picklist values survive.
	assert.Equal(t, []string{"Tech"}, describe.Fields[1].PicklistValues)
}

func TestDescribeObject_RejectsBadName(t *testing.T) {
	org := newFakeOrg(t)
	c := org.client(t, 5)

	_, err := c.DescribeObject(context.Background(), "Account; DROP TABLE")
	assert.Error(t, err)
	assert.Equal(t, int64(0), org.loginCalls.Load())
}

func TestQuery_Pagination(t *testing.T) {
	org := newFakeOrg(t)
	org.mux.HandleFunc("/services/data/v59.0/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "SELECT")
		fmt.Fprint(w, `{"totalSize":3,"done":false,"nextRecordsUrl":"/services/data/v59.0/query/next-1","records":[{"attributes":{"type":"Account"},"Name":"One"},{"Name":"Two"}]}`)
	})
	org.mux.HandleFunc("/services/data/v59.0/query/next-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"totalSize":3,"done":true,"records":[{"Name":"Three"}]}`)
	})

	c := org.client(t, 5)
	result, err := c.Query(context.Background(), "SELECT Name FROM Account")
	require.NoError(t, err)

	assert.True(t, result.Done)
	assert.Equal(t, 3, result.TotalSize)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "One", result.Records[0]["Name"])
	// The attributes envelope is stripped.
	assert.NotContains(t, result.Records[0], "attributes")
}

func TestQuery_PageCap(t *testing.T) {
	org := newFakeOrg(t)
	var pages atomic.Int64
	handler := func(w http.ResponseWriter, r *http.Request) {
		n := pages.Add(1)
		fmt.Fprintf(w, `{"totalSize":100,"done":false,"nextRecordsUrl":"/services/data/v59.0/query/next-%d","records":[{"Name":"r%d"}]}`, n, n)
	}
	org.mux.HandleFunc("/services/data/v59.0/query", handler)
	org.mux.HandleFunc("/services/data/v59.0/query/", handler)

	c := org.client(t, 2)
	result, err := c.Query(context.Background(), "SELECT Name FROM Account")
	require.NoError(t, err)

	assert.False(t, result.Done)
	assert.Len(t, result.Records, 2)
	assert.Equal(t, int64(2), pages.Load())
}

func TestQuery_Validation(t *testing.T) {
	org := newFakeOrg(t)
	c := org.client(t, 5)
	ctx := context.Background()

	_, err := c.Query(ctx, "")
	assert.Error(t, err)

	_, err = c.Query(ctx, "DELETE FROM Account")
	assert.Error(t, err)

	_, err = c.Query(ctx, "SELECT Id FROM Account WHERE Name = 'x' UPDATE TRACKING")
	assert.Error(t, err)
}

func TestValidateQuery_WordBoundaries(t *testing.T) {
	// Field names containing blocked words as substrings are fine.
	assert.NoError(t, validateQuery("SELECT LastUpdate__c FROM Deletion_Log__c"))
	assert.Error(t, validateQuery("SELECT Id FROM Account update"))
}

func TestSessionExpiry_Reauthenticates(t *testing.T) {
	org := newFakeOrg(t)
	var calls atomic.Int64
	org.mux.HandleFunc("/services/data/v59.0/sobjects", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `[{"message":"Session expired","errorCode":"INVALID_SESSION_ID"}]`)
			return
		}
		fmt.Fprint(w, `{"sobjects":[{"name":"Account"}]}`)
	})

	c := org.client(t, 5)
	objects, err := c.ListObjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.Equal(t, int64(2), org.loginCalls.Load())
}
