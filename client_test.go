package agion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/resources/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "no such resource"})
	})
	mux.HandleFunc("/api/v1/resources/limited", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/api/v1/resources/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/v1/resources", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "name is required"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.GetResource(ctx, "missing")
	var nf *ResourceNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "resource", nf.Kind)
	assert.Equal(t, "missing", nf.ID)

	_, err = c.GetResource(ctx, "limited")
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)

	_, err = c.GetResource(ctx, "broken")
	var su *ServiceUnavailableError
	require.ErrorAs(t, err, &su)

	_, err = c.CreateResource(ctx, CreateResourceRequest{Name: "x", ResourceType: ResourceAPI})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "name is required", apiErr.Detail)
}

func TestAuthAndAgentHeaders(t *testing.T) {
	var gotAuth, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("X-Agent-ID")
		_ = json.NewEncoder(w).Encode(Resource{ID: "r1"})
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.GatewayURL = srv.URL
	cfg.APIToken = "secret-token"
	cfg.AgentID = "agent-1"
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	_, err = c.GetResource(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "agent-1", gotAgent)
}

func TestListResourcesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(ResourceList{Total: 0})
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.GatewayURL = srv.URL
	cfg.OrganizationID = "org-1"
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	_, err = c.ListResources(context.Background(), ResourceFilter{
		ResourceType: ResourceDatabase,
		Limit:        10,
	})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "organization_id=org-1")
	assert.Contains(t, gotQuery, "resource_type=database")
	assert.Contains(t, gotQuery, "limit=10")
}

func TestRequestPermissionEndpoint(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		_ = json.NewEncoder(w).Encode(Permission{ID: "p1", Status: PermissionPending})
	}))

	_, err := c.RequestPermission(context.Background(), RequestPermissionRequest{
		ActorID:    "agent-1",
		ResourceID: "res-1",
		Purpose:    "summarization",
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/permissions", gotPath)
}

func TestUpdatesUsePut(t *testing.T) {
	var got []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	ctx := context.Background()

	_, err := c.UpdateResource(ctx, "r1", UpdateResourceRequest{})
	require.NoError(t, err)
	_, err = c.UpdatePolicy(ctx, 7, UpdatePolicyRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"PUT /api/v1/resources/r1",
		"PUT /api/v1/policies/7",
	}, got)
}

func TestFetchActiveRulesScopedToAgent(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(PolicyList{Policies: []RemotePolicy{
			{ID: 1, Name: "cel rule", PolicyLanguage: "cel", PolicyExpr: `true`, Enabled: true},
			{ID: 2, Name: "schema rule", PolicyLanguage: "json", PolicyExpr: `{"deny":true}`, Enabled: true},
		}})
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.GatewayURL = srv.URL
	cfg.AgentID = "agent-1"
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	rules, err := c.fetchActiveRules(context.Background())
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "agent_id=agent-1")
	assert.Contains(t, gotQuery, "status=active")

	// Only CEL policies are evaluable locally.
	require.Len(t, rules, 1)
	assert.Equal(t, "1", rules[0].ID)
}

func TestRevokeInvalidatesCache(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/permissions/check", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteCheck{
			Allowed:    true,
			Permission: approvedPermission("p1", Constraints{}, Usage{}),
			Metadata:   map[string]any{"trust_tier_required": 0},
		})
	})
	mux.HandleFunc("/api/v1/permissions/p1/revoke", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(approvedPermission("p1", Constraints{}, Usage{}))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.CheckPermission(ctx, "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.cache.Stats().Entries)

	_, err = c.RevokePermission(ctx, "p1", "admin", "compromised")
	require.NoError(t, err)
	assert.Equal(t, 0, c.cache.Stats().Entries, "revocation must drop the cached decision")
}

func TestMetricsAggregation(t *testing.T) {
	var callsAtomic int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/permissions/check", func(w http.ResponseWriter, _ *http.Request) {
		callsAtomic++
		_ = json.NewEncoder(w).Encode(remoteCheck{Allowed: false, Reason: "no"})
	})
	c := newTestClient(t, mux)

	_, _ = c.CheckPermission(context.Background(), "a", ActorAgent, "r", PermissionUse, nil)
	_, _ = c.CheckPermission(context.Background(), "a", ActorAgent, "r", PermissionUse, nil)

	m := c.Metrics()
	assert.Equal(t, uint64(2), m.Checks)
	assert.Equal(t, uint64(2), m.Denials)
	assert.Equal(t, uint64(1), m.Cache.Hits)
}
