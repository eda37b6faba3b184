package agion

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agion-ai/agion-go/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.GatewayURL = srv.URL
	cfg.AgentID = "agent-1"
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	return c
}

// approvedPermission builds a server-side permission fixture.
func approvedPermission(id string, cons Constraints, usage Usage) *Permission {
	return &Permission{
		ID:             id,
		ActorID:        "agent-1",
		ActorType:      ActorAgent,
		ResourceID:     "res-1",
		PermissionType: PermissionUse,
		Status:         PermissionApproved,
		Constraints:    cons,
		Usage:          usage,
	}
}

// checkHandler serves /permissions/check with a fixed response and
// counts calls. Metadata always carries the trust tier so checks do not
// need a second resource fetch.
func checkHandler(calls *atomic.Int32, resp remoteCheck) http.Handler {
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{"trust_tier_required": 0}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/permissions/check" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func TestCheckCacheHitSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{
		Allowed:    true,
		Permission: approvedPermission("p1", Constraints{}, Usage{}),
	}))

	first, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.False(t, first.Cached)

	second, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.True(t, second.Cached)

	assert.Equal(t, int32(1), calls.Load(), "cache hit must not touch the network")
}

func TestCheckDeniedResultCachedBriefly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(checkHandler(&calls, remoteCheck{
		Allowed: false,
		Reason:  "permission not granted",
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.GatewayURL = srv.URL
	cfg.CacheTTLDenied = 200 * time.Millisecond
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Within the denied TTL the cached denial is served.
	res, err = c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), calls.Load())

	// After expiry the check goes back to the service.
	time.Sleep(250 * time.Millisecond)
	_, err = c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCheckNonApprovedStatusDenied(t *testing.T) {
	var calls atomic.Int32
	perm := approvedPermission("p1", Constraints{}, Usage{})
	perm.Status = PermissionSuspended
	c := newTestClient(t, checkHandler(&calls, remoteCheck{Allowed: true, Permission: perm}))

	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "suspended")
}

func TestCheckRateLimitExceeded(t *testing.T) {
	rpm := 60
	now := time.Now().UTC()
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{
		Allowed: true,
		Permission: approvedPermission("p1",
			Constraints{RateLimitRPM: &rpm},
			Usage{CurrentDayRequests: 60, CurrentDayStart: &now}),
	}))

	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "rate limit")
}

func TestCheckRateLimitJustUnder(t *testing.T) {
	rpm := 60
	now := time.Now().UTC()
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{
		Allowed: true,
		Permission: approvedPermission("p1",
			Constraints{RateLimitRPM: &rpm},
			Usage{CurrentDayRequests: 59, CurrentDayStart: &now}),
	}))

	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 0, res.Constraints["requests_remaining"])
}

func TestCheckDayRolloverResetsCounters(t *testing.T) {
	rpm := 60
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{
		Allowed: true,
		Permission: approvedPermission("p1",
			Constraints{RateLimitRPM: &rpm},
			Usage{CurrentDayRequests: 60, CurrentDayStart: &yesterday, TotalRequests: 60}),
	}))

	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "yesterday's consumption must not count today")
}

func TestCheckTokenLimit(t *testing.T) {
	limit := int64(1000)
	now := time.Now().UTC()
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{
		Allowed: true,
		Permission: approvedPermission("p1",
			Constraints{TokenLimitDay: &limit},
			Usage{CurrentDayTokens: 900, CurrentDayStart: &now}),
	}))

	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse,
		map[string]any{"request_tokens": 200})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "token limit")

	c.ClearCache()
	res, err = c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse,
		map[string]any{"request_tokens": 100})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 100, res.Constraints["tokens_remaining"])
}

func TestCheckTrustTier(t *testing.T) {
	tests := []struct {
		name    string
		trust   float64
		allowed bool
	}{
		{"just below tier", 55, false},
		{"exactly at tier", 60, true},
		{"above tier", 80, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, checkHandler(&calls, remoteCheck{
				Allowed:    true,
				Permission: approvedPermission("p1", Constraints{}, Usage{}),
				Metadata: map[string]any{
					"actor_trust_score":   tt.trust,
					"trust_tier_required": 60,
				},
			}))

			res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, res.Allowed)
			if !tt.allowed {
				assert.Contains(t, res.Reason, "trust")
			}
		})
	}
}

func TestCheckTrustTierUnknownScore(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{
		Allowed:    true,
		Permission: approvedPermission("p1", Constraints{}, Usage{}),
		Metadata:   map[string]any{"trust_tier_required": 60},
	}))

	// No score in the response, the context, or history: the authority
	// already approved the check and owns trust computation, so the
	// local tier gate stands aside instead of guessing.
	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckLocalPolicyDenies(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{
		Allowed:    true,
		Permission: approvedPermission("p1", Constraints{}, Usage{}),
	}))
	c.Engine().Load([]policy.Rule{{
		ID:          "block-res-1",
		Name:        "resource is embargoed",
		Expression:  `resource.id == "res-1"`,
		Decision:    policy.DecisionDeny,
		Priority:    50,
		Enforcement: policy.EnforcementHard,
		Enabled:     true,
	}})

	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "resource is embargoed")
}

func TestCheckFailOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayURL = "http://127.0.0.1:1" // nothing listens here
	cfg.FailOpen = true
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	// Trusted actor passes fail-open.
	c.lastTrust.Store("agent-1", 75.0)
	res, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Contains(t, res.Reason, "fail-open")

	// Actor below the trust floor is denied even under fail-open.
	c.lastTrust.Store("agent-2", 40.0)
	res, err = c.CheckPermission(context.Background(), "agent-2", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Unknown actors have no trust history and are denied too.
	res, err = c.CheckPermission(context.Background(), "agent-3", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheckFailClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayURL = "http://127.0.0.1:1"
	cfg.FailOpen = false
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	_, err = c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	var unavailable *ServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestCheckFailOpenResultNotCached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayURL = "http://127.0.0.1:1"
	cfg.FailOpen = true
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	c.lastTrust.Store("agent-1", 75.0)

	_, err = c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, c.cache.Stats().Entries)
}

func TestCheckValidatesInput(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	_, err := c.CheckPermission(context.Background(), "", ActorAgent, "res-1", PermissionUse, nil)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = c.CheckPermission(context.Background(), "agent-1", ActorAgent, "", PermissionUse, nil)
	assert.ErrorAs(t, err, &verr)
}

func TestCacheKeyStrategies(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	coarse := c.cacheKey("a", "r", PermissionUse, map[string]any{"k": "v"})
	assert.Equal(t, "a:r:use", coarse, "coarse strategy ignores context")

	cfg.CacheKeyStrategy = CacheKeyContextHash
	c2, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	k1 := c2.cacheKey("a", "r", PermissionUse, map[string]any{"k": "v"})
	k2 := c2.cacheKey("a", "r", PermissionUse, map[string]any{"k": "other"})
	assert.NotEqual(t, k1, k2, "different contexts hash to different keys")

	k3 := c2.cacheKey("a", "r", PermissionUse, map[string]any{"k": "v"})
	assert.Equal(t, k1, k3, "hashing is deterministic")
}

func TestCheckRecordsDeniedError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, checkHandler(&calls, remoteCheck{Allowed: false, Reason: "nope"}))

	_, err := c.CheckPermission(context.Background(), "agent-1", ActorAgent, "res-1", PermissionUse, nil)
	require.NoError(t, err, "a denial is a result, not an error")
	assert.Equal(t, uint64(1), c.Metrics().Denials)

	var denied *PermissionDeniedError
	assert.False(t, errors.As(err, &denied))
}
