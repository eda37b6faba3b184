package agion

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agion-ai/agion-go/internal/audit"
	"github.com/agion-ai/agion-go/policy"
)

// remoteCheck is the service's answer to a permission check.
type remoteCheck struct {
	Allowed    bool           `json:"allowed"`
	Reason     string         `json:"reason"`
	Permission *Permission    `json:"permission"`
	Metadata   map[string]any `json:"metadata"`
}

// CheckPermission decides whether actorID may perform permType on
// resourceID. The pipeline is: decision cache, then the governance
// service's own check, then local constraint arithmetic against tracked
// usage, then the resource's trust tier, then the locally cached policy
// rules. The outcome is cached (30s for approvals, 5s for denials by
// default) and recorded as a decision event.
//
// A denial is reported in the result, not as an error. Errors mean the
// check itself could not run; when the service is unreachable the
// configured fail-open/fail-closed policy applies instead.
func (c *Client) CheckPermission(ctx context.Context, actorID string, actorType ActorType, resourceID string, permType PermissionType, checkCtx map[string]any) (*CheckResult, error) {
	if actorID == "" {
		return nil, &ValidationError{Field: "actor_id", Message: "must not be empty"}
	}
	if resourceID == "" {
		return nil, &ValidationError{Field: "resource_id", Message: "must not be empty"}
	}
	if actorType == "" {
		actorType = ActorAgent
	}
	if permType == "" {
		permType = PermissionUse
	}

	c.checks.Add(1)
	start := c.now()
	key := c.cacheKey(actorID, resourceID, permType, checkCtx)

	if cached, ok := c.cache.Get(key); ok {
		cached.Cached = true
		c.finishCheck(actorID, actorType, resourceID, permType, &cached, start)
		return &cached, nil
	}

	result, err := c.checkUncached(ctx, actorID, actorType, resourceID, permType, checkCtx)
	if err != nil {
		var unavailable *ServiceUnavailableError
		if errors.As(err, &unavailable) {
			result, ferr := c.failDecision(actorID, unavailable)
			if ferr != nil {
				return nil, ferr
			}
			c.finishCheck(actorID, actorType, resourceID, permType, result, start)
			return result, nil
		}
		return nil, err
	}

	ttl := c.cfg.CacheTTLApproved
	if !result.Allowed {
		ttl = c.cfg.CacheTTLDenied
	}
	c.cache.Put(key, *result, ttl)

	c.finishCheck(actorID, actorType, resourceID, permType, result, start)
	return result, nil
}

func (c *Client) checkUncached(ctx context.Context, actorID string, actorType ActorType, resourceID string, permType PermissionType, checkCtx map[string]any) (*CheckResult, error) {
	body := map[string]any{
		"actor_id":        actorID,
		"actor_type":      actorType,
		"resource_id":     resourceID,
		"permission_type": permType,
		"context":         checkCtx,
	}

	var remote remoteCheck
	if err := c.doJSON(ctx, http.MethodPost, "/permissions/check", body, &remote); err != nil {
		return nil, err
	}

	trust, trustKnown := c.trustScore(actorID, remote.Metadata, checkCtx)

	if !remote.Allowed || remote.Permission == nil {
		reason := remote.Reason
		if reason == "" {
			reason = "no approved permission for this actor and resource"
		}
		return denied(reason, remote.Permission), nil
	}
	perm := remote.Permission
	if perm.Status != PermissionApproved {
		return denied(fmt.Sprintf("permission is %s, not approved", perm.Status), perm), nil
	}

	// The service's snapshot of usage seeds the local tracker; locally
	// recorded consumption since then takes precedence.
	c.seedUsage(perm.ID, perm.Usage)

	now := c.now()
	if reason, ok := c.constraintViolation(perm, now, checkCtx); !ok {
		return denied(reason, perm), nil
	}

	required, riskLevel, err := c.resourceTier(ctx, resourceID, remote.Metadata)
	if err != nil {
		return nil, err
	}
	if required > 0 && trustKnown && trust < float64(required) {
		return denied(fmt.Sprintf("trust score %.1f below required tier %d for resource %s",
			trust, required, resourceID), perm), nil
	}

	evalResult := c.engine.Evaluate(policy.Context{
		Request: map[string]any{
			"permission_type": string(permType),
			"resource_id":     resourceID,
			"tokens":          contextInt(checkCtx, "request_tokens", "tokens"),
			"cost_usd":        contextFloat(checkCtx, "estimated_cost", "cost_usd"),
		},
		Actor: map[string]any{
			"id":          actorID,
			"type":        string(actorType),
			"trust_score": trust,
		},
		Resource: map[string]any{
			"id":                  resourceID,
			"trust_tier_required": required,
			"risk_level":          riskLevel,
		},
		Context: checkCtx,
	})
	if !evalResult.Allowed {
		return denied(evalResult.Reason, perm), nil
	}

	result := &CheckResult{
		Allowed:     true,
		Reason:      "permission approved",
		Permission:  perm,
		Constraints: c.remaining(perm, now),
	}
	if len(evalResult.Warnings) > 0 {
		result.Metadata = map[string]any{"policy_warnings": evalResult.Warnings}
	}
	return result, nil
}

func denied(reason string, perm *Permission) *CheckResult {
	return &CheckResult{Allowed: false, Reason: reason, Permission: perm}
}

// constraintViolation checks the permission's usage limits against local
// usage counters as of now. Returns ok=false with a reason on the first
// violated constraint.
func (c *Client) constraintViolation(perm *Permission, now time.Time, checkCtx map[string]any) (string, bool) {
	cons := perm.Constraints

	u, _ := c.localUsage(perm.ID)
	dayReqs, dayTokens, dayCost := u.dayCounters(now)

	if cons.RateLimitRPM != nil && dayReqs+1 > int64(*cons.RateLimitRPM) {
		return fmt.Sprintf("rate limit exceeded: %d requests against limit %d",
			dayReqs, *cons.RateLimitRPM), false
	}
	if cons.TokenLimitDay != nil {
		if est := contextInt(checkCtx, "request_tokens", "tokens"); dayTokens+est > *cons.TokenLimitDay {
			return fmt.Sprintf("daily token limit exceeded: %d used, %d requested, limit %d",
				dayTokens, est, *cons.TokenLimitDay), false
		}
	}
	if cons.CostLimitDayUSD != nil {
		if est := contextFloat(checkCtx, "estimated_cost", "cost_usd"); dayCost+est > *cons.CostLimitDayUSD {
			return fmt.Sprintf("daily cost limit exceeded: $%.2f used, $%.2f requested, limit $%.2f",
				dayCost, est, *cons.CostLimitDayUSD), false
		}
	}
	if cons.AllowedHours != "" && !withinHours(now, cons.AllowedHours) {
		return fmt.Sprintf("outside allowed hours %s", cons.AllowedHours), false
	}
	if len(cons.AllowedDays) > 0 && !allowedDay(now, cons.AllowedDays) {
		return fmt.Sprintf("%s is not an allowed day", strings.ToLower(now.UTC().Weekday().String())), false
	}
	return "", true
}

// remaining computes the quota left under each constraint, for callers
// budgeting work against their limits.
func (c *Client) remaining(perm *Permission, now time.Time) map[string]any {
	cons := perm.Constraints
	if cons.RateLimitRPM == nil && cons.TokenLimitDay == nil && cons.CostLimitDayUSD == nil {
		return nil
	}

	u, _ := c.localUsage(perm.ID)
	dayReqs, dayTokens, dayCost := u.dayCounters(now)

	out := map[string]any{}
	if cons.RateLimitRPM != nil {
		out["requests_remaining"] = max64(int64(*cons.RateLimitRPM)-dayReqs-1, 0)
	}
	if cons.TokenLimitDay != nil {
		out["tokens_remaining"] = max64(*cons.TokenLimitDay-dayTokens, 0)
	}
	if cons.CostLimitDayUSD != nil {
		left := *cons.CostLimitDayUSD - dayCost
		if left < 0 {
			left = 0
		}
		out["budget_remaining_usd"] = left
	}
	return out
}

// resourceTier resolves the trust tier requirement, preferring tier data
// the check response already carried over an extra resource fetch.
func (c *Client) resourceTier(ctx context.Context, resourceID string, meta map[string]any) (int, string, error) {
	if meta != nil {
		if v, ok := meta["trust_tier_required"].(float64); ok {
			risk, _ := meta["risk_level"].(string)
			return int(v), risk, nil
		}
	}

	res, err := c.GetResource(ctx, resourceID)
	if err != nil {
		var notFoundErr *ResourceNotFoundError
		if errors.As(err, &notFoundErr) {
			return 0, "", nil
		}
		return 0, "", err
	}
	return res.TrustTierRequired, string(res.RiskLevel), nil
}

// trustScore extracts the actor's trust score from check metadata or the
// caller-supplied context, remembering the last known value per actor
// for fail-open decisions.
func (c *Client) trustScore(actorID string, meta, checkCtx map[string]any) (float64, bool) {
	if v, ok := meta["actor_trust_score"].(float64); ok {
		c.lastTrust.Store(actorID, v)
		return v, true
	}
	if v := contextFloat(checkCtx, "trust_score"); v > 0 {
		c.lastTrust.Store(actorID, v)
		return v, true
	}
	if v, ok := c.lastTrust.Load(actorID); ok {
		return v.(float64), true
	}
	return 0, false
}

// failDecision applies the configured failure policy when the
// governance service is unreachable. Fail-closed propagates the error;
// fail-open permits only actors whose last known trust score clears the
// configured floor. Fail-open results are never cached.
func (c *Client) failDecision(actorID string, cause *ServiceUnavailableError) (*CheckResult, error) {
	if !c.cfg.FailOpen {
		return nil, cause
	}

	var trust float64
	if v, ok := c.lastTrust.Load(actorID); ok {
		trust = v.(float64)
	}
	if trust >= c.cfg.FailOpenMinTrust {
		c.logger.Warn("fail-open allow, governance service unreachable",
			"actor", actorID, "trust", trust, "error", cause)
		return &CheckResult{
			Allowed:  true,
			Reason:   fmt.Sprintf("fail-open: governance service unreachable, last known trust %.1f", trust),
			Metadata: map[string]any{"fail_open": true},
		}, nil
	}
	return &CheckResult{
		Allowed: false,
		Reason: fmt.Sprintf("fail-open denied: last known trust %.1f below required %.1f",
			trust, c.cfg.FailOpenMinTrust),
		Metadata: map[string]any{"fail_open": true},
	}, nil
}

// finishCheck stamps the result, counts it, and records it in the
// decision log and event stream. Neither recording path blocks.
func (c *Client) finishCheck(actorID string, actorType ActorType, resourceID string, permType PermissionType, result *CheckResult, start time.Time) {
	result.Timestamp = c.now()
	if !result.Allowed {
		c.denials.Add(1)
	}

	latency := result.Timestamp.Sub(start)
	if c.decisions != nil {
		c.decisions.Record(audit.Entry{
			ID:             uuid.NewString(),
			Timestamp:      result.Timestamp.UTC().Format(time.RFC3339Nano),
			ActorID:        actorID,
			ActorType:      string(actorType),
			ResourceID:     resourceID,
			PermissionType: string(permType),
			Allowed:        result.Allowed,
			Reason:         result.Reason,
			Cached:         result.Cached,
			LatencyMs:      latency.Milliseconds(),
		})
	}
	c.publishDecision(actorID, resourceID, permType, result, latency)
}

// cacheKey builds the decision-cache key. The coarse strategy keys on
// identity alone; context_hash also folds in the check context so
// context-sensitive policies are not served a stale coarse result.
func (c *Client) cacheKey(actorID, resourceID string, permType PermissionType, checkCtx map[string]any) string {
	base := actorID + ":" + resourceID + ":" + string(permType)
	if c.cfg.CacheKeyStrategy != CacheKeyContextHash || len(checkCtx) == 0 {
		return base
	}

	keys := make([]string, 0, len(checkCtx))
	for k := range checkCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		_, _ = fmt.Fprintf(h, "%s=%v;", k, checkCtx[k])
	}
	return fmt.Sprintf("%s:%x", base, h.Sum64())
}

// invalidateFor drops cached decisions for a permission after approval
// or revocation. Context-hashed keys cannot be enumerated, so that
// strategy clears the whole cache.
func (c *Client) invalidateFor(actorID, resourceID string, permType PermissionType) {
	if c.cfg.CacheKeyStrategy == CacheKeyContextHash {
		c.cache.Clear()
		return
	}
	c.cache.Delete(actorID + ":" + resourceID + ":" + string(permType))
}

func withinHours(now time.Time, window string) bool {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return true
	}
	from, err1 := time.Parse("15:04", strings.TrimSpace(parts[0]))
	to, err2 := time.Parse("15:04", strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return true
	}

	minutes := now.UTC().Hour()*60 + now.UTC().Minute()
	fromMin := from.Hour()*60 + from.Minute()
	toMin := to.Hour()*60 + to.Minute()
	if fromMin <= toMin {
		return minutes >= fromMin && minutes < toMin
	}
	// Window crosses midnight.
	return minutes >= fromMin || minutes < toMin
}

func allowedDay(now time.Time, days []string) bool {
	today := strings.ToLower(now.UTC().Weekday().String())
	for _, d := range days {
		if strings.ToLower(d) == today {
			return true
		}
	}
	return false
}

func contextInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

func contextFloat(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
