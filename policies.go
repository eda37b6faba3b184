package agion

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/agion-ai/agion-go/policy"
)

// ListPolicies returns policies from the governance service.
func (c *Client) ListPolicies(ctx context.Context, enabledOnly bool) (*PolicyList, error) {
	path := "/policies"
	if enabledOnly {
		path += "?enabled=true"
	}

	var list PolicyList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreatePolicy creates a policy on the governance service. The service
// broadcasts a policy-update notification, so connected clients pick the
// new policy up via push rather than waiting for the next poll.
func (c *Client) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*RemotePolicy, error) {
	if req.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if req.PolicyExpr == "" {
		return nil, &ValidationError{Field: "policy_expr", Message: "must not be empty"}
	}
	if req.PolicyLanguage == "" {
		req.PolicyLanguage = "cel"
	}

	var pol RemotePolicy
	if err := c.doJSON(ctx, http.MethodPost, "/policies", req, &pol); err != nil {
		return nil, err
	}
	return &pol, nil
}

// GetPolicy fetches one policy by id.
func (c *Client) GetPolicy(ctx context.Context, id int) (*RemotePolicy, error) {
	var pol RemotePolicy
	path := "/policies/" + strconv.Itoa(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &pol); err != nil {
		return nil, notFound(err, "policy", strconv.Itoa(id))
	}
	return &pol, nil
}

// UpdatePolicy applies a partial update to a policy. Like creation, the
// service broadcasts the change to connected clients.
func (c *Client) UpdatePolicy(ctx context.Context, id int, req UpdatePolicyRequest) (*RemotePolicy, error) {
	var pol RemotePolicy
	path := "/policies/" + strconv.Itoa(id)
	if err := c.doJSON(ctx, http.MethodPut, path, req, &pol); err != nil {
		return nil, notFound(err, "policy", strconv.Itoa(id))
	}
	return &pol, nil
}

// DeletePolicy removes a policy.
func (c *Client) DeletePolicy(ctx context.Context, id int) error {
	path := "/policies/" + strconv.Itoa(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return notFound(err, "policy", strconv.Itoa(id))
	}
	return nil
}

// EvaluatePolicy asks the service to test-evaluate a policy against a
// hypothetical context, without recording a decision.
func (c *Client) EvaluatePolicy(ctx context.Context, id int, testCtx map[string]any) (*PolicyEvaluation, error) {
	var eval PolicyEvaluation
	path := "/policies/" + strconv.Itoa(id) + "/evaluate"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]any{"context": testCtx}, &eval); err != nil {
		return nil, notFound(err, "policy", strconv.Itoa(id))
	}
	return &eval, nil
}

// fetchActiveRules pulls this agent's active policies and converts the
// CEL ones to engine rules. This is the sync worker's fetch function.
func (c *Client) fetchActiveRules(ctx context.Context) ([]policy.Rule, error) {
	q := url.Values{}
	q.Set("agent_id", c.cfg.AgentID)
	q.Set("status", "active")

	var list PolicyList
	if err := c.doJSON(ctx, http.MethodGet, "/policies?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}

	rules := make([]policy.Rule, 0, len(list.Policies))
	for _, p := range list.Policies {
		// The service may also deliver JSON-schema policies; only CEL
		// is evaluable locally.
		if p.PolicyExpr == "" || (p.PolicyLanguage != "" && p.PolicyLanguage != "cel") {
			continue
		}
		rules = append(rules, policy.Rule{
			ID:          strconv.Itoa(p.ID),
			Name:        p.Name,
			Expression:  p.PolicyExpr,
			Decision:    remoteDecision(p.Enforcement),
			Priority:    p.Priority,
			Enforcement: remoteEnforcement(p.EnforcementLvl),
			Enabled:     p.Enabled,
			System:      p.IsSystemPolicy,
		})
	}
	return rules, nil
}

// remoteDecision maps the service's enforcement action to an engine
// decision. Unknown values deny: an unrecognized action should never
// widen access.
func remoteDecision(enforcement string) policy.Decision {
	switch enforcement {
	case "allow":
		return policy.DecisionAllow
	case "warn", "audit":
		return policy.DecisionWarn
	case "require_approval":
		return policy.DecisionRequireApproval
	default:
		return policy.DecisionDeny
	}
}

func remoteEnforcement(level string) policy.EnforcementLevel {
	switch level {
	case "advisory":
		return policy.EnforcementAdvisory
	case "soft":
		return policy.EnforcementSoft
	case "critical":
		return policy.EnforcementCritical
	default:
		return policy.EnforcementHard
	}
}
