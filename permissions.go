package agion

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RequestPermission asks for access to a resource. The returned
// permission is pending until approved.
func (c *Client) RequestPermission(ctx context.Context, req RequestPermissionRequest) (*Permission, error) {
	if req.ActorID == "" {
		return nil, &ValidationError{Field: "actor_id", Message: "must not be empty"}
	}
	if req.ResourceID == "" {
		return nil, &ValidationError{Field: "resource_id", Message: "must not be empty"}
	}
	if req.Purpose == "" {
		return nil, &ValidationError{Field: "purpose", Message: "must not be empty"}
	}
	if req.ActorType == "" {
		req.ActorType = ActorAgent
	}
	if req.PermissionType == "" {
		req.PermissionType = PermissionUse
	}

	var perm Permission
	if err := c.doJSON(ctx, http.MethodPost, "/permissions", req, &perm); err != nil {
		return nil, err
	}
	return &perm, nil
}

// GetPermission fetches one permission by id.
func (c *Client) GetPermission(ctx context.Context, id string) (*Permission, error) {
	var perm Permission
	if err := c.doJSON(ctx, http.MethodGet, "/permissions/"+url.PathEscape(id), nil, &perm); err != nil {
		return nil, notFound(err, "permission", id)
	}
	return &perm, nil
}

// ListPermissions returns permissions matching the filter.
func (c *Client) ListPermissions(ctx context.Context, filter PermissionFilter) (*PermissionList, error) {
	q := url.Values{}
	if filter.ActorID != "" {
		q.Set("actor_id", filter.ActorID)
	}
	if filter.ActorType != "" {
		q.Set("actor_type", string(filter.ActorType))
	}
	if filter.ResourceID != "" {
		q.Set("resource_id", filter.ResourceID)
	}
	if filter.PermissionType != "" {
		q.Set("permission_type", string(filter.PermissionType))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/permissions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list PermissionList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetActivePermissions returns an actor's approved permissions.
func (c *Client) GetActivePermissions(ctx context.Context, actorID string, actorType ActorType) ([]Permission, error) {
	if actorType == "" {
		actorType = ActorAgent
	}
	q := url.Values{}
	q.Set("actor_id", actorID)
	q.Set("actor_type", string(actorType))

	var out struct {
		Permissions []Permission `json:"permissions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/permissions/active?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Permissions, nil
}

// ApprovePermission approves a pending permission. The service rejects
// self-approval by the requesting actor.
func (c *Client) ApprovePermission(ctx context.Context, id, approvedBy, notes string) (*Permission, error) {
	if approvedBy == "" {
		return nil, &ValidationError{Field: "approved_by", Message: "must not be empty"}
	}
	body := map[string]any{
		"approved_by":    approvedBy,
		"approval_notes": notes,
	}

	var perm Permission
	path := fmt.Sprintf("/permissions/%s/approve", url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &perm); err != nil {
		return nil, notFound(err, "permission", id)
	}
	c.invalidateFor(perm.ActorID, perm.ResourceID, perm.PermissionType)
	return &perm, nil
}

// RevokePermission revokes an approved permission. The local decision
// cache is invalidated so the revocation is honored on the next check
// instead of after the cached entry expires.
func (c *Client) RevokePermission(ctx context.Context, id, revokedBy, reason string) (*Permission, error) {
	if revokedBy == "" {
		return nil, &ValidationError{Field: "revoked_by", Message: "must not be empty"}
	}
	body := map[string]any{
		"revoked_by":        revokedBy,
		"revocation_reason": reason,
	}

	var perm Permission
	path := fmt.Sprintf("/permissions/%s/revoke", url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &perm); err != nil {
		return nil, notFound(err, "permission", id)
	}
	c.invalidateFor(perm.ActorID, perm.ResourceID, perm.PermissionType)
	return &perm, nil
}

// reportUsage sends a usage delta to the governance service. Called from
// a goroutine by UpdateUsage; failure is logged only.
func (c *Client) reportUsage(permissionID string, requests, tokens int64, costUSD float64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	body := map[string]any{
		"request_count": requests,
		"token_count":   tokens,
		"cost_usd":      costUSD,
		"reported_at":   c.now().UTC().Format(time.RFC3339),
	}
	path := fmt.Sprintf("/permissions/%s/usage", url.PathEscape(permissionID))
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		c.logger.Warn("usage report failed", "permission", permissionID, "error", err)
	}
}
