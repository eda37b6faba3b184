package agion

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CreateResource registers a resource with the governance service.
func (c *Client) CreateResource(ctx context.Context, req CreateResourceRequest) (*Resource, error) {
	if req.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if req.ResourceType == "" {
		return nil, &ValidationError{Field: "resource_type", Message: "must not be empty"}
	}
	if req.OrganizationID == "" {
		req.OrganizationID = c.cfg.OrganizationID
	}

	var res Resource
	if err := c.doJSON(ctx, http.MethodPost, "/resources", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetResource fetches one resource by id.
func (c *Client) GetResource(ctx context.Context, id string) (*Resource, error) {
	var res Resource
	if err := c.doJSON(ctx, http.MethodGet, "/resources/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, notFound(err, "resource", id)
	}
	return &res, nil
}

// ListResources returns resources matching the filter.
func (c *Client) ListResources(ctx context.Context, filter ResourceFilter) (*ResourceList, error) {
	q := url.Values{}
	if filter.OrganizationID != "" {
		q.Set("organization_id", filter.OrganizationID)
	} else if c.cfg.OrganizationID != "" {
		q.Set("organization_id", c.cfg.OrganizationID)
	}
	if filter.ResourceType != "" {
		q.Set("resource_type", string(filter.ResourceType))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.RiskLevel != "" {
		q.Set("risk_level", string(filter.RiskLevel))
	}
	if filter.ParentID != "" {
		q.Set("parent_resource_id", filter.ParentID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/resources"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list ResourceList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// UpdateResource modifies a resource. Zero-valued fields are unchanged.
func (c *Client) UpdateResource(ctx context.Context, id string, req UpdateResourceRequest) (*Resource, error) {
	var res Resource
	if err := c.doJSON(ctx, http.MethodPut, "/resources/"+url.PathEscape(id), req, &res); err != nil {
		return nil, notFound(err, "resource", id)
	}
	return &res, nil
}

// DeleteResource removes a resource. The service rejects deletion while
// active permissions reference it.
func (c *Client) DeleteResource(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/resources/"+url.PathEscape(id), nil, nil); err != nil {
		return notFound(err, "resource", id)
	}
	return nil
}

// GetResourceChildren returns the direct children of a resource, for
// hierarchies like a model provider and its models.
func (c *Client) GetResourceChildren(ctx context.Context, id string) ([]Resource, error) {
	var out struct {
		Children []Resource `json:"children"`
	}
	path := fmt.Sprintf("/resources/%s/children", url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, notFound(err, "resource", id)
	}
	return out.Children, nil
}

// UpdateResourceHealth reports a health transition for a resource.
func (c *Client) UpdateResourceHealth(ctx context.Context, id string, status HealthStatus, message string) error {
	body := map[string]any{
		"health_status":  status,
		"health_message": message,
	}
	path := fmt.Sprintf("/resources/%s/health", url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPut, path, body, nil); err != nil {
		return notFound(err, "resource", id)
	}
	return nil
}
