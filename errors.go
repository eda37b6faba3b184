package agion

import (
	"fmt"
	"time"
)

// APIError is a non-2xx response from the governance service.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("governance api: %d %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("governance api: %d %s", e.StatusCode, e.Message)
}

// ValidationError is a locally rejected request, before anything reaches
// the service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// PermissionDeniedError means the check pipeline concluded deny. It is
// returned by Governed, never by CheckPermission, which reports denial
// in the result.
type PermissionDeniedError struct {
	ActorID        string
	ResourceID     string
	PermissionType PermissionType
	Reason         string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: actor %s, resource %s, type %s: %s",
		e.ActorID, e.ResourceID, e.PermissionType, e.Reason)
}

// ResourceNotFoundError is a 404 for a specific resource or permission.
type ResourceNotFoundError struct {
	Kind string // "resource", "permission", "policy"
	ID   string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// RateLimitError is a 429 from the service. RetryAfter is zero when the
// service did not say.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by governance service, retry after %s", e.RetryAfter)
	}
	return "rate limited by governance service"
}

// ServiceUnavailableError means the governance service could not be
// reached or returned a 5xx. Callers decide between fail-open and
// fail-closed; CheckPermission applies the configured policy itself.
type ServiceUnavailableError struct {
	Endpoint string
	Err      error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("governance service unavailable: %s: %v", e.Endpoint, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }
