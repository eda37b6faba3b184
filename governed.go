package agion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// GovernedCall describes one governed action.
type GovernedCall struct {
	ResourceID     string
	PermissionType PermissionType
	// Payload, when non-empty, is scanned for sensitive content before
	// the action runs (if DLP is enabled).
	Payload string
	// Context is passed through to the permission check and policy
	// rules.
	Context map[string]any
}

// Governed wraps fn with the full governance pipeline: permission check,
// content scan, execution, and trust reporting. A denial surfaces as
// PermissionDeniedError and the wrapped function never runs. The
// function's own error is returned unchanged; governance adds trust
// events around it, not error translation.
func Governed[T any](c *Client, call GovernedCall, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var zero T

		checkCtx := call.Context
		if c.scanner != nil && call.Payload != "" {
			checkCtx = make(map[string]any, len(call.Context)+1)
			for k, v := range call.Context {
				checkCtx[k] = v
			}
			// The verdict rides into the policy context, where the
			// built-in DLP rule denies on "block".
			outcome, scanErr := c.scanner.Scan(ctx, call.Payload)
			if scanErr != nil {
				c.logger.Warn("content scan failed, continuing", "error", scanErr)
			} else {
				checkCtx["dlp_verdict"] = string(outcome.Verdict)
				if len(outcome.Findings) > 0 {
					checkCtx["dlp_findings"] = len(outcome.Findings)
				}
			}
		}

		result, err := c.CheckPermission(ctx, c.cfg.AgentID, ActorAgent,
			call.ResourceID, call.PermissionType, checkCtx)
		if err != nil {
			return zero, err
		}
		if !result.Allowed {
			c.ReportPolicyViolation(result.Reason, map[string]any{
				"resource_id":     call.ResourceID,
				"permission_type": call.PermissionType,
			})
			return zero, &PermissionDeniedError{
				ActorID:        c.cfg.AgentID,
				ResourceID:     call.ResourceID,
				PermissionType: call.PermissionType,
				Reason:         result.Reason,
			}
		}

		start := c.now()
		out, err := fn(ctx)
		elapsed := c.now().Sub(start)

		details := map[string]any{
			"resource_id": call.ResourceID,
			"duration_ms": elapsed.Milliseconds(),
		}
		if err != nil {
			c.ReportTaskFailed(err, details)
			return zero, err
		}

		c.ReportTaskCompleted(details)
		if result.Permission != nil {
			c.UpdateUsage(result.Permission.ID, 1, 0, 0)
		}
		return out, nil
	}
}

// Do is Governed for functions with no return value.
func Do(c *Client, call GovernedCall, fn func(context.Context) error) func(context.Context) error {
	wrapped := Governed(c, call, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return func(ctx context.Context) error {
		_, err := wrapped(ctx)
		return err
	}
}

// Middleware gates an HTTP handler behind a permission check. The actor
// is taken from the X-Agent-ID header, falling back to the configured
// agent. Denials return 403, an unreachable governance service under
// fail-closed returns 503.
func (c *Client) Middleware(resourceID string, permType PermissionType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get("X-Agent-ID")
			if actor == "" {
				actor = c.cfg.AgentID
			}

			result, err := c.CheckPermission(r.Context(), actor, ActorAgent, resourceID, permType, map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			if err != nil {
				var unavailable *ServiceUnavailableError
				if errors.As(err, &unavailable) {
					writeJSONError(w, http.StatusServiceUnavailable, "governance service unavailable")
					return
				}
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !result.Allowed {
				writeJSONError(w, http.StatusForbidden, result.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"detail":    detail,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
