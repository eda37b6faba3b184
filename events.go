package agion

import (
	"time"

	"github.com/google/uuid"

	"github.com/agion-ai/agion-go/event"
)

// Trust impacts for agent lifecycle outcomes. A completed task earns a
// small bump; failures and violations cost more, with violations
// reported at full confidence because the policy engine observed them
// directly.
const (
	impactTaskCompleted   = 0.01
	impactTaskFailed      = -0.05
	impactPolicyViolation = -0.1

	confidenceTaskCompleted   = 0.95
	confidenceTaskFailed      = 0.9
	confidencePolicyViolation = 1.0
)

// PublishTrustEvent reports agent behavior to the trust stream. Delivery
// is fire-and-forget: the call never blocks and never returns an error.
func (c *Client) PublishTrustEvent(t event.Type, severity event.Severity, impact, confidence float64, details map[string]any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(event.StreamTrust, event.Trust{
		AgentID:    c.cfg.AgentID,
		EventType:  t,
		Severity:   severity,
		Impact:     impact,
		Confidence: confidence,
		Context:    details,
		Timestamp:  c.now().UTC(),
	})
}

// ReportTaskCompleted reports a successful task execution.
func (c *Client) ReportTaskCompleted(details map[string]any) {
	c.PublishTrustEvent(event.TaskCompleted, event.SeverityPositive,
		impactTaskCompleted, confidenceTaskCompleted, details)
}

// ReportTaskFailed reports a failed task execution.
func (c *Client) ReportTaskFailed(taskErr error, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	if taskErr != nil {
		details["error"] = taskErr.Error()
	}
	c.PublishTrustEvent(event.TaskFailed, event.SeverityNegative,
		impactTaskFailed, confidenceTaskFailed, details)
}

// ReportPolicyViolation reports that a governed action was blocked by
// policy.
func (c *Client) ReportPolicyViolation(reason string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["reason"] = reason
	c.PublishTrustEvent(event.PolicyViolation, event.SeverityCritical,
		impactPolicyViolation, confidencePolicyViolation, details)
}

// ReportUserFeedback reports an end-user rating for an execution. The
// rating also produces a trust event with the feedback impact scale: a
// helpful 5-star is +2.0, helpful 4-star +0.5, helpful 1-3 star neutral,
// and unhelpful feedback -2.0 regardless of rating.
func (c *Client) ReportUserFeedback(executionID, userID string, rating int, helpful bool, comment string) {
	if c.publisher == nil {
		return
	}

	feedbackType := "thumbs_down"
	if helpful {
		feedbackType = "thumbs_up"
	}
	now := c.now().UTC()

	c.publisher.Publish(event.StreamFeedback, event.Feedback{
		ExecutionID:  executionID,
		UserID:       userID,
		FeedbackType: feedbackType,
		Rating:       rating,
		Comment:      comment,
		Timestamp:    now,
	})

	c.publisher.Publish(event.StreamTrust, event.Trust{
		AgentID:    c.cfg.AgentID,
		EventType:  event.UserFeedback,
		Severity:   feedbackSeverity(rating, helpful),
		Impact:     event.FeedbackImpact(rating, helpful),
		Confidence: 1.0,
		Context: map[string]any{
			"execution_id": executionID,
			"user_id":      userID,
			"rating":       rating,
		},
		Timestamp: now,
	})
}

func feedbackSeverity(rating int, helpful bool) event.Severity {
	switch {
	case !helpful:
		return event.SeverityNegative
	case rating >= 4:
		return event.SeverityPositive
	default:
		return event.SeverityNeutral
	}
}

// PublishLLMInteraction records a full model call on the audit stream.
func (c *Client) PublishLLMInteraction(in event.LLMInteraction) {
	if c.publisher == nil {
		return
	}
	if in.AgentID == "" {
		in.AgentID = c.cfg.AgentID
	}
	if in.InteractionID == "" {
		in.InteractionID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = c.now().UTC()
	}
	if in.TotalTokens == 0 {
		in.TotalTokens = in.PromptTokens + in.CompletionTokens
	}
	c.publisher.Publish(event.StreamLLMInteractions, in)
}

// publishDecision records a permission-check outcome on the decision
// stream.
func (c *Client) publishDecision(actorID, resourceID string, permType PermissionType, result *CheckResult, elapsed time.Duration) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(event.StreamDecisions, event.Decision{
		ActorID:        actorID,
		ResourceID:     resourceID,
		PermissionType: string(permType),
		Allowed:        result.Allowed,
		Reason:         result.Reason,
		Cached:         result.Cached,
		LatencyMS:      float64(elapsed.Microseconds()) / 1000,
		Timestamp:      result.Timestamp.UTC(),
	})
}
