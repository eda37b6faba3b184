// Package event defines the trust, feedback, and decision events the SDK
// reports to the governance event log.
package event

import "time"

// Type identifies what happened.
type Type string

const (
	TaskCompleted   Type = "task_completed"
	TaskFailed      Type = "task_failed"
	TimeoutExceeded Type = "timeout_exceeded"
	ResourceOveruse Type = "resource_overuse"
	PolicyViolation Type = "policy_violation"
	UserFeedback    Type = "user_feedback"
	Error           Type = "error"
)

// Severity classifies an event for trust calculations.
type Severity string

const (
	SeverityPositive Severity = "positive"
	SeverityNeutral  Severity = "neutral"
	SeverityNegative Severity = "negative"
	SeverityCritical Severity = "critical"
)

// Stream names on the governance event log.
const (
	StreamTrust           = "agion:events:trust"
	StreamFeedback        = "agion:events:feedback"
	StreamDecisions       = "agion:events:decisions"
	StreamLLMInteractions = "agion:events:llm_interactions"
)

// Trust reports agent behavior that should influence its trust score.
// Impact is bounded to [-1, +1] except for user feedback, where the
// governance service applies the larger feedback scale directly.
type Trust struct {
	AgentID    string         `json:"agent_id"`
	EventType  Type           `json:"event_type"`
	Severity   Severity       `json:"severity"`
	Impact     float64        `json:"impact"`
	Confidence float64        `json:"confidence"`
	Context    map[string]any `json:"context,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Feedback is an end-user rating of an agent execution.
type Feedback struct {
	ExecutionID  string    `json:"execution_id"`
	UserID       string    `json:"user_id"`
	FeedbackType string    `json:"feedback_type"` // thumbs_up or thumbs_down
	Rating       int       `json:"rating,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Decision records the outcome of a permission check for the
// governance-decision topic.
type Decision struct {
	ActorID        string    `json:"actor_id"`
	ResourceID     string    `json:"resource_id"`
	PermissionType string    `json:"permission_type"`
	Allowed        bool      `json:"allowed"`
	Reason         string    `json:"reason"`
	Cached         bool      `json:"cached"`
	LatencyMS      float64   `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// LLMInteraction captures a full model call for the audit trail.
type LLMInteraction struct {
	ExecutionID      string         `json:"execution_id"`
	AgentID          string         `json:"agent_id"`
	InteractionID    string         `json:"interaction_id"`
	Model            string         `json:"model"`
	Provider         string         `json:"provider"`
	SystemPrompt     string         `json:"system_prompt,omitempty"`
	UserPrompt       string         `json:"user_prompt"`
	ResponseText     string         `json:"response_text"`
	PromptTokens     int            `json:"prompt_tokens,omitempty"`
	CompletionTokens int            `json:"completion_tokens,omitempty"`
	TotalTokens      int            `json:"total_tokens,omitempty"`
	LatencyMS        float64        `json:"latency_ms"`
	CostEstimate     float64        `json:"cost_estimate,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// FeedbackImpact converts a user rating into a trust impact.
// A helpful 5-star rating is worth +2.0, a helpful 4-star +0.5, and a
// helpful 1-3 star rating is neutral. Unhelpful feedback is -2.0
// regardless of rating.
func FeedbackImpact(rating int, helpful bool) float64 {
	if !helpful {
		return -2.0
	}
	switch {
	case rating >= 5:
		return 2.0
	case rating == 4:
		return 0.5
	default:
		return 0
	}
}
