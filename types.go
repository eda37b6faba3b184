package agion

import "time"

// ResourceType classifies governed resources.
type ResourceType string

const (
	ResourceModelProvider ResourceType = "model_provider"
	ResourceAIModel       ResourceType = "ai_model"
	ResourceDatabase      ResourceType = "database"
	ResourceAPI           ResourceType = "api"
	ResourceStorage       ResourceType = "storage"
	ResourceMCPServer     ResourceType = "mcp_server"
	ResourceTool          ResourceType = "tool"
	ResourceWebhook       ResourceType = "webhook"
	ResourceCompute       ResourceType = "compute"
)

// ActorType classifies who is requesting access.
type ActorType string

const (
	ActorAgent   ActorType = "agent"
	ActorUser    ActorType = "user"
	ActorService ActorType = "service"
)

// PermissionType is the kind of access being requested.
type PermissionType string

const (
	PermissionUse     PermissionType = "use"
	PermissionRead    PermissionType = "read"
	PermissionWrite   PermissionType = "write"
	PermissionExecute PermissionType = "execute"
	PermissionAdmin   PermissionType = "admin"
)

// ResourceStatus is resource availability.
type ResourceStatus string

const (
	ResourceActive     ResourceStatus = "active"
	ResourceInactive   ResourceStatus = "inactive"
	ResourcePending    ResourceStatus = "pending"
	ResourceError      ResourceStatus = "error"
	ResourceDeprecated ResourceStatus = "deprecated"
)

// HealthStatus is resource health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// PermissionStatus is the permission lifecycle state.
type PermissionStatus string

const (
	PermissionPending   PermissionStatus = "pending"
	PermissionApproved  PermissionStatus = "approved"
	PermissionDenied    PermissionStatus = "denied"
	PermissionRevoked   PermissionStatus = "revoked"
	PermissionSuspended PermissionStatus = "suspended"
)

// RiskLevel classifies how dangerous a resource is to expose.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Resource is a governed resource in the platform.
type Resource struct {
	ID                string         `json:"id"`
	OrganizationID    string         `json:"organization_id"`
	ResourceType      ResourceType   `json:"resource_type"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	ResourceData      map[string]any `json:"resource_data,omitempty"`
	Status            ResourceStatus `json:"status"`
	HealthStatus      HealthStatus   `json:"health_status"`
	ParentResourceID  string         `json:"parent_resource_id,omitempty"`
	TrustTierRequired int            `json:"trust_tier_required"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	ComplianceLabels  []string       `json:"compliance_labels,omitempty"`
	DataResidency     string         `json:"data_residency,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedBy         string         `json:"created_by,omitempty"`
	UpdatedBy         string         `json:"updated_by,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Constraints are the usage limits attached to a permission. Nil fields
// mean unconstrained.
type Constraints struct {
	RateLimitRPM    *int     `json:"rate_limit_rpm,omitempty"`
	TokenLimitDay   *int64   `json:"token_limit_per_day,omitempty"`
	CostLimitDayUSD *float64 `json:"cost_limit_per_day_usd,omitempty"`
	AllowedHours    string   `json:"allowed_hours,omitempty"` // "09:00-17:00"
	AllowedDays     []string `json:"allowed_days,omitempty"`  // ["monday", ...]
}

// Usage tracks cumulative and current-day consumption for a permission.
type Usage struct {
	TotalRequests      int64      `json:"total_requests"`
	TotalTokens        int64      `json:"total_tokens"`
	TotalCostUSD       float64    `json:"total_cost_usd"`
	CurrentDayRequests int64      `json:"current_day_requests"`
	CurrentDayTokens   int64      `json:"current_day_tokens"`
	CurrentDayCostUSD  float64    `json:"current_day_cost_usd"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CurrentDayStart    *time.Time `json:"current_day_start,omitempty"`
}

// Permission grants an actor access to a resource, subject to
// constraints. Unique per (actor, actor type, resource, permission type).
type Permission struct {
	ID               string           `json:"id"`
	ActorID          string           `json:"actor_id"`
	ActorType        ActorType        `json:"actor_type"`
	ResourceID       string           `json:"resource_id"`
	PermissionType   PermissionType   `json:"permission_type"`
	Status           PermissionStatus `json:"status"`
	Purpose          string           `json:"purpose,omitempty"`
	Justification    string           `json:"justification,omitempty"`
	Constraints      Constraints      `json:"constraints"`
	Usage            Usage            `json:"usage_tracking"`
	RequestedBy      string           `json:"requested_by,omitempty"`
	ApprovedBy       string           `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
	ApprovalNotes    string           `json:"approval_notes,omitempty"`
	RevokedBy        string           `json:"revoked_by,omitempty"`
	RevokedAt        *time.Time       `json:"revoked_at,omitempty"`
	RevocationReason string           `json:"revocation_reason,omitempty"`
	RequestedAt      time.Time        `json:"requested_at"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// CheckResult is the outcome of a permission check.
type CheckResult struct {
	Allowed     bool           `json:"allowed"`
	Reason      string         `json:"reason"`
	Permission  *Permission    `json:"permission,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"` // remaining quota
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Cached      bool           `json:"-"`
}

// RemotePolicy is a policy record as stored by the governance service.
type RemotePolicy struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Type           string    `json:"type,omitempty"` // access, dlp, compliance, rate_limit
	Category       string    `json:"category,omitempty"`
	Priority       int       `json:"priority"`
	Enabled        bool      `json:"enabled"`
	PolicyLanguage string    `json:"policy_language,omitempty"` // cel or json
	PolicyExpr     string    `json:"policy_expr,omitempty"`
	Enforcement    string    `json:"enforcement,omitempty"`
	EnforcementLvl string    `json:"enforcement_level,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	IsSystemPolicy bool      `json:"is_system_policy"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Request/response shapes for the governance API.

// CreateResourceRequest registers a new governed resource.
type CreateResourceRequest struct {
	OrganizationID    string         `json:"organization_id"`
	ResourceType      ResourceType   `json:"resource_type"`
	Name              string         `json:"name"`
	ResourceData      map[string]any `json:"resource_data,omitempty"`
	Description       string         `json:"description,omitempty"`
	ParentResourceID  string         `json:"parent_resource_id,omitempty"`
	TrustTierRequired int            `json:"trust_tier_required"`
	RiskLevel         RiskLevel      `json:"risk_level,omitempty"`
	Status            ResourceStatus `json:"status,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	CreatedBy         string         `json:"created_by"`
}

// UpdateResourceRequest modifies resource fields; nil/zero fields are
// left unchanged by the service.
type UpdateResourceRequest struct {
	Name              string         `json:"name,omitempty"`
	Description       string         `json:"description,omitempty"`
	ResourceData      map[string]any `json:"resource_data,omitempty"`
	TrustTierRequired *int           `json:"trust_tier_required,omitempty"`
	RiskLevel         RiskLevel      `json:"risk_level,omitempty"`
	Status            ResourceStatus `json:"status,omitempty"`
	HealthStatus      HealthStatus   `json:"health_status,omitempty"`
	HealthMessage     string         `json:"health_message,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	UpdatedBy         string         `json:"updated_by,omitempty"`
}

// ResourceFilter selects resources for listing.
type ResourceFilter struct {
	OrganizationID string
	ResourceType   ResourceType
	Status         ResourceStatus
	RiskLevel      RiskLevel
	ParentID       string
	Limit          int
	Offset         int
}

// ResourceList is a paginated resource listing.
type ResourceList struct {
	Resources []Resource `json:"resources"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// RequestPermissionRequest asks for access to a resource. The created
// permission starts in status pending.
type RequestPermissionRequest struct {
	ActorID        string         `json:"actor_id"`
	ActorType      ActorType      `json:"actor_type"`
	ResourceID     string         `json:"resource_id"`
	PermissionType PermissionType `json:"permission_type"`
	Purpose        string         `json:"purpose"`
	Justification  string         `json:"justification,omitempty"`
	Constraints    *Constraints   `json:"constraints,omitempty"`
	RequestedBy    string         `json:"requested_by,omitempty"`
}

// PermissionFilter selects permissions for listing.
type PermissionFilter struct {
	ActorID        string
	ActorType      ActorType
	ResourceID     string
	PermissionType PermissionType
	Status         PermissionStatus
	Limit          int
	Offset         int
}

// PermissionList is a paginated permission listing.
type PermissionList struct {
	Permissions []Permission `json:"permissions"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

// CreatePolicyRequest creates a policy on the governance service.
type CreatePolicyRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Type           string   `json:"type"`
	Category       string   `json:"category,omitempty"`
	Priority       int      `json:"priority"`
	Enabled        bool     `json:"enabled"`
	PolicyLanguage string   `json:"policy_language"`
	PolicyExpr     string   `json:"policy_expr"`
	Tags           []string `json:"tags,omitempty"`
	CreatedBy      string   `json:"created_by,omitempty"`
}

// UpdatePolicyRequest carries partial policy updates; nil fields are
// left unchanged.
type UpdatePolicyRequest struct {
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	PolicyExpr  *string `json:"policy_expr,omitempty"`
}

// PolicyEvaluation is the result of a server-side test evaluation.
type PolicyEvaluation struct {
	PolicyID  string    `json:"policy_id"`
	Result    string    `json:"result"` // allow or deny
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PolicyList is a policy listing.
type PolicyList struct {
	Policies []RemotePolicy `json:"policies"`
	Total    int            `json:"total"`
}
