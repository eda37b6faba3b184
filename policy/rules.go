package policy

import "time"

// Decision is the outcome a rule requests when it matches.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionWarn            Decision = "warn"
	DecisionRequireApproval Decision = "require_approval"
)

// EnforcementLevel controls whether a matching deny actually blocks.
type EnforcementLevel string

const (
	EnforcementAdvisory EnforcementLevel = "advisory"
	EnforcementSoft     EnforcementLevel = "soft"
	EnforcementHard     EnforcementLevel = "hard"
	EnforcementCritical EnforcementLevel = "critical"
)

// Blocking reports whether a deny at this level blocks execution.
func (l EnforcementLevel) Blocking() bool {
	return l == EnforcementHard || l == EnforcementCritical
}

// Rule is a policy rule as delivered by the governance service.
// Expression is a CEL boolean expression over the request, actor,
// resource, and context namespaces.
type Rule struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Expression  string            `json:"expression"`
	Decision    Decision          `json:"decision"`
	Priority    int               `json:"priority"`
	Enforcement EnforcementLevel  `json:"enforcement"`
	Enabled     bool              `json:"enabled"`
	System      bool              `json:"is_system_policy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Context is the input to an evaluation. Each namespace is exposed to
// rule expressions as a map; nil maps evaluate as empty.
type Context struct {
	Request  map[string]any
	Actor    map[string]any
	Resource map[string]any
	Context  map[string]any
}

// Result is the outcome of evaluating all loaded rules against a context.
type Result struct {
	Decision   Decision
	Allowed    bool
	Matched    []string // rule IDs that matched, in evaluation order
	Violations []string // names of blocking rules that denied
	Warnings   []string // names of advisory/soft/warn rules that matched
	Reason     string
	Elapsed    time.Duration
}
