// Package policy implements the local rule cache and evaluation engine.
//
// Rules are compiled once at load time into CEL programs and published as
// an immutable snapshot behind an atomic pointer. Evaluate never performs
// I/O and never blocks on a snapshot swap: a reader holds one consistent
// snapshot for the whole evaluation.
package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agion",
		Subsystem: "policy",
		Name:      "evaluations_total",
		Help:      "Policy evaluations by final decision.",
	}, []string{"decision"})

	evalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agion",
		Subsystem: "policy",
		Name:      "evaluation_seconds",
		Help:      "Policy evaluation latency.",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
	})
)

// compiledRule pairs a rule with its compiled CEL program.
type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// Snapshot is an immutable, priority-ordered set of compiled rules.
type Snapshot struct {
	rules   []compiledRule // descending priority
	Version uint64
	Loaded  time.Time
}

// Len returns the number of usable rules in the snapshot.
func (s *Snapshot) Len() int { return len(s.rules) }

// Rules returns the rules in evaluation order.
func (s *Snapshot) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, cr := range s.rules {
		out[i] = cr.rule
	}
	return out
}

// builtinRules ship with the engine and survive every snapshot swap.
// The governance service cannot disable them.
var builtinRules = []Rule{
	{
		ID:          "system-dlp-block",
		Name:        "sensitive content blocked",
		Expression:  `context.dlp_verdict == "block"`,
		Decision:    DecisionDeny,
		Priority:    1000,
		Enforcement: EnforcementCritical,
		Enabled:     true,
		System:      true,
	},
}

// Engine evaluates CEL policy rules against a request context.
type Engine struct {
	env      *cel.Env
	builtin  []compiledRule
	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64
	logger   *slog.Logger

	evalCount atomic.Uint64
	evalNanos atomic.Uint64
}

// NewEngine creates an engine holding only the built-in system rules.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("actor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	e := &Engine{env: env, logger: logger}
	for _, r := range builtinRules {
		prg, err := e.compile(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("compiling builtin rule %s: %w", r.ID, err)
		}
		e.builtin = append(e.builtin, compiledRule{rule: r, prg: prg})
	}
	e.snapshot.Store(e.newSnapshot(nil))
	return e, nil
}

// Load compiles the given rules and atomically swaps them in as the new
// snapshot. Evaluations already in flight keep using the old snapshot.
// Disabled rules are kept out of the snapshot entirely; rules that fail
// to compile are logged and skipped so one bad rule cannot take the
// engine down.
func (e *Engine) Load(rules []Rule) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		prg, err := e.compile(r.Expression)
		if err != nil {
			e.logger.Warn("skipping malformed policy rule", "rule", r.ID, "error", err)
			continue
		}
		compiled = append(compiled, compiledRule{rule: r, prg: prg})
	}
	e.snapshot.Store(e.newSnapshot(compiled))
}

// newSnapshot combines the built-in rules with the loaded ones and sorts
// by descending priority.
func (e *Engine) newSnapshot(loaded []compiledRule) *Snapshot {
	all := make([]compiledRule, 0, len(e.builtin)+len(loaded))
	all = append(all, e.builtin...)
	all = append(all, loaded...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].rule.Priority > all[j].rule.Priority
	})
	return &Snapshot{
		rules:   all,
		Version: e.version.Add(1),
		Loaded:  time.Now(),
	}
}

// Current returns the active snapshot.
func (e *Engine) Current() *Snapshot { return e.snapshot.Load() }

func (e *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

// Evaluate runs the loaded rules against ctx in descending priority order.
// The first matching rule whose decision is deny at hard or critical
// enforcement short-circuits the evaluation; advisory and soft denials
// are recorded as warnings and do not block. A rule whose expression
// errors at runtime is treated as non-matching.
func (e *Engine) Evaluate(ctx Context) Result {
	start := time.Now()
	snap := e.snapshot.Load()

	input := map[string]any{
		"request":  orEmpty(ctx.Request),
		"actor":    orEmpty(ctx.Actor),
		"resource": orEmpty(ctx.Resource),
		"context":  orEmpty(ctx.Context),
	}

	res := Result{Decision: DecisionAllow, Allowed: true}

	for _, cr := range snap.rules {
		out, _, err := cr.prg.Eval(input)
		if err != nil {
			e.logger.Debug("policy rule eval error, treating as non-match",
				"rule", cr.rule.ID, "error", err)
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}

		res.Matched = append(res.Matched, cr.rule.ID)

		switch cr.rule.Decision {
		case DecisionDeny:
			if cr.rule.Enforcement.Blocking() {
				res.Decision = DecisionDeny
				res.Allowed = false
				res.Violations = append(res.Violations, cr.rule.Name)
				res.Reason = fmt.Sprintf("denied by policy %q", cr.rule.Name)
				res.Elapsed = e.finish(start, res.Decision)
				return res
			}
			res.Warnings = append(res.Warnings, cr.rule.Name)
		case DecisionWarn:
			res.Warnings = append(res.Warnings, cr.rule.Name)
		case DecisionRequireApproval:
			res.Decision = DecisionRequireApproval
		}
	}

	if res.Decision == DecisionAllow && len(res.Warnings) > 0 {
		res.Decision = DecisionWarn
	}
	res.Elapsed = e.finish(start, res.Decision)
	return res
}

func (e *Engine) finish(start time.Time, d Decision) time.Duration {
	elapsed := time.Since(start)
	e.evalCount.Add(1)
	e.evalNanos.Add(uint64(elapsed.Nanoseconds()))
	evalTotal.WithLabelValues(string(d)).Inc()
	evalSeconds.Observe(elapsed.Seconds())
	return elapsed
}

// Metrics is a point-in-time view of engine activity.
type Metrics struct {
	Evaluations    uint64        `json:"evaluations"`
	AverageLatency time.Duration `json:"average_latency"`
	RulesLoaded    int           `json:"rules_loaded"`
	Version        uint64        `json:"snapshot_version"`
}

// Stats returns evaluation metrics for the engine.
func (e *Engine) Stats() Metrics {
	count := e.evalCount.Load()
	var avg time.Duration
	if count > 0 {
		avg = time.Duration(e.evalNanos.Load() / count)
	}
	snap := e.snapshot.Load()
	return Metrics{
		Evaluations:    count,
		AverageLatency: avg,
		RulesLoaded:    snap.Len(),
		Version:        snap.Version,
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
