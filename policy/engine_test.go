package policy

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testLogger())
	require.NoError(t, err)
	return e
}

func TestEvaluateEmptySnapshot(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(Context{})
	assert.True(t, res.Allowed)
	assert.Equal(t, DecisionAllow, res.Decision)
	assert.Empty(t, res.Matched)
}

func TestHardDenyShortCircuits(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{
			ID:          "block-admin",
			Name:        "no admin access",
			Expression:  `request.permission_type == "admin"`,
			Decision:    DecisionDeny,
			Priority:    100,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
		{
			ID:          "low-priority-allow",
			Expression:  `true`,
			Decision:    DecisionAllow,
			Priority:    1,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
	})

	res := e.Evaluate(Context{
		Request: map[string]any{"permission_type": "admin"},
	})
	require.False(t, res.Allowed)
	assert.Equal(t, DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "no admin access")
	// The low-priority rule never ran.
	assert.Equal(t, []string{"block-admin"}, res.Matched)
}

func TestAdvisoryDenyWarnsButAllows(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{
			ID:          "advisory",
			Name:        "prefer cheaper model",
			Expression:  `request.cost_usd > 1.0`,
			Decision:    DecisionDeny,
			Priority:    10,
			Enforcement: EnforcementAdvisory,
			Enabled:     true,
		},
	})

	res := e.Evaluate(Context{
		Request: map[string]any{"cost_usd": 2.5},
	})
	assert.True(t, res.Allowed)
	assert.Equal(t, DecisionWarn, res.Decision)
	assert.Equal(t, []string{"prefer cheaper model"}, res.Warnings)
}

func TestPriorityOrdering(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{
			ID:          "advisory-low",
			Name:        "advisory",
			Expression:  `true`,
			Decision:    DecisionDeny,
			Priority:    1,
			Enforcement: EnforcementAdvisory,
			Enabled:     true,
		},
		{
			ID:          "hard-high",
			Name:        "hard deny",
			Expression:  `true`,
			Decision:    DecisionDeny,
			Priority:    100,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
	})

	// The hard deny at priority 100 runs before the advisory at 1.
	res := e.Evaluate(Context{})
	require.False(t, res.Allowed)
	assert.Equal(t, []string{"hard-high"}, res.Matched)
}

func TestDisabledRulesSkipped(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{
			ID:          "disabled",
			Expression:  `true`,
			Decision:    DecisionDeny,
			Enforcement: EnforcementHard,
			Enabled:     false,
		},
	})

	assert.Equal(t, len(builtinRules), e.Current().Len())
	res := e.Evaluate(Context{})
	assert.True(t, res.Allowed)
}

func TestMalformedRuleSkipped(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{
			ID:          "broken",
			Expression:  `this is not CEL ((`,
			Decision:    DecisionDeny,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
		{
			ID:          "good",
			Expression:  `actor.id == "blocked"`,
			Decision:    DecisionDeny,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
	})

	// Only the valid rule made it into the snapshot, next to the
	// built-ins.
	assert.Equal(t, len(builtinRules)+1, e.Current().Len())

	res := e.Evaluate(Context{Actor: map[string]any{"id": "blocked"}})
	assert.False(t, res.Allowed)
}

func TestRuntimeErrorTreatedAsNonMatch(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{
			ID:          "missing-key",
			Expression:  `request.absent_key == "x"`,
			Decision:    DecisionDeny,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
	})

	res := e.Evaluate(Context{Request: map[string]any{}})
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Matched)
}

func TestRequireApproval(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{
			ID:          "high-cost-approval",
			Expression:  `request.cost_usd > 10.0`,
			Decision:    DecisionRequireApproval,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
	})

	res := e.Evaluate(Context{Request: map[string]any{"cost_usd": 50.0}})
	assert.True(t, res.Allowed)
	assert.Equal(t, DecisionRequireApproval, res.Decision)
}

func TestSnapshotVersionIncrements(t *testing.T) {
	e := newTestEngine(t)
	v0 := e.Current().Version

	e.Load(nil)
	e.Load(nil)
	assert.Equal(t, v0+2, e.Current().Version)
}

func TestConcurrentLoadAndEvaluate(t *testing.T) {
	e := newTestEngine(t)
	rules := []Rule{
		{
			ID:          "r1",
			Expression:  `actor.id == "deny-me"`,
			Decision:    DecisionDeny,
			Enforcement: EnforcementHard,
			Enabled:     true,
		},
	}
	e.Load(rules)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				e.Load(rules)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				res := e.Evaluate(Context{Actor: map[string]any{"id": "deny-me"}})
				if res.Allowed {
					t.Error("evaluation saw an inconsistent snapshot")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestStats(t *testing.T) {
	e := newTestEngine(t)
	e.Load([]Rule{
		{ID: "r", Expression: `true`, Decision: DecisionAllow, Enforcement: EnforcementSoft, Enabled: true},
	})

	for i := 0; i < 5; i++ {
		e.Evaluate(Context{})
	}

	stats := e.Stats()
	assert.Equal(t, uint64(5), stats.Evaluations)
	assert.Equal(t, len(builtinRules)+1, stats.RulesLoaded)
	assert.NotZero(t, stats.Version)
}

func TestBuiltinDLPRuleBlocks(t *testing.T) {
	e := newTestEngine(t)

	res := e.Evaluate(Context{Context: map[string]any{"dlp_verdict": "block"}})
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "sensitive content")

	res = e.Evaluate(Context{Context: map[string]any{"dlp_verdict": "clean"}})
	assert.True(t, res.Allowed)

	// Loading service rules never drops the built-ins.
	e.Load([]Rule{{ID: "r", Expression: `true`, Decision: DecisionAllow, Enforcement: EnforcementSoft, Enabled: true}})
	res = e.Evaluate(Context{Context: map[string]any{"dlp_verdict": "block"}})
	assert.False(t, res.Allowed)
}
