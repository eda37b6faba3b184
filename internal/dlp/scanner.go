// Package dlp scans governed-action payloads for sensitive content
// (credentials, keys, personal identifiers) before they leave the agent.
// The verdict is injected into the policy context so rules can act on it.
package dlp

import (
	"context"
	"fmt"

	"github.com/garagon/aguara"
)

// Verdict is the scan outcome fed to the policy engine.
type Verdict string

const (
	VerdictClean Verdict = "clean"
	VerdictFlag  Verdict = "flag"
	VerdictBlock Verdict = "block"
)

// Finding describes one triggered detection rule.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Match    string `json:"match,omitempty"`
}

// Outcome holds the result of scanning a payload.
type Outcome struct {
	Verdict  Verdict
	Findings []Finding
}

// Scanner wraps the Aguara engine for in-process content scanning.
type Scanner struct {
	opts []aguara.Option
}

// NewScanner creates a scanner with Aguara's built-in rules. If
// customRulesDir is non-empty, rules from that directory are loaded too.
func NewScanner(customRulesDir string) *Scanner {
	s := &Scanner{}
	if customRulesDir != "" {
		s.opts = append(s.opts, aguara.WithCustomRules(customRulesDir))
	}
	return s
}

// Scan checks a payload and returns a verdict. Critical findings block,
// high-severity findings flag; everything else is clean.
func (s *Scanner) Scan(ctx context.Context, payload string) (*Outcome, error) {
	result, err := aguara.ScanContent(ctx, payload, "payload.md", s.opts...)
	if err != nil {
		return nil, fmt.Errorf("aguara scan: %w", err)
	}

	outcome := &Outcome{Verdict: VerdictClean}
	for _, f := range result.Findings {
		outcome.Findings = append(outcome.Findings, Finding{
			RuleID:   f.RuleID,
			Name:     f.RuleName,
			Severity: f.Severity.String(),
			Match:    truncate(f.MatchedText, 200),
		})

		switch {
		case f.Severity >= aguara.SeverityCritical:
			outcome.Verdict = VerdictBlock
		case f.Severity >= aguara.SeverityHigh && outcome.Verdict == VerdictClean:
			outcome.Verdict = VerdictFlag
		}
	}
	return outcome, nil
}

// RulesCount returns the number of loaded detection rules.
func (s *Scanner) RulesCount(ctx context.Context) int {
	result, err := aguara.ScanContent(ctx, "probe", "probe.md", s.opts...)
	if err != nil {
		return 0
	}
	return result.RulesLoaded
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
