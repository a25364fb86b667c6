package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxRegexMatches and maxRegexDuration bound every regex-based rule's work
// per evaluation, regardless of how Go's RE2 engine itself behaves. This
// keeps the engine's fail-closed guarantee true even if a future rule
// swaps in a different regex engine.
const (
	maxRegexMatches  = 1000
	maxRegexDuration = 50 * time.Millisecond
)

// boundedFindAll finds non-overlapping matches of re in s, stopping early
// once maxRegexMatches is reached or maxRegexDuration has elapsed.
func boundedFindAll(re *regexp.Regexp, s string) [][]int {
	deadline := time.Now().Add(maxRegexDuration)
	var matches [][]int
	offset := 0
	for offset <= len(s) {
		if len(matches) >= maxRegexMatches || time.Now().After(deadline) {
			break
		}
		loc := re.FindStringIndex(s[offset:])
		if loc == nil {
			break
		}
		start, end := loc[0]+offset, loc[1]+offset
		matches = append(matches, []int{start, end})
		if loc[1] == 0 {
			offset++
		} else {
			offset = end
		}
	}
	return matches
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// PIIRule flags free-text payload content that looks like personally
// identifying information, with severity LOW. The engine marks a result
// invalid on any violation, whatever its severity, so a PII match still
// makes the dispatcher fail the work order with a policy violation.
type PIIRule struct{}

func (PIIRule) Name() string { return "pii_detection" }

func (PIIRule) Evaluate(ctx SemanticContext) []Violation {
	var violations []Violation
	for name, pat := range map[string]*regexp.Regexp{
		"email": emailPattern,
		"ssn":   ssnPattern,
		"phone": phonePattern,
	} {
		if matches := boundedFindAll(pat, ctx.ActionText); len(matches) > 0 {
			violations = append(violations, Violation{
				Rule:     "pii_detection",
				Severity: SeverityLow,
				Reason:   fmt.Sprintf("action text contains a likely %s (%d match(es))", name, len(matches)),
			})
		}
	}
	return violations
}

// loopbackHosts are the only hosts an external call may target without
// tripping ExternalAPIRule.
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// ExternalAPIRule flags any external network call or websocket connection
// to a non-loopback host as HIGH severity.
type ExternalAPIRule struct{}

func (ExternalAPIRule) Name() string { return "external_api" }

func (ExternalAPIRule) Evaluate(ctx SemanticContext) []Violation {
	if !ctx.IsExternalCall {
		return nil
	}
	host := strings.ToLower(strings.TrimSpace(ctx.TargetHost))
	if loopbackHosts[host] {
		return nil
	}
	return []Violation{{
		Rule:     "external_api",
		Severity: SeverityHigh,
		Reason:   fmt.Sprintf("external call to non-loopback host %q", ctx.TargetHost),
	}}
}

// DestructiveProductionRule flags a destructive operation carrying a
// production marker as CRITICAL — the most severe built-in rule, reserved
// for actions that can irreversibly affect a live system.
type DestructiveProductionRule struct{}

func (DestructiveProductionRule) Name() string { return "destructive_production" }

func (DestructiveProductionRule) Evaluate(ctx SemanticContext) []Violation {
	if !ctx.IsDestructiveOp || !ctx.HasProductionMarker {
		return nil
	}
	return []Violation{{
		Rule:     "destructive_production",
		Severity: SeverityCritical,
		Reason:   "destructive operation targets a production-marked resource",
	}}
}

// BuiltinRules returns the engine's default rule set, in evaluation order.
func BuiltinRules() []Rule {
	return []Rule{
		PIIRule{},
		ExternalAPIRule{},
		DestructiveProductionRule{},
	}
}
