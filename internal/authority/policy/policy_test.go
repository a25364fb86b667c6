package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIRuleDetectsEmail(t *testing.T) {
	ctx := SemanticContext{ActionText: "send report to alice@example.com please"}
	violations := PIIRule{}.Evaluate(ctx)
	require.Len(t, violations, 1)
	assert.Equal(t, SeverityLow, violations[0].Severity)
}

func TestExternalAPIRuleAllowsLoopback(t *testing.T) {
	ctx := SemanticContext{IsExternalCall: true, TargetHost: "127.0.0.1"}
	assert.Empty(t, ExternalAPIRule{}.Evaluate(ctx))
}

func TestExternalAPIRuleFlagsNonLoopback(t *testing.T) {
	ctx := SemanticContext{IsExternalCall: true, TargetHost: "api.example.com"}
	violations := ExternalAPIRule{}.Evaluate(ctx)
	require.Len(t, violations, 1)
	assert.Equal(t, SeverityHigh, violations[0].Severity)
}

func TestDestructiveProductionRuleRequiresBoth(t *testing.T) {
	assert.Empty(t, DestructiveProductionRule{}.Evaluate(SemanticContext{IsDestructiveOp: true}))
	assert.Empty(t, DestructiveProductionRule{}.Evaluate(SemanticContext{HasProductionMarker: true}))

	violations := DestructiveProductionRule{}.Evaluate(SemanticContext{IsDestructiveOp: true, HasProductionMarker: true})
	require.Len(t, violations, 1)
	assert.Equal(t, SeverityCritical, violations[0].Severity)
}

func TestEngineEvaluateFailsClosedOnViolation(t *testing.T) {
	e := New()
	result, err := e.Evaluate(SemanticContext{IsDestructiveOp: true, HasProductionMarker: true})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Violations)
}

func TestEngineEvaluateCleanContextIsValid(t *testing.T) {
	e := New()
	result, err := e.Evaluate(SemanticContext{ActionText: "reply to the weekly status thread"})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestEngineEvaluateUsesCache(t *testing.T) {
	e := New()
	ctx := SemanticContext{ActionText: "nothing interesting here"}
	first, err := e.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, e.cache.len())
	second, err := e.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHighestSeverityRanksCorrectly(t *testing.T) {
	violations := []Violation{
		{Severity: SeverityLow},
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
	}
	assert.Equal(t, SeverityCritical, HighestSeverity(violations))
	assert.Equal(t, Severity(""), HighestSeverity(nil))
}

func TestResultCacheFIFOEviction(t *testing.T) {
	c := newResultCache(2)
	c.put("a", Result{Reason: "a"})
	c.put("b", Result{Reason: "b"})
	c.put("c", Result{Reason: "c"}) // evicts "a", the oldest insertion

	if _, ok := c.get("a"); ok {
		t.Error("expected \"a\" to have been evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Error("expected \"b\" to remain cached")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("expected \"c\" to remain cached")
	}
}

func TestResultCacheGetDoesNotTouchOrder(t *testing.T) {
	c := newResultCache(2)
	c.put("a", Result{Reason: "a"})
	c.put("b", Result{Reason: "b"})
	c.get("a") // repeated reads must not promote "a" out of FIFO order
	c.put("c", Result{Reason: "c"})

	if _, ok := c.get("a"); ok {
		t.Error("cache eviction must be pure insertion-order FIFO, not recency-based LRU")
	}
}
