package dispatcher

import (
	"errors"
	"fmt"

	"quantumlife/internal/authority/policy"
)

// ErrMissingAuditBinding is returned when a work order reaches Dispatch
// without a bound AuditBinding. This is the pipeline's first gate; quorum
// and policy are checked only after it passes.
var ErrMissingAuditBinding = errors.New("dispatcher: work order has no audit binding")

// ErrNoBridgeForDomain is returned when no bridge is registered for the
// work order's domain.
var ErrNoBridgeForDomain = errors.New("dispatcher: no bridge registered for domain")

// ErrCancelled is returned when the bridge execution step's context is
// cancelled before the bridge returns.
var ErrCancelled = errors.New("dispatcher: execution cancelled")

// ErrPolicyViolation wraps the Policy Engine's rejection of a work order.
type ErrPolicyViolation struct {
	Reason     string
	Severity   policy.Severity
	Violations []policy.Violation
}

func (e *ErrPolicyViolation) Error() string {
	return fmt.Sprintf("dispatcher: policy violation (%s): %s", e.Severity, e.Reason)
}

// ErrPolicyEngineError wraps a fatal Policy Engine failure (not a rule
// violation — the evaluator itself could not run). It is always fail
// closed.
type ErrPolicyEngineError struct {
	Inner error
}

func (e *ErrPolicyEngineError) Error() string {
	return fmt.Sprintf("dispatcher: policy engine error: %v", e.Inner)
}

func (e *ErrPolicyEngineError) Unwrap() error { return e.Inner }

// ErrBridgeException wraps any error or recovered panic a bridge produced.
type ErrBridgeException struct {
	Inner error
}

func (e *ErrBridgeException) Error() string {
	return fmt.Sprintf("dispatcher: bridge exception: %v", e.Inner)
}

func (e *ErrBridgeException) Unwrap() error { return e.Inner }
