// Package workorder defines the Work Order and Bridge contract — the
// immutable unit of proposed execution that flows from the Authority FSM
// through the Quorum Gate, Policy Engine, and Execution Dispatcher to a
// Bridge.
//
// Canon Reference: docs/QUANTUMLIFE_CANON_V1.md §Ontology (Execution Intent)
package workorder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RiskLevel is the two-tier risk classification the spec's Policy Engine and
// Quorum Gate key off of. There is no MEDIUM tier — ambiguity resolves to
// HIGH at the Policy Engine (fail closed), never to LOW.
type RiskLevel string

const (
	RiskLow  RiskLevel = "LOW"
	RiskHigh RiskLevel = "HIGH"
)

// ExecutionDomain names the target domain of a work order (e.g. "email",
// "calendar", "finance", "commerce"). Domains are opaque strings so new
// bridges can register without changing this package.
type ExecutionDomain string

// BridgeType names the concrete bridge implementation a work order expects
// to be routed to within its domain (a domain may have more than one bridge
// type registered over time, e.g. during a migration).
type BridgeType string

// AuditBinding is the authorization receipt a work order carries into the
// dispatcher, which checks quorum and policy itself only after this
// binding has been accepted. A work order with a zero-value
// AuditBinding is rejected at the dispatcher's first gate — see
// dispatcher.ErrMissingAuditBinding.
type AuditBinding struct {
	AuditID      string
	ContextID    string
	ContextHash  string
	SourceHash   string
	AuthorizedAt time.Time
}

// IsBound reports whether this binding carries a non-empty audit id. An
// unbound AuditBinding is the zero value and is always rejected.
func (a AuditBinding) IsBound() bool {
	return a.AuditID != ""
}

// ForensicMeta carries human-facing context attached to a work order for
// the forensic log. It is optional: a work order may carry a nil
// *ForensicMeta and still dispatch, but investigators lose the narrative
// trail.
type ForensicMeta struct {
	Rationale      string
	AuthorityTrace []string
	Session        string
}

// WorkOrder is the immutable description of a single proposed execution.
// Callers obtain one via New, after which every field is considered frozen;
// nothing in this package mutates a WorkOrder in place.
type WorkOrder struct {
	ActionID    string
	Description string
	Domain      ExecutionDomain
	BridgeType  BridgeType
	Payload     map[string]any
	RiskLevel   RiskLevel
	Audit       AuditBinding
	Forensic    *ForensicMeta

	sealed bool
}

// New constructs a frozen WorkOrder. Payload is copied so the caller's map
// cannot mutate the order after construction.
func New(actionID, description string, domain ExecutionDomain, bridgeType BridgeType, payload map[string]any, risk RiskLevel) *WorkOrder {
	frozen := make(map[string]any, len(payload))
	for k, v := range payload {
		frozen[k] = v
	}
	return &WorkOrder{
		ActionID:    actionID,
		Description: description,
		Domain:      domain,
		BridgeType:  bridgeType,
		Payload:     frozen,
		RiskLevel:   risk,
		sealed:      true,
	}
}

// WithAudit returns a copy of the work order with its audit binding set.
// It does not mutate the receiver — WorkOrders are never mutated in place
// once sealed.
func (w *WorkOrder) WithAudit(audit AuditBinding) *WorkOrder {
	cp := *w
	cp.Audit = audit
	return &cp
}

// WithForensic returns a copy of the work order carrying forensic metadata.
func (w *WorkOrder) WithForensic(meta ForensicMeta) *WorkOrder {
	cp := *w
	cp.Forensic = &meta
	return &cp
}

// Sealed reports whether this WorkOrder was produced by New (as opposed to
// a zero-value struct literal, which should never reach the dispatcher).
func (w *WorkOrder) Sealed() bool {
	return w != nil && w.sealed
}

// ContentHash is the deterministic SHA-256 digest of the order's
// execution-relevant content (not its audit binding, which is attached
// after the hash that identifies the proposal itself). It is not the Policy
// Engine's cache key (that is policy.SemanticContext.ContentHash) and is
// not part of forensic entry hashing.
func (w *WorkOrder) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(w.ActionID))
	h.Write([]byte{0})
	h.Write([]byte(w.Description))
	h.Write([]byte{0})
	h.Write([]byte(w.Domain))
	h.Write([]byte{0})
	h.Write([]byte(w.BridgeType))
	h.Write([]byte{0})
	h.Write([]byte(w.RiskLevel))
	h.Write([]byte{0})
	h.Write([]byte(canonicalPayload(w.Payload)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalPayload renders a payload map as a deterministic string:
// sorted keys, fixed %v formatting. It does not attempt to be a general
// JSON canonicalizer — the payload is an opaque bag per the dispatcher's
// contract, so only a stable ordering is required, not a parseable format.
func canonicalPayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, payload[k])
	}
	return b.String()
}
