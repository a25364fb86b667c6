// Package quorum implements the Quorum Gate: the authorization envelope
// that accumulates attestations for a work order until enough distinct
// sessions have signed off, and never issues authorization on its own.
package quorum

import (
	"sync"
	"time"

	"quantumlife/internal/authority/workorder"
)

// RequiredSignatures returns how many distinct attestations a work order of
// the given risk level needs before its envelope is complete.
func RequiredSignatures(risk workorder.RiskLevel) int {
	if risk == workorder.RiskHigh {
		return 2
	}
	return 1
}

// Attestation is a single session's sign-off on a work order.
type Attestation struct {
	SessionID   string
	AttestedAt  time.Time
	Signature   string
}

// Envelope accumulates attestations for exactly one work order. It is a
// pure function of the unique-attestation multiset it holds: the same set
// of distinct session ids always yields the same IsComplete verdict,
// regardless of the order or timing in which they arrived.
type Envelope struct {
	mu                 sync.Mutex
	WorkOrderID        string
	RiskLevel          workorder.RiskLevel
	RequiredSignatures int
	attestations       []Attestation
	seen               map[string]bool
	complete           bool
}

// NewEnvelope creates an empty envelope for workOrderID at the given risk
// level.
func NewEnvelope(workOrderID string, risk workorder.RiskLevel) *Envelope {
	return &Envelope{
		WorkOrderID:        workOrderID,
		RiskLevel:          risk,
		RequiredSignatures: RequiredSignatures(risk),
		seen:               make(map[string]bool),
	}
}

// RegisterAttestation records a sign-off from sessionID. A duplicate
// sessionID (one already recorded on this envelope) is silently rejected:
// it is a no-op, not an error, and it does not change the envelope's
// completeness. Once an envelope is complete it is frozen — further calls
// are no-ops that simply report the already-final state.
func (e *Envelope) RegisterAttestation(sessionID string, at time.Time, signature string) (complete bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.complete {
		return true
	}
	if e.seen[sessionID] {
		return e.complete
	}
	e.seen[sessionID] = true
	e.attestations = append(e.attestations, Attestation{SessionID: sessionID, AttestedAt: at, Signature: signature})
	if len(e.attestations) >= e.RequiredSignatures {
		e.complete = true
	}
	return e.complete
}

// IsComplete reports whether enough distinct attestations have been
// registered.
func (e *Envelope) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

// Attestations returns a copy of the recorded attestations.
func (e *Envelope) Attestations() []Attestation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Attestation, len(e.attestations))
	copy(out, e.attestations)
	return out
}

// Gate holds one Envelope per work order. It never issues authorization
// itself — it only records and reports on attestations the caller
// collected elsewhere.
type Gate struct {
	mu        sync.RWMutex
	envelopes map[string]*Envelope
}

// NewGate constructs an empty Gate.
func NewGate() *Gate {
	return &Gate{envelopes: make(map[string]*Envelope)}
}

// EnvelopeFor returns the envelope for workOrderID, creating one at the
// given risk level if none exists yet.
func (g *Gate) EnvelopeFor(workOrderID string, risk workorder.RiskLevel) *Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	env, ok := g.envelopes[workOrderID]
	if !ok {
		env = NewEnvelope(workOrderID, risk)
		g.envelopes[workOrderID] = env
	}
	return env
}

// Register records an attestation against the work order's envelope,
// creating the envelope if this is the first attestation seen for it.
func (g *Gate) Register(workOrderID string, risk workorder.RiskLevel, sessionID string, at time.Time, signature string) (complete bool) {
	env := g.EnvelopeFor(workOrderID, risk)
	return env.RegisterAttestation(sessionID, at, signature)
}

// Lookup returns the envelope for a work order if one has been created.
func (g *Gate) Lookup(workOrderID string) (*Envelope, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	env, ok := g.envelopes[workOrderID]
	return env, ok
}
