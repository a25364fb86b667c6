package lease

import (
	"fmt"
	"sync"
	"time"

	"quantumlife/internal/authority/workorder"
	"quantumlife/pkg/clock"
)

// ForensicWriter is the narrow slice of the forensic log the Lease
// Manager needs: every lease creation and revocation is sealed before the
// call that triggered it returns to its caller.
type ForensicWriter interface {
	WriteEntry(payload map[string]any) error
}

// Manager owns lease creation, heartbeat liveness, and revocation. It
// never resurrects a revoked lease — revocation is monotonic.
type Manager struct {
	mu       sync.Mutex
	store    Store
	clk      clock.Clock
	idGen    func() string
	forensic ForensicWriter
}

// NewManager constructs a Manager. idGen supplies lease ids; pass
// uuid.NewString for production use.
func NewManager(store Store, clk clock.Clock, idGen func() string, forensic ForensicWriter) *Manager {
	return &Manager{store: store, clk: clk, idGen: idGen, forensic: forensic}
}

// CreateLease issues a new, active lease scoped to domain for sessionID.
// RiskCeiling is always LOW — a lease never authorizes HIGH-risk actions;
// those bypass leases entirely. heartbeatIntervalMS defaults to
// DefaultHeartbeatIntervalMS when zero.
func (m *Manager) CreateLease(sessionID, domain string, heartbeatIntervalMS int64) (*AuthorityLease, error) {
	if heartbeatIntervalMS <= 0 {
		heartbeatIntervalMS = DefaultHeartbeatIntervalMS
	}
	now := m.clk.Now()
	l := &AuthorityLease{
		LeaseID:             m.idGen(),
		SessionID:           sessionID,
		Domain:              domain,
		RiskCeiling:         workorder.RiskLow,
		CreatedAt:           now,
		ExpiresAt:           now.Add(DefaultLeaseLifetime),
		HeartbeatIntervalMS: heartbeatIntervalMS,
		LastHeartbeatAt:     now,
	}
	if err := m.store.Put(l); err != nil {
		return nil, fmt.Errorf("lease: create: %w", err)
	}
	if err := m.writeForensic("lease.created", l); err != nil {
		return nil, err
	}
	return l, nil
}

// Heartbeat records a liveness signal for leaseID. The heartbeat
// invariant is strict: if strictly more than HeartbeatIntervalMS has
// elapsed since the previous heartbeat (now.Sub(last) > interval, using
// `>` and not `>=`), the lease is revoked immediately with
// ReasonHeartbeatMissed and ErrHeartbeatMissed is returned. There is no
// grace period.
func (m *Manager) Heartbeat(leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok, err := m.store.Get(leaseID)
	if err != nil {
		return fmt.Errorf("lease: heartbeat: %w", err)
	}
	if !ok {
		return ErrLeaseNotFound
	}
	if l.IsRevoked {
		return ErrLeaseRevoked
	}
	now := m.clk.Now()
	if now.Sub(l.LastHeartbeatAt) > l.Interval() {
		return m.revokeLocked(l, ReasonHeartbeatMissed, now, ErrHeartbeatMissed)
	}
	l.LastHeartbeatAt = now
	if err := m.store.Update(l); err != nil {
		return fmt.Errorf("lease: heartbeat update: %w", err)
	}
	return nil
}

// ValidateLowRisk checks whether leaseID currently authorizes a LOW-risk
// work order in domain. A lease whose last heartbeat is strictly more than
// its interval old is revoked with ReasonHeartbeatMissed and
// ErrHeartbeatMissed is returned. It never mutates lease state on a scope
// mismatch — per the resolved design question, a scope violation
// invalidates only the attempted dispatch, not the lease or any other
// lease in the session.
func (m *Manager) ValidateLowRisk(leaseID, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok, err := m.store.Get(leaseID)
	if err != nil {
		return fmt.Errorf("lease: validate: %w", err)
	}
	if !ok {
		return ErrLeaseExpired
	}
	if l.IsRevoked {
		return ErrLeaseRevoked
	}
	now := m.clk.Now()
	if now.After(l.ExpiresAt) {
		return ErrLeaseExpired
	}
	if now.Sub(l.LastHeartbeatAt) > l.Interval() {
		return m.revokeLocked(l, ReasonHeartbeatMissed, now, ErrHeartbeatMissed)
	}
	if l.Domain != domain {
		return ErrScopeViolation
	}
	return nil
}

// HandleHighRiskAction revokes every active lease sessionID holds, with
// ReasonRiskEscalation. HIGH-risk work orders never consult a lease for
// authorization — this only exists to keep an active lease from
// outliving the moment its session proved it can act outside the LOW
// ceiling.
func (m *Manager) HandleHighRiskAction(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	active, err := m.store.ActiveForSession(sessionID)
	if err != nil {
		return fmt.Errorf("lease: risk escalation lookup: %w", err)
	}
	now := m.clk.Now()
	for _, l := range active {
		if err := m.revokeLocked(l, ReasonRiskEscalation, now, nil); err != nil {
			return err
		}
	}
	return nil
}

// Revoke manually revokes a lease. Revoking an already-revoked lease is a
// no-op — revocation never un-happens and never re-happens with a
// different reason.
func (m *Manager) Revoke(leaseID string, reason Reason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok, err := m.store.Get(leaseID)
	if err != nil {
		return fmt.Errorf("lease: revoke: %w", err)
	}
	if !ok {
		return ErrLeaseNotFound
	}
	if l.IsRevoked {
		return nil
	}
	return m.revokeLocked(l, reason, m.clk.Now(), nil)
}

// revokeLocked performs the revocation and forensic write, then returns
// sentinel (which may be nil) so callers can thread ErrHeartbeatMissed
// through without a second branch.
func (m *Manager) revokeLocked(l *AuthorityLease, reason Reason, now time.Time, sentinel error) error {
	l.IsRevoked = true
	revokedAt := now
	l.RevokedAt = &revokedAt
	l.RevocationReason = reason
	if err := m.store.Update(l); err != nil {
		return fmt.Errorf("lease: revoke update: %w", err)
	}
	if err := m.writeForensic("lease.revoked", l); err != nil {
		return err
	}
	return sentinel
}

func (m *Manager) writeForensic(kind string, l *AuthorityLease) error {
	if m.forensic == nil {
		return nil
	}
	payload := map[string]any{
		"kind":       kind,
		"lease_id":   l.LeaseID,
		"session_id": l.SessionID,
		"domain":     l.Domain,
	}
	if l.IsRevoked {
		payload["revocation_reason"] = string(l.RevocationReason)
	}
	if err := m.forensic.WriteEntry(payload); err != nil {
		return fmt.Errorf("lease: forensic write: %w", err)
	}
	return nil
}
