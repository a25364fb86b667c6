package lease

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"quantumlife/pkg/clock"
)

type noopForensic struct{}

func (noopForensic) WriteEntry(map[string]any) error { return nil }

func newTestManager(t *testing.T, clk clock.Clock) (*Manager, Store) {
	t.Helper()
	store := NewMemoryStore()
	ids := 0
	idGen := func() string {
		ids++
		return fmt.Sprintf("lease-test-%d", ids)
	}
	return NewManager(store, clk, idGen, noopForensic{}), store
}

func TestCreateLeaseHasLowRiskCeiling(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, _ := newTestManager(t, clk)

	l, err := mgr.CreateLease("session-a", "calendar", 0)
	if err != nil {
		t.Fatalf("CreateLease: %v", err)
	}
	if l.HeartbeatIntervalMS != DefaultHeartbeatIntervalMS {
		t.Errorf("expected default heartbeat interval, got %d", l.HeartbeatIntervalMS)
	}
}

func TestHeartbeatStrictlyGreaterThanInterval(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n := now
	clk := clock.NewFunc(func() time.Time { return n })
	mgr, _ := newTestManager(t, clk)

	l, err := mgr.CreateLease("session-a", "calendar", 100)
	if err != nil {
		t.Fatalf("CreateLease: %v", err)
	}

	// Landing exactly on the boundary must still be valid (strict '>').
	n = now.Add(100 * time.Millisecond)
	if err := mgr.Heartbeat(l.LeaseID); err != nil {
		t.Fatalf("heartbeat exactly at the interval boundary must succeed, got %v", err)
	}

	// Now strictly past the interval from the refreshed heartbeat.
	n = n.Add(101 * time.Millisecond)
	err = mgr.Heartbeat(l.LeaseID)
	if !errors.Is(err, ErrHeartbeatMissed) {
		t.Fatalf("expected ErrHeartbeatMissed once strictly past the interval, got %v", err)
	}
}

func TestValidateLowRiskScopeViolationDoesNotMutateLease(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, store := newTestManager(t, clk)

	l, err := mgr.CreateLease("session-a", "calendar", 100)
	if err != nil {
		t.Fatalf("CreateLease: %v", err)
	}

	err = mgr.ValidateLowRisk(l.LeaseID, "finance")
	if !errors.Is(err, ErrScopeViolation) {
		t.Fatalf("expected ErrScopeViolation, got %v", err)
	}

	after, ok, err := store.Get(l.LeaseID)
	if err != nil || !ok {
		t.Fatalf("lease must still exist: ok=%v err=%v", ok, err)
	}
	if after.IsRevoked {
		t.Error("a scope violation must not revoke the lease")
	}

	// The lease remains valid for its actual domain.
	if err := mgr.ValidateLowRisk(l.LeaseID, "calendar"); err != nil {
		t.Errorf("lease must remain valid for its own domain after a scope violation, got %v", err)
	}
}

func TestHandleHighRiskActionRevokesAllSessionLeases(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, store := newTestManager(t, clk)

	l1, _ := mgr.CreateLease("session-a", "calendar", 100)
	l2, _ := mgr.CreateLease("session-a", "email", 100)

	if err := mgr.HandleHighRiskAction("session-a"); err != nil {
		t.Fatalf("HandleHighRiskAction: %v", err)
	}

	for _, id := range []string{l1.LeaseID, l2.LeaseID} {
		l, _, _ := store.Get(id)
		if !l.IsRevoked || l.RevocationReason != ReasonRiskEscalation {
			t.Errorf("lease %s expected revoked with ReasonRiskEscalation, got revoked=%v reason=%s", id, l.IsRevoked, l.RevocationReason)
		}
	}
}

func TestRevokeIsMonotonic(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr, store := newTestManager(t, clk)

	l, _ := mgr.CreateLease("session-a", "calendar", 100)
	if err := mgr.Revoke(l.LeaseID, ReasonManual); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := mgr.Revoke(l.LeaseID, ReasonRiskEscalation); err != nil {
		t.Fatalf("second Revoke must be a no-op, not an error, got %v", err)
	}

	after, _, _ := store.Get(l.LeaseID)
	if after.RevocationReason != ReasonManual {
		t.Errorf("expected original revocation reason to stick, got %s", after.RevocationReason)
	}
}
