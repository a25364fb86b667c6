package lease

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"quantumlife/pkg/clock"
)

func TestMonitorRevokesSilentlyStoppedHeartbeats(t *testing.T) {
	defer goleak.VerifyNone(t)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var nowNanos atomic.Int64
	nowNanos.Store(start.UnixNano())
	clk := clock.NewFunc(func() time.Time { return time.Unix(0, nowNanos.Load()).UTC() })
	mgr, store := newTestManager(t, clk)

	l, err := mgr.CreateLease("session-a", "calendar", 10)
	if err != nil {
		t.Fatalf("CreateLease: %v", err)
	}

	nowNanos.Store(start.Add(50 * time.Millisecond).UnixNano())
	monitor := NewMonitor(mgr, store, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current, ok, err := store.Get(l.LeaseID)
		if err == nil && ok && current.IsRevoked {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	monitor.Stop()
	cancel()

	current, ok, err := store.Get(l.LeaseID)
	if err != nil || !ok {
		t.Fatalf("lease lookup failed: ok=%v err=%v", ok, err)
	}
	if !current.IsRevoked || current.RevocationReason != ReasonHeartbeatMissed {
		t.Errorf("expected monitor to revoke the silently-expired lease, got revoked=%v reason=%s", current.IsRevoked, current.RevocationReason)
	}
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewFixed(time.Now())
	mgr, store := newTestManager(t, clk)
	monitor := NewMonitor(mgr, store, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	monitor.Start(ctx) // must be a no-op, not a second goroutine
	monitor.Stop()
}
