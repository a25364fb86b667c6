package bridge

import (
	"context"
	"errors"

	"quantumlife/internal/authority/workorder"
)

// LoopbackBridge always succeeds and echoes its payload back as output. It
// exists to exercise the dispatcher pipeline end to end (tests, demos,
// local development) without any real side effect.
type LoopbackBridge struct{}

func (LoopbackBridge) Execute(ctx context.Context, order *workorder.WorkOrder) (workorder.Result, error) {
	return workorder.Result{
		Status: workorder.StatusSuccess,
		Output: order.Payload,
	}, nil
}

// ErrGuarded is the fixed reason GuardedBridge always fails with.
var ErrGuarded = errors.New("bridge: guarded — execution blocked by design")

// GuardedBridge always fails with ErrGuarded. It proves the dispatcher's
// FAILED path — bridge routing, step timing, and forensic sealing of a
// failure — without ever producing a real effect, the same role the
// teacher's guarded adapter plays in its own demos.
type GuardedBridge struct{}

func (GuardedBridge) Execute(ctx context.Context, order *workorder.WorkOrder) (workorder.Result, error) {
	return workorder.Result{Status: workorder.StatusFailed, Error: ErrGuarded}, ErrGuarded
}
