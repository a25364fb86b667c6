// Package dispatcher implements the Execution Dispatcher: the single
// ordered pipeline every work order passes through between authorization
// and a bridge actually touching the world.
//
// Canon Reference: docs/TECHNICAL_SPLIT_V1.md §3.7 Audit & Governance Layer
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quantumlife/internal/authority/bridge"
	"quantumlife/internal/authority/forensic"
	"quantumlife/internal/authority/lease"
	"quantumlife/internal/authority/policy"
	"quantumlife/internal/authority/quorum"
	"quantumlife/internal/authority/workorder"
	"quantumlife/pkg/clock"
	"quantumlife/pkg/events"
)

// tracer emits one span per dispatch and one child span per pipeline step.
// It is the global tracer provider's no-op implementation until a caller
// (authorityd's main) installs a real provider via otel.SetTracerProvider.
var tracer = otel.Tracer("quantumlife/authority/dispatcher")

// Dispatcher orchestrates the seven-step dispatch pipeline. A single
// Dispatcher instance serializes Dispatch calls so forensic entries are
// written in completion order, matching the single-threaded cooperative
// core the rest of the authority subsystem assumes.
type Dispatcher struct {
	mu       sync.Mutex
	quorum   *quorum.Gate
	lease    *lease.Manager
	policy   *policy.Engine
	bridges  *bridge.Registry
	forensic *forensic.Log
	clk      clock.Clock
	emitter  events.Emitter
	idGen    func() string
}

// New wires a Dispatcher from its six subsystems. emitter may be
// events.NoopEmitter{} when observability is not wired up.
func New(quorumGate *quorum.Gate, leaseMgr *lease.Manager, policyEngine *policy.Engine, bridges *bridge.Registry, forensicLog *forensic.Log, clk clock.Clock, emitter events.Emitter, idGen func() string) *Dispatcher {
	return &Dispatcher{
		quorum:   quorumGate,
		lease:    leaseMgr,
		policy:   policyEngine,
		bridges:  bridges,
		forensic: forensicLog,
		clk:      clk,
		emitter:  emitter,
		idGen:    idGen,
	}
}

// Dispatch runs order through the full pipeline. leaseID is optional: a
// non-empty leaseID opts a LOW-risk order into the lease fast path, which
// skips quorum and policy entirely when the lease validates. An empty
// leaseID always takes the full quorum-then-policy path.
func (d *Dispatcher) Dispatch(ctx context.Context, order *workorder.WorkOrder, sessionID, leaseID string, semantic policy.SemanticContext) (workorder.Result, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.dispatch", trace.WithAttributes(
		attribute.String("action_id", order.ActionID),
		attribute.String("domain", string(order.Domain)),
		attribute.String("risk_level", string(order.RiskLevel)),
	))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	result, err := d.dispatchLocked(ctx, order, sessionID, leaseID, semantic)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (d *Dispatcher) dispatchLocked(ctx context.Context, order *workorder.WorkOrder, sessionID, leaseID string, semantic policy.SemanticContext) (workorder.Result, error) {
	// Step 1: audit-binding gate.
	if err := d.step(ctx, "audit_binding", func() error {
		if !order.Audit.IsBound() {
			return ErrMissingAuditBinding
		}
		return nil
	}); err != nil {
		return workorder.Result{}, err
	}

	// Step 2: risk pre-check.
	var fastPath bool
	if err := d.step(ctx, "risk_precheck", func() error {
		if order.RiskLevel == workorder.RiskHigh {
			if err := d.lease.HandleHighRiskAction(sessionID); err != nil {
				return fmt.Errorf("dispatcher: risk escalation handling: %w", err)
			}
			return nil
		}
		if leaseID != "" {
			if err := d.lease.ValidateLowRisk(leaseID, string(order.Domain)); err != nil {
				return err
			}
			fastPath = true
		}
		return nil
	}); err != nil {
		return workorder.Result{}, err
	}
	if fastPath {
		// A valid lease short-circuits straight to bridge routing.
		return d.routeAndExecute(ctx, order)
	}

	// Step 3: quorum composition.
	var pending bool
	_ = d.step(ctx, "quorum_composition", func() error {
		env, ok := d.quorum.Lookup(order.ActionID)
		pending = !ok || !env.IsComplete()
		return nil
	})
	if pending {
		return workorder.Result{
			AuditID: order.Audit.AuditID,
			Status:  workorder.StatusPendingAttestation,
		}, nil
	}

	// Step 4: policy audit.
	if err := d.step(ctx, "policy_audit", func() error {
		result, err := d.policy.Evaluate(semantic)
		if err != nil {
			return &ErrPolicyEngineError{Inner: err}
		}
		if !result.IsValid {
			return &ErrPolicyViolation{
				Reason:     result.Reason,
				Severity:   policy.HighestSeverity(result.Violations),
				Violations: result.Violations,
			}
		}
		return nil
	}); err != nil {
		return workorder.Result{}, err
	}

	return d.routeAndExecute(ctx, order)
}

// step runs fn inside its own child span, named "dispatcher.<name>", and
// records fn's error on the span before returning it.
func (d *Dispatcher) step(ctx context.Context, name string, fn func() error) error {
	_, span := tracer.Start(ctx, "dispatcher."+name)
	defer span.End()
	if err := fn(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// routeAndExecute performs steps 5-7: bridge routing, bridge execution,
// and forensic sealing.
func (d *Dispatcher) routeAndExecute(ctx context.Context, order *workorder.WorkOrder) (workorder.Result, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.route_and_execute")
	defer span.End()

	var b workorder.Bridge
	if err := d.step(ctx, "bridge_routing", func() error {
		bridge, ok := d.bridges.Lookup(order.Domain)
		if !ok {
			return ErrNoBridgeForDomain
		}
		b = bridge
		return nil
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return workorder.Result{}, err
	}

	result, execErr := d.executeBridgeTraced(ctx, b, order)

	var entry forensic.Entry
	var sealErr error
	_ = d.step(ctx, "forensic_seal", func() error {
		entry, sealErr = d.forensic.WriteEntry(map[string]any{
			"audit_id":   order.Audit.AuditID,
			"action_id":  order.ActionID,
			"domain":     string(order.Domain),
			"risk_level": string(order.RiskLevel),
			"status":     string(result.Status),
		})
		return sealErr
	})
	if sealErr == nil {
		result.ForensicEntryID = entry.EntryID
	}
	// A forensic seal failure never reverts or masks the execution result —
	// it is reported via the emitter and the result stands as computed.
	if sealErr != nil {
		d.emitter.Emit(events.Event{
			ID:        d.idGen(),
			Type:      events.EventForensicSealFailed,
			Timestamp: d.clk.Now(),
			SubjectID: order.ActionID,
			Metadata:  map[string]string{"forensic_seal_error": sealErr.Error()},
		})
	}

	return result, execErr
}

// executeBridgeTraced wraps executeBridge in step 6's span.
func (d *Dispatcher) executeBridgeTraced(ctx context.Context, b workorder.Bridge, order *workorder.WorkOrder) (workorder.Result, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.bridge_execution")
	defer span.End()
	result, err := d.executeBridge(ctx, b, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// executeBridge calls the bridge's Execute inside a cancellable goroutine:
// a panic is recovered into ErrBridgeException, and cancellation of ctx
// returns ErrCancelled without waiting for the bridge. No timeout is
// applied beyond ctx's own deadline.
func (d *Dispatcher) executeBridge(ctx context.Context, b workorder.Bridge, order *workorder.WorkOrder) (workorder.Result, error) {
	type outcome struct {
		result workorder.Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{
					result: workorder.Result{Status: workorder.StatusFailed},
					err:    &ErrBridgeException{Inner: fmt.Errorf("panic: %v", r)},
				}
			}
		}()
		res, err := b.Execute(ctx, order)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return workorder.Result{
			AuditID:    order.Audit.AuditID,
			Status:     workorder.StatusFailed,
			ExecutedAt: d.clk.Now(),
			Error:      ErrCancelled,
		}, ErrCancelled
	case o := <-ch:
		o.result.AuditID = order.Audit.AuditID
		o.result.ExecutedAt = d.clk.Now()
		if o.err != nil {
			o.result.Status = workorder.StatusFailed
			o.result.Error = o.err
			if _, wrapped := o.err.(*ErrBridgeException); !wrapped {
				o.err = &ErrBridgeException{Inner: o.err}
				o.result.Error = o.err
			}
			return o.result, o.err
		}
		if o.result.Status == "" {
			o.result.Status = workorder.StatusSuccess
		}
		return o.result, nil
	}
}
