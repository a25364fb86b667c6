// Package authority wires the Authority FSM, Context Binding, Policy
// Engine, Quorum Gate, Lease Manager, Execution Dispatcher, Forensic Log,
// and Bridge Registry into a single Core value.
//
// There is deliberately no package-level singleton here: every public
// entry point takes a *Core explicitly, so two independent authority
// cores (e.g. in tests, or multiple tenants in one process) never share
// hidden state.
package authority

import (
	"sync"

	"github.com/google/uuid"

	"quantumlife/internal/authority/binding"
	"quantumlife/internal/authority/bridge"
	"quantumlife/internal/authority/dispatcher"
	"quantumlife/internal/authority/forensic"
	"quantumlife/internal/authority/fsm"
	"quantumlife/internal/authority/lease"
	"quantumlife/internal/authority/policy"
	"quantumlife/internal/authority/quorum"
	"quantumlife/pkg/clock"
	"quantumlife/pkg/events"
)

// Core is the single aggregate value an application wires up once at
// startup and threads through every public operation.
type Core struct {
	Clock      clock.Clock
	Context    *binding.Registry
	Policy     *policy.Engine
	Quorum     *quorum.Gate
	Lease      *lease.Manager
	Bridges    *bridge.Registry
	Forensic   *forensic.Log
	Dispatcher *dispatcher.Dispatcher

	mu        sync.Mutex
	instances map[string]*fsm.Instance
}

// Deps are the dependencies a caller assembles before calling New — Core
// does not reach into global config, so tests and production wiring share
// the same path. A nil Clock, ForensicStore, LeaseStore or Emitter is
// replaced by the real clock, an in-memory store or a no-op emitter.
type Deps struct {
	Clock         clock.Clock
	ContextTuple  binding.Tuple
	ForensicStore forensic.Store
	LeaseStore    lease.Store
	Emitter       events.Emitter
}

// New builds a Core from deps, using uuid.NewString for every internally
// generated id (forensic entry ids, lease ids).
func New(deps Deps) (*Core, error) {
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewReal()
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	ctxRegistry := binding.NewRegistry(deps.ContextTuple, clk.Now())

	forensicStore := deps.ForensicStore
	if forensicStore == nil {
		forensicStore = forensic.NewMemoryStore()
	}
	forensicLog, err := forensic.New(clk, forensicStore, uuid.NewString)
	if err != nil {
		return nil, err
	}

	leaseStore := deps.LeaseStore
	if leaseStore == nil {
		leaseStore = lease.NewMemoryStore()
	}
	leaseMgr := lease.NewManager(leaseStore, clk, uuid.NewString, leaseForensicWriter{log: forensicLog})

	quorumGate := quorum.NewGate()
	policyEngine := policy.New()
	bridgeRegistry := bridge.NewRegistry(nil)

	disp := dispatcher.New(quorumGate, leaseMgr, policyEngine, bridgeRegistry, forensicLog, clk, emitter, uuid.NewString)

	return &Core{
		Clock:      clk,
		Context:    ctxRegistry,
		Policy:     policyEngine,
		Quorum:     quorumGate,
		Lease:      leaseMgr,
		Bridges:    bridgeRegistry,
		Forensic:   forensicLog,
		Dispatcher: disp,
		instances:  make(map[string]*fsm.Instance),
	}, nil
}

// leaseForensicWriter adapts *forensic.Log, whose WriteEntry also returns
// the sealed entry, to lease.ForensicWriter.
type leaseForensicWriter struct {
	log *forensic.Log
}

func (w leaseForensicWriter) WriteEntry(payload map[string]any) error {
	_, err := w.log.WriteEntry(payload)
	return err
}

// SubmitProposal creates a new FSM instance bound to the core's current
// context, registers it, and returns it.
func (c *Core) SubmitProposal(actionID string) *fsm.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	tuple := c.Context.Bind()
	inst := fsm.New(actionID, tuple.ContextID, c.Clock, c.Context)
	c.instances[actionID] = inst
	return inst
}

// Instance returns the FSM instance for actionID, if one was submitted.
func (c *Core) Instance(actionID string) (*fsm.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[actionID]
	return inst, ok
}

// SwitchContext switches the core's active context. Every FSM instance
// bound to the prior context is invalidated (forced to EXPIRED on its
// next operation) unless next is identical to the current tuple.
func (c *Core) SwitchContext(next binding.Tuple) bool {
	return c.Context.Switch(next, c.Clock.Now())
}
