// Package fsm implements the Authority FSM: the state machine every
// proposed action moves through between being generated and either
// executing, expiring, or being rejected. No step skips another — a work
// order only ever reaches the dispatcher after passing through every gate
// this machine enforces.
//
// Canon Reference: docs/QUANTUMLIFE_CANON_V1.md §Ontology (Authority Grant)
// Technical Split Reference: docs/TECHNICAL_SPLIT_V1.md §3.3 Authority & Policy Engine
package fsm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"quantumlife/pkg/clock"
)

// State is one of the seven points in the authority lifecycle.
type State string

const (
	StateGenerated    State = "GENERATED"
	StateVisibleGhost State = "VISIBLE_GHOST"
	StatePreviewArmed State = "PREVIEW_ARMED"
	StateConfirmReady State = "CONFIRM_READY"
	StateExecuted     State = "EXECUTED"
	StateExpired      State = "EXPIRED"
	StateRejected     State = "REJECTED"
)

// HoldDuration is the structural confirmation hold — the minimum time a
// proposal must sit in PREVIEW_ARMED before CONFIRM_READY is reachable.
// This is not a configuration knob: it is a property of the authority
// model itself, not of any deployment.
const HoldDuration = 400 * time.Millisecond

// terminal reports whether a state accepts no further transitions.
func terminal(s State) bool {
	return s == StateExecuted || s == StateExpired || s == StateRejected
}

// transitionMatrix enumerates every legal edge. Any pair not present here
// is forbidden.
var transitionMatrix = map[State]map[State]bool{
	StateGenerated:    {StateVisibleGhost: true, StateRejected: true, StateExpired: true},
	StateVisibleGhost: {StatePreviewArmed: true, StateRejected: true, StateExpired: true},
	StatePreviewArmed: {StateConfirmReady: true, StateRejected: true, StateExpired: true},
	StateConfirmReady: {StateExecuted: true, StateRejected: true, StateExpired: true},
}

// ErrForbiddenTransition is returned when the requested edge is not in the
// transition matrix.
type ErrForbiddenTransition struct {
	From, To State
}

func (e *ErrForbiddenTransition) Error() string {
	return fmt.Sprintf("fsm: forbidden transition %s -> %s", e.From, e.To)
}

// ErrTerminalState is returned when any operation is attempted on an
// instance already in a terminal state.
var ErrTerminalState = errors.New("fsm: instance is in a terminal state")

// ErrContextInvalidated is returned when the instance's bound context has
// since switched to a different tuple.
var ErrContextInvalidated = errors.New("fsm: bound context has been invalidated")

// ErrHoldNotElapsed is returned by ConfirmReady when the structural hold
// has not yet run its full duration.
var ErrHoldNotElapsed = errors.New("fsm: confirmation hold has not elapsed")

// ContextValidator is satisfied by the context binding registry. It lets
// the FSM check, on every non-observer operation, that the context an
// instance is bound to is still the active one.
type ContextValidator interface {
	IsValid(contextID string, boundAt time.Time) bool
}

// TransitionRecord is one entry in an instance's append-only transition
// log.
type TransitionRecord struct {
	From State
	To   State
	At   time.Time
	Op   string
}

// Instance is a single work order's authority state machine.
type Instance struct {
	mu            sync.Mutex
	id            string
	contextID     string
	boundAt       time.Time
	state         State
	clk           clock.Clock
	ctxValidator  ContextValidator
	holdStartedAt *time.Time
	log           []TransitionRecord
}

// New constructs an Instance in GENERATED, bound to contextID. ctxValidator
// may be nil, in which case context checks are skipped (used by tests that
// exercise the FSM in isolation from context binding).
func New(id, contextID string, clk clock.Clock, ctxValidator ContextValidator) *Instance {
	now := clk.Now()
	return &Instance{
		id:           id,
		contextID:    contextID,
		boundAt:      now,
		state:        StateGenerated,
		clk:          clk,
		ctxValidator: ctxValidator,
		log: []TransitionRecord{
			{From: "", To: StateGenerated, At: now, Op: "GENERATE"},
		},
	}
}

// ID returns the instance's identifier.
func (i *Instance) ID() string {
	return i.id
}

// ContextID returns the context id this instance is bound to.
func (i *Instance) ContextID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.contextID
}

// State returns the current state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// IsTerminal reports whether the instance can no longer transition.
func (i *Instance) IsTerminal() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return terminal(i.state)
}

// Log returns a copy of the append-only transition history.
func (i *Instance) Log() []TransitionRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]TransitionRecord, len(i.log))
	copy(out, i.log)
	return out
}

// checkContext fails if the bound context has been invalidated, forcing the
// instance to EXPIRED first (unless already terminal). The operations below
// do not call it; they run the same check through checkContextLocked.
func (i *Instance) checkContext() error {
	if i.ctxValidator == nil {
		return nil
	}
	if i.ctxValidator.IsValid(i.contextID, i.boundAt) {
		return nil
	}
	if !terminal(i.state) {
		i.transitionLocked(StateExpired, "CONTEXT_INVALIDATED")
	}
	return ErrContextInvalidated
}

// transitionLocked performs an unconditional state change and logs it. The
// caller must already hold i.mu and must have already validated the edge.
func (i *Instance) transitionLocked(to State, op string) {
	from := i.state
	i.state = to
	i.log = append(i.log, TransitionRecord{From: from, To: to, At: i.clk.Now(), Op: op})
}

// move validates and performs to, failing with ErrTerminalState or
// ErrForbiddenTransition as appropriate.
func (i *Instance) move(to State, op string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkContextLocked(); err != nil {
		return err
	}
	if terminal(i.state) {
		return ErrTerminalState
	}
	if !transitionMatrix[i.state][to] {
		return &ErrForbiddenTransition{From: i.state, To: to}
	}
	i.transitionLocked(to, op)
	return nil
}

// checkContextLocked is the context check run at the top of every
// non-observer operation. It assumes i.mu is already held.
func (i *Instance) checkContextLocked() error {
	if i.ctxValidator == nil {
		return nil
	}
	if i.ctxValidator.IsValid(i.contextID, i.boundAt) {
		return nil
	}
	if !terminal(i.state) {
		i.transitionLocked(StateExpired, "CONTEXT_INVALIDATED")
	}
	return ErrContextInvalidated
}

// Reveal moves GENERATED -> VISIBLE_GHOST.
func (i *Instance) Reveal() error {
	return i.move(StateVisibleGhost, "REVEAL")
}

// ArmPreview moves VISIBLE_GHOST -> PREVIEW_ARMED and starts the
// confirmation hold timer. Calling ArmPreview again while already in
// PREVIEW_ARMED is a no-op that does not restart the timer — HOLD_START is
// idempotent.
func (i *Instance) ArmPreview() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkContextLocked(); err != nil {
		return err
	}
	if terminal(i.state) {
		return ErrTerminalState
	}
	if i.state == StatePreviewArmed {
		return nil
	}
	if !transitionMatrix[i.state][StatePreviewArmed] {
		return &ErrForbiddenTransition{From: i.state, To: StatePreviewArmed}
	}
	now := i.clk.Now()
	i.holdStartedAt = &now
	i.transitionLocked(StatePreviewArmed, "HOLD_START")
	return nil
}

// ConfirmReady moves PREVIEW_ARMED -> CONFIRM_READY. It fails with
// ErrHoldNotElapsed until HoldDuration has passed since ArmPreview,
// measured against the injected monotonic clock.
func (i *Instance) ConfirmReady() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkContextLocked(); err != nil {
		return err
	}
	if terminal(i.state) {
		return ErrTerminalState
	}
	if !transitionMatrix[i.state][StateConfirmReady] {
		return &ErrForbiddenTransition{From: i.state, To: StateConfirmReady}
	}
	if i.holdStartedAt == nil || i.clk.Now().Sub(*i.holdStartedAt) < HoldDuration {
		return ErrHoldNotElapsed
	}
	i.transitionLocked(StateConfirmReady, "CONFIRM_READY")
	return nil
}

// Execute moves CONFIRM_READY -> EXECUTED. The dispatcher does not drive FSM
// instances; the instance's owner calls Execute.
func (i *Instance) Execute() error {
	return i.move(StateExecuted, "EXECUTE")
}

// Reject moves any non-terminal state -> REJECTED.
func (i *Instance) Reject(reason string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkContextLocked(); err != nil {
		return err
	}
	if terminal(i.state) {
		return ErrTerminalState
	}
	i.transitionLocked(StateRejected, "REJECT:"+reason)
	return nil
}

// Expire moves any non-terminal state -> EXPIRED directly, bypassing the
// context check. The context check forces expiry through transitionLocked,
// not through Expire.
func (i *Instance) Expire() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if terminal(i.state) {
		return ErrTerminalState
	}
	i.transitionLocked(StateExpired, "EXPIRE")
	return nil
}
