package binding

import (
	"testing"
	"time"
)

func TestSwitchToIdenticalTupleIsNoop(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tuple := Tuple{ContextID: "ctx-1", Timestamp: now, SourceHash: "h1"}
	reg := NewRegistry(tuple, now)

	activeSinceBefore := reg.activeSince

	changed := reg.Switch(Tuple{ContextID: "ctx-1", Timestamp: now.Add(time.Hour), SourceHash: "h1"}, now.Add(time.Hour))
	if changed {
		t.Error("switching to an identical (ContextID, SourceHash) tuple must report no change")
	}
	if reg.activeSince != activeSinceBefore {
		t.Error("a no-op switch must not update activeSince")
	}
}

func TestSwitchToDifferentTupleInvalidatesPriorBindings(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tuple := Tuple{ContextID: "ctx-1", Timestamp: now, SourceHash: "h1"}
	reg := NewRegistry(tuple, now)

	boundAt := now
	if !reg.IsValid("ctx-1", boundAt) {
		t.Fatal("binding made before any switch must be valid")
	}

	switchedAt := now.Add(time.Minute)
	changed := reg.Switch(Tuple{ContextID: "ctx-2", Timestamp: switchedAt, SourceHash: "h2"}, switchedAt)
	if !changed {
		t.Fatal("switching to a distinct tuple must report a change")
	}

	if reg.IsValid("ctx-1", boundAt) {
		t.Error("a binding from before the switch must now be invalid")
	}
	if !reg.IsValid("ctx-2", switchedAt) {
		t.Error("a binding at or after the switch must be valid")
	}
}

func TestValidateActionRequiresSourceHashMatch(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tuple := Tuple{ContextID: "ctx-1", Timestamp: now, SourceHash: "h1"}
	reg := NewRegistry(tuple, now)

	if !reg.ValidateAction("ctx-1", "h1", now) {
		t.Error("matching context id and source hash must validate")
	}
	if reg.ValidateAction("ctx-1", "wrong-hash", now) {
		t.Error("mismatched source hash must not validate")
	}
}

func TestTupleEqualIgnoresTimestamp(t *testing.T) {
	a := Tuple{ContextID: "c", SourceHash: "s", Timestamp: time.Now()}
	b := Tuple{ContextID: "c", SourceHash: "s", Timestamp: time.Now().Add(time.Hour)}
	if !a.Equal(b) {
		t.Error("Equal must ignore Timestamp and compare only ContextID and SourceHash")
	}
}
