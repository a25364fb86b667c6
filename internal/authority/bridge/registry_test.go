package bridge

import (
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("finance", LoopbackBridge{})

	b, ok := reg.Lookup("finance")
	if !ok {
		t.Fatal("expected bridge to be found for registered domain")
	}
	if _, ok := b.(LoopbackBridge); !ok {
		t.Errorf("expected LoopbackBridge, got %T", b)
	}
}

func TestLookupMissingDomain(t *testing.T) {
	reg := NewRegistry(nil)
	if _, ok := reg.Lookup("nonexistent"); ok {
		t.Error("expected Lookup to report false for an unregistered domain")
	}
}

type recordingLogger struct {
	warnings int
}

func (r *recordingLogger) Warn(string, map[string]any) {
	r.warnings++
}

func TestReregisteringDomainWarnsAndReplaces(t *testing.T) {
	logger := &recordingLogger{}
	reg := NewRegistry(logger)
	reg.Register("finance", LoopbackBridge{})
	reg.Register("finance", GuardedBridge{})

	if logger.warnings != 1 {
		t.Errorf("expected exactly 1 warning on re-registration, got %d", logger.warnings)
	}
	b, _ := reg.Lookup("finance")
	if _, ok := b.(GuardedBridge); !ok {
		t.Errorf("expected the second registration to replace the first, got %T", b)
	}
}
