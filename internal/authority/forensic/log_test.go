package forensic

import (
	"testing"
	"time"

	"quantumlife/pkg/clock"
)

func sequentialIDGen() func() string {
	n := 0
	return func() string {
		n++
		return time.Now().Add(time.Duration(n)).Format("entry-20060102150405.000000000")
	}
}

func TestWriteEntryChainsHashes(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	log, err := New(clk, store, sequentialIDGen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e1, err := log.WriteEntry(map[string]any{"k": "v1"})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if e1.PrevHash != GenesisHash {
		t.Errorf("first entry must chain from genesis, got %s", e1.PrevHash)
	}

	e2, err := log.WriteEntry(map[string]any{"k": "v2"})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("second entry must chain from first entry's hash")
	}
}

func TestVerifyAllDetectsCorruption(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	log, err := New(clk, store, sequentialIDGen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := log.WriteEntry(map[string]any{"k": "v1"}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if _, err := log.WriteEntry(map[string]any{"k": "v2"}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	result, err := log.VerifyAll()
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected intact chain, got corruption at %s", result.FirstBadEntry)
	}

	entries, _ := store.All()
	entries[0].Payload["k"] = "tampered"
	tamperedStore := &MemoryStore{}
	for _, e := range entries {
		_ = tamperedStore.Append(e)
	}
	tamperedLog, err := New(clk, tamperedStore, sequentialIDGen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err = tamperedLog.VerifyAll()
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if result.OK {
		t.Error("expected tampered payload to break chain verification")
	}
}

func TestSealIsMonotonic(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	log, err := New(clk, store, sequentialIDGen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := log.Seal("cutover")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	second, err := log.Seal("different reason")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if first.EntryID != second.EntryID {
		t.Error("second Seal call must be a no-op returning the original seal entry")
	}

	if _, err := log.WriteEntry(map[string]any{"k": "v"}); err != ErrLogSealed {
		t.Errorf("expected ErrLogSealed after seal, got %v", err)
	}
}

func TestExportJSONDeterministic(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	log, err := New(clk, store, sequentialIDGen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := log.WriteEntry(map[string]any{"b": 2, "a": 1}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	out1, err := log.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	out2, err := log.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if string(out1) != string(out2) {
		t.Error("two exports of the same chain state must be byte-identical")
	}
}

func TestNewReplaysExistingEntries(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	log1, err := New(clk, store, sequentialIDGen())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	last, err := log1.WriteEntry(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	log2, err := New(clk, store, sequentialIDGen())
	if err != nil {
		t.Fatalf("New (replay): %v", err)
	}
	next, err := log2.WriteEntry(map[string]any{"k": "v2"})
	if err != nil {
		t.Fatalf("WriteEntry after replay: %v", err)
	}
	if next.PrevHash != last.Hash {
		t.Error("a fresh Log over the same store must recover the chain tip from existing entries")
	}
}
