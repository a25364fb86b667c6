// Package forensic implements the append-only, hash-chained Forensic Log.
// Every authorized or attempted dispatch is sealed into this chain so that,
// offline and without trusting the process that wrote it, an investigator
// can detect any tampering with the history of a work order.
//
// Canon Reference: docs/QUANTUMLIFE_CANON_V1.md §Ontology (Audit Trail)
package forensic

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantumlife/pkg/clock"
)

// GenesisHash seeds the chain for a log with no prior entries.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000"

// ErrLogSealed is returned by WriteEntry once Seal has been called.
var ErrLogSealed = errors.New("forensic: log sealed, no further writes accepted")

// ErrChainCorruption describes a chain break at a given entry. Verify and
// VerifyAll do not return it: they report a break through VerifyResult.
type ErrChainCorruption struct {
	FirstBadEntry string
}

func (e *ErrChainCorruption) Error() string {
	return fmt.Sprintf("forensic: chain corruption detected at entry %s", e.FirstBadEntry)
}

// Entry is a single sealed record in the chain.
type Entry struct {
	EntryID  string         `json:"entry_id"`
	PrevHash string         `json:"prev_hash"`
	SealedAt time.Time      `json:"sealed_at"`
	Payload  map[string]any `json:"payload"`
	Hash     string         `json:"hash"`
}

// Store persists entries durably. The in-process Log keeps the chain's hash
// state itself; Store only needs to remember bytes in entry order.
type Store interface {
	Append(entry Entry) error
	All() ([]Entry, error)
}

// Log is the hash-chained, append-only forensic record. It is safe for
// concurrent use.
type Log struct {
	mu        sync.Mutex
	clk       clock.Clock
	store     Store
	idSeq     *idGenerator
	lastHash  string
	sealed    bool
	sealedCtl *Entry
}

// New builds a Log backed by store, replaying any existing entries to
// recover the current chain tip. A freshly created store with no entries
// starts the chain at GenesisHash.
func New(clk clock.Clock, store Store, idGen func() string) (*Log, error) {
	l := &Log{
		clk:      clk,
		store:    store,
		idSeq:    newIDGenerator(idGen),
		lastHash: GenesisHash,
	}
	existing, err := store.All()
	if err != nil {
		return nil, fmt.Errorf("forensic: replay existing entries: %w", err)
	}
	for _, e := range existing {
		if e.PrevHash == sealControlPrevHash {
			l.sealed = true
			ctl := e
			l.sealedCtl = &ctl
			continue
		}
		l.lastHash = e.Hash
	}
	return l, nil
}

// WriteEntry appends payload to the chain and returns the sealed entry. It
// fails with ErrLogSealed once Seal has been called for this log.
func (l *Log) WriteEntry(payload map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return Entry{}, ErrLogSealed
	}
	now := l.clk.Now()
	entry := Entry{
		EntryID:  l.idSeq.next(),
		PrevHash: l.lastHash,
		SealedAt: now,
		Payload:  payload,
	}
	entry.Hash = computeEntryHash(entry.PrevHash, entry.Payload, entry.SealedAt)
	if err := l.store.Append(entry); err != nil {
		return Entry{}, fmt.Errorf("forensic: append entry: %w", err)
	}
	l.lastHash = entry.Hash
	return entry, nil
}

// sealControlPrevHash marks the standalone control record written by Seal.
// No ordinary entry ever carries this prev_hash, so its presence in the
// store unambiguously identifies the seal marker on replay.
const sealControlPrevHash = "SEAL"

// Seal writes a control record that forbids all subsequent writes to this
// log instance. Intended for production cutover, not for tests that need to
// keep writing. Sealing is monotonic: a second call is a no-op.
func (l *Log) Seal(reason string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return *l.sealedCtl, nil
	}
	now := l.clk.Now()
	ctl := Entry{
		EntryID:  l.idSeq.next(),
		PrevHash: sealControlPrevHash,
		SealedAt: now,
		Payload:  map[string]any{"reason": reason, "chain_tip": l.lastHash},
	}
	ctl.Hash = computeEntryHash(ctl.PrevHash, ctl.Payload, ctl.SealedAt)
	if err := l.store.Append(ctl); err != nil {
		return Entry{}, fmt.Errorf("forensic: append seal record: %w", err)
	}
	l.sealed = true
	l.sealedCtl = &ctl
	return ctl, nil
}

// VerifyResult is the outcome of an offline chain-integrity check.
type VerifyResult struct {
	OK            bool
	FirstBadEntry string
}

// VerifyAll recomputes every entry's hash against its predecessor and
// reports the first entry, if any, whose stored hash no longer matches.
// It never mutates the log and does not require it to be open for writes.
func (l *Log) VerifyAll() (VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.store.All()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("forensic: read entries: %w", err)
	}
	prev := GenesisHash
	for _, e := range entries {
		expectedPrev := prev
		if e.PrevHash == sealControlPrevHash {
			expectedPrev = sealControlPrevHash
		}
		if e.PrevHash != expectedPrev {
			return VerifyResult{OK: false, FirstBadEntry: e.EntryID}, nil
		}
		wantHash := computeEntryHash(e.PrevHash, e.Payload, e.SealedAt)
		if wantHash != e.Hash {
			return VerifyResult{OK: false, FirstBadEntry: e.EntryID}, nil
		}
		if e.PrevHash != sealControlPrevHash {
			prev = e.Hash
		}
	}
	return VerifyResult{OK: true}, nil
}

// Verify checks a single entry by id against the chain replayed up to it.
func (l *Log) Verify(entryID string) (VerifyResult, error) {
	l.mu.Lock()
	entries, err := l.store.All()
	l.mu.Unlock()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("forensic: read entries: %w", err)
	}
	prev := GenesisHash
	for _, e := range entries {
		expectedPrev := prev
		if e.PrevHash == sealControlPrevHash {
			expectedPrev = sealControlPrevHash
		}
		wantHash := computeEntryHash(e.PrevHash, e.Payload, e.SealedAt)
		match := wantHash == e.Hash && e.PrevHash == expectedPrev
		if e.EntryID == entryID {
			if !match {
				return VerifyResult{OK: false, FirstBadEntry: e.EntryID}, nil
			}
			return VerifyResult{OK: true}, nil
		}
		if !match {
			return VerifyResult{OK: false, FirstBadEntry: e.EntryID}, nil
		}
		if e.PrevHash != sealControlPrevHash {
			prev = e.Hash
		}
	}
	return VerifyResult{}, fmt.Errorf("forensic: entry %s not found", entryID)
}

// ExportJSON renders the chain as newline-delimited canonical JSON, one
// entry per line, preceded by a genesis header line. Two exports of the
// same chain state always produce byte-identical output.
func (l *Log) ExportJSON() ([]byte, error) {
	l.mu.Lock()
	entries, err := l.store.All()
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("forensic: read entries: %w", err)
	}
	var b strings.Builder
	header, err := json.Marshal(map[string]string{"genesis_hash": GenesisHash})
	if err != nil {
		return nil, err
	}
	b.Write(header)
	b.WriteByte('\n')
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// computeEntryHash is entry_hash = SHA256(prevHash || canonical(payload) || sealedAt).
func computeEntryHash(prevHash string, payload map[string]any, sealedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(canonicalize(payload)))
	h.Write([]byte(sealedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize produces a deterministic string for a payload map: sorted
// keys, recursively sorted nested maps, fixed number formatting via
// encoding/json's float/int rendering.
func canonicalize(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:%s", k, canonicalValue(payload[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return canonicalize(t)
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(v))
		}
		return string(enc)
	}
}

type idGenerator struct {
	mu     sync.Mutex
	nextFn func() string
	seq    uint64
}

func newIDGenerator(f func() string) *idGenerator {
	return &idGenerator{nextFn: f}
}

func (g *idGenerator) next() string {
	if g.nextFn != nil {
		return g.nextFn()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("entry-%d", g.seq)
}
