package workorder

import (
	"context"
	"time"
)

// ResultStatus is the outcome of a dispatch attempt.
type ResultStatus string

const (
	StatusSuccess            ResultStatus = "SUCCESS"
	StatusFailed             ResultStatus = "FAILED"
	StatusPendingAttestation ResultStatus = "PENDING_ATTESTATION"
)

// Result is the immutable outcome of a Dispatch call. Output carries a
// bridge's output and Error the cause of a failure; a
// PENDING_ATTESTATION result carries neither.
type Result struct {
	AuditID          string
	Status           ResultStatus
	ExecutedAt       time.Time
	Output           map[string]any
	Error            error
	ForensicEntryID  string
}

// Bridge executes a sealed, fully-authorized WorkOrder against a concrete
// domain. Implementations MUST be atomic (either the whole effect happens
// or none of it does), MUST NOT panic (a panic is treated as a defect, not
// a recoverable execution failure — see dispatcher's recover-to-FAILED
// wrapper), MUST return within the context's deadline, and MUST NOT touch
// the forensic log directly; sealing is the dispatcher's job.
type Bridge interface {
	// Execute performs the work order's effect and returns a result. The
	// returned Result's AuditID and ExecutedAt are filled in by the
	// dispatcher, not the bridge — a bridge only needs to report success,
	// output, or error.
	Execute(ctx context.Context, order *WorkOrder) (Result, error)
}
