package log

import "time"

// AuditEvent is a structured, human-facing log line describing a
// governance-relevant occurrence. It is distinct from a forensic.Entry:
// this is for operators watching logs in real time, the forensic log is
// for offline, tamper-evident investigation after the fact. The two are
// written independently and are not expected to reconcile line-for-line.
type AuditEvent struct {
	Timestamp time.Time
	Actor     string // WHO: session id or "system"
	Action    string // WHAT: human-readable description
	Resource  string // work order id, lease id, etc.
	Result    string // success, failure, denied, pending
	Details   map[string]string
}

// AuditLogger writes AuditEvents through the audit sub-logger.
type AuditLogger struct{}

// NewAuditLogger returns an AuditLogger bound to the package's audit
// logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// Log writes ev as a structured audit log line.
func (a *AuditLogger) Log(ev AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	logEvent := Audit().Info().
		Time("timestamp", ev.Timestamp).
		Str("actor", ev.Actor).
		Str("action", ev.Action).
		Str("resource", ev.Resource).
		Str("result", ev.Result)
	for k, v := range ev.Details {
		logEvent.Str(k, v)
	}
	logEvent.Msg("authority audit event")
}
