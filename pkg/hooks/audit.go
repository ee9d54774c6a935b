// Package hooks records an append-only audit trail of agent turns: what was
// inferred, whether the script passed validation, what executed and how it
// ended. The trail is JSONL, one entry per lifecycle event, for
// reproducibility and troubleshooting.
package hooks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event marks one stage of a turn's lifecycle.
type Event string

const (
	EventTurnStart      Event = "turn_start"
	EventIntentInferred Event = "intent_inferred"
	EventScriptRejected Event = "script_rejected"
	EventScriptExecuted Event = "script_executed"
	EventConfirmation   Event = "confirmation_requested"
	EventTurnEnd        Event = "turn_end"
)

// AuditEntry is persisted for reproducibility and troubleshooting.
type AuditEntry struct {
	TurnID     string                 `json:"turn_id"`
	Event      Event                  `json:"event"`
	SessionID  string                 `json:"session_id,omitempty"`
	Channel    string                 `json:"channel,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	Ok         bool                   `json:"ok"`
	Reason     string                 `json:"reason,omitempty"`
	Message    string                 `json:"message,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AuditSink persists audit entries.
type AuditSink interface {
	Write(entry AuditEntry) error
}

// Trail stamps entries with a turn ID and forwards them to the sink. A nil
// Trail is a no-op, so auditing is optional at every call site.
type Trail struct {
	sink AuditSink
}

func NewTrail(sink AuditSink) *Trail {
	return &Trail{sink: sink}
}

// NewTurnID returns a fresh identifier linking all entries of one turn.
func NewTurnID() string {
	return uuid.NewString()
}

// Record writes one entry, stamping the timestamp. Write errors are
// swallowed: auditing must never fail a turn.
func (t *Trail) Record(ctx context.Context, entry AuditEntry) {
	if t == nil || t.sink == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_ = t.sink.Write(entry)
}
