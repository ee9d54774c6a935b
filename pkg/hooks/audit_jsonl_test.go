package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestJSONLAuditSinkWrite(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLAuditSink(dir)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	entry := AuditEntry{
		TurnID:    "turn-1",
		Event:     EventTurnStart,
		SessionID: "s1",
		Ok:        true,
		Timestamp: time.Now(),
	}
	if err := sink.Write(entry); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sink.Close()

	data, err := os.ReadFile(filepath.Join(dir, "audit", "turns.jsonl"))
	if err != nil {
		t.Fatalf("read trail: %v", err)
	}
	if !strings.Contains(string(data), `"turn_id":"turn-1"`) {
		t.Fatalf("trail missing turn_id: %s", data)
	}
}

func TestJSONLAuditSinkDropsOldestWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turns.jsonl")
	sink, err := NewJSONLAuditSinkAt(path)
	if err != nil {
		t.Fatalf("NewJSONLAuditSinkAt: %v", err)
	}
	for i := 0; i < auditQueueSize*4; i++ {
		if err := sink.Write(AuditEntry{TurnID: "t", Event: EventTurnEnd}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	sink.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trail: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("nothing reached the trail")
	}
}

func TestTrailIsNilSafe(t *testing.T) {
	var trail *Trail
	trail.Record(context.Background(), AuditEntry{TurnID: "x"})
	NewTrail(nil).Record(context.Background(), AuditEntry{TurnID: "y"})
}

func TestNewTurnIDUnique(t *testing.T) {
	a, b := NewTurnID(), NewTurnID()
	if a == "" || a == b {
		t.Fatalf("turn ids: %q %q", a, b)
	}
}
