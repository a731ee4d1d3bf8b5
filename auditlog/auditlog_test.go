package auditlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joyshmitz/sbh/model"
)

func TestDecisionLogWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	log := NewDecisionLog(path, 0)

	recs := []model.DecisionRecord{
		{DecisionID: 1, TraceID: "sbh-aaaaaaaa", Path: "/tmp/a", Action: "Delete"},
		{DecisionID: 2, TraceID: "sbh-bbbbbbbb", Path: "/tmp/b", Action: "Keep"},
	}
	if err := log.WriteBatch(recs); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	got, err := ReadDecisionLog(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Path != "/tmp/a" || got[1].Path != "/tmp/b" {
		t.Fatalf("unexpected record contents: %+v", got)
	}
}

func TestDecisionLogPresenceDoesNotImplyDeletion(t *testing.T) {
	// A Keep decision is logged exactly like a Delete one; the log is a
	// record of what the engine decided, not of what happened on disk.
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	log := NewDecisionLog(path, 0)
	if err := log.Write(model.DecisionRecord{DecisionID: 1, Path: "/tmp/kept", Action: "Keep", Vetoed: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadDecisionLog(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || !got[0].Vetoed {
		t.Fatalf("expected a vetoed keep record to be present in the log: %+v", got)
	}
}

func TestReadDecisionLogSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	content := "{\"decision_id\":1,\"path\":\"/tmp/a\"}\nnot json\n{\"decision_id\":2,\"path\":\"/tmp/b\"}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	got, err := ReadDecisionLog(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected malformed line skipped, got %d records", len(got))
	}
}

func TestReadDecisionLogMissingFileReturnsEmpty(t *testing.T) {
	got, err := ReadDecisionLog(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

func TestTransitionLogWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.jsonl")
	log := NewTransitionLog(path, 0)

	entries := []model.TransitionLogEntry{
		{Timestamp: "2026-01-01T00:00:00Z", FromMode: "Observe", ToMode: "Canary", Transition: "promote"},
		{Timestamp: "2026-01-01T01:00:00Z", FromMode: "Canary", ToMode: "FallbackSafe", Transition: "fallback", Reason: "budget_exhausted"},
	}
	for _, e := range entries {
		if err := log.Write(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := ReadTransitionLog(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[1].Reason != "budget_exhausted" {
		t.Fatalf("expected reason preserved, got %q", got[1].Reason)
	}
}
