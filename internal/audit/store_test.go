package audit

import (
	"context"
	"testing"
)

func TestRecordAndQuery(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.Record("operator", "acknowledge", "f1", "", "success")
	s.Record("operator", "dismiss", "f1", "not_an_issue", "success")
	s.Record("alice", "snooze", "f2", "4h", "failure")
	s.flush()

	ctx := context.Background()
	entries, err := s.ForFinding(ctx, "f1", 10)
	if err != nil {
		t.Fatalf("forFinding: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries for f1, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" || e.At.IsZero() {
			t.Errorf("entry missing id or timestamp: %+v", e)
		}
		if e.FindingID != "f1" {
			t.Errorf("entry for wrong finding: %+v", e)
		}
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("got %d recent entries, want 3", len(recent))
	}
}

func TestForFindingLimit(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Record("operator", "acknowledge", "f1", "", "success")
	}
	s.flush()

	entries, err := s.ForFinding(context.Background(), "f1", 3)
	if err != nil {
		t.Fatalf("forFinding: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestCloseFlushesPending(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Record("operator", "note", "f1", "checking", "success")
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.ForFinding(context.Background(), "f1", 10)
	if err != nil {
		t.Fatalf("forFinding: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries after reopen, want 1", len(entries))
	}
	if entries[0].Detail != "checking" || entries[0].Actor != "operator" {
		t.Errorf("entry = %+v", entries[0])
	}
}
