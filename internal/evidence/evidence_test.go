package evidence

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAssignsConsecutiveSequence(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "spool.ndjson"), "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	r1, err := s.Append(NewRecord("sess-1", "chan-1", EventSwapDecision).With("tag", "NORMAL_POP"), 1000)
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	r2, err := s.Append(NewRecord("sess-1", "chan-1", EventSwapDecision).With("tag", "HOLD"), 1033)
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if r1.Sequence != 1 || r2.Sequence != 2 {
		t.Fatalf("expected sequences 1,2; got %d,%d", r1.Sequence, r2.Sequence)
	}
	if r1.EventUUID == "" || r1.EventUUID == r2.EventUUID {
		t.Fatalf("expected distinct non-empty event UUIDs")
	}
}

func TestReplayFromReturnsRecordsStrictlyAfterSeq(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spool.ndjson")
	s, err := Open(path, "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Append(NewRecord("sess-1", "chan-1", EventControlOp).With("n", i), int64(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	defer s.Close()

	recs, err := s.ReplayFrom(3)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records after seq 3, got %d", len(recs))
	}
	if recs[0].Sequence != 4 {
		t.Fatalf("expected first replayed sequence 4, got %d", recs[0].Sequence)
	}
}

func TestUpdateAckIsMonotonicAndPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spool.ndjson")
	s1, err := Open(path, "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s1.Append(NewRecord("sess-1", "chan-1", EventControlOp), 0); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := s1.UpdateAck(2); err != nil {
		t.Fatalf("update ack: %v", err)
	}
	if got := s1.Ack(); got != 2 {
		t.Fatalf("expected ack 2, got %d", got)
	}

	if err := s1.UpdateAck(1); err != nil {
		t.Fatalf("update ack (lower): %v", err)
	}
	if got := s1.Ack(); got != 2 {
		t.Fatalf("expected ack to stay at 2 after a lower UpdateAck, got %d", got)
	}
	s1.Close()

	s2, err := Open(path, "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	defer s2.Close()
	if got := s2.Ack(); got != 2 {
		t.Fatalf("expected ack 2 to survive reopen, got %d", got)
	}
}

func TestReopenResumesSequenceAfterRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spool.ndjson")

	s1, err := Open(path, "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	s1.Append(NewRecord("sess-1", "chan-1", EventSwapDecision), 0)
	s1.Append(NewRecord("sess-1", "chan-1", EventSwapDecision), 0)
	s1.Close()

	s2, err := Open(path, "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	defer s2.Close()
	if s2.NextSequence() != 3 {
		t.Fatalf("expected resumed sequence 3, got %d", s2.NextSequence())
	}
	rec, err := s2.Append(NewRecord("sess-1", "chan-1", EventSwapDecision), 0)
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if rec.Sequence != 3 {
		t.Fatalf("expected appended sequence 3, got %d", rec.Sequence)
	}
}

func TestCorruptTrailingLineIsDroppedOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spool.ndjson")

	s1, err := Open(path, "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	s1.Append(NewRecord("sess-1", "chan-1", EventSwapDecision), 0)
	s1.Close()

	// Simulate a crash mid-write: append a truncated, non-newline-terminated
	// fragment directly to the file.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("append corrupt fragment: %v", err)
	}
	f.WriteString(`{"schema_version":1,"sequence":2,"partial`)
	f.Close()

	s2, err := Open(path, "sess-1", "chan-1", 0)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	defer s2.Close()
	if s2.NextSequence() != 2 {
		t.Fatalf("expected next sequence 2 (corrupt tail dropped), got %d", s2.NextSequence())
	}
	rec, err := s2.Append(NewRecord("sess-1", "chan-1", EventSwapDecision), 0)
	if err != nil {
		t.Fatalf("append after corrupt recovery: %v", err)
	}
	if rec.Sequence != 2 {
		t.Fatalf("expected sequence 2 reused after truncating corrupt tail, got %d", rec.Sequence)
	}
}

func TestSpoolFullRejectsAppendBeyondCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spool.ndjson")
	s, err := Open(path, "sess-1", "chan-1", 10) // tiny cap, first record already exceeds it
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	_, err = s.Append(NewRecord("sess-1", "chan-1", EventSwapDecision).With("tag", "NORMAL_POP"), 0)
	if err == nil {
		t.Fatalf("expected SpoolFull error")
	}
}
