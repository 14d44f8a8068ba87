// Package evidence implements the append-only evidence spool (spec.md
// §4.11): a durable, strictly-sequential, crash-tolerant log of playout
// events (swap decisions, control operations, errors) that a downstream
// auditor can replay. The typed event model — an EventType string const,
// an Event builder with With* chaining methods — is
// internal/rtmp/server/hooks/events.go's pattern, generalized from "fire a
// hook callback" to "append a durable record"; event_uuid uses
// github.com/google/uuid in place of bare connection IDs.
package evidence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/alxayo/playout-engine/internal/errors"
)

// EventType names the kind of record appended to the spool.
type EventType string

const (
	EventSwapDecision   EventType = "swap_decision"
	EventSegmentPrimed  EventType = "segment_primed"
	EventSegmentRetired EventType = "segment_retired"
	EventControlOp      EventType = "control_op"
	EventError          EventType = "error"
	EventSessionStart   EventType = "session_start"
	EventBlockAdmit     EventType = "block_admit"
	EventLateness       EventType = "lateness"
)

// Record is one line of the spool: a schema-versioned, strictly
// sequential, append-only event.
type Record struct {
	SchemaVersion int             `json:"schema_version"`
	SessionID     string          `json:"session_id"`
	ChannelID     string          `json:"channel_id"`
	Sequence      int64           `json:"sequence"`
	EventUUID     string          `json:"event_uuid"`
	EmittedUTCMs  int64           `json:"emitted_utc_ms"`
	PayloadType   EventType       `json:"payload_type"`
	Payload       json.RawMessage `json:"payload_json"`
}

const currentSchemaVersion = 1

// Builder constructs a Record via chained With* calls, mirroring
// hooks/events.go's Event builder.
type Builder struct {
	sessionID, channelID string
	payloadType          EventType
	payload              map[string]interface{}
}

// NewRecord starts building a Record of the given type for session/channel.
func NewRecord(sessionID, channelID string, payloadType EventType) *Builder {
	return &Builder{
		sessionID:   sessionID,
		channelID:   channelID,
		payloadType: payloadType,
		payload:     make(map[string]interface{}),
	}
}

// With adds one payload field.
func (b *Builder) With(key string, value interface{}) *Builder {
	b.payload[key] = value
	return b
}

// Spool is an append-only, crash-tolerant event log backed by a single
// file on disk. Sequence numbers are strictly consecutive starting at 1;
// a gap or duplicate is a programming defect in the caller, never a
// recoverable runtime condition.
type Spool struct {
	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	nextSeq  int64
	maxBytes int64
	written  int64
	sessionID, channelID string

	ackPath string
	ackSeq  int64
}

// ackSuffix names the sidecar file UpdateAck persists to, kept separate
// from the spool file itself so an ack update never risks the append log
// (spec.md §4.11).
const ackSuffix = ".ack"

// Open opens (creating if necessary) the spool file at path, replaying any
// existing valid records to determine the next sequence number. A
// truncated trailing line from a prior crash is tolerated — the partial
// line is dropped and replay resumes from the last complete record.
func Open(path, sessionID, channelID string, maxBytes int64) (*Spool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.NewOpenError("evidence.open", err)
	}

	nextSeq, size, err := replayForNextSeq(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(size, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.NewOpenError("evidence.open", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.NewOpenError("evidence.open", err)
	}

	ackPath := path + ackSuffix
	ackSeq, err := readAck(ackPath)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Spool{
		f:         f,
		w:         bufio.NewWriter(f),
		nextSeq:   nextSeq,
		maxBytes:  maxBytes,
		written:   size,
		sessionID: sessionID,
		channelID: channelID,
		ackPath:   ackPath,
		ackSeq:    ackSeq,
	}, nil
}

// readAck loads a previously persisted ack sequence. A missing sidecar
// file means no ack has ever been recorded, which is not an error.
func readAck(ackPath string) (int64, error) {
	data, err := os.ReadFile(ackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.NewOpenError("evidence.read_ack", err)
	}
	var seq int64
	if _, err := fmt.Sscanf(string(data), "%d", &seq); err != nil {
		return 0, nil // tolerate a corrupt or partially-written ack file
	}
	return seq, nil
}

// replayForNextSeq scans path line by line, returning the sequence number
// that follows the last complete, valid record and the byte offset at
// which the last complete record ended (used to truncate a corrupt or
// partially-written trailing line left by a crash mid-append).
func replayForNextSeq(f *os.File) (nextSeq int64, validSize int64, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, errors.NewOpenError("evidence.replay", err)
	}
	reader := bufio.NewReader(f)
	var offset int64
	var lastSeq int64

	for {
		line, readErr := reader.ReadString('\n')
		// A line is only a complete record if ReadString found the
		// delimiter (readErr == nil); anything else is either a fully
		// absent final newline (partial write) or genuine EOF with
		// nothing left to read.
		if readErr == nil {
			var rec Record
			if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil {
				// Corrupt record; stop here and truncate, since the
				// sequence invariant has no way to express "skip a bad
				// record and continue".
				break
			}
			offset += int64(len(line))
			lastSeq = rec.Sequence
			continue
		}
		break
	}
	return lastSeq + 1, offset, nil
}

// Append writes one record, assigning the next sequence number and a
// fresh event UUID, then flushes to disk. It returns SpoolFull if
// maxBytes would be exceeded.
func (s *Spool) Append(b *Builder, emittedUTCMs int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(b.payload)
	if err != nil {
		return Record{}, errors.NewValidationError("evidence.append", err)
	}

	rec := Record{
		SchemaVersion: currentSchemaVersion,
		SessionID:     b.sessionID,
		ChannelID:     b.channelID,
		Sequence:      s.nextSeq,
		EventUUID:     uuid.NewString(),
		EmittedUTCMs:  emittedUTCMs,
		PayloadType:   b.payloadType,
		Payload:       payload,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, errors.NewValidationError("evidence.append", err)
	}
	line = append(line, '\n')

	if s.maxBytes > 0 && s.written+int64(len(line)) > s.maxBytes {
		return Record{}, errors.NewSpoolFull("evidence.append", fmt.Errorf("would exceed %d byte cap", s.maxBytes))
	}

	if _, err := s.w.Write(line); err != nil {
		return Record{}, errors.NewOpenError("evidence.append", err)
	}
	if err := s.w.Flush(); err != nil {
		return Record{}, errors.NewOpenError("evidence.append", err)
	}

	s.written += int64(len(line))
	s.nextSeq++
	return rec, nil
}

// ReplayFrom returns every record with sequence strictly after fromSeq, in
// order: ReplayFrom(k) returns sequences k+1..N (spec.md §4.11).
func (s *Spool) ReplayFrom(fromSeq int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		return nil, errors.NewOpenError("evidence.replay", err)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.NewOpenError("evidence.replay", err)
	}

	var out []Record
	scanner := bufio.NewScanner(s.f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // tolerate a corrupt trailing line already handled at Open
		}
		if rec.Sequence > fromSeq {
			out = append(out, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewOpenError("evidence.replay", err)
	}

	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return nil, errors.NewOpenError("evidence.replay", err)
	}
	return out, nil
}

// NextSequence returns the sequence number the next Append call will use.
func (s *Spool) NextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// UpdateAck records that a downstream auditor has durably consumed every
// record up to and including seq. It is monotonic: a seq at or below the
// current ack is silently discarded, never an error, since a replaying or
// retrying auditor re-acking an old position is expected traffic. The ack
// is written to its own sidecar file so a torn write never corrupts the
// spool itself, and survives a reopen (spec.md §4.11).
func (s *Spool) UpdateAck(seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.ackSeq {
		return nil
	}
	if err := writeAckAtomic(s.ackPath, seq); err != nil {
		return err
	}
	s.ackSeq = seq
	return nil
}

// Ack returns the most recently persisted ack sequence, or 0 if none has
// ever been recorded.
func (s *Spool) Ack() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackSeq
}

// writeAckAtomic writes seq to ackPath via write-temp-then-rename so a
// crash mid-write never leaves a partially-written ack file in place.
func writeAckAtomic(ackPath string, seq int64) error {
	tmp := ackPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d", seq)), 0o644); err != nil {
		return errors.NewOpenError("evidence.update_ack", err)
	}
	if err := os.Rename(tmp, ackPath); err != nil {
		return errors.NewOpenError("evidence.update_ack", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return errors.NewOpenError("evidence.close", err)
	}
	return s.f.Close()
}
