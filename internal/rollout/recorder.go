// Package rollout is the append-only JSONL session recorder: one file per
// conversation under <code_home>/sessions/<YYYY>/<MM>/<DD>/rollout-<uuid>.jsonl,
// plus a modernc.org/sqlite index that makes listing conversations a real
// query instead of a directory walk per page.
//
// Grounded on the teacher's internal/store/store.go (WAL mode, embed-based
// migrations, plain database/sql — see index.go) for the index, and on
// spec.md §3 "Rollout" / §4.D for the JSONL file layout and record shapes.
package rollout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source classifies how a conversation was created; the picker passes an
// allow-list of sources it cares about.
type Source string

const (
	SourceInteractive  Source = "interactive"
	SourceProgrammatic Source = "programmatic"
)

// RecordType discriminates the JSONL payload shape, matching spec.md §3's
// "turn context snapshots, user/assistant messages, tool calls & outputs,
// and Compacted{message} markers".
type RecordType string

const (
	RecordSessionMeta  RecordType = "session_meta"
	RecordTurnContext  RecordType = "turn_context"
	RecordResponseItem RecordType = "response_item"
	RecordCompacted    RecordType = "compacted"
)

// Record is one JSONL line.
type Record struct {
	Type      RecordType      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionMetaPayload is the first record written to every rollout file.
type SessionMetaPayload struct {
	ConversationID string `json:"conversation_id"`
	Source         Source `json:"source"`
}

// CompactedPayload is written whenever history compaction replaces the
// in-memory transcript, matching the Compacted{message} marker.
type CompactedPayload struct {
	Message string `json:"message"`
}

// Recorder appends records to one conversation's JSONL file.
type Recorder struct {
	mu             sync.Mutex
	file           *os.File
	path           string
	conversationID string
	source         Source
}

// FilePath returns sessions/<YYYY>/<MM>/<DD>/rollout-<uuid>.jsonl under
// codeHome, matching spec.md's file naming.
func FilePath(codeHome string, day time.Time, conversationID uuid.UUID) string {
	return filepath.Join(codeHome, "sessions",
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", day.Month()),
		fmt.Sprintf("%02d", day.Day()),
		fmt.Sprintf("rollout-%s.jsonl", conversationID.String()),
	)
}

// NewRecorder creates (or appends to) the rollout file for a fresh
// conversation and writes its initial session_meta record.
func NewRecorder(codeHome string, conversationID uuid.UUID, source Source) (*Recorder, error) {
	now := time.Now()
	path := FilePath(codeHome, now, conversationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rollout: create session dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: open %s: %w", path, err)
	}

	r := &Recorder{file: f, path: path, conversationID: conversationID.String(), source: source}
	meta, err := json.Marshal(SessionMetaPayload{ConversationID: r.conversationID, Source: source})
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := r.appendLocked(Record{Type: RecordSessionMeta, Timestamp: now, Payload: meta}); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the JSONL file path backing this recorder.
func (r *Recorder) Path() string {
	return r.path
}

// Close closes the underlying file handle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// Append atomically appends one JSONL line per record, stamping each with
// the current time if Timestamp is zero.
func (r *Recorder) Append(records ...Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now()
		}
		if err := r.appendLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) appendLocked(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rollout: marshal record: %w", err)
	}
	line = append(line, '\n')
	if _, err := r.file.Write(line); err != nil {
		return fmt.Errorf("rollout: append to %s: %w", r.path, err)
	}
	return nil
}

// AppendCompacted records a Compacted{message} marker, matching the
// compaction algorithm's step 8.
func (r *Recorder) AppendCompacted(message string) error {
	payload, err := json.Marshal(CompactedPayload{Message: message})
	if err != nil {
		return err
	}
	return r.Append(Record{Type: RecordCompacted, Payload: payload})
}

// ReadHead reads the first n records of a rollout file, used both to
// rebuild the index and to render resume-picker previews.
func ReadHead(path string, n int) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Record
	start := 0
	for i := 0; i < len(data) && len(out) < n; i++ {
		if data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
