// Package signal implements the durable observability trail: an append-only
// stream of newline-delimited JSON records, one per phase transition and per
// plugin admission/block event. The trail is write-only from the core's
// perspective; no core logic reads it back.
package signal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event kinds recorded in the signal log.
const (
	EventPhaseTransition = "phase_transition"
	EventSessionStarted  = "session_started"
	EventSessionEvicted  = "session_evicted"
	EventFlowComplete    = "flow_complete"
	EventFlowFailed      = "flow_failed"
	EventPluginAdmitted  = "plugin_admitted"
	EventPluginBlocked   = "plugin_blocked"
	EventPluginRevoked   = "plugin_revoked"
)

// Record is one signal log entry. Fields carries event-specific keys such as
// "from"/"to" for phase transitions or "score" for admissions.
type Record struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	Plugin    string         `json:"plugin,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Writer appends records to the signal trail. Implementations must be safe
// for concurrent use.
type Writer interface {
	Append(rec Record) error
}

// NopWriter discards all records.
type NopWriter struct{}

// Append implements Writer.
func (NopWriter) Append(Record) error { return nil }

// FileWriter appends NDJSON records to a single file.
type FileWriter struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileWriter opens (or creates) the signal file in append mode.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open signal file: %w", err)
	}
	return &FileWriter{f: f}, nil
}

// Append marshals the record and writes one line.
func (w *FileWriter) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal signal record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write signal record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// MemoryWriter buffers records in memory. Intended for tests.
type MemoryWriter struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryWriter constructs an empty in-memory writer.
func NewMemoryWriter() *MemoryWriter { return &MemoryWriter{} }

// Append stores the record.
func (w *MemoryWriter) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, rec)
	return nil
}

// Records returns a defensive copy of the buffered records.
func (w *MemoryWriter) Records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Record, len(w.records))
	copy(out, w.records)
	return out
}

// CountEvent returns how many buffered records carry the given event kind.
func (w *MemoryWriter) CountEvent(event string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, r := range w.records {
		if r.Event == event {
			n++
		}
	}
	return n
}
