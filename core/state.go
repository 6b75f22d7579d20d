package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Record is one entry in the accumulated task context: a caller message, a
// plan outline, a tool result or a diagnostic note. Records are append-only.
type Record struct {
	Role      string    `json:"role"` // "user", "planner", "tool", "diagnostic"
	Source    string    `json:"source,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint marks the (phase, context) pair at which a session last
// suspended. Seq increases strictly monotonically per session; there is no
// rollback except via explicit recovery through DIAGNOSIS.
type Checkpoint struct {
	Seq         uint64 `json:"seq"`
	Phase       Phase  `json:"phase"`
	ContextHash string `json:"context_hash"`
}

// WorkflowState is the mutable state of one workflow engine instance. It is
// mutated only by the engine owning the session and never shared across
// sessions.
type WorkflowState struct {
	Phase      Phase           `json:"phase"`
	Context    []Record        `json:"context"`
	Resolved   []string        `json:"resolved,omitempty"` // resolved dependency (tool) names, plan order
	Pending    *FailureReport  `json:"pending,omitempty"`
	History    []FailureReport `json:"history,omitempty"`
	Checkpoint Checkpoint      `json:"checkpoint"`
}

// NewWorkflowState returns a state positioned at INTAKE with an empty context.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{Phase: PhaseIntake}
}

// Append adds a context record stamped with the current time.
func (s *WorkflowState) Append(role, source, text string) {
	s.Context = append(s.Context, Record{Role: role, Source: source, Text: text, Timestamp: time.Now().UTC()})
}

// Mark advances the checkpoint to the given phase. Seq always increments, so
// checkpoint markers are monotonically increasing even when DIAGNOSIS routes
// back to TOOL_SELECTION.
func (s *WorkflowState) Mark(phase Phase) {
	s.Phase = phase
	s.Checkpoint = Checkpoint{
		Seq:         s.Checkpoint.Seq + 1,
		Phase:       phase,
		ContextHash: s.ContextHash(),
	}
}

// ContextHash returns a hex sha256 digest over the ordered context records.
func (s *WorkflowState) ContextHash() string {
	h := sha256.New()
	for _, r := range s.Context {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", r.Role, r.Source, r.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Session is one caller-visible, independently resumable execution of the
// workflow. It is owned exclusively by the session manager; one session maps
// to at most one live engine instance at a time.
type Session struct {
	ID           string
	Created      time.Time
	LastActivity time.Time

	mu sync.Mutex
}

// NewSession creates a session with the given id.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Created: now, LastActivity: now}
}

// Touch updates the last-activity timestamp used by the idle-timeout sweep.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now().UTC()
}

// IdleSince reports whether the session has been inactive longer than d.
func (s *Session) IdleSince(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActivity) > d
}
