package core

import "time"

// ToolDescriptor identifies one version of a submitted plugin. Descriptors
// are immutable once admitted; a new version is a new descriptor, not a
// mutation of the old one.
type ToolDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Source      string   `json:"source"`
	Author      string   `json:"author"`
	Version     string   `json:"version"`
}

// HasTag reports whether the descriptor declares the given capability tag.
func (d ToolDescriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AuditEvent is one entry in a trust score's append-only audit trail.
type AuditEvent struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"` // "verified", "admitted", "blocked", "revoked", "reverified"
	Reason    string    `json:"reason,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrustScore is the weighted admission signal for one descriptor version.
// Scores are superseded on re-verification, never edited in place, so the
// audit trail survives blocking.
type TrustScore struct {
	PluginName  string       `json:"plugin_name"`
	Version     string       `json:"version"`
	Score       float64      `json:"score"` // weighted total, clamped to [0,1]
	CodeQuality float64      `json:"code_quality"`
	Security    float64      `json:"security"`
	Reputation  float64      `json:"reputation"`
	VerifiedAt  time.Time    `json:"verified_at"`
	Audit       []AuditEvent `json:"audit,omitempty"`
}
