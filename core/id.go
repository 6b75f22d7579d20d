package core

import "github.com/google/uuid"

// NewID generates a unique identifier for sessions, tool calls and audit
// events.
func NewID() string { return uuid.NewString() }
