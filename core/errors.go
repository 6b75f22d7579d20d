package core

import "errors"

// Sentinel errors forming the caller-visible taxonomy. Session-management
// errors are returned directly to the caller and are caller-correctable;
// tool-execution failures never surface raw — they are converted into
// FailureReports at the EXECUTION boundary.
var (
	// ErrInvalidTask indicates an empty or oversized task description.
	ErrInvalidTask = errors.New("invalid task description")

	// ErrSessionConflict indicates a start_flow against a live session id.
	ErrSessionConflict = errors.New("session already active")

	// ErrSessionNotFound indicates a resume/evict against an unknown or
	// expired session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy indicates a concurrent call for the same session id
	// under the non-blocking lock configuration.
	ErrSessionBusy = errors.New("session busy")

	// ErrNoCapableTool indicates a plan tag with zero admitted matches.
	ErrNoCapableTool = errors.New("no admitted tool matches required capability")

	// ErrNotAdmitted indicates an invoke against an absent or blocked plugin.
	ErrNotAdmitted = errors.New("plugin not admitted")

	// ErrDiagnosisEscalated indicates the retry budget is exhausted or the
	// loop watchdog tripped; the session is terminally FAILED.
	ErrDiagnosisEscalated = errors.New("diagnosis escalated")

	// ErrCancelled indicates cooperative cancellation was acknowledged.
	ErrCancelled = errors.New("flow cancelled")
)
