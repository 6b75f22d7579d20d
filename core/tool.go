package core

import (
	"context"

	"github.com/hupe1980/flowmesh/logging"
)

// Tool is the capability interface every admitted plugin must satisfy.
// Admission is a registry operation: a Tool reaches the invocation path only
// after its descriptor passed trust verification.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Declare the capability tags the planner can match against
//   - Define a JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Tags returns the declared capability tags used during TOOL_SELECTION.
	Tags() []string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with structured arguments. Implementations must
	// honor cancellation via the ToolContext at their own checkpoints.
	Call(toolCtx *ToolContext, args map[string]any) (any, error)
}

// ToolContext carries the per-invocation scope handed to a tool: the ambient
// cancellation context, identifiers and a logger. The State map is a
// read-only view of the running task context assembled by the engine.
type ToolContext struct {
	Context   context.Context
	SessionID string
	CallID    string
	State     map[string]any

	logger logging.Logger
}

// NewToolContext constructs a ToolContext. A nil logger defaults to NoOp.
func NewToolContext(ctx context.Context, sessionID, callID string, state map[string]any, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if state == nil {
		state = map[string]any{}
	}
	return &ToolContext{Context: ctx, SessionID: sessionID, CallID: callID, State: state, logger: logger}
}

// Done returns a channel closed when the invocation is cancelled.
func (tc *ToolContext) Done() <-chan struct{} { return tc.Context.Done() }

// Err returns the cancellation error, if any.
func (tc *ToolContext) Err() error { return tc.Context.Err() }

// Logger returns the invocation-scoped logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }
