package tool

import (
	"fmt"

	"github.com/hupe1980/flowmesh/core"
)

// Executor runs a plugin source artifact against structured arguments. It is
// the pluggable back end for descriptor binding: an interpreter, a subprocess
// sandbox or a remote runner can all sit behind it. The trust gate is a
// pre-admission filter, not a sandbox; executors own their own isolation.
type Executor interface {
	Execute(toolCtx *core.ToolContext, source string, args map[string]any) (any, error)
}

// ExecutorTool adapts a verified descriptor plus an Executor into the tool
// capability interface. It is the default registry.BindFunc target for
// plugins loaded from disk or drafted by the tool generator.
type ExecutorTool struct {
	descriptor core.ToolDescriptor
	executor   Executor
	parameters map[string]any
}

var _ core.Tool = (*ExecutorTool)(nil)

// NewExecutorTool binds a descriptor to an executor.
func NewExecutorTool(d core.ToolDescriptor, executor Executor, optFns ...func(o *ExecutorToolOptions)) (*ExecutorTool, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor tool %q requires an executor", d.Name)
	}
	opts := ExecutorToolOptions{
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ExecutorTool{descriptor: d, executor: executor, parameters: opts.Parameters}, nil
}

// ExecutorToolOptions configures the bound tool.
type ExecutorToolOptions struct {
	// Parameters is the JSON schema of the plugin's input.
	Parameters map[string]any
}

// Name returns the plugin name.
func (t *ExecutorTool) Name() string { return t.descriptor.Name }

// Description returns the plugin description.
func (t *ExecutorTool) Description() string { return t.descriptor.Description }

// Tags returns the declared capability tags.
func (t *ExecutorTool) Tags() []string { return t.descriptor.Tags }

// Parameters returns the input schema.
func (t *ExecutorTool) Parameters() map[string]any { return t.parameters }

// Call runs the source artifact through the executor. Failures surface as
// EXECUTION_ERROR tool errors so the registry can classify them.
func (t *ExecutorTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	result, err := t.executor.Execute(toolCtx, t.descriptor.Source, args)
	if err != nil {
		return nil, NewToolError(t.descriptor.Name, err.Error(), "EXECUTION_ERROR")
	}
	return result, nil
}
