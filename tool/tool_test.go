package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

var (
	_ core.Tool = (*FunctionTool)(nil)
	_ error     = (*ToolError)(nil)
)

func testCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), "sess", "call", nil, nil)
}

func TestFunctionToolCall(t *testing.T) {
	ft := NewFunctionTool("echo", "echoes input", []string{"general"},
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return args["text"], nil
		})

	assert.Equal(t, "echo", ft.Name())
	assert.Equal(t, []string{"general"}, ft.Tags())

	result, err := ft.Call(testCtx(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestFunctionToolValidation(t *testing.T) {
	ft := NewFunctionTool("strict", "requires text", nil,
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return "ok", nil
		})

	_, err := ft.Call(testCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)

	_, err = ft.Call(testCtx(), map[string]any{"text": 42})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionToolWrapsExecutionErrors(t *testing.T) {
	ft := NewFunctionTool("broken", "always fails", nil,
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return nil, errors.New("downstream exploded")
		})

	_, err := ft.Call(testCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "downstream exploded", toolErr.Message)

	// Custom codes pass through untouched.
	custom := NewFunctionTool("custom", "custom error", nil,
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return nil, NewToolError("custom", "quota exceeded", "QUOTA_ERROR")
		})
	_, err = custom.Call(testCtx(), map[string]any{})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "QUOTA_ERROR", toolErr.Code)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type params struct {
		Channel string `json:"channel" description:"target channel"`
		Limit   int    `json:"limit,omitempty"`
	}

	ft := NewFunctionToolFromStruct("notify", "sends", []string{"notification"}, params{},
		func(tc *core.ToolContext, args map[string]any) (any, error) { return "ok", nil })

	schema := ft.Parameters()
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "channel")
	assert.Contains(t, props, "limit")
	assert.Equal(t, []string{"channel"}, schema["required"])
}

type stubExecutor struct {
	result any
	err    error
	got    string
}

func (s *stubExecutor) Execute(_ *core.ToolContext, source string, _ map[string]any) (any, error) {
	s.got = source
	return s.result, s.err
}

func TestExecutorTool(t *testing.T) {
	exec := &stubExecutor{result: "ran"}
	d := core.ToolDescriptor{
		Name:        "scripted",
		Description: "runs a source artifact",
		Tags:        []string{"general"},
		Source:      "print('hi')",
	}

	et, err := NewExecutorTool(d, exec)
	require.NoError(t, err)

	result, err := et.Call(testCtx(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "ran", result)
	assert.Equal(t, "print('hi')", exec.got)

	exec.err = errors.New("interpreter crashed")
	_, err = et.Call(testCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)

	_, err = NewExecutorTool(d, nil)
	assert.Error(t, err)
}
