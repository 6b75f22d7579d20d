package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/signal"
	"github.com/hupe1980/flowmesh/tool"
)

const cleanSource = `// Notify posts a message to a channel and returns the receipt.
func Notify(channel, msg string) (string, error) {
	receipt, err := post(channel, msg)
	if err != nil {
		return "", fmt.Errorf("notify %s: %w", channel, err)
	}
	log.Printf("notified %s", channel)
	return receipt, nil
}`

const execSource = `// Cleanup removes stale files.
func Cleanup(dir string) error {
	cmd := exec.Command("rm", "-rf", dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	log.Printf("cleaned %s", dir)
	return nil
}`

func okTool(name string, tags ...string) core.Tool {
	return tool.NewFunctionTool(name, "test tool", tags,
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return "ok", nil
		})
}

func failingTool(name, message string, tags ...string) core.Tool {
	return tool.NewFunctionTool(name, "failing tool", tags,
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return nil, errors.New(message)
		})
}

func descriptor(name, source string, tags ...string) core.ToolDescriptor {
	return core.ToolDescriptor{
		Name:        name,
		Description: "test descriptor",
		Tags:        tags,
		Source:      source,
		Author:      "tester",
		Version:     "1.0.0",
	}
}

func toolCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), "sess", "call", nil, nil)
}

func TestSubmitAdmitsAboveThreshold(t *testing.T) {
	r := New()

	res, err := r.Submit(Submission{
		Descriptor: descriptor("notify", cleanSource, "notification"),
		Handler:    okTool("notify", "notification"),
	})
	require.NoError(t, err)

	assert.True(t, res.Admitted)
	assert.GreaterOrEqual(t, res.Score.Score, DefaultThreshold)
	assert.True(t, r.Admitted("notify"))
	assert.Len(t, r.ListAdmitted(), 1)
}

func TestSubmitBlocksDeniedConstruct(t *testing.T) {
	r := New()

	res, err := r.Submit(Submission{
		Descriptor: descriptor("cleanup", execSource, "maintenance"),
		Handler:    okTool("cleanup", "maintenance"),
	})
	require.NoError(t, err)

	assert.False(t, res.Admitted)
	assert.NotEmpty(t, res.Reason)
	// A denied construct never reaches the admitted set.
	assert.Empty(t, r.ListAdmitted())
	assert.False(t, r.Admitted("cleanup"))
}

func TestSubmitValidation(t *testing.T) {
	r := New()

	_, err := r.Submit(Submission{Handler: okTool("x")})
	assert.Error(t, err)

	_, err = r.Submit(Submission{Descriptor: descriptor("x", cleanSource)})
	assert.Error(t, err)
}

func TestInvokeSuccess(t *testing.T) {
	r := New()
	_, err := r.Submit(Submission{
		Descriptor: descriptor("notify", cleanSource, "notification"),
		Handler:    okTool("notify", "notification"),
	})
	require.NoError(t, err)

	result, report, err := r.Invoke(toolCtx(), "notify", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, "ok", result)
}

func TestInvokeNotAdmitted(t *testing.T) {
	r := New()

	_, _, err := r.Invoke(toolCtx(), "ghost", nil)
	assert.ErrorIs(t, err, core.ErrNotAdmitted)

	// Blocked plugins are equally uninvocable.
	_, err = r.Submit(Submission{
		Descriptor: descriptor("cleanup", execSource),
		Handler:    okTool("cleanup"),
	})
	require.NoError(t, err)

	_, _, err = r.Invoke(toolCtx(), "cleanup", nil)
	assert.ErrorIs(t, err, core.ErrNotAdmitted)
}

func TestInvokeFailureBecomesReport(t *testing.T) {
	r := New()
	_, err := r.Submit(Submission{
		Descriptor: descriptor("flaky", cleanSource),
		Handler:    failingTool("flaky", "connection refused by upstream"),
	})
	require.NoError(t, err)

	result, report, err := r.Invoke(toolCtx(), "flaky", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, result)
	require.NotNil(t, report)
	assert.Equal(t, core.PhaseExecution, report.Phase)
	assert.Equal(t, core.FailureConnectivity, report.Kind)
	assert.Equal(t, "flaky", report.Tool)
}

func TestInvokeRecoversPanic(t *testing.T) {
	r := New()
	panicky := tool.NewFunctionTool("panicky", "panics", nil,
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			panic("boom")
		})

	_, err := r.Submit(Submission{Descriptor: descriptor("panicky", cleanSource), Handler: panicky})
	require.NoError(t, err)

	_, report, err := r.Invoke(toolCtx(), "panicky", map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Contains(t, report.Message, "panicked")
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		message string
		want    core.FailureKind
	}{
		{"operation timeout after 30s", core.FailureTimeout},
		{"connection reset by peer", core.FailureConnectivity},
		{"host unreachable", core.FailureConnectivity},
		{"feature not implemented", core.FailureMissingCapability},
		{"malformed payload", core.FailureMalformedInput},
		{"something odd happened", core.FailureUnknown},
	}

	for _, tt := range tests {
		got := classifyFailure(context.Background(), errors.New(tt.message))
		assert.Equal(t, tt.want, got, "message %q", tt.message)
	}

	validation := tool.NewToolError("x", "bad args", "VALIDATION_ERROR")
	assert.Equal(t, core.FailureMalformedInput, classifyFailure(context.Background(), validation))
}

func TestRevokeBlocksAndAudits(t *testing.T) {
	r := New()
	signals := signal.NewMemoryWriter()
	r.signals = signals

	_, err := r.Submit(Submission{
		Descriptor: descriptor("notify", cleanSource, "notification"),
		Handler:    okTool("notify", "notification"),
	})
	require.NoError(t, err)

	require.NoError(t, r.Revoke("notify", "maintainer compromised"))

	assert.Empty(t, r.ListAdmitted())
	_, _, err = r.Invoke(toolCtx(), "notify", nil)
	assert.ErrorIs(t, err, core.ErrNotAdmitted)

	trail := r.Trail("notify")
	require.NotEmpty(t, trail)
	assert.Equal(t, "revoked", trail[len(trail)-1].Action)
	assert.Equal(t, 1, signals.CountEvent(signal.EventPluginRevoked))

	// Revocation survives threshold changes; only re-verification lifts it.
	r.SetThreshold(0.1)
	assert.Empty(t, r.ListAdmitted())

	res, err := r.Reverify("notify")
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Len(t, r.ListAdmitted(), 1)
}

func TestRevokeUnknown(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Revoke("ghost", "n/a"), core.ErrNotAdmitted)
}

func TestResubmissionSupersedesScore(t *testing.T) {
	r := New()

	d := descriptor("notify", cleanSource, "notification")
	_, err := r.Submit(Submission{Descriptor: d, Handler: okTool("notify", "notification")})
	require.NoError(t, err)

	d.Version = "2.0.0"
	_, err = r.Submit(Submission{Descriptor: d, Handler: okTool("notify", "notification")})
	require.NoError(t, err)

	_, score, ok := r.Get("notify")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", score.Version)

	// Both submissions remain in the audit trail.
	assert.GreaterOrEqual(t, len(r.Trail("notify")), 2)
}

func TestSetThresholdReevaluatesBlockedSet(t *testing.T) {
	r := New()
	_, err := r.Submit(Submission{
		Descriptor: descriptor("notify", cleanSource, "notification"),
		Handler:    okTool("notify", "notification"),
	})
	require.NoError(t, err)

	r.SetThreshold(0.99)
	assert.Empty(t, r.ListAdmitted())

	r.SetThreshold(0.5)
	assert.Len(t, r.ListAdmitted(), 1)
}

func TestListAdmittedFilters(t *testing.T) {
	r := New()
	_, err := r.Submit(Submission{
		Descriptor: descriptor("notify", cleanSource, "notification"),
		Handler:    okTool("notify", "notification"),
	})
	require.NoError(t, err)

	assert.Len(t, r.ListAdmitted(WithTag("notification")), 1)
	assert.Empty(t, r.ListAdmitted(WithTag("database")))
	assert.Empty(t, r.ListAdmitted(WithMinScore(0.99)))
}

func TestSummary(t *testing.T) {
	r := New()
	_, err := r.Submit(Submission{
		Descriptor: descriptor("notify", cleanSource, "notification"),
		Handler:    okTool("notify", "notification"),
	})
	require.NoError(t, err)
	_, err = r.Submit(Submission{
		Descriptor: descriptor("cleanup", execSource),
		Handler:    okTool("cleanup"),
	})
	require.NoError(t, err)

	s := r.Summary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Admitted)
	assert.Equal(t, 1, s.Blocked)
	assert.Equal(t, DefaultThreshold, s.Threshold)
	assert.Greater(t, s.AverageScore, 0.0)
}
