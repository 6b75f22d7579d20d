package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/registry"
	"github.com/hupe1980/flowmesh/signal"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/workflow"
)

const admittableSource = `// Notify posts a message to a channel and returns the receipt.
func Notify(channel, msg string) (string, error) {
	receipt, err := post(channel, msg)
	if err != nil {
		return "", fmt.Errorf("notify %s: %w", channel, err)
	}
	log.Printf("notified %s", channel)
	return receipt, nil
}`

func testRegistry(t *testing.T, fn func(tc *core.ToolContext, args map[string]any) (any, error)) *registry.Registry {
	t.Helper()
	reg := registry.New()
	if fn == nil {
		fn = func(tc *core.ToolContext, args map[string]any) (any, error) { return "sent", nil }
	}
	res, err := reg.Submit(registry.Submission{
		Descriptor: core.ToolDescriptor{
			Name:        "slack_notify",
			Description: "posts a message",
			Tags:        []string{"notification"},
			Source:      admittableSource,
			Author:      "tester",
			Version:     "1.0.0",
		},
		Handler: tool.NewFunctionTool("slack_notify", "posts a message", []string{"notification"},
			map[string]any{"type": "object", "properties": map[string]any{}}, fn),
	})
	require.NoError(t, err)
	require.True(t, res.Admitted)
	return reg
}

func testManager(t *testing.T, reg *registry.Registry, optFns ...func(o *Options)) *Manager {
	t.Helper()
	base := []func(o *Options){func(o *Options) {
		o.EngineOptions = []func(eo *workflow.Options){func(eo *workflow.Options) {
			eo.Registry = reg
		}}
	}}
	return NewManager(append(base, optFns...)...)
}

func TestStartFlowGeneratesSessionID(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	res, err := m.StartFlow(context.Background(), "build a slack notifier")
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, core.PhasePlanning, res.Phase)
	assert.Equal(t, 1, m.Len())
}

func TestStartFlowInvalidTaskLeavesNoSession(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	_, err := m.StartFlow(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrInvalidTask)
	assert.Zero(t, m.Len())
}

func TestStartFlowConflictOnLiveID(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	_, err := m.StartFlow(context.Background(), "build a slack notifier", WithSessionID("s1"))
	require.NoError(t, err)

	_, err = m.StartFlow(context.Background(), "another task", WithSessionID("s1"))
	assert.ErrorIs(t, err, core.ErrSessionConflict)
	assert.Equal(t, 1, m.Len())
}

func TestResumeFlowDrivesToDone(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	res, err := m.StartFlow(context.Background(), "build a slack notifier")
	require.NoError(t, err)

	for !res.Phase.Terminal() {
		res, err = m.ResumeFlow(context.Background(), res.SessionID, "approve")
		require.NoError(t, err)
	}
	assert.Equal(t, core.PhaseDone, res.Phase)
	assert.Equal(t, "sent", res.Output)
}

func TestResumeUnknownSessionIsIdempotent(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	for i := 0; i < 3; i++ {
		_, err := m.ResumeFlow(context.Background(), "ghost", "")
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
		assert.Zero(t, m.Len(), "failed resumes never mutate the session map")
	}
}

func TestEvictRemovesSession(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))
	signals := signal.NewMemoryWriter()
	m.opts.Signals = signals

	res, err := m.StartFlow(context.Background(), "build a slack notifier")
	require.NoError(t, err)

	require.NoError(t, m.Evict(res.SessionID))
	assert.Zero(t, m.Len())
	assert.Equal(t, 1, signals.CountEvent(signal.EventSessionEvicted))

	assert.ErrorIs(t, m.Evict(res.SessionID), core.ErrSessionNotFound)
	_, err = m.ResumeFlow(context.Background(), res.SessionID, "")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestNonBlockingResumeFailsFast(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	reg := testRegistry(t, func(tc *core.ToolContext, args map[string]any) (any, error) {
		close(started)
		<-release
		return "sent", nil
	})

	m := testManager(t, reg, func(o *Options) { o.NonBlocking = true })

	res, err := m.StartFlow(context.Background(), "build a slack notifier")
	require.NoError(t, err)
	id := res.SessionID

	_, err = m.ResumeFlow(context.Background(), id, "") // to TOOL_SELECTION
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.ResumeFlow(context.Background(), id, "") // blocks inside the tool
	}()

	<-started
	_, err = m.ResumeFlow(context.Background(), id, "")
	assert.ErrorIs(t, err, core.ErrSessionBusy)

	close(release)
	wg.Wait()
}

func TestInterleavedCallsLinearize(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	res, err := m.StartFlow(context.Background(), "build a slack notifier", WithSessionID("s1"))
	require.NoError(t, err)
	require.Equal(t, core.PhasePlanning, res.Phase)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ResumeFlow(context.Background(), "s1", "")
		}()
	}
	wg.Wait()

	// Whatever interleaving occurred, the session ends in one consistent
	// terminal state reached through strictly increasing checkpoints.
	snap, err := m.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseDone, snap.Phase)
	assert.GreaterOrEqual(t, snap.Checkpoint.Seq, uint64(4))
}

func TestConcurrentStartSameIDOneWinner(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.StartFlow(context.Background(), "build a slack notifier", WithSessionID("dup"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, core.ErrSessionConflict)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, m.Len())
}

func TestCancelTerminatesSession(t *testing.T) {
	m := testManager(t, testRegistry(t, nil))

	res, err := m.StartFlow(context.Background(), "build a slack notifier")
	require.NoError(t, err)

	cancelled, err := m.Cancel(res.SessionID, "user closed the tab")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseFailed, cancelled.Phase)

	// Terminal resume is a no-op snapshot.
	after, err := m.ResumeFlow(context.Background(), res.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseFailed, after.Phase)
}

func TestSweepIdleEvicts(t *testing.T) {
	m := testManager(t, testRegistry(t, nil), func(o *Options) {
		o.IdleTimeout = 10 * time.Millisecond
	})

	res, err := m.StartFlow(context.Background(), "build a slack notifier")
	require.NoError(t, err)

	assert.Empty(t, m.SweepIdle(), "fresh sessions are not idle")

	time.Sleep(25 * time.Millisecond)
	evicted := m.SweepIdle()
	assert.Equal(t, []string{res.SessionID}, evicted)
	assert.Zero(t, m.Len())
}
