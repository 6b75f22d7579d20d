package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/signal"
	"github.com/hupe1980/flowmesh/workflow"
)

// DefaultIdleTimeout is how long a session may sit without activity before
// the sweep evicts it.
const DefaultIdleTimeout = 30 * time.Minute

// DefaultSweepInterval is the idle-sweep cadence.
const DefaultSweepInterval = time.Minute

// FlowResult is the caller-visible outcome of one start or resume call.
type FlowResult struct {
	SessionID string `json:"session_id"`
	workflow.StepResult
}

// Options configures a Manager.
type Options struct {
	// Store defaults to an in-memory store.
	Store Store
	// EngineOptions are applied to every engine the manager creates.
	EngineOptions []func(o *workflow.Options)
	// NonBlocking makes concurrent calls on the same session id fail fast
	// with ErrSessionBusy instead of waiting for the lock.
	NonBlocking bool
	// IdleTimeout bounds session inactivity before the sweep evicts it.
	IdleTimeout time.Duration
	// SweepInterval is the cadence of the idle sweep started by Run.
	SweepInterval time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
	// Signals receives session lifecycle events.
	Signals signal.Writer
}

// Manager owns the live workflow engines. Per-session exclusivity: the entry
// lock is held for the full duration of StartFlow, ResumeFlow, Cancel and
// Evict, so no two phase advances of the same session ever overlap.
type Manager struct {
	opts  Options
	store Store
}

// NewManager constructs a session manager with optional overrides.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		IdleTimeout:   DefaultIdleTimeout,
		SweepInterval: DefaultSweepInterval,
		Logger:        logging.NoOpLogger{},
		Signals:       signal.NopWriter{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = NewInMemoryStore()
	}
	return &Manager{opts: opts, store: opts.Store}
}

// StartOptions configures one StartFlow call.
type StartOptions struct {
	// SessionID reuses a caller-supplied id instead of generating one.
	SessionID string
}

// WithSessionID supplies the session id for StartFlow.
func WithSessionID(id string) func(o *StartOptions) {
	return func(o *StartOptions) { o.SessionID = id }
}

// StartFlow creates a session, runs the INTAKE validation and advances the
// new engine through its first transition. A supplied id colliding with a
// live session fails with ErrSessionConflict.
func (m *Manager) StartFlow(ctx context.Context, task string, optFns ...func(o *StartOptions)) (*FlowResult, error) {
	startOpts := StartOptions{}
	for _, fn := range optFns {
		fn(&startOpts)
	}

	id := startOpts.SessionID
	if id == "" {
		id = core.NewID()
	}

	entry := &Entry{
		Session: core.NewSession(id),
		Engine:  workflow.New(id, m.opts.EngineOptions...),
	}

	entry.Lock()
	defer entry.Unlock()

	// Publish before advancing so a concurrent start on the same id
	// conflicts rather than racing; rolled back if intake rejects the task.
	if !m.store.PutIfAbsent(id, entry) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionConflict, id)
	}

	res, err := entry.Engine.Start(ctx, task)
	if err != nil {
		m.store.Delete(id, entry)
		return nil, err
	}
	entry.Session.Touch()

	m.opts.Logger.Info("session.started", "session_id", id, "phase", string(res.Phase))
	_ = m.opts.Signals.Append(signal.Record{
		Event:     signal.EventSessionStarted,
		SessionID: id,
	})

	return &FlowResult{SessionID: id, StepResult: *res}, nil
}

// ResumeFlow reattaches to a live session and performs exactly one phase
// transition, feeding input into the engine at its checkpoint. Unknown ids
// fail with ErrSessionNotFound and never mutate the session map.
func (m *Manager) ResumeFlow(ctx context.Context, sessionID, input string) (*FlowResult, error) {
	entry, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer entry.Unlock()

	entry.Session.Touch()
	res, err := entry.Engine.Advance(ctx, input)
	if res == nil {
		return nil, err
	}
	return &FlowResult{SessionID: sessionID, StepResult: *res}, err
}

// Cancel terminates a live session cooperatively between suspension points.
func (m *Manager) Cancel(sessionID, reason string) (*FlowResult, error) {
	entry, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer entry.Unlock()

	res := entry.Engine.Cancel(reason)
	entry.Session.Touch()
	m.opts.Logger.Info("session.cancelled", "session_id", sessionID, "reason", reason)
	return &FlowResult{SessionID: sessionID, StepResult: *res}, nil
}

// Evict removes a session's state. It takes the same per-session lock as
// resume, so an in-flight advance always completes before eviction.
func (m *Manager) Evict(sessionID string) error {
	entry, err := m.acquire(sessionID)
	if err != nil {
		return err
	}
	defer entry.Unlock()

	m.store.Delete(sessionID, entry)
	m.opts.Logger.Info("session.evicted", "session_id", sessionID)
	_ = m.opts.Signals.Append(signal.Record{
		Event:     signal.EventSessionEvicted,
		SessionID: sessionID,
	})
	return nil
}

// Snapshot returns the current phase and checkpoint of a session without
// advancing it.
func (m *Manager) Snapshot(sessionID string) (*FlowResult, error) {
	entry, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer entry.Unlock()

	return &FlowResult{
		SessionID: sessionID,
		StepResult: workflow.StepResult{
			Phase:      entry.Engine.Phase(),
			Checkpoint: entry.Engine.State().Checkpoint,
		},
	}, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int { return m.store.Len() }

// acquire looks up a session and takes its exclusion lock, honoring the
// non-blocking configuration. The entry is re-checked after locking because
// an evict may have removed it while the caller waited.
func (m *Manager) acquire(sessionID string) (*Entry, error) {
	entry, ok := m.store.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	if m.opts.NonBlocking {
		if !entry.TryLock() {
			return nil, fmt.Errorf("%w: %s", core.ErrSessionBusy, sessionID)
		}
	} else {
		entry.Lock()
	}

	if cur, ok := m.store.Get(sessionID); !ok || cur != entry {
		entry.Unlock()
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return entry, nil
}

// SweepIdle evicts every session idle longer than the configured timeout and
// returns the evicted ids.
func (m *Manager) SweepIdle() []string {
	var evicted []string
	for _, entry := range m.store.List() {
		if !entry.Session.IdleSince(m.opts.IdleTimeout) {
			continue
		}
		if !entry.TryLock() {
			continue // in use, not idle
		}
		id := entry.Session.ID
		if m.store.Delete(id, entry) {
			evicted = append(evicted, id)
			m.opts.Logger.Info("session.idle_evicted", "session_id", id)
			_ = m.opts.Signals.Append(signal.Record{
				Event:     signal.EventSessionEvicted,
				SessionID: id,
				Fields:    map[string]any{"idle": true},
			})
		}
		entry.Unlock()
	}
	return evicted
}

// Run drives the idle sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.SweepIdle()
		}
	}
}
