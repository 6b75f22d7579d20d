// Package registry holds admitted tools keyed by name and gates every
// submission through trust verification. Registry mutations use their own
// exclusion domain keyed by plugin name, independent of any session lock, so
// verifying one plugin never blocks unrelated sessions. Blocking is logical,
// not physical deletion: the audit history of a blocked plugin is preserved.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/signal"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/trust"
)

// DefaultThreshold is the baseline admission threshold. Configuration, not a
// hard invariant.
const DefaultThreshold = 0.7

// Submission pairs a descriptor with its executable binding. The registry
// accepts submissions from external collaborators (tool generation, directory
// loading) and never generates them itself.
type Submission struct {
	Descriptor core.ToolDescriptor
	Handler    core.Tool
}

// AdmissionResult reports the outcome of a Submit call.
type AdmissionResult struct {
	Admitted bool
	Score    core.TrustScore
	Reason   string
}

// Summary aggregates the registry's trust status.
type Summary struct {
	Total        int     `json:"total"`
	Admitted     int     `json:"admitted"`
	Blocked      int     `json:"blocked"`
	AverageScore float64 `json:"average_score"`
	Threshold    float64 `json:"threshold"`
}

type entry struct {
	descriptor  core.ToolDescriptor
	handler     core.Tool
	scores      []core.TrustScore // newest last; superseded, never edited
	trail       []core.AuditEvent // registry-level audit across versions
	blocked     bool
	revoked     bool // manual override; threshold changes never lift it
	blockReason string
}

func (e *entry) current() core.TrustScore {
	if len(e.scores) == 0 {
		return core.TrustScore{}
	}
	return e.scores[len(e.scores)-1]
}

// Options configures a Registry.
type Options struct {
	// Threshold is the minimum trust score for admission.
	Threshold float64
	// Evaluator scores submissions; defaults to a fresh trust.NewEvaluator.
	Evaluator *trust.Evaluator
	// Logger defaults to NoOp.
	Logger logging.Logger
	// Signals receives admission/block events; defaults to NopWriter.
	Signals signal.Writer
}

// Registry is the trust-gated plugin store. Safe for concurrent use.
type Registry struct {
	threshold float64
	evaluator *trust.Evaluator
	logger    logging.Logger
	signals   signal.Writer

	mu      sync.RWMutex
	plugins map[string]*entry

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New constructs a Registry with optional overrides.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Threshold: DefaultThreshold,
		Evaluator: trust.NewEvaluator(),
		Logger:    logging.NoOpLogger{},
		Signals:   signal.NopWriter{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		threshold: opts.Threshold,
		evaluator: opts.Evaluator,
		logger:    opts.Logger,
		signals:   opts.Signals,
		plugins:   make(map[string]*entry),
		locks:     make(map[string]*sync.Mutex),
	}
}

// pluginLock returns the exclusion lock for one plugin name, creating it
// lazily.
func (r *Registry) pluginLock(name string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Submit verifies the submission and admits the plugin iff its trust score
// meets the threshold; otherwise the plugin is recorded as blocked with the
// reason. The descriptor is immutable once stored; a resubmission with a new
// version supersedes the previous score rather than mutating it.
func (r *Registry) Submit(sub Submission) (AdmissionResult, error) {
	d := sub.Descriptor
	if d.Name == "" {
		return AdmissionResult{}, errors.New("submission requires a plugin name")
	}
	if sub.Handler == nil {
		return AdmissionResult{}, fmt.Errorf("submission for %q requires an executable handler", d.Name)
	}

	l := r.pluginLock(d.Name)
	l.Lock()
	defer l.Unlock()

	score := r.evaluator.Evaluate(d)
	r.evaluator.Reputation().Record(d.Author, score.Score)

	admitted := score.Score >= r.threshold
	action := "admitted"
	reason := ""
	if !admitted {
		action = "blocked"
		reason = fmt.Sprintf("trust score %.2f below threshold %.2f", score.Score, r.threshold)
	}

	audit := core.AuditEvent{
		ID:        core.NewID(),
		Action:    action,
		Reason:    reason,
		Score:     score.Score,
		Timestamp: time.Now().UTC(),
	}
	score.Audit = append(score.Audit, audit)

	r.mu.Lock()
	e, ok := r.plugins[d.Name]
	if !ok {
		e = &entry{}
		r.plugins[d.Name] = e
	}
	e.descriptor = d
	e.handler = sub.Handler
	e.scores = append(e.scores, score)
	e.trail = append(e.trail, audit)
	e.blocked = !admitted
	e.blockReason = reason
	r.mu.Unlock()

	r.logger.Info("registry.submit", "plugin", d.Name, "version", d.Version, "score", score.Score, "admitted", admitted)

	event := signal.EventPluginAdmitted
	if !admitted {
		event = signal.EventPluginBlocked
	}
	_ = r.signals.Append(signal.Record{
		Event:  event,
		Plugin: d.Name,
		Fields: map[string]any{"score": score.Score, "version": d.Version, "reason": reason},
	})

	return AdmissionResult{Admitted: admitted, Score: score, Reason: reason}, nil
}

// Invoke executes an admitted tool. It fails with core.ErrNotAdmitted if the
// name is absent or blocked. An internal tool failure is captured into a
// FailureReport rather than escaping raw; the report is nil on success.
func (r *Registry) Invoke(toolCtx *core.ToolContext, name string, args map[string]any) (any, *core.FailureReport, error) {
	r.mu.RLock()
	e, ok := r.plugins[name]
	var handler core.Tool
	blocked := true
	if ok {
		handler = e.handler
		blocked = e.blocked
	}
	r.mu.RUnlock()

	if !ok || blocked {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrNotAdmitted, name)
	}

	result, err := func() (res any, callErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				callErr = fmt.Errorf("tool %s panicked: %v", name, rec)
			}
		}()
		return handler.Call(toolCtx, args)
	}()

	if err != nil {
		report := &core.FailureReport{
			Phase:   core.PhaseExecution,
			Kind:    classifyFailure(toolCtx.Context, err),
			Tool:    name,
			Message: err.Error(),
		}
		return nil, report, nil
	}

	return result, nil, nil
}

// classifyFailure maps a tool error onto the diagnostic taxonomy.
func classifyFailure(ctx context.Context, err error) core.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return core.FailureTimeout
	}

	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) && toolErr.Code == "VALIDATION_ERROR" {
		return core.FailureMalformedInput
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return core.FailureTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "connect") || strings.Contains(msg, "unreachable"):
		return core.FailureConnectivity
	case strings.Contains(msg, "capability") || strings.Contains(msg, "unsupported") || strings.Contains(msg, "not implemented"):
		return core.FailureMissingCapability
	case strings.Contains(msg, "malformed") || strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return core.FailureMalformedInput
	default:
		return core.FailureUnknown
	}
}

// Revoke blocks a plugin immediately (manual override) and appends the reason
// to the audit trail. The plugin and its history remain stored.
func (r *Registry) Revoke(name, reason string) error {
	l := r.pluginLock(name)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	e, ok := r.plugins[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrNotAdmitted, name)
	}
	e.blocked = true
	e.revoked = true
	e.blockReason = reason
	e.trail = append(e.trail, core.AuditEvent{
		ID:        core.NewID(),
		Action:    "revoked",
		Reason:    reason,
		Score:     e.current().Score,
		Timestamp: time.Now().UTC(),
	})
	r.mu.Unlock()

	r.logger.Warn("registry.revoke", "plugin", name, "reason", reason)
	_ = r.signals.Append(signal.Record{
		Event:  signal.EventPluginRevoked,
		Plugin: name,
		Fields: map[string]any{"reason": reason},
	})
	return nil
}

// Reverify re-runs trust evaluation on the stored descriptor. The new score
// supersedes the old one; the plugin may be blocked or unblocked as a result.
func (r *Registry) Reverify(name string) (AdmissionResult, error) {
	l := r.pluginLock(name)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	e, ok := r.plugins[name]
	var d core.ToolDescriptor
	if ok {
		d = e.descriptor
	}
	r.mu.RUnlock()

	if !ok {
		return AdmissionResult{}, fmt.Errorf("%w: %s", core.ErrNotAdmitted, name)
	}

	score := r.evaluator.Evaluate(d)
	admitted := score.Score >= r.threshold
	reason := ""
	if !admitted {
		reason = fmt.Sprintf("trust score %.2f below threshold %.2f", score.Score, r.threshold)
	}
	audit := core.AuditEvent{
		ID:        core.NewID(),
		Action:    "reverified",
		Reason:    reason,
		Score:     score.Score,
		Timestamp: time.Now().UTC(),
	}
	score.Audit = append(score.Audit, audit)

	r.mu.Lock()
	e.scores = append(e.scores, score)
	e.trail = append(e.trail, audit)
	e.blocked = !admitted
	e.revoked = false // re-verification supersedes a manual revocation
	e.blockReason = reason
	r.mu.Unlock()

	event := signal.EventPluginAdmitted
	if !admitted {
		event = signal.EventPluginBlocked
	}
	_ = r.signals.Append(signal.Record{
		Event:  event,
		Plugin: name,
		Fields: map[string]any{"score": score.Score, "reason": reason, "reverified": true},
	})

	return AdmissionResult{Admitted: admitted, Score: score, Reason: reason}, nil
}

// ListOptions filters ListAdmitted output.
type ListOptions struct {
	MinScore float64
	Tag      string
}

// WithMinScore filters out admitted plugins below the given score.
func WithMinScore(min float64) func(o *ListOptions) {
	return func(o *ListOptions) { o.MinScore = min }
}

// WithTag keeps only plugins declaring the given capability tag.
func WithTag(tag string) func(o *ListOptions) {
	return func(o *ListOptions) { o.Tag = tag }
}

// ListAdmitted returns descriptors of currently invocable plugins: trust
// score at or above threshold and not blocked.
func (r *Registry) ListAdmitted(optFns ...func(o *ListOptions)) []core.ToolDescriptor {
	opts := ListOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.ToolDescriptor
	for _, e := range r.plugins {
		if e.blocked {
			continue
		}
		score := e.current()
		if score.Score < r.threshold || score.Score < opts.MinScore {
			continue
		}
		if opts.Tag != "" && !e.descriptor.HasTag(opts.Tag) {
			continue
		}
		out = append(out, e.descriptor)
	}
	return out
}

// Get returns the stored descriptor and current trust score for a plugin,
// whether admitted or blocked.
func (r *Registry) Get(name string) (core.ToolDescriptor, core.TrustScore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[name]
	if !ok {
		return core.ToolDescriptor{}, core.TrustScore{}, false
	}
	return e.descriptor, e.current(), true
}

// Admitted reports whether a plugin is currently invocable.
func (r *Registry) Admitted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[name]
	return ok && !e.blocked && e.current().Score >= r.threshold
}

// Trail returns the registry-level audit trail for a plugin across versions.
func (r *Registry) Trail(name string) []core.AuditEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[name]
	if !ok {
		return nil
	}
	out := make([]core.AuditEvent, len(e.trail))
	copy(out, e.trail)
	return out
}

// Summary aggregates totals and the average current score.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{Total: len(r.plugins), Threshold: r.threshold}
	sum := 0.0
	for _, e := range r.plugins {
		if e.blocked {
			s.Blocked++
		} else {
			s.Admitted++
		}
		sum += e.current().Score
	}
	if s.Total > 0 {
		s.AverageScore = sum / float64(s.Total)
	}
	return s
}

// SetThreshold updates the admission threshold and re-evaluates the blocked
// set against the stored current scores.
func (r *Registry) SetThreshold(threshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.threshold = threshold
	for name, e := range r.plugins {
		below := e.current().Score < threshold
		switch {
		case below && !e.blocked:
			e.blocked = true
			e.blockReason = fmt.Sprintf("trust score %.2f below threshold %.2f", e.current().Score, threshold)
			r.logger.Warn("registry.threshold_block", "plugin", name, "score", e.current().Score)
		case !below && e.blocked && !e.revoked:
			// Manual revocations stay blocked; threshold blocks are lifted.
			e.blocked = false
			e.blockReason = ""
		}
	}
}
