// Package flowmesh provides a high-level façade over the session-scoped
// workflow orchestrator: trust-gated plugin registry, resumable phase state
// machine and diagnostic recovery loop. Most applications interact with this
// package by:
//  1. Creating a FlowMesh via New() (optionally overriding defaults)
//  2. Submitting plugins (SubmitPlugin) so the planner has admitted tools
//  3. Driving flows with StartFlow / ResumeFlow until a terminal phase
//
// All defaults are safe for local development and testing: in-memory session
// store, NoOp logger, discarded signal records. Production deployments supply
// a structured logger and a file-backed signal writer.
package flowmesh

import (
	"context"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/diagnostic"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/registry"
	"github.com/hupe1980/flowmesh/session"
	"github.com/hupe1980/flowmesh/signal"
	"github.com/hupe1980/flowmesh/trust"
	"github.com/hupe1980/flowmesh/workflow"
)

// Options configures the FlowMesh instance.
type Options struct {
	// TrustThreshold is the minimum score for plugin admission.
	TrustThreshold float64
	// TrustOptions tune the evaluator (weights, deny-list, reputation).
	TrustOptions []func(o *trust.Options)
	// DiagnosticOptions tune the recovery loop (watchdog, retry budget).
	DiagnosticOptions []func(o *diagnostic.Options)
	// EngineOptions are applied to every workflow engine created.
	EngineOptions []func(o *workflow.Options)
	// SessionOptions tune the session manager (idle timeout, non-blocking).
	SessionOptions []func(o *session.Options)

	// Signals receives the append-only observability trail. Defaults to Nop.
	Signals signal.Writer
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// FlowMesh is the façade aggregating registry, diagnostics and sessions.
type FlowMesh struct {
	opts      Options
	registry  *registry.Registry
	diagnoser *diagnostic.Agent
	manager   *session.Manager
}

// New creates a FlowMesh instance with optional overrides.
func New(optFns ...func(o *Options)) *FlowMesh {
	opts := Options{
		TrustThreshold: registry.DefaultThreshold,
		Signals:        signal.NopWriter{},
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reg := registry.New(func(o *registry.Options) {
		o.Threshold = opts.TrustThreshold
		o.Evaluator = trust.NewEvaluator(opts.TrustOptions...)
		o.Logger = opts.Logger
		o.Signals = opts.Signals
	})

	diagOpts := append([]func(o *diagnostic.Options){func(o *diagnostic.Options) {
		o.Logger = opts.Logger
	}}, opts.DiagnosticOptions...)
	diagnoser := diagnostic.NewAgent(diagOpts...)

	engineOpts := append([]func(o *workflow.Options){func(o *workflow.Options) {
		o.Registry = reg
		o.Diagnoser = diagnoser
		o.Logger = opts.Logger
		o.Signals = opts.Signals
	}}, opts.EngineOptions...)

	sessionOpts := append([]func(o *session.Options){func(o *session.Options) {
		o.EngineOptions = engineOpts
		o.Logger = opts.Logger
		o.Signals = opts.Signals
	}}, opts.SessionOptions...)

	return &FlowMesh{
		opts:      opts,
		registry:  reg,
		diagnoser: diagnoser,
		manager:   session.NewManager(sessionOpts...),
	}
}

// Registry exposes the plugin registry for submission, listing and revocation.
func (f *FlowMesh) Registry() *registry.Registry { return f.registry }

// Sessions exposes the session manager, mainly for the HTTP front end.
func (f *FlowMesh) Sessions() *session.Manager { return f.manager }

// SubmitPlugin runs trust verification on a tool and admits it iff its score
// meets the threshold. The tool's own metadata forms the descriptor; source
// text is taken from the descriptor when the tool was drafted externally.
func (f *FlowMesh) SubmitPlugin(d core.ToolDescriptor, handler core.Tool) (registry.AdmissionResult, error) {
	return f.registry.Submit(registry.Submission{Descriptor: d, Handler: handler})
}

// StartFlow creates a session for the task and advances it through intake.
func (f *FlowMesh) StartFlow(ctx context.Context, task string, optFns ...func(o *session.StartOptions)) (*session.FlowResult, error) {
	return f.manager.StartFlow(ctx, task, optFns...)
}

// ResumeFlow performs one phase transition of a suspended session.
func (f *FlowMesh) ResumeFlow(ctx context.Context, sessionID, input string) (*session.FlowResult, error) {
	return f.manager.ResumeFlow(ctx, sessionID, input)
}

// Cancel terminates a session cooperatively between suspension points.
func (f *FlowMesh) Cancel(sessionID, reason string) (*session.FlowResult, error) {
	return f.manager.Cancel(sessionID, reason)
}

// Evict removes a session's state.
func (f *FlowMesh) Evict(sessionID string) error {
	return f.manager.Evict(sessionID)
}
