// Package workflow implements the phase state machine driving one task
// through INTAKE, PLANNING, TOOL_SELECTION, EXECUTION, DIAGNOSIS and the
// terminal DONE/FAILED states. One engine instance exists per session and is
// only ever advanced under the session manager's per-session lock.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/diagnostic"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/registry"
	"github.com/hupe1980/flowmesh/signal"
)

// DefaultMaxTaskLen bounds accepted task descriptions.
const DefaultMaxTaskLen = 4096

// StepResult is the suspension snapshot returned after each advance: the
// phase the session now rests at, the output accumulated so far and the
// pending failure if the session is in (or fell into) DIAGNOSIS or FAILED.
type StepResult struct {
	Phase      core.Phase          `json:"phase"`
	Output     string              `json:"output,omitempty"`
	Checkpoint core.Checkpoint     `json:"checkpoint"`
	Failure    *core.FailureReport `json:"failure,omitempty"`
}

// Options configures an Engine.
type Options struct {
	// Registry supplies admitted tools for TOOL_SELECTION and EXECUTION.
	Registry *registry.Registry
	// Diagnoser is consulted whenever the session enters DIAGNOSIS.
	Diagnoser *diagnostic.Agent
	// Planner defaults to the keyword rule planner.
	Planner Planner
	// MaxTaskLen bounds the task description length.
	MaxTaskLen int
	// Acceptance lists substrings the final output must contain. An unmet
	// criterion after a successful-looking run routes to DIAGNOSIS.
	Acceptance []string
	// Logger defaults to NoOp.
	Logger logging.Logger
	// Signals receives phase transition and terminal events.
	Signals signal.Writer
}

// Engine is the per-session phase state machine. It is not safe for
// concurrent use; the session manager serializes all access.
type Engine struct {
	sessionID string
	opts      Options

	state *core.WorkflowState
	task  string

	plan     []Step
	selected []string // tool name per plan step; nil forces re-selection

	execAttempts int
	output       string
}

// New constructs an engine for one session, positioned at INTAKE.
func New(sessionID string, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Planner:    NewRulePlanner(),
		MaxTaskLen: DefaultMaxTaskLen,
		Logger:     logging.NoOpLogger{},
		Signals:    signal.NopWriter{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Diagnoser == nil {
		opts.Diagnoser = diagnostic.NewAgent()
	}
	return &Engine{
		sessionID: sessionID,
		opts:      opts,
		state:     core.NewWorkflowState(),
	}
}

// State exposes the workflow state for checkpoint inspection.
func (e *Engine) State() *core.WorkflowState { return e.state }

// Phase returns the phase the session currently rests at.
func (e *Engine) Phase() core.Phase { return e.state.Phase }

// Start validates the task and performs the INTAKE to PLANNING transition.
// It must be called exactly once, before any Advance.
func (e *Engine) Start(ctx context.Context, task string) (*StepResult, error) {
	if e.state.Phase != core.PhaseIntake {
		return nil, fmt.Errorf("start called in phase %s", e.state.Phase)
	}
	trimmed := strings.TrimSpace(task)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty description", core.ErrInvalidTask)
	}
	if len(task) > e.opts.MaxTaskLen {
		return nil, fmt.Errorf("%w: description exceeds %d bytes", core.ErrInvalidTask, e.opts.MaxTaskLen)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCancelled, err)
	}

	e.task = trimmed
	e.state.Append("user", "caller", trimmed)

	e.plan = e.opts.Planner.Plan(trimmed)
	tags := make([]string, 0, len(e.plan))
	for _, s := range e.plan {
		tags = append(tags, s.Tag)
	}
	e.state.Append("planner", "outline", "required capabilities: "+strings.Join(tags, ", "))

	e.transition(core.PhasePlanning)
	return e.snapshot(), nil
}

// Advance performs exactly one phase transition from the current suspension
// point. input, when non-empty, is appended to the task context first (caller
// approval notes, clarifications). Advancing a terminal session is a no-op
// returning the terminal snapshot.
func (e *Engine) Advance(ctx context.Context, input string) (*StepResult, error) {
	if e.state.Phase.Terminal() {
		return e.snapshot(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCancelled, err)
	}
	if strings.TrimSpace(input) != "" {
		e.state.Append("user", "caller", strings.TrimSpace(input))
	}

	switch e.state.Phase {
	case core.PhasePlanning:
		return e.advancePlanning()
	case core.PhaseToolSelection, core.PhaseExecution:
		return e.advanceExecution(ctx)
	case core.PhaseDiagnosis:
		return e.advanceDiagnosis(ctx)
	default:
		return nil, fmt.Errorf("cannot advance from phase %s", e.state.Phase)
	}
}

// advancePlanning resolves each required capability tag against the admitted
// set. A tag with zero admitted matches leaves the session suspended at
// PLANNING so the caller can submit a capable plugin and resume.
func (e *Engine) advancePlanning() (*StepResult, error) {
	selected, err := e.selectTools()
	if err != nil {
		return nil, err
	}
	e.selected = selected
	e.state.Resolved = append([]string(nil), selected...)
	e.state.Append("planner", "selection", "selected tools: "+strings.Join(selected, ", "))

	e.transition(core.PhaseToolSelection)
	return e.snapshot(), nil
}

// selectTools picks, per plan step, the admitted tool with the highest
// current trust score among those declaring the step's tag.
func (e *Engine) selectTools() ([]string, error) {
	selected := make([]string, 0, len(e.plan))
	for _, step := range e.plan {
		candidates := e.opts.Registry.ListAdmitted(registry.WithTag(step.Tag))
		if len(candidates) == 0 {
			return nil, fmt.Errorf("capability %q: %w", step.Tag, core.ErrNoCapableTool)
		}

		best := candidates[0].Name
		bestScore := -1.0
		for _, c := range candidates {
			if _, score, ok := e.opts.Registry.Get(c.Name); ok && score.Score > bestScore {
				best = c.Name
				bestScore = score.Score
			}
		}
		selected = append(selected, best)
	}
	return selected, nil
}

// advanceExecution runs the selected tools in plan order, threading the
// running context forward. The EXECUTION pass lands in DONE on success with
// acceptance criteria met, or in DIAGNOSIS carrying a FailureReport.
func (e *Engine) advanceExecution(ctx context.Context) (*StepResult, error) {
	if e.selected == nil {
		// Re-selection after a retry_variant verdict.
		selected, err := e.selectTools()
		if err != nil {
			report := core.FailureReport{
				Phase:   core.PhaseToolSelection,
				Kind:    core.FailureMissingCapability,
				Message: err.Error(),
				Attempt: e.execAttempts + 1,
			}
			return e.fail(report), nil
		}
		e.selected = selected
		e.state.Resolved = append([]string(nil), selected...)
	}

	e.execAttempts++
	e.transition(core.PhaseExecution)

	var outputs []string
	carry := ""
	for i, name := range e.selected {
		if err := ctx.Err(); err != nil {
			report := core.FailureReport{
				Phase:   core.PhaseExecution,
				Kind:    core.FailureTimeout,
				Tool:    name,
				Message: fmt.Sprintf("cancelled before %s completed: %v", name, err),
				Attempt: e.execAttempts,
			}
			return e.fail(report), nil
		}

		args := map[string]any{}
		for k, v := range e.plan[i].Args {
			args[k] = v
		}
		if carry != "" {
			args["input"] = carry
		}

		toolCtx := core.NewToolContext(ctx, e.sessionID, core.NewID(), map[string]any{
			"task":  e.task,
			"phase": string(core.PhaseExecution),
		}, e.opts.Logger)

		result, report, err := e.opts.Registry.Invoke(toolCtx, name, args)
		if err != nil {
			// The tool was revoked between selection and invocation.
			report = &core.FailureReport{
				Phase:   core.PhaseExecution,
				Kind:    core.FailureMissingCapability,
				Tool:    name,
				Message: err.Error(),
			}
		}
		if report != nil {
			report.Attempt = e.execAttempts
			return e.fail(*report), nil
		}

		out := fmt.Sprint(result)
		e.state.Append("tool", name, out)
		outputs = append(outputs, out)
		carry = out
	}

	combined := strings.Join(outputs, "\n")
	if unmet := e.unmetCriterion(combined); unmet != "" {
		report := core.FailureReport{
			Phase:   core.PhaseExecution,
			Kind:    core.FailureUnknown,
			Message: fmt.Sprintf("acceptance criterion not met: output lacks %q", unmet),
			Attempt: e.execAttempts,
		}
		return e.fail(report), nil
	}

	e.output = combined
	e.transition(core.PhaseDone)
	_ = e.opts.Signals.Append(signal.Record{
		Event:     signal.EventFlowComplete,
		SessionID: e.sessionID,
		Fields:    map[string]any{"checkpoint_seq": e.state.Checkpoint.Seq},
	})
	return e.snapshot(), nil
}

// unmetCriterion returns the first acceptance substring missing from the
// combined output, checking per-step post-conditions first.
func (e *Engine) unmetCriterion(output string) string {
	for _, step := range e.plan {
		if step.Expect != "" && !strings.Contains(output, step.Expect) {
			return step.Expect
		}
	}
	for _, want := range e.opts.Acceptance {
		if !strings.Contains(output, want) {
			return want
		}
	}
	return ""
}

// fail records the report, routes the session into DIAGNOSIS and returns the
// suspension snapshot. Raw tool failures never escape as errors.
func (e *Engine) fail(report core.FailureReport) *StepResult {
	e.state.History = append(e.state.History, report)
	e.state.Pending = &report
	e.state.Append("diagnostic", "failure", report.String())
	e.transition(core.PhaseDiagnosis)
	return e.snapshot()
}

// advanceDiagnosis consults the diagnostic agent on the pending report and
// either routes back to TOOL_SELECTION for a retry or terminates as FAILED.
func (e *Engine) advanceDiagnosis(ctx context.Context) (*StepResult, error) {
	if e.state.Pending == nil {
		e.transition(core.PhaseToolSelection)
		return e.snapshot(), nil
	}
	report := *e.state.Pending

	action := e.opts.Diagnoser.Diagnose(ctx, report, e.state.History)
	e.state.Append("diagnostic", "verdict", fmt.Sprintf("%s: %s", action.Strategy, action.Feedback))

	retryable := action.Strategy == core.RecoveryRetrySame || action.Strategy == core.RecoveryRetryVariant
	if retryable && action.RetryBudget > 0 && report.Attempt > action.RetryBudget {
		retryable = false
	}

	if retryable {
		if action.Strategy == core.RecoveryRetryVariant {
			e.selected = nil
		}
		e.state.Pending = nil
		e.transition(core.PhaseToolSelection)
		return e.snapshot(), nil
	}

	e.transition(core.PhaseFailed)
	_ = e.opts.Signals.Append(signal.Record{
		Event:     signal.EventFlowFailed,
		SessionID: e.sessionID,
		Fields:    map[string]any{"kind": string(report.Kind), "attempts": report.Attempt, "feedback": action.Feedback},
	})
	return e.snapshot(), fmt.Errorf("%w: %s after %d attempts (%s)", core.ErrDiagnosisEscalated, report.Kind, report.Attempt, e.failureChain())
}

// Cancel acknowledges cooperative cancellation between suspension points and
// terminates the session as FAILED with a cancellation record. Cancelling a
// terminal session is a no-op.
func (e *Engine) Cancel(reason string) *StepResult {
	if e.state.Phase.Terminal() {
		return e.snapshot()
	}
	if reason == "" {
		reason = "cancelled by caller"
	}
	e.state.Append("diagnostic", "cancel", reason)
	e.transition(core.PhaseFailed)
	_ = e.opts.Signals.Append(signal.Record{
		Event:     signal.EventFlowFailed,
		SessionID: e.sessionID,
		Fields:    map[string]any{"cancelled": true, "reason": reason},
	})
	return e.snapshot()
}

// failureChain renders the full failure history for terminal escalations.
func (e *Engine) failureChain() string {
	parts := make([]string, 0, len(e.state.History))
	for _, r := range e.state.History {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "; ")
}

// transition marks the checkpoint, logs the transition and appends the signal
// record. Checkpoint seq strictly increases per call.
func (e *Engine) transition(to core.Phase) {
	from := e.state.Phase
	e.state.Mark(to)
	e.opts.Logger.Info("workflow.phase_transition",
		"session_id", e.sessionID,
		"from", string(from),
		"to", string(to),
		"checkpoint_seq", e.state.Checkpoint.Seq,
	)
	_ = e.opts.Signals.Append(signal.Record{
		Event:     signal.EventPhaseTransition,
		SessionID: e.sessionID,
		Fields: map[string]any{
			"from":           string(from),
			"to":             string(to),
			"checkpoint_seq": e.state.Checkpoint.Seq,
		},
	})
}

func (e *Engine) snapshot() *StepResult {
	res := &StepResult{
		Phase:      e.state.Phase,
		Output:     e.output,
		Checkpoint: e.state.Checkpoint,
	}
	if e.state.Pending != nil {
		p := *e.state.Pending
		res.Failure = &p
	} else if e.state.Phase == core.PhaseFailed && len(e.state.History) > 0 {
		p := e.state.History[len(e.state.History)-1]
		res.Failure = &p
	}
	return res
}
