// Package diagnostic classifies workflow failures and selects recovery
// strategies. The agent is consulted by the workflow engine whenever a session
// enters DIAGNOSIS; it never mutates workflow state itself.
package diagnostic

import (
	"context"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/model"
)

// DefaultWatchdogThreshold is the number of prior same-signature failures
// tolerated before the loop watchdog aborts the recovery cycle.
const DefaultWatchdogThreshold = 2

// DefaultRetryBudget is the retry allowance attached to retryable verdicts.
const DefaultRetryBudget = 2

// Options configures an Agent.
type Options struct {
	// WatchdogThreshold bounds repeated identical failures. With a threshold
	// of N, the N+1th occurrence of the same (phase, kind) signature aborts.
	WatchdogThreshold int
	// RetryBudget is attached to retry verdicts.
	RetryBudget int
	// Advisor, when set, is asked for remediation feedback on escalations.
	// Diagnosis never fails because the advisor is unavailable.
	Advisor model.Model
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Agent inspects failure reports and produces recovery actions.
type Agent struct {
	opts Options
}

// NewAgent constructs a diagnostic agent with optional overrides.
func NewAgent(optFns ...func(o *Options)) *Agent {
	opts := Options{
		WatchdogThreshold: DefaultWatchdogThreshold,
		RetryBudget:       DefaultRetryBudget,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Agent{opts: opts}
}

// Diagnose maps one failure report onto a recovery action. history is the
// session's full failure record including report itself; the watchdog counts
// occurrences of the same (phase, kind) signature in it.
func (a *Agent) Diagnose(ctx context.Context, report core.FailureReport, history []core.FailureReport) core.RecoveryAction {
	if seen := countSignature(history, report); seen > a.opts.WatchdogThreshold {
		a.opts.Logger.Warn("diagnostic.watchdog_abort",
			"phase", string(report.Phase),
			"kind", string(report.Kind),
			"occurrences", seen,
		)
		return core.RecoveryAction{
			Strategy: core.RecoveryAbort,
			Feedback: fmt.Sprintf("recovery loop detected: %s failed %d times with %s", report.Phase, seen, report.Kind),
		}
	}

	action := a.classify(report)
	if action.Strategy == core.RecoveryEscalate {
		action.Feedback = a.advise(ctx, report, action.Feedback)
	}

	a.opts.Logger.Info("diagnostic.verdict",
		"kind", string(report.Kind),
		"strategy", string(action.Strategy),
		"attempt", report.Attempt,
	)
	return action
}

// classify applies the kind to strategy mapping. Transient kinds retry the
// same selection, capability gaps retry after re-selection, malformed input
// escalates to the caller, and unknown kinds get a single cautious retry.
func (a *Agent) classify(report core.FailureReport) core.RecoveryAction {
	switch report.Kind {
	case core.FailureTimeout, core.FailureConnectivity:
		return core.RecoveryAction{
			Strategy:    core.RecoveryRetrySame,
			RetryBudget: a.opts.RetryBudget,
			Feedback:    "transient failure, retrying the same tool",
		}
	case core.FailureMissingCapability:
		return core.RecoveryAction{
			Strategy:    core.RecoveryRetryVariant,
			RetryBudget: a.opts.RetryBudget,
			Feedback:    "selected tool lacks the required capability, re-selecting",
		}
	case core.FailureMalformedInput:
		return core.RecoveryAction{
			Strategy: core.RecoveryEscalate,
			Feedback: "tool rejected its input, caller clarification required",
		}
	default:
		if report.Attempt > 1 {
			return core.RecoveryAction{
				Strategy: core.RecoveryEscalate,
				Feedback: "unclassified failure persisted after retry",
			}
		}
		return core.RecoveryAction{
			Strategy:    core.RecoveryRetrySame,
			RetryBudget: 1,
			Feedback:    "unclassified failure, retrying once",
		}
	}
}

// advise enriches escalation feedback via the optional advisor model. Any
// advisor error falls back to the original feedback.
func (a *Agent) advise(ctx context.Context, report core.FailureReport, fallback string) string {
	if a.opts.Advisor == nil {
		return fallback
	}

	resp, err := a.opts.Advisor.Generate(ctx, model.Request{
		Instructions: "You are a diagnostic assistant for an agent workflow. Suggest a one-sentence remediation for the failure.",
		Prompt:       report.String(),
	})
	if err != nil || resp.Text == "" {
		a.opts.Logger.Debug("diagnostic.advisor_unavailable", "error", fmt.Sprint(err))
		return fallback
	}
	return resp.Text
}

// countSignature counts history entries sharing the report's phase and kind.
func countSignature(history []core.FailureReport, report core.FailureReport) int {
	n := 0
	for _, h := range history {
		if h.Phase == report.Phase && h.Kind == report.Kind {
			n++
		}
	}
	return n
}
