package core

import "fmt"

// FailureKind classifies a tool or phase failure for the diagnostic agent.
type FailureKind string

const (
	FailureTimeout           FailureKind = "timeout"
	FailureConnectivity      FailureKind = "connectivity"
	FailureMissingCapability FailureKind = "missing_capability"
	FailureMalformedInput    FailureKind = "malformed_input"
	FailureUnknown           FailureKind = "unknown"
)

// FailureReport is created by the workflow engine when a phase fails and is
// consumed by the diagnostic agent. Tool-execution failures are always caught
// at the EXECUTION boundary and converted into reports; they never escape the
// engine as raw errors.
type FailureReport struct {
	Phase   Phase       `json:"phase"`
	Kind    FailureKind `json:"kind"`
	Tool    string      `json:"tool,omitempty"`
	Message string      `json:"message"`
	Attempt int         `json:"attempt"`
}

func (r FailureReport) String() string {
	if r.Tool != "" {
		return fmt.Sprintf("%s/%s tool=%s attempt=%d: %s", r.Phase, r.Kind, r.Tool, r.Attempt, r.Message)
	}
	return fmt.Sprintf("%s/%s attempt=%d: %s", r.Phase, r.Kind, r.Attempt, r.Message)
}

// RecoveryStrategy is the diagnostic agent's verdict on a failure report.
type RecoveryStrategy string

const (
	// RecoveryRetrySame retries the same tool selection (transient failures).
	RecoveryRetrySame RecoveryStrategy = "retry_same"
	// RecoveryRetryVariant retries after tool re-selection (capability gaps).
	RecoveryRetryVariant RecoveryStrategy = "retry_variant"
	// RecoveryEscalate surfaces the failure to the caller for clarification.
	RecoveryEscalate RecoveryStrategy = "escalate"
	// RecoveryAbort terminates the session as FAILED.
	RecoveryAbort RecoveryStrategy = "abort"
)

// RecoveryAction is produced by the diagnostic agent for one FailureReport.
type RecoveryAction struct {
	Strategy    RecoveryStrategy `json:"strategy"`
	RetryBudget int              `json:"retry_budget"`
	Feedback    string           `json:"feedback,omitempty"`
}
