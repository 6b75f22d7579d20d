package core

// Phase is one state of the workflow engine's state machine.
//
// The forward path is INTAKE → PLANNING → TOOL_SELECTION → EXECUTION → DONE.
// DIAGNOSIS is entered only on failure from TOOL_SELECTION or EXECUTION and
// transitions back to TOOL_SELECTION (retry) or forward to FAILED (abort).
// DONE and FAILED are absorbing terminal states.
type Phase string

const (
	PhaseIntake        Phase = "INTAKE"
	PhasePlanning      Phase = "PLANNING"
	PhaseToolSelection Phase = "TOOL_SELECTION"
	PhaseExecution     Phase = "EXECUTION"
	PhaseDiagnosis     Phase = "DIAGNOSIS"
	PhaseDone          Phase = "DONE"
	PhaseFailed        Phase = "FAILED"
)

// Terminal reports whether the phase is absorbing: once reached, the engine
// never advances again.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseFailed }

// String returns the phase label used in signal records and logs.
func (p Phase) String() string { return string(p) }
