package model

import (
	"encoding/json"
	"time"
)

// Canonical run state constants. These are the engine's own vocabulary,
// independent of any provider's native status names.
const (
	StateQueued        = "QUEUED"
	StateInitializing  = "INITIALIZING"
	StateRunning       = "RUNNING"
	StatePaused        = "PAUSED"
	StateComplete      = "COMPLETE"
	StateExecutorError = "EXECUTOR_ERROR"
	StateSystemError   = "SYSTEM_ERROR"
	StateCanceling     = "CANCELING"
	StateCanceled      = "CANCELED"
	StateUnknown       = "UNKNOWN"
)

// terminalStates is the set of states a run can never leave.
var terminalStates = map[string]bool{
	StateComplete:      true,
	StateExecutorError: true,
	StateSystemError:   true,
	StateCanceled:      true,
}

// IsTerminal reports whether a run in the given state is finished.
func IsTerminal(state string) bool {
	return terminalStates[state]
}

// ActiveStates lists the non-terminal states a reconciliation pass cares about.
func ActiveStates() []string {
	return []string{StateQueued, StateInitializing, StateRunning, StatePaused, StateCanceling}
}

// AllStates lists every canonical state, in rough lifecycle order.
func AllStates() []string {
	return []string{
		StateQueued, StateInitializing, StateRunning, StatePaused,
		StateComplete, StateExecutorError, StateSystemError,
		StateCanceling, StateCanceled, StateUnknown,
	}
}

// validTransitions maps each state to the set of states it may move to.
// The graph is forward-only: there is no path out of a terminal state, and
// PAUSED may only bounce back to RUNNING. UNKNOWN never appears here because
// the controller never assigns it; it is a degraded read-side projection.
// CANCELED is reachable directly from INITIALIZING, RUNNING and PAUSED, not
// only via CANCELING: a backend canceled out of band reports its terminal
// status without the engine ever having requested it, and that report must
// still land. The engine's own cancel path always goes through CANCELING.
var validTransitions = map[string]map[string]bool{
	StateQueued: {
		StateInitializing:  true,
		StateRunning:       true,
		StateComplete:      true,
		StateExecutorError: true,
		StateSystemError:   true,
		StateCanceling:     true,
	},
	StateInitializing: {
		StateRunning:       true,
		StatePaused:        true,
		StateComplete:      true,
		StateExecutorError: true,
		StateSystemError:   true,
		StateCanceling:     true,
		StateCanceled:      true,
	},
	StateRunning: {
		StatePaused:        true,
		StateComplete:      true,
		StateExecutorError: true,
		StateSystemError:   true,
		StateCanceling:     true,
		StateCanceled:      true,
	},
	StatePaused: {
		StateRunning:       true,
		StateComplete:      true,
		StateExecutorError: true,
		StateSystemError:   true,
		StateCanceling:     true,
		StateCanceled:      true,
	},
	StateCanceling: {
		StateCanceled:      true,
		StateComplete:      true,
		StateExecutorError: true,
		StateSystemError:   true,
	},
}

// ValidTransition reports whether moving from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// CancelableStates are the states from which a cancel request is honored.
var cancelableStates = map[string]bool{
	StateQueued:       true,
	StateInitializing: true,
	StateRunning:      true,
	StatePaused:       true,
}

// Cancelable reports whether a run in the given state accepts a cancel request.
func Cancelable(state string) bool {
	return cancelableStates[state]
}

// SubmissionSpec carries the caller-supplied run parameters. The engine treats
// it as opaque and hands it to the provider adapter unmodified.
type SubmissionSpec struct {
	WorkflowURL     string            `json:"workflow_url"`
	WorkflowType    string            `json:"workflow_type"`
	WorkflowVersion string            `json:"workflow_type_version"`
	Params          json.RawMessage   `json:"workflow_params,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// Run represents one submitted workflow execution request, tracked from
// QUEUED to a terminal state.
type Run struct {
	ID               string          `json:"run_id"`
	State            string          `json:"state"`
	ProviderType     string          `json:"provider_type"`
	ExternalHandle   string          `json:"external_handle,omitempty"`
	Spec             SubmissionSpec  `json:"submission,omitempty"`
	Outputs          json.RawMessage `json:"outputs,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	SubmitAttempts   int             `json:"submit_attempts,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	StartTime        *time.Time      `json:"start_time,omitempty"`
	EndTime          *time.Time      `json:"end_time,omitempty"`
	LastReconciledAt *time.Time      `json:"last_reconciled_at,omitempty"`
	NextAttemptAt    *time.Time      `json:"next_attempt_at,omitempty"`
}
