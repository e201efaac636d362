package model

import "time"

// Task is a provider-reported sub-unit of a run's execution. Tasks are owned
// by their run and replaced wholesale on every successful reconciliation,
// never patched individually.
type Task struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	Name      string     `json:"name"`
	Command   string     `json:"cmd,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Stdout    string     `json:"stdout,omitempty"`
	Stderr    string     `json:"stderr,omitempty"`
}
