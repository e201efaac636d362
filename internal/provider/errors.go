package provider

import "fmt"

// SubmissionError reports a permanent rejection: the backend refused the
// workflow id or spec outright. The run will not be retried.
type SubmissionError struct {
	Provider string
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s rejected submission: %v", e.Provider, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// UnavailableError reports a transient failure: timeout, rate limit, or an
// auth refresh. The run is left untouched and retried on a later cycle.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
