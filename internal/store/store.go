package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/seantiz/helix/internal/model"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// ErrStateConflict is returned by CompareAndSetState when the stored state no
// longer matches the expected state. The caller lost the race and should
// re-read rather than retry blindly.
var ErrStateConflict = errors.New("run state conflict")

// ErrInvalidCursor is returned when a page token cannot be decoded. Listing
// fails loudly instead of silently resetting to the first page.
var ErrInvalidCursor = errors.New("invalid page token")

// ListFilter narrows a run listing. Zero values match everything.
type ListFilter struct {
	State        string
	ProviderType string
}

// StateUpdate carries the fields written by one reconciliation pass. All of
// it is applied in a single transaction together with the state change, so a
// half-written pass can never be observed. Nil pointer fields are left
// untouched; a non-nil Tasks slice replaces the run's task list wholesale.
type StateUpdate struct {
	State            string
	ExternalHandle   *string
	StartTime        *time.Time
	EndTime          *time.Time
	ErrorMessage     *string
	Outputs          json.RawMessage
	SubmitAttempts   *int
	NextAttemptAt    *time.Time
	ClearNextAttempt bool
	Tasks            []model.Task
}

// RunStats holds aggregate run counts for the stats endpoint.
type RunStats struct {
	Total      int            `json:"total"`
	ByState    map[string]int `json:"by_state"`
	ByProvider map[string]int `json:"by_provider"`
}

// Locker provides non-blocking per-run mutual exclusion. TryLock returns
// false immediately when the run is already locked; it never blocks.
type Locker interface {
	TryLock(runID string) bool
	Unlock(runID string)
}

// Store defines the persistence operations for runs and their tasks.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	GetTasks(ctx context.Context, runID string) ([]model.Task, error)

	// ListRuns returns one page of runs ordered by (created_at, id) ascending,
	// plus the token for the next page ("" when exhausted).
	ListRuns(ctx context.Context, filter ListFilter, pageToken string, pageSize int) ([]*model.Run, string, error)

	// CompareAndSetState applies upd only if the run is currently in
	// expectedState, updating last_reconciled_at as part of the same write.
	// Returns ErrStateConflict on a state mismatch, ErrNotFound for an
	// unknown run.
	CompareAndSetState(ctx context.Context, id, expectedState string, upd StateUpdate) error

	// TouchReconciled records a reconciliation pass that changed nothing else.
	TouchReconciled(ctx context.Context, id string, at time.Time) error

	// ListReconcilable returns ids of runs the poll loop should enqueue:
	// QUEUED runs whose next attempt is due at now, and non-terminal runs
	// not reconciled since staleBefore.
	ListReconcilable(ctx context.Context, now, staleBefore time.Time, limit int) ([]string, error)

	GetRunStats(ctx context.Context) (*RunStats, error)

	Locker
	Close() error
}
