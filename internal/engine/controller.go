package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/helix/internal/model"
	"github.com/seantiz/helix/internal/provider"
	"github.com/seantiz/helix/internal/store"
)

// Defaults applied when an Options field is zero.
const (
	DefaultProviderTimeout   = 60 * time.Second
	DefaultMaxSubmitAttempts = 5
	DefaultBackoffBase       = 30 * time.Second
	maxBackoff               = time.Hour
)

// ErrInvalidSpec reports a submission rejected before a run was created.
var ErrInvalidSpec = errors.New("invalid submission spec")

// ErrUnknownProvider reports a submission naming an unregistered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// Archiver receives the final record of a run that just reached a terminal
// state. Archival is best-effort and never blocks a transition.
type Archiver interface {
	ArchiveRun(ctx context.Context, run *model.Run, tasks []model.Task) error
}

// Options tune the controller. Zero values pick the defaults above.
type Options struct {
	// ProviderTimeout bounds each individual adapter call, independent of
	// the reconciliation worker's own deadline.
	ProviderTimeout time.Duration

	// MaxSubmitAttempts caps transient submission retries before the run
	// escalates to SYSTEM_ERROR.
	MaxSubmitAttempts int

	// BackoffBase is the delay before the second submission attempt; it
	// doubles per attempt up to a fixed cap.
	BackoffBase time.Duration

	// Archiver, when set, receives runs entering a terminal state.
	Archiver Archiver
}

// Controller owns the run state machine. It is the only writer of run
// records; every transition goes through the store's compare-and-set so a
// stale pass can never clobber a newer state.
type Controller struct {
	store    store.Store
	registry *provider.Registry
	logger   *slog.Logger
	opts     Options
}

// NewController creates a lifecycle controller.
func NewController(s store.Store, reg *provider.Registry, logger *slog.Logger, opts Options) *Controller {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.MaxSubmitAttempts <= 0 {
		opts.MaxSubmitAttempts = DefaultMaxSubmitAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	return &Controller{
		store:    s,
		registry: reg,
		logger:   logger,
		opts:     opts,
	}
}

// Submit validates the spec, persists a new run in QUEUED, and returns its
// id. No provider is contacted here: submission to the backend happens on
// the first reconciliation pass, keeping API latency independent of
// provider latency.
func (c *Controller) Submit(ctx context.Context, providerType string, spec model.SubmissionSpec) (string, error) {
	if spec.WorkflowURL == "" {
		return "", fmt.Errorf("%w: workflow_url is required", ErrInvalidSpec)
	}
	if providerType == "" {
		return "", fmt.Errorf("%w: provider is required", ErrInvalidSpec)
	}
	if _, err := c.registry.Resolve(providerType); err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerType)
	}

	run := &model.Run{
		ID:           model.NewID(),
		State:        model.StateQueued,
		ProviderType: providerType,
		Spec:         spec,
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	c.logger.Info("run submitted", "run_id", run.ID, "provider", providerType)
	return run.ID, nil
}

// Reconcile drives one run toward its terminal state. It is the single
// entry point for both the notification path and the poll loop, idempotent
// and guarded by a non-blocking per-run lock: if another worker holds the
// run, this invocation is a no-op, not an error. The lock spans the whole
// pass, adapter call included, so a slow provider cannot race a concurrent
// poll-triggered pass for the same run.
func (c *Controller) Reconcile(ctx context.Context, runID string) error {
	if !c.store.TryLock(runID) {
		reconciliationsTotal.WithLabelValues("skipped_locked").Inc()
		return nil
	}
	defer c.store.Unlock(runID)

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		reconciliationsTotal.WithLabelValues("engine_fault").Inc()
		return fmt.Errorf("reconcile %s: %w", runID, err)
	}

	if model.IsTerminal(run.State) {
		reconciliationsTotal.WithLabelValues("noop_terminal").Inc()
		return nil
	}

	switch {
	case run.State == model.StateCanceling && run.ExternalHandle == "":
		// Canceled before submission ever happened; nothing external to
		// confirm, finalize directly.
		return c.finalizeCancel(ctx, run)
	case run.State == model.StateQueued:
		return c.submitQueued(ctx, run)
	case run.ExternalHandle != "":
		return c.refreshStatus(ctx, run)
	default:
		// Non-QUEUED without a handle should be unreachable; record the
		// pass and let the poll loop look again.
		c.logger.Warn("run has no external handle", "run_id", run.ID, "state", run.State)
		return c.touch(ctx, run.ID)
	}
}

// submitQueued performs the one and only backend submission for a run. The
// external handle is written in the same compare-and-set that moves
// QUEUED→INITIALIZING, so at most one handle can ever be recorded even
// under concurrent duplicate notifications.
func (c *Controller) submitQueued(ctx context.Context, run *model.Run) error {
	p, err := c.registry.Resolve(run.ProviderType)
	if err != nil {
		// The provider disappeared from configuration since submission.
		return c.failRun(ctx, run, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.ProviderTimeout)
	handle, err := p.Submit(callCtx, provider.Submission{RunID: run.ID, Spec: run.Spec})
	cancel()

	if err != nil {
		var se *provider.SubmissionError
		if errors.As(err, &se) {
			providerErrorsTotal.WithLabelValues(run.ProviderType, "permanent").Inc()
			reconciliationsTotal.WithLabelValues("permanent_error").Inc()
			c.logger.Error("submission rejected", "run_id", run.ID, "error", err)
			return c.failRun(ctx, run, err.Error())
		}

		providerErrorsTotal.WithLabelValues(run.ProviderType, "transient").Inc()
		attempts := run.SubmitAttempts + 1
		if attempts >= c.opts.MaxSubmitAttempts {
			reconciliationsTotal.WithLabelValues("permanent_error").Inc()
			c.logger.Error("submission giving up", "run_id", run.ID, "attempts", attempts, "error", err)
			return c.failRun(ctx, run, fmt.Sprintf("giving up after %d submission attempts: %v", attempts, err))
		}

		reconciliationsTotal.WithLabelValues("transient_error").Inc()
		next := time.Now().UTC().Add(c.backoff(attempts))
		c.logger.Warn("submission failed, will retry",
			"run_id", run.ID, "attempt", attempts, "next_attempt_at", next, "error", err)
		return c.cas(ctx, run, run.State, store.StateUpdate{
			State:          model.StateQueued,
			SubmitAttempts: &attempts,
			NextAttemptAt:  &next,
		})
	}

	now := time.Now().UTC()
	upd := store.StateUpdate{
		State:            model.StateInitializing,
		ExternalHandle:   &handle,
		StartTime:        &now,
		ClearNextAttempt: true,
	}
	if err := c.store.CompareAndSetState(ctx, run.ID, model.StateQueued, upd); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			// The run left QUEUED while Submit was in flight (a cancel
			// landed). The record will never carry this handle, so stop
			// the backend run instead of orphaning it.
			c.logger.Warn("run changed during submission, stopping backend run",
				"run_id", run.ID, "handle", handle)
			cancelCtx, cancelFn := context.WithTimeout(ctx, c.opts.ProviderTimeout)
			if _, cerr := p.Cancel(cancelCtx, handle); cerr != nil {
				c.logger.Error("failed to stop superseded backend run",
					"run_id", run.ID, "handle", handle, "error", cerr)
			}
			cancelFn()
			return nil
		}
		return err
	}
	reconciliationsTotal.WithLabelValues("submitted").Inc()
	stateTransitionsTotal.WithLabelValues(model.StateQueued, model.StateInitializing).Inc()
	c.logger.Info("run dispatched", "run_id", run.ID, "provider", run.ProviderType, "handle", handle)
	return nil
}

// refreshStatus maps one provider snapshot onto the stored run. The state
// write, the wholesale task replacement, and the terminal bookkeeping all
// land in one store transaction.
func (c *Controller) refreshStatus(ctx context.Context, run *model.Run) error {
	p, err := c.registry.Resolve(run.ProviderType)
	if err != nil {
		return c.failRun(ctx, run, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.ProviderTimeout)
	snap, err := p.Status(callCtx, run.ExternalHandle)
	cancel()

	if err != nil {
		var ue *provider.UnavailableError
		if errors.As(err, &ue) || errors.Is(err, context.DeadlineExceeded) {
			providerErrorsTotal.WithLabelValues(run.ProviderType, "transient").Inc()
			reconciliationsTotal.WithLabelValues("transient_error").Inc()
			c.logger.Warn("status check failed", "run_id", run.ID, "error", err)
			return c.touch(ctx, run.ID)
		}
		providerErrorsTotal.WithLabelValues(run.ProviderType, "permanent").Inc()
		reconciliationsTotal.WithLabelValues("permanent_error").Inc()
		c.logger.Error("status check failed permanently", "run_id", run.ID, "error", err)
		return c.failRun(ctx, run, err.Error())
	}

	if snap.State == model.StateUnknown {
		// No usable information; leave the record as-is apart from the
		// reconciliation timestamp.
		c.logger.Warn("provider reported unmapped status", "run_id", run.ID, "provider", run.ProviderType)
		return c.touch(ctx, run.ID)
	}

	tasks := snap.Tasks
	if tasks == nil {
		tasks = []model.Task{}
	}
	for i := range tasks {
		tasks[i].RunID = run.ID
	}

	if snap.State == run.State || !model.ValidTransition(run.State, snap.State) {
		if snap.State != run.State {
			// A backward or disallowed report. While CANCELING this is
			// expected (the backend hasn't observed the cancel yet);
			// anything else is the backend misbehaving.
			c.logger.Warn("ignoring disallowed state report",
				"run_id", run.ID, "state", run.State, "reported", snap.State)
		}
		reconciliationsTotal.WithLabelValues("refreshed").Inc()
		return c.cas(ctx, run, run.State, store.StateUpdate{State: run.State, Tasks: tasks})
	}

	upd := store.StateUpdate{State: snap.State, Tasks: tasks}
	if model.IsTerminal(snap.State) {
		now := time.Now().UTC()
		upd.EndTime = &now
	}
	if snap.State == model.StateComplete && snap.Outputs != nil {
		upd.Outputs = snap.Outputs
	}
	if snap.State == model.StateExecutorError {
		msg := "provider reported execution failure"
		upd.ErrorMessage = &msg
	}

	if err := c.cas(ctx, run, run.State, upd); err != nil {
		return err
	}
	reconciliationsTotal.WithLabelValues("refreshed").Inc()
	stateTransitionsTotal.WithLabelValues(run.State, snap.State).Inc()
	c.logger.Info("run state updated", "run_id", run.ID, "from", run.State, "to", snap.State)

	if model.IsTerminal(snap.State) {
		c.archive(ctx, run.ID)
	}
	return nil
}

// Cancel requests cancellation. Terminal runs are a no-op returning the
// current state. Runs without an external handle are finalized to CANCELED
// engine-side without any adapter call; everything else moves to CANCELING,
// the adapter is called eagerly once, and a later reconciliation pass
// confirms the backend's outcome.
func (c *Controller) Cancel(ctx context.Context, runID string) (string, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}

	if model.IsTerminal(run.State) || run.State == model.StateCanceling {
		return run.State, nil
	}
	if !model.Cancelable(run.State) {
		return run.State, fmt.Errorf("run %s in state %s cannot be canceled", runID, run.State)
	}

	if err := c.store.CompareAndSetState(ctx, runID, run.State, store.StateUpdate{State: model.StateCanceling}); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			// A reconciliation pass moved the run first; report what it is now.
			current, gerr := c.store.GetRun(ctx, runID)
			if gerr != nil {
				return "", gerr
			}
			return current.State, nil
		}
		return "", err
	}
	stateTransitionsTotal.WithLabelValues(run.State, model.StateCanceling).Inc()
	c.logger.Info("run canceling", "run_id", runID, "from", run.State)

	if run.ExternalHandle == "" {
		now := time.Now().UTC()
		if err := c.store.CompareAndSetState(ctx, runID, model.StateCanceling, store.StateUpdate{
			State:   model.StateCanceled,
			EndTime: &now,
		}); err != nil {
			if errors.Is(err, store.ErrStateConflict) {
				// A reconciliation pass finalized first; report what it is now.
				current, gerr := c.store.GetRun(ctx, runID)
				if gerr != nil {
					return "", gerr
				}
				return current.State, nil
			}
			return "", err
		}
		stateTransitionsTotal.WithLabelValues(model.StateCanceling, model.StateCanceled).Inc()
		c.archive(ctx, runID)
		return model.StateCanceled, nil
	}

	// Eager best-effort adapter call; confirmation comes from the next
	// reconciliation, so a failure here is logged and swallowed.
	p, err := c.registry.Resolve(run.ProviderType)
	if err != nil {
		c.logger.Error("cancel: provider unresolvable", "run_id", runID, "error", err)
		return model.StateCanceling, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.ProviderTimeout)
	accepted, err := p.Cancel(callCtx, run.ExternalHandle)
	cancel()
	if err != nil {
		c.logger.Warn("cancel call failed, reconciliation will confirm", "run_id", runID, "error", err)
	} else if !accepted {
		c.logger.Warn("backend declined cancel", "run_id", runID)
	}
	return model.StateCanceling, nil
}

// GetStatus returns the run's current state without reconciling.
func (c *Controller) GetStatus(ctx context.Context, runID string) (string, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.State, nil
}

// GetDetail returns the full run record and its task list.
func (c *Controller) GetDetail(ctx context.Context, runID string) (*model.Run, []model.Task, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := c.store.GetTasks(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, tasks, nil
}

// List returns one page of runs. Pure read; never triggers reconciliation.
func (c *Controller) List(ctx context.Context, filter store.ListFilter, pageToken string, pageSize int) ([]*model.Run, string, error) {
	return c.store.ListRuns(ctx, filter, pageToken, pageSize)
}

// finalizeCancel completes a cancel for a run that was never submitted.
func (c *Controller) finalizeCancel(ctx context.Context, run *model.Run) error {
	now := time.Now().UTC()
	if err := c.cas(ctx, run, model.StateCanceling, store.StateUpdate{
		State:   model.StateCanceled,
		EndTime: &now,
	}); err != nil {
		return err
	}
	reconciliationsTotal.WithLabelValues("canceled").Inc()
	stateTransitionsTotal.WithLabelValues(model.StateCanceling, model.StateCanceled).Inc()
	c.archive(ctx, run.ID)
	return nil
}

// failRun moves a run to SYSTEM_ERROR with the failure recorded.
func (c *Controller) failRun(ctx context.Context, run *model.Run, msg string) error {
	now := time.Now().UTC()
	if err := c.cas(ctx, run, run.State, store.StateUpdate{
		State:        model.StateSystemError,
		ErrorMessage: &msg,
		EndTime:      &now,
	}); err != nil {
		return err
	}
	stateTransitionsTotal.WithLabelValues(run.State, model.StateSystemError).Inc()
	c.archive(ctx, run.ID)
	return nil
}

// cas writes through the store's compare-and-set, treating a lost race as a
// clean no-op: the pass that won has fresher information.
func (c *Controller) cas(ctx context.Context, run *model.Run, expected string, upd store.StateUpdate) error {
	err := c.store.CompareAndSetState(ctx, run.ID, expected, upd)
	if errors.Is(err, store.ErrStateConflict) {
		c.logger.Debug("state changed mid-pass", "run_id", run.ID, "expected", expected)
		return nil
	}
	return err
}

func (c *Controller) touch(ctx context.Context, runID string) error {
	return c.store.TouchReconciled(ctx, runID, time.Now().UTC())
}

// archive hands the final record to the archiver, if one is configured.
func (c *Controller) archive(ctx context.Context, runID string) {
	if c.opts.Archiver == nil {
		return
	}
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		c.logger.Error("archive: load run", "run_id", runID, "error", err)
		return
	}
	tasks, err := c.store.GetTasks(ctx, runID)
	if err != nil {
		c.logger.Error("archive: load tasks", "run_id", runID, "error", err)
		return
	}
	if err := c.opts.Archiver.ArchiveRun(ctx, run, tasks); err != nil {
		c.logger.Error("archive failed", "run_id", runID, "error", err)
	}
}

// backoff returns the delay before the given (1-based) retry attempt.
func (c *Controller) backoff(attempt int) time.Duration {
	d := c.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
