package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/helix/internal/store"
)

// Scheduler defaults applied when a SchedulerConfig field is zero.
const (
	DefaultPollInterval       = 30 * time.Second
	DefaultStalenessThreshold = 2 * time.Minute
	DefaultReconcileTimeout   = 2 * time.Minute
	DefaultWorkers            = 8
	DefaultQueueSize          = 256
	DefaultPollBatch          = 100
)

// SchedulerConfig tunes the reconciliation scheduler.
type SchedulerConfig struct {
	// PollInterval is how often the poll loop sweeps the store for runs
	// that are due or stale.
	PollInterval time.Duration

	// StalenessThreshold is how long an active run may go unreconciled
	// before the poll loop picks it up, backstopping lost notifications.
	StalenessThreshold time.Duration

	// ReconcileTimeout bounds a single reconciliation pass end to end.
	ReconcileTimeout time.Duration

	// Workers is the fixed number of reconciliation goroutines.
	Workers int

	// QueueSize bounds the pending-run queue. A full queue drops new
	// notifications; the poll loop re-finds the dropped runs later.
	QueueSize int

	// PollBatch caps the number of runs one poll sweep may enqueue.
	PollBatch int
}

func (c *SchedulerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = DefaultStalenessThreshold
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = DefaultReconcileTimeout
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PollBatch <= 0 {
		c.PollBatch = DefaultPollBatch
	}
}

// Scheduler feeds run ids to a bounded worker pool from two sources: pushed
// notifications and a periodic poll sweep. Both funnel into the same queue
// and the same Controller.Reconcile, so a duplicate or lost notification is
// harmless.
type Scheduler struct {
	ctrl   *Controller
	store  store.Store
	cfg    SchedulerConfig
	logger *slog.Logger

	queue    chan string
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Start to launch the workers.
func NewScheduler(ctrl *Controller, s store.Store, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		ctrl:   ctrl,
		store:  s,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan string, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
}

// Start launches the worker pool and the poll loop.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.pollLoop()
	s.logger.Info("scheduler started",
		"workers", s.cfg.Workers, "queue_size", s.cfg.QueueSize, "poll_interval", s.cfg.PollInterval)
}

// Notify enqueues a run for reconciliation without blocking. Returns false
// when the queue is full; the run is not lost, only deferred until the next
// poll sweep finds it again.
func (s *Scheduler) Notify(runID string) bool {
	select {
	case s.queue <- runID:
		reconcileQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		notificationsDroppedTotal.Inc()
		s.logger.Warn("reconcile queue full, dropping notification", "run_id", runID)
		return false
	}
}

// Stop halts the poll loop and workers and waits for in-flight passes to
// finish. Queued but unstarted runs are abandoned; the poll loop re-finds
// them on the next start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case runID := <-s.queue:
			reconcileQueueDepth.Set(float64(len(s.queue)))
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReconcileTimeout)
			if err := s.ctrl.Reconcile(ctx, runID); err != nil {
				s.logger.Error("reconcile failed", "run_id", runID, "error", err)
			}
			cancel()
		}
	}
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep enqueues every run that is due for submission retry or has gone
// stale since its last reconciliation.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReconcileTimeout)
	defer cancel()

	now := time.Now().UTC()
	ids, err := s.store.ListReconcilable(ctx, now, now.Add(-s.cfg.StalenessThreshold), s.cfg.PollBatch)
	if err != nil {
		s.logger.Error("poll sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		s.Notify(id)
	}
	if len(ids) > 0 {
		s.logger.Debug("poll sweep enqueued runs", "count", len(ids))
	}
}
