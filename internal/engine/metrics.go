package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helix_reconciliations_total",
			Help: "Total number of reconciliation passes by outcome.",
		},
		[]string{"outcome"},
	)

	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helix_state_transitions_total",
			Help: "Total number of persisted run state transitions.",
		},
		[]string{"from", "to"},
	)

	providerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helix_provider_errors_total",
			Help: "Total number of provider adapter call failures by classification.",
		},
		[]string{"provider", "kind"},
	)

	reconcileQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helix_reconcile_queue_depth",
			Help: "Number of run ids currently waiting in the reconciliation queue.",
		},
	)

	notificationsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helix_notifications_dropped_total",
			Help: "Total number of reconciliation requests dropped because the queue was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(reconciliationsTotal)
	prometheus.MustRegister(stateTransitionsTotal)
	prometheus.MustRegister(providerErrorsTotal)
	prometheus.MustRegister(reconcileQueueDepth)
	prometheus.MustRegister(notificationsDroppedTotal)

	// Pre-initialize the outcome series so /metrics shows them at 0 from
	// startup instead of only after the first pass.
	for _, outcome := range []string{
		"submitted", "refreshed", "canceled", "noop_terminal",
		"skipped_locked", "transient_error", "permanent_error", "engine_fault",
	} {
		reconciliationsTotal.WithLabelValues(outcome)
	}
}
