// Package metrics exposes Prometheus instrumentation for the dispatch daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch modes.
const (
	ModeIsolated = "isolated"
	ModeInline   = "inline"
)

// Worker outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// LoopStates lists every value SetLoopState accepts.
var LoopStates = []string{"awaiting_store", "polling", "stopped"}

var (
	// PollCycles counts completed due-queries.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_poll_cycles_total",
		Help: "Total number of poll cycles that queried the schedule.",
	})

	// DueEntries is the size of the last due batch.
	DueEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatchd_due_entries",
		Help: "Number of due schedule entries found by the last poll.",
	})

	// Dispatches counts dispatched entries by mode.
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_dispatches_total",
		Help: "Total number of dispatched schedule entries.",
	}, []string{"mode"})

	// WorkerExits counts finished workers by outcome.
	WorkerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_worker_exits_total",
		Help: "Total number of finished workers.",
	}, []string{"outcome"})

	// WorkersRunning is the number of tracked isolated workers.
	WorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatchd_workers_running",
		Help: "Number of isolated workers currently tracked.",
	})

	// StoreErrors counts store failures seen by the loop by class.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_store_errors_total",
		Help: "Total number of store errors by classification.",
	}, []string{"class"})

	// LoopState is 1 for the loop's current state and 0 for the others.
	LoopState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatchd_loop_state",
		Help: "Current dispatch loop state.",
	}, []string{"state"})
)

// SetLoopState marks state as current.
func SetLoopState(state string) {
	for _, s := range LoopStates {
		v := 0.0
		if s == state {
			v = 1
		}
		LoopState.WithLabelValues(s).Set(v)
	}
}

// ObserveWorkerExit records a finished worker.
func ObserveWorkerExit(exitCode int) {
	if exitCode == 0 {
		WorkerExits.WithLabelValues(OutcomeSuccess).Inc()
		return
	}
	WorkerExits.WithLabelValues(OutcomeFailure).Inc()
}
