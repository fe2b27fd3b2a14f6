package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	targetStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "target",
			Name:      "starts_total",
			Help:      "Number of successful target starts.",
		}, []string{"name"},
	)
	targetRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "target",
			Name:      "restarts_total",
			Help:      "Number of restarts (crash recovery or watch).",
		}, []string{"name"},
	)
	targetStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "target",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "target",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between target lifecycle states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nodetap",
			Subsystem: "target",
			Name:      "current_state",
			Help:      "Current lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)

	pauses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "debug",
			Name:      "pauses_total",
			Help:      "Number of pauses by source (protocol, pattern, explicit).",
		}, []string{"name", "source"},
	)
	resumes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "debug",
			Name:      "resumes_total",
			Help:      "Number of resume commands issued.",
		}, []string{"name"},
	)
	evalTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "debug",
			Name:      "eval_timeouts_total",
			Help:      "Number of evaluations abandoned on timeout.",
		}, []string{"name"},
	)
	logRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodetap",
			Subsystem: "debug",
			Name:      "log_records_total",
			Help:      "Number of log records captured per category.",
		}, []string{"name", "category"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{targetStarts, targetRestarts, targetStops, stateTransitions, currentStates, pauses, resumes, evalTimeouts, logRecords}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				_ = are // keep existing
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		targetStarts.WithLabelValues(name).Inc()
	}
}
func IncRestart(name string) {
	if regOK.Load() {
		targetRestarts.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		targetStops.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func IncPause(name, source string) {
	if regOK.Load() {
		pauses.WithLabelValues(name, source).Inc()
	}
}
func IncResume(name string) {
	if regOK.Load() {
		resumes.WithLabelValues(name).Inc()
	}
}
func IncEvalTimeout(name string) {
	if regOK.Load() {
		evalTimeouts.WithLabelValues(name).Inc()
	}
}
func IncLogRecord(name, category string) {
	if regOK.Load() {
		logRecords.WithLabelValues(name, category).Inc()
	}
}
