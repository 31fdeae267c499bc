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

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herd",
			Subsystem: "instance",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions per instance.",
		}, []string{"instance", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "herd",
			Subsystem: "instance",
			Name:      "current_state",
			Help:      "Current lifecycle state of instances (1 = active state, 0 = inactive).",
		}, []string{"instance", "state"},
	)
	probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herd",
			Subsystem: "probe",
			Name:      "results_total",
			Help:      "Health probe outcomes per instance.",
		}, []string{"instance", "outcome"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herd",
			Subsystem: "remediation",
			Name:      "restarts_total",
			Help:      "Number of remediation restarts per instance.",
		}, []string{"instance"},
	)
	escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herd",
			Subsystem: "remediation",
			Name:      "escalations_total",
			Help:      "Instances driven to terminal Failed after exceeding the restart budget.",
		}, []string{"instance"},
	)
	runningInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "herd",
			Subsystem: "cluster",
			Name:      "running_instances",
			Help:      "Current running instances per node spec.",
		}, []string{"node"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{stateTransitions, currentState, probeResults, restarts, escalations, runningInstances}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires it into a route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register
// has been called.

func ObserveTransition(instance, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(instance, from, to).Inc()
	currentState.WithLabelValues(instance, from).Set(0)
	currentState.WithLabelValues(instance, to).Set(1)
}

func ObserveProbe(instance string, ok bool) {
	if !regOK.Load() {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	probeResults.WithLabelValues(instance, outcome).Inc()
}

func IncRestart(instance string) {
	if regOK.Load() {
		restarts.WithLabelValues(instance).Inc()
	}
}

func IncEscalation(instance string) {
	if regOK.Load() {
		escalations.WithLabelValues(instance).Inc()
	}
}

func SetRunningInstances(node string, n int) {
	if regOK.Load() {
		runningInstances.WithLabelValues(node).Set(float64(n))
	}
}
