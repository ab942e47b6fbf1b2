// Package metrics holds the controller's Prometheus collectors. They are
// registered on the default registry; exposing them over HTTP is left to
// the embedding process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SensorReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlr_sensor_read_failures_total",
		Help: "Failed sensor read attempts, by sensor id.",
	}, []string{"sensor"})

	SensorReadsExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlr_sensor_reads_exhausted_total",
		Help: "Reads that returned no values after all retries, by sensor id.",
	}, []string{"sensor"})

	PollRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlr_poll_rounds_total",
		Help: "Completed polling rounds over all sensors.",
	})

	ActuatorSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlr_actuator_send_failures_total",
		Help: "Actuator command attempts that did not return HTTP 200.",
	})

	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlr_phase_transitions_total",
		Help: "Persisted cycle phase transitions, by entered phase.",
	}, []string{"phase"})

	WatchdogRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlr_watchdog_restarts_total",
		Help: "Control loop restarts triggered by the watchdog.",
	})
)
