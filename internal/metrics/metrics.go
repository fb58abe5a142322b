package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the tick pipeline. Exported through the /metrics endpoint.
var (
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gardenia_ticks_total",
		Help: "Completed tick pipeline runs.",
	})
	RuleFirings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gardenia_rule_firings_total",
		Help: "Automation rules fired.",
	})
	TelemetryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gardenia_telemetry_errors_total",
		Help: "Failed telemetry refresh attempts.",
	})
	ActuatorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gardenia_actuator_errors_total",
		Help: "Failed actuator commands or state queries.",
	})
	ResyncsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gardenia_resyncs_scheduled_total",
		Help: "Deferred actuator resynchronizations scheduled.",
	})
)
