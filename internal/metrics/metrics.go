// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts messages accepted by the listener.
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailfold_messages_received_total",
			Help: "Total number of messages received by the SMTP listener",
		},
	)

	// Deliveries counts per-recipient delivery outcomes by resolved action.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfold_deliveries_total",
			Help: "Total number of per-recipient deliveries by action",
		},
		[]string{"action"},
	)

	// DeliveryFailures counts per-recipient delivery failures by action.
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfold_delivery_failures_total",
			Help: "Total number of per-recipient delivery failures by action",
		},
		[]string{"action"},
	)

	// Restarts counts listener recycles, by reason ("signal" or "crash").
	Restarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfold_restarts_total",
			Help: "Total number of listener restart cycles by reason",
		},
		[]string{"reason"},
	)

	// SupervisorState reports the current supervisor state as an enum gauge.
	SupervisorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailfold_supervisor_state",
			Help: "Current supervisor state (0=starting 1=running 2=draining 3=restarting 4=stopped)",
		},
	)

	// SettingsRefreshFailures counts failed settings loads.
	SettingsRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailfold_settings_refresh_failures_total",
			Help: "Total number of failed settings store loads",
		},
	)
)
