// Package metrics defines the Prometheus instrumentation for the
// monitoring service. Collectors register with the default registry and
// are served from the admin server's /metrics endpoint.
//
// Naming follows Prometheus conventions: cratio_ prefix, _total suffix
// for counters, _seconds suffix for duration histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed polling cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratio_cycles_total",
			Help: "Total polling cycles by outcome.",
		},
		[]string{"status"},
	)

	// CycleDurationSeconds observes full cycle latency, poll included.
	CycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cratio_cycle_duration_seconds",
			Help:    "Duration of polling cycles in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Subscribers tracks the current registry size.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cratio_subscribers",
			Help: "Number of subscribers currently monitored.",
		},
	)

	// NotificationsTotal counts notifications produced by event kind.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratio_notifications_total",
			Help: "Total notifications produced by event kind.",
		},
		[]string{"kind"},
	)

	// DeliveriesTotal counts delivery attempts by channel and outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cratio_deliveries_total",
			Help: "Total channel delivery attempts by channel and outcome.",
		},
		[]string{"channel", "status"},
	)
)
