// Package metrics holds the Prometheus instruments of the cart sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cartsync"

var (
	TaskAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "attempts_total",
			Help:      "Network task attempts by HTTP method and outcome",
		},
		[]string{"method", "outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "task_duration_seconds",
			Help:      "Duration of a network task including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	CartOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "operations_total",
			Help:      "Cart synchronization steps by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Sync event webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)
)

// Outcome labels shared by the counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRetry   = "retry"
	OutcomeSkipped = "skipped"
	OutcomeStale   = "stale"
)
