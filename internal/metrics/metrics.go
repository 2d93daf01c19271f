package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// AssignRuns counts auto-assign runs by outcome
	AssignRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoassign_runs_total", Help: "Auto-assign runs by outcome."},
		[]string{"outcome"},
	)
	// AssignRunDuration tracks wall time of a run including commits
	AssignRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "autoassign_run_duration_seconds", Help: "Auto-assign run duration in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}},
	)
	// AssignOrders counts per-order outcomes: committed, commit_failed, unassigned, skipped_past, invalid
	AssignOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoassign_orders_total", Help: "Orders processed by auto-assign, by outcome."},
		[]string{"outcome"},
	)

	// StreamEventsDropped counts assignment events a slow driver stream missed
	StreamEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "driver_stream_events_dropped_total", Help: "Assignment events dropped because a driver stream buffer was full."},
	)

	// WebhookDeliveries counts run webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(AssignRuns)
		Registry.MustRegister(AssignRunDuration)
		Registry.MustRegister(AssignOrders)
		Registry.MustRegister(StreamEventsDropped)
		Registry.MustRegister(WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
