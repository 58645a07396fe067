package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Common metrics
var (
	// HTTP metrics (admin server)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// Scheduler metrics
	RebalancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_rebalances_total",
			Help: "Total number of rebalance invocations, by trigger",
		},
		[]string{"trigger"},
	)

	RebalanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_rebalance_duration_seconds",
			Help:    "Time spent inside a single balance() call",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"mode"},
	)

	RebalanceChurn = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_rebalance_churn_devices",
			Help:    "Number of devices that changed worker in a rebalance",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{},
	)

	WorkerLoadIndex = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_worker_load_index",
			Help: "Current load index of each live worker",
		},
		[]string{"worker"},
	)

	WorkerDeviceCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_worker_device_count",
			Help: "Number of devices currently assigned to each live worker",
		},
		[]string{"worker"},
	)

	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_is_leader",
			Help: "1 if this replica currently holds scheduler leadership, else 0",
		},
	)

	LiveWorkerCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_live_worker_count",
			Help: "Number of workers currently observed in the coordination store",
		},
	)

	LiveDeviceCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_live_device_count",
			Help: "Number of enabled, processable devices in the last catalog snapshot",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published",
		},
		[]string{"event_type"},
	)

	// Process metrics (sampled via gopsutil)
	ProcessCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_process_cpu_percent",
			Help: "Process CPU usage percent, sampled periodically",
		},
	)

	ProcessRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_process_rss_bytes",
			Help: "Process resident set size in bytes, sampled periodically",
		},
	)
)

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(service, method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(service, method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration.
func RecordHTTPDuration(service, method, path string, duration float64) {
	HTTPRequestDuration.WithLabelValues(service, method, path).Observe(duration)
}

// RecordRebalance records a completed rebalance invocation.
func RecordRebalance(trigger, mode string, duration float64, churn int) {
	RebalancesTotal.WithLabelValues(trigger).Inc()
	RebalanceDuration.WithLabelValues(mode).Observe(duration)
	RebalanceChurn.WithLabelValues().Observe(float64(churn))
}
