// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	NotificationsReceived prometheus.Counter
	DuplicatesDropped     prometheus.Counter
	ResolveErrors         *prometheus.CounterVec
	Classifications       *prometheus.CounterVec
	DedupSize             prometheus.Gauge
	LastNotification      prometheus.Gauge

	// Tower metrics
	SignalsApplied *prometheus.CounterVec
	TowerHeight    prometheus.Gauge

	// Broadcast metrics
	Viewers            prometheus.Gauge
	Broadcasts         prometheus.Counter
	ViewerSendFailures prometheus.Counter

	// Persistence metrics
	PersistenceWrites *prometheus.CounterVec
	WriteDuration     *prometheus.HistogramVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tower_feed"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "notifications_received_total",
			Help:      "Total number of log notifications received for the pool",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of notifications dropped by the dedup window",
		}),
		ResolveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "resolve_errors_total",
			Help:      "Total number of transactions that could not be resolved, by reason",
		}, []string{"reason"}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "classifications_total",
			Help:      "Total number of resolved transactions by classification result",
		}, []string{"result"}),
		DedupSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "dedup_window_size",
			Help:      "Current number of signatures held in the dedup window",
		}),
		LastNotification: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_notification_timestamp",
			Help:      "Unix timestamp of the last processed notification",
		}),

		// Tower metrics
		SignalsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tower",
			Name:      "signals_applied_total",
			Help:      "Total number of tower transitions by kind and source",
		}, []string{"kind", "source"}),
		TowerHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tower",
			Name:      "height",
			Help:      "Current tower height",
		}),

		// Broadcast metrics
		Viewers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "viewers",
			Help:      "Number of connected viewers",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "broadcasts_total",
			Help:      "Total number of state updates broadcast",
		}),
		ViewerSendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "viewer_send_failures_total",
			Help:      "Total number of viewers dropped after a failed send",
		}),

		// Persistence metrics
		PersistenceWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "writes_total",
			Help:      "Total number of snapshot writes by backend and status",
		}, []string{"backend", "status"}),
		WriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "write_duration_seconds",
			Help:      "Snapshot write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		// Latency metrics
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordNotification increments the notifications counter.
func RecordNotification() {
	DefaultMetrics.NotificationsReceived.Inc()
	DefaultMetrics.LastNotification.Set(float64(time.Now().Unix()))
}

// RecordDuplicate increments the duplicates counter.
func RecordDuplicate() {
	DefaultMetrics.DuplicatesDropped.Inc()
}

// RecordResolveError records a transaction that could not be resolved.
func RecordResolveError(reason string) {
	DefaultMetrics.ResolveErrors.WithLabelValues(reason).Inc()
}

// RecordClassification records a classifier outcome.
func RecordClassification(result string) {
	DefaultMetrics.Classifications.WithLabelValues(result).Inc()
}

// UpdateDedupSize updates the dedup window gauge.
func UpdateDedupSize(n int) {
	DefaultMetrics.DedupSize.Set(float64(n))
}

// RecordSignalApplied records an applied tower transition and the new height.
func RecordSignalApplied(kind, source string, height int) {
	DefaultMetrics.SignalsApplied.WithLabelValues(kind, source).Inc()
	DefaultMetrics.TowerHeight.Set(float64(height))
}

// UpdateTowerHeight sets the tower height gauge.
func UpdateTowerHeight(height int) {
	DefaultMetrics.TowerHeight.Set(float64(height))
}

// UpdateViewers sets the connected viewers gauge.
func UpdateViewers(n int) {
	DefaultMetrics.Viewers.Set(float64(n))
}

// RecordBroadcast records one broadcast and the number of viewers dropped by it.
func RecordBroadcast(dropped int) {
	DefaultMetrics.Broadcasts.Inc()
	DefaultMetrics.ViewerSendFailures.Add(float64(dropped))
}

// RecordViewerSendFailure records a failed send outside a broadcast.
func RecordViewerSendFailure() {
	DefaultMetrics.ViewerSendFailures.Inc()
}

// RecordPersistenceWrite records a snapshot write.
func RecordPersistenceWrite(backend string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.PersistenceWrites.WithLabelValues(backend, status).Inc()
	DefaultMetrics.WriteDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}
