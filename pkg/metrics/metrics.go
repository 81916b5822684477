// Package metrics holds the prometheus collectors of the sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// refreshTotal counts store refreshes by result
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acartia_refresh_total",
		Help: "Dataset refreshes from the backend API by result",
	}, []string{"result"})

	// refreshDuration tracks end-to-end refresh latency
	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "acartia_refresh_duration_seconds",
		Help:    "Refresh duration in seconds, fetch through filter",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// datasetSize is the number of sightings currently held by the store
	datasetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acartia_dataset_sightings",
		Help: "Sightings in the current dataset by source",
	}, []string{"source"})

	// replicationEvents counts participant events by kind
	replicationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acartia_replication_events_total",
		Help: "Replication events (replicated, write, error)",
	}, []string{"kind"})

	// entriesJoined counts log entries fetched from peers
	entriesJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acartia_replication_entries_joined_total",
		Help: "Log entries fetched from peers and joined locally",
	})

	// gatewayRequests counts backend requests by operation and outcome class
	gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acartia_gateway_requests_total",
		Help: "Backend API requests by operation and outcome",
	}, []string{"op", "outcome"})
)

// ObserveRefresh records one refresh
func ObserveRefresh(err error, took time.Duration) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	refreshTotal.WithLabelValues(result).Inc()
	refreshDuration.Observe(took.Seconds())
}

// SetDatasetSize records the dataset size for a source ("api" or "peer")
func SetDatasetSize(source string, n int) {
	datasetSize.WithLabelValues(source).Set(float64(n))
}

// ReplicationEvent counts one participant event
func ReplicationEvent(kind string) {
	replicationEvents.WithLabelValues(kind).Inc()
}

// EntriesJoined adds n fetched entries
func EntriesJoined(n int) {
	entriesJoined.Add(float64(n))
}

// GatewayRequest counts one backend call
func GatewayRequest(op, outcome string) {
	gatewayRequests.WithLabelValues(op, outcome).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
