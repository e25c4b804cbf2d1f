package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
)

const namespace = "outlog"

var (
	// EventCounter counts completion events emitted by the transport hook by kind ("completed", "failed").
	EventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Completion events emitted for outgoing HTTP calls",
	}, []string{"kind", "method"})

	// OutgoingDuration observes the wall time of instrumented calls up to the response headers.
	OutgoingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "outgoing_request_duration_seconds",
		Help:      "Duration of outgoing HTTP calls seen by the hook",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "hostname"})

	// RecordCounter counts log records by outcome: "enqueued", "skipped", "stored", "dropped", "failed".
	RecordCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Outgoing request log records by outcome",
	}, []string{"outcome"})

	// StoreDuration observes storage write latency per backend.
	StoreDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_duration_seconds",
		Help:      "Latency of writing a log record to storage",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"backend"})

	// QueueLength reports records waiting for a write worker.
	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Log records waiting in the write queue",
	})

	// PrunedCounter counts records deleted by retention.
	PrunedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pruned_records_total",
		Help:      "Log records deleted by retention pruning",
	})

	// PolicyResets counts transient save_to_db overrides reverted by the reset job.
	PolicyResets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_resets_total",
		Help:      "Transient save_to_db overrides reverted to the default",
	})
)

func init() {
	prometheus.MustRegister(
		EventCounter,
		OutgoingDuration,
		RecordCounter,
		StoreDuration,
		QueueLength,
		PrunedCounter,
		PolicyResets,
	)
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// InitializeHTTP serves /metrics on bind. It blocks, so run it in a goroutine.
func InitializeHTTP(bind string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	logging.L.Info("Starting metrics server", zap.String("address", bind))
	if err := http.ListenAndServe(bind, mux); err != nil && err != http.ErrServerClosed {
		logging.L.Error("Metrics server stopped", zap.Error(err))
	}
}
