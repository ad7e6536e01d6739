package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	TransfersTotal   prometheus.Counter
	TransferErrors   *prometheus.CounterVec
	TransferDuration prometheus.Histogram
	TransferAmount   prometheus.Histogram

	IdempotentReplays prometheus.Counter

	AliasCacheHits   prometheus.Counter
	AliasCacheMisses prometheus.Counter

	StoreOperations *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
}

// New creates and registers all metrics against reg. Pass
// prometheus.DefaultRegisterer in production wiring.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TransfersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "upiflow_transfers_total",
			Help: "Total number of successful transfers",
		}),
		TransferErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upiflow_transfer_errors_total",
				Help: "Total number of failed transfers by error code",
			},
			[]string{"code"},
		),
		TransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "upiflow_transfer_duration_seconds",
			Help:    "Duration of transfer operations",
			Buckets: prometheus.DefBuckets,
		}),
		TransferAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "upiflow_transfer_amount",
			Help:    "Transfer amounts",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
		}),
		IdempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "upiflow_idempotent_replays_total",
			Help: "Total number of transfers answered from the idempotency record store",
		}),
		AliasCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "upiflow_alias_cache_hits_total",
			Help: "Total alias resolutions served from cache",
		}),
		AliasCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "upiflow_alias_cache_misses_total",
			Help: "Total alias resolutions that fell through to the store",
		}),
		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upiflow_store_operations_total",
				Help: "Total account store operations by type",
			},
			[]string{"operation"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upiflow_store_errors_total",
				Help: "Total account store failures by operation",
			},
			[]string{"operation"},
		),
	}
}
