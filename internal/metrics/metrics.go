// Package metrics declares the Prometheus metrics produced by the historical
// sync engine and its event store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CompletedBlocks is incremented by interval widths each time a
	// log-filter or factory-log-filter interval is committed to the store.
	CompletedBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historicalsync_completed_blocks_total",
			Help: "Total number of blocks whose events have been committed to the store",
		},
		[]string{"network", "event_source"},
	)

	// TotalBlocks is set once at setup to the width of a source's target range.
	TotalBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "historicalsync_total_blocks",
			Help: "Width of an event source's target block range",
		},
		[]string{"network", "event_source"},
	)

	// CachedBlocks is set once at setup to the width already persisted from a
	// previous run.
	CachedBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "historicalsync_cached_blocks",
			Help: "Width of an event source's target range already cached at setup",
		},
		[]string{"network", "event_source"},
	)

	// RPCRequestDuration observes each eth_getLogs call the resilient log
	// fetcher makes, including each split sub-call, individually. Block and
	// finalized-header fetches are not observed.
	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historicalsync_rpc_request_duration_seconds",
			Help:    "Duration of chain client RPC calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "network"},
	)

	// StoreQueries / StoreQueryDuration / StoreErrors track event store
	// query volume, latency, and failures per operation.
	StoreQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historicalsync_store_queries_total",
			Help: "Total number of event store queries",
		},
		[]string{"store", "operation"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historicalsync_store_query_duration_seconds",
			Help:    "Duration of event store queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historicalsync_store_errors_total",
			Help: "Total number of event store errors",
		},
		[]string{"store", "error_type"},
	)
)

// CompletedBlocksAdd increments CompletedBlocks by width for (network, source).
func CompletedBlocksAdd(network, source string, width uint64) {
	CompletedBlocks.WithLabelValues(network, source).Add(float64(width))
}

// TotalBlocksSet sets TotalBlocks for (network, source).
func TotalBlocksSet(network, source string, width uint64) {
	TotalBlocks.WithLabelValues(network, source).Set(float64(width))
}

// CachedBlocksSet sets CachedBlocks for (network, source).
func CachedBlocksSet(network, source string, width uint64) {
	CachedBlocks.WithLabelValues(network, source).Set(float64(width))
}

// ObserveRPCDuration records the duration of one RPC attempt.
func ObserveRPCDuration(method, network string, d time.Duration) {
	RPCRequestDuration.WithLabelValues(method, network).Observe(d.Seconds())
}

// StoreQueryInc increments the query counter for (store, operation).
func StoreQueryInc(store, operation string) {
	StoreQueries.WithLabelValues(store, operation).Inc()
}

// StoreQueryObserve records the duration of a store operation.
func StoreQueryObserve(store, operation string, d time.Duration) {
	StoreQueryDuration.WithLabelValues(store, operation).Observe(d.Seconds())
}

// StoreErrorInc increments the error counter for (store, errorType).
func StoreErrorInc(store, errorType string) {
	StoreErrors.WithLabelValues(store, errorType).Inc()
}

// ProgressSnapshot is one (network, source) sample read live from a range
// tracker at scrape time.
type ProgressSnapshot struct {
	Network        string
	Source         string
	CompletionRate float64 // fraction in [0,1] of the target range completed
	ETASeconds     float64 // estimated seconds to completion at the current rate; 0 if unknown
}

// ProgressSnapshotFunc is called once per scrape; it must not block on I/O.
type ProgressSnapshotFunc func() []ProgressSnapshot

// progressCollector implements prometheus.Collector by invoking fn on every
// scrape, so completion_rate/completion_eta always reflect live tracker
// state rather than a value cached at some earlier tick.
type progressCollector struct {
	fn       ProgressSnapshotFunc
	rateDesc *prometheus.Desc
	etaDesc  *prometheus.Desc
}

// NewProgressCollector builds a Collector for completion_rate/completion_eta.
func NewProgressCollector(fn ProgressSnapshotFunc) prometheus.Collector {
	return &progressCollector{
		fn: fn,
		rateDesc: prometheus.NewDesc(
			"historicalsync_completion_rate",
			"Fraction of an event source's target range completed",
			[]string{"network", "event_source"}, nil,
		),
		etaDesc: prometheus.NewDesc(
			"historicalsync_completion_eta_seconds",
			"Estimated seconds remaining until an event source completes",
			[]string{"network", "event_source"}, nil,
		),
	}
}

func (c *progressCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rateDesc
	ch <- c.etaDesc
}

func (c *progressCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.fn() {
		ch <- prometheus.MustNewConstMetric(c.rateDesc, prometheus.GaugeValue, s.CompletionRate, s.Network, s.Source)
		ch <- prometheus.MustNewConstMetric(c.etaDesc, prometheus.GaugeValue, s.ETASeconds, s.Network, s.Source)
	}
}

// RegisterProgressCollector registers a progress collector against the
// default Prometheus registry.
func RegisterProgressCollector(fn ProgressSnapshotFunc) error {
	return prometheus.Register(NewProgressCollector(fn))
}
