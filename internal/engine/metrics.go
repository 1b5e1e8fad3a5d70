package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus metrics. Encapsulating them in a
// struct keeps the engine struct clean and lets tests register against an
// isolated registry.
type Metrics struct {
	PoolsTracked      prometheus.Gauge
	CacheEntries      prometheus.Gauge
	BatchesDispatched prometheus.Counter
	BatchFailures     prometheus.Counter
	CallFailures      prometheus.Counter
	PoolsRefreshed    prometheus.Counter
	RefreshesSkipped  prometheus.Counter
	PoolsEvicted      prometheus.Counter
	EntriesExpired    prometheus.Counter
	CycleDuration     prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics. A nil registerer
// gets a private registry so construction never panics in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		PoolsTracked: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pricewatch_pools_tracked",
			Help: "Number of pools currently tracked by the interest tracker.",
		}),
		CacheEntries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pricewatch_cache_entries",
			Help: "Number of pool state entries currently cached.",
		}),
		BatchesDispatched: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_batches_dispatched_total",
			Help: "Total batches dispatched to providers.",
		}),
		BatchFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_batch_failures_total",
			Help: "Total whole-batch transport failures.",
		}),
		CallFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_call_failures_total",
			Help: "Total per-pool call failures inside otherwise successful batches.",
		}),
		PoolsRefreshed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_pools_refreshed_total",
			Help: "Total successful pool state refreshes that produced a new cache entry.",
		}),
		RefreshesSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_refreshes_skipped_total",
			Help: "Total refreshes skipped because the block number was unchanged.",
		}),
		PoolsEvicted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_pools_evicted_total",
			Help: "Total pools evicted after their grace period elapsed.",
		}),
		EntriesExpired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_cache_entries_expired_total",
			Help: "Total cache entries removed by the TTL sweep.",
		}),
		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewatch_cycle_duration_seconds",
			Help:    "Time spent selecting and dispatching one scheduling cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
