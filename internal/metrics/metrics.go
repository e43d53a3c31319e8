package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamCalls counts single upstream attempts by service and outcome.
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_upstream_calls_total",
			Help: "Upstream call attempts by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	// UpstreamRetries counts retries issued by the shared caller.
	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_upstream_retries_total",
			Help: "Upstream retries by service and error kind",
		},
		[]string{"service", "kind"},
	)

	ThrottleWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardsync_throttle_wait_seconds",
			Help:    "Time spent waiting on the per-service interval gate",
			Buckets: []float64{0, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_cache_hits_total",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_cache_misses_total",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardsync_sync_duration_seconds",
			Help:    "Duration of batch price synchronisation runs",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
		},
	)

	// SyncCards counts per-card results: updated, not_found, failed, fatal.
	SyncCards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_sync_cards_total",
			Help: "Cards processed by batch sync, by outcome",
		},
		[]string{"outcome"},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardsync_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last batch sync that completed without a propagated error",
		},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_alerts_created_total",
			Help: "Price alerts created by kind",
		},
		[]string{"kind"},
	)
)

// ObserveSync records a finished batch run.
func ObserveSync(elapsed time.Duration, succeeded bool) {
	SyncDuration.Observe(elapsed.Seconds())
	if succeeded {
		SyncLastSuccess.SetToCurrentTime()
	}
}
