package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Channel-level counters, labeled by channel name. Registered once with the
// default registerer; every channel binds its own label values at open.
var (
	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrodb",
		Subsystem: "channel",
		Name:      "appends_total",
		Help:      "Number of records appended.",
	}, []string{"channel"})

	appendBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrodb",
		Subsystem: "channel",
		Name:      "append_bytes_total",
		Help:      "Payload bytes appended.",
	}, []string{"channel"})

	rolloversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrodb",
		Subsystem: "channel",
		Name:      "rollovers_total",
		Help:      "Number of new data parts created.",
	}, []string{"channel"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrodb",
		Subsystem: "channel",
		Name:      "evictions_total",
		Help:      "Number of head parts removed by retention.",
	}, []string{"channel"})

	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrodb",
		Subsystem: "channel",
		Name:      "index_cache_hits_total",
		Help:      "Index cache lookups served from memory.",
	}, []string{"channel"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrodb",
		Subsystem: "channel",
		Name:      "index_cache_misses_total",
		Help:      "Index cache lookups that fell through to disk.",
	}, []string{"channel"})
)

// channelMetrics holds one channel's pre-bound counters so the hot paths
// never pay the label lookup.
type channelMetrics struct {
	appends     prometheus.Counter
	appendBytes prometheus.Counter
	rollovers   prometheus.Counter
	evictions   prometheus.Counter
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

func newChannelMetrics(name string) *channelMetrics {
	return &channelMetrics{
		appends:     appendsTotal.WithLabelValues(name),
		appendBytes: appendBytesTotal.WithLabelValues(name),
		rollovers:   rolloversTotal.WithLabelValues(name),
		evictions:   evictionsTotal.WithLabelValues(name),
		cacheHits:   cacheHitsTotal.WithLabelValues(name),
		cacheMisses: cacheMissesTotal.WithLabelValues(name),
	}
}
