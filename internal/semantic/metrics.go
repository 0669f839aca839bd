package semantic

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus指标：入库失败必须对用户不可见但对运维可见
var (
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsearch_embedding_cache_hits_total",
		Help: "Embedding cache hits",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsearch_embedding_cache_misses_total",
		Help: "Embedding cache misses",
	})
	ingestFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsearch_ingest_failures_total",
		Help: "Message ingestion failures by stage",
	}, []string{"stage"})
	ingestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgsearch_ingested_messages_total",
		Help: "Messages successfully indexed",
	})
	searchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsearch_searches_total",
		Help: "Search requests by outcome",
	}, []string{"status"})
	searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "msgsearch_search_duration_seconds",
		Help:    "End to end search latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		cacheHitsTotal,
		cacheMissesTotal,
		ingestFailuresTotal,
		ingestedTotal,
		searchesTotal,
		searchDuration,
	)
}
