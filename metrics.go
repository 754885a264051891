package dem

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dem_tile_fetches_total",
		Help: "The total number of tile fetches by provider and result",
	}, []string{"provider", "result"})
	tileFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dem_tile_fetch_duration_seconds",
		Help:    "The duration of tile fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	pointResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dem_point_resolutions_total",
		Help: "The total number of point resolutions by provider and result",
	}, []string{"provider", "result"})
	pointBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dem_point_batch_duration_seconds",
		Help:    "The duration of point provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	emptyMosaics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dem_empty_mosaics_total",
		Help: "The total number of mosaics for which no tiles could be fetched",
	})
	transformCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dem_transform_cache_hits_total",
		Help: "The total number of hits on the CRS transformation cache",
	})
	transformCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dem_transform_cache_misses_total",
		Help: "The total number of misses on the CRS transformation cache",
	})
)
