package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// EngineStats gives the collector read access to the transcription
// engine's live worker state.
type EngineStats interface {
	ActiveWorkerCount() int
}

// PoolStatter exposes a *store.Store's connection pool stats without
// this package importing store directly (store already imports
// nothing from metrics, but keeping the dependency one-directional
// avoids an import cycle as both packages grow).
type PoolStatter interface {
	PoolStats() *redis.PoolStats
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	store PoolStatter
	stats EngineStats

	activeWorkers  *prometheus.Desc
	storeTotalConn *prometheus.Desc
	storeIdleConn  *prometheus.Desc
	storeStaleConn *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// store and stats may be nil (metrics will report 0).
func NewCollector(store PoolStatter, stats EngineStats) *Collector {
	return &Collector{
		store: store,
		stats: stats,
		activeWorkers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcription_active_workers_live"),
			"Current number of locally-attached transcription workers.",
			nil, nil,
		),
		storeTotalConn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store_pool", "total_conns"),
			"Total store connection pool connections.",
			nil, nil,
		),
		storeIdleConn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store_pool", "idle_conns"),
			"Store connection pool idle connections.",
			nil, nil,
		),
		storeStaleConn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store_pool", "stale_conns"),
			"Store connection pool connections closed for staleness.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeWorkers
	ch <- c.storeTotalConn
	ch <- c.storeIdleConn
	ch <- c.storeStaleConn
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, float64(c.stats.ActiveWorkerCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, 0)
	}

	if c.store != nil {
		stat := c.store.PoolStats()
		ch <- prometheus.MustNewConstMetric(c.storeTotalConn, prometheus.GaugeValue, float64(stat.TotalConns))
		ch <- prometheus.MustNewConstMetric(c.storeIdleConn, prometheus.GaugeValue, float64(stat.IdleConns))
		ch <- prometheus.MustNewConstMetric(c.storeStaleConn, prometheus.GaugeValue, float64(stat.StaleConns))
	} else {
		ch <- prometheus.MustNewConstMetric(c.storeTotalConn, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.storeIdleConn, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.storeStaleConn, prometheus.GaugeValue, 0)
	}
}
