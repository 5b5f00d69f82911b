package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal   *prometheus.CounterVec
	missesTotal *prometheus.CounterVec
	sizeGauge   *prometheus.GaugeVec
	metricsOnce sync.Once
)

// Metrics tracks Prometheus metrics for one named cache.
type Metrics struct {
	name string
}

// NewMetrics creates a metrics tracker bound to the given cache name.
//
// The underlying collectors are registered once globally; multiple caches
// share them through the "cache" label. This avoids duplicate collector
// registration panics when several caches are created.
//
// Metrics:
//   - codeconnect_cache_hits_total{cache}
//   - codeconnect_cache_misses_total{cache}
//   - codeconnect_cache_entries{cache}
func NewMetrics(name string) *Metrics {
	metricsOnce.Do(func() {
		hitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeconnect_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		)
		missesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeconnect_cache_misses_total",
				Help: "Total number of cache misses (including expiries)",
			},
			[]string{"cache"},
		)
		sizeGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "codeconnect_cache_entries",
				Help: "Current number of cached entries",
			},
			[]string{"cache"},
		)
	})

	return &Metrics{name: name}
}

// RecordHit increments the hit counter.
func (m *Metrics) RecordHit() {
	hitsTotal.WithLabelValues(m.name).Inc()
}

// RecordMiss increments the miss counter.
func (m *Metrics) RecordMiss() {
	missesTotal.WithLabelValues(m.name).Inc()
}

// SetSize updates the entry gauge.
func (m *Metrics) SetSize(n int) {
	sizeGauge.WithLabelValues(m.name).Set(float64(n))
}
