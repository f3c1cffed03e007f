package warpengine

// metrics.go is a thin abstraction over Prometheus so the engine works
// with or without metrics: when the caller passes a *prometheus.Registry
// via WithMetrics, labeled collectors are registered and updated; absent
// that, a no-op sink is used and the hot path pays nothing for it. Shape
// and naming convention (namespace + "_total" counters, shard label)
// follow the teacher's pkg/metrics.go.
//
// © 2025 warpengine authors. MIT License.

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is the internal interface Engine and its shards talk to; it
// is never exposed outside the package.
type metricsSink interface {
	incPut(shard int)
	incGet(shard int)
	incDelete(shard int)
	incCacheHit()
	incCacheMiss()
	incCacheEviction()
	incWalRotation(shard int)
	incWalNoSpace(shard int)
	setShardSize(shard int, n int)
}

type noopMetrics struct{}

func (noopMetrics) incPut(int)          {}
func (noopMetrics) incGet(int)          {}
func (noopMetrics) incDelete(int)       {}
func (noopMetrics) incCacheHit()        {}
func (noopMetrics) incCacheMiss()       {}
func (noopMetrics) incCacheEviction()   {}
func (noopMetrics) incWalRotation(int)  {}
func (noopMetrics) incWalNoSpace(int)   {}
func (noopMetrics) setShardSize(int, int) {}

type promMetrics struct {
	puts      *prometheus.CounterVec
	gets      *prometheus.CounterVec
	deletes   *prometheus.CounterVec
	cacheHits prometheus.Counter
	cacheMiss prometheus.Counter
	cacheEvic prometheus.Counter
	rotations *prometheus.CounterVec
	noSpace   *prometheus.CounterVec
	shardSize *prometheus.GaugeVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"shard"}

	pm := &promMetrics{
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "puts_total", Help: "Number of Put calls accepted.",
		}, label),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "gets_total", Help: "Number of Get calls served.",
		}, label),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "deletes_total", Help: "Number of Delete calls accepted.",
		}, label),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "cache_hits_total", Help: "Front cache hits.",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "cache_misses_total", Help: "Front cache misses.",
		}),
		cacheEvic: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "cache_evictions_total", Help: "Front cache evictions past tier 3.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "wal_segment_rotations_total", Help: "WAL segment rotations.",
		}, label),
		noSpace: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Name: "wal_no_space_total", Help: "Fsync failures due to ENOSPC.",
		}, label),
		shardSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "warpengine", Name: "shard_keys", Help: "Live key count per shard.",
		}, label),
	}

	reg.MustRegister(pm.puts, pm.gets, pm.deletes, pm.cacheHits, pm.cacheMiss,
		pm.cacheEvic, pm.rotations, pm.noSpace, pm.shardSize)
	return pm
}

func (m *promMetrics) incPut(shard int)    { m.puts.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) incGet(shard int)    { m.gets.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) incDelete(shard int) { m.deletes.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) incCacheHit()        { m.cacheHits.Inc() }
func (m *promMetrics) incCacheMiss()       { m.cacheMiss.Inc() }
func (m *promMetrics) incCacheEviction()   { m.cacheEvic.Inc() }
func (m *promMetrics) incWalRotation(shard int) {
	m.rotations.WithLabelValues(strconv.Itoa(shard)).Inc()
}
func (m *promMetrics) incWalNoSpace(shard int) {
	m.noSpace.WithLabelValues(strconv.Itoa(shard)).Inc()
}
func (m *promMetrics) setShardSize(shard int, n int) {
	m.shardSize.WithLabelValues(strconv.Itoa(shard)).Set(float64(n))
}

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
