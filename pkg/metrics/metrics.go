// Package metrics is a thin abstraction over Prometheus so that connectome
// can be used with or without metrics: passing a *prometheus.Registry wires
// real collectors, omitting one falls back to a no-op sink that costs
// nothing on the hot path.
//
// Grounded on teacher Voskan/arena-cache's pkg/metrics.go (metricsSink /
// noopMetrics / promMetrics), generalized from per-shard cache counters to
// the graph-engine + cache counters named in SPEC_FULL.md's domain stack.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the interface the engine and its cache tiers depend on. It is
// deliberately small: one method per counter/histogram the spec names.
type Sink interface {
	IncHashesComputed()
	IncValuesComputed()
	IncCacheHit(tier string)
	IncCacheMiss(tier string)
	IncDiskCorruption()
	ObserveLockWait(seconds float64)
}

// Noop discards every observation; the default when no registry is given.
type Noop struct{}

func (Noop) IncHashesComputed()      {}
func (Noop) IncValuesComputed()      {}
func (Noop) IncCacheHit(string)      {}
func (Noop) IncCacheMiss(string)     {}
func (Noop) IncDiskCorruption()      {}
func (Noop) ObserveLockWait(float64) {}

// Prometheus implements Sink against real collectors registered on reg.
type Prometheus struct {
	hashesComputed  prometheus.Counter
	valuesComputed  prometheus.Counter
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	diskCorruptions prometheus.Counter
	lockWait        prometheus.Histogram
}

// New registers connectome's collectors on reg and returns a Sink backed by
// them. Pass a nil registry to get Noop instead.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return Noop{}
	}
	p := &Prometheus{
		hashesComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "connectome", Name: "hashes_computed_total",
			Help: "Number of node hashes computed.",
		}),
		valuesComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "connectome", Name: "values_computed_total",
			Help: "Number of node values computed.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectome", Name: "cache_hits_total",
			Help: "Number of cache hits, by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectome", Name: "cache_misses_total",
			Help: "Number of cache misses, by tier.",
		}, []string{"tier"}),
		diskCorruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "connectome", Name: "disk_corruption_total",
			Help: "Number of corrupted disk-cache leaves detected and evicted.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "connectome", Name: "lock_wait_seconds",
			Help:    "Time spent waiting to acquire a cache key lock.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(p.hashesComputed, p.valuesComputed, p.cacheHits, p.cacheMisses, p.diskCorruptions, p.lockWait)
	return p
}

func (p *Prometheus) IncHashesComputed()      { p.hashesComputed.Inc() }
func (p *Prometheus) IncValuesComputed()      { p.valuesComputed.Inc() }
func (p *Prometheus) IncCacheHit(tier string) { p.cacheHits.WithLabelValues(tier).Inc() }
func (p *Prometheus) IncCacheMiss(tier string) {
	p.cacheMisses.WithLabelValues(tier).Inc()
}
func (p *Prometheus) IncDiskCorruption()              { p.diskCorruptions.Inc() }
func (p *Prometheus) ObserveLockWait(seconds float64) { p.lockWait.Observe(seconds) }
