package cache

import (
	"go.uber.org/zap"

	"github.com/neuro-ml/connectome/pkg/metrics"
)

// Option configures a Memory backend, generalizing teacher Voskan/arena-cache's
// functional-option pattern (pkg/config.go's Option[K,V]) from a generic
// sharded cache to connectome's single `any`-valued store.
type Option func(*config)

type config struct {
	capacity int // <=0 means unbounded, no eviction
	logger   *zap.Logger
	metrics  metrics.Sink
}

func defaultConfig() *config {
	return &config{logger: zap.NewNop(), metrics: metrics.Noop{}}
}

// WithCapacity bounds the backend to at most n entries under an LRU eviction
// policy. Capacity <= 0 (the default) means unbounded.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithLogger plugs an external zap.Logger. Like the teacher's cache, Memory
// never logs on the hot path; it currently emits no log records at all.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics wires a metrics.Sink (see pkg/metrics) for instrumentation.
func WithMetrics(sink metrics.Sink) Option {
	return func(c *config) {
		if sink != nil {
			c.metrics = sink
		}
	}
}

func applyOptions(opts []Option) *config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}
