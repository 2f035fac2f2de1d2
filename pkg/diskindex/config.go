package diskindex

import (
	"go.uber.org/zap"

	"github.com/neuro-ml/connectome/pkg/metrics"
	"github.com/neuro-ml/connectome/pkg/serializer"
)

// Option configures an Index. Mirrors the functional-option pattern used
// throughout connectome (pkg/cache/config.go), itself grounded on the
// teacher's config.go.
type Option func(*config)

type config struct {
	levels     Levels
	locker     Locker
	serializer serializer.Serializer
	remotes    []Remote
	logger     *zap.Logger
	metrics    metrics.Sink
}

func defaultConfig() *config {
	return &config{
		levels: DefaultLevels,
		locker: DummyLocker{},
		serializer: serializer.NewChain(
			serializer.JSON{},
			serializer.ArrayNative{CompressLevel: 1},
		),
		logger:  zap.NewNop(),
		metrics: metrics.Noop{},
	}
}

// WithLevels overrides the default directory-splitting scheme.
func WithLevels(levels Levels) Option {
	return func(c *config) { c.levels = levels }
}

// WithLocker selects the reservation locker; the zero value is DummyLocker.
// Pass *ThreadLocker for in-process contention, *FlockLocker to coordinate
// multiple processes sharing the same root.
func WithLocker(l Locker) Option {
	return func(c *config) { c.locker = l }
}

// WithSerializer overrides the default JSON/array-native chain.
func WithSerializer(s serializer.Serializer) Option {
	return func(c *config) { c.serializer = s }
}

// WithRemote appends a read-only remote mirror consulted on local miss.
func WithRemote(r Remote) Option {
	return func(c *config) { c.remotes = append(c.remotes, r) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithMetrics(sink metrics.Sink) Option {
	return func(c *config) { c.metrics = sink }
}

func applyOptions(opts []Option) *config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}
