package celldb

import (
	"log/slog"

	"github.com/celltrace/celldb/codec"
	"github.com/celltrace/celldb/geo"
	"github.com/celltrace/celldb/spatial"
)

type options struct {
	logger        *Logger
	metrics       MetricsCollector
	codec         codec.Codec
	dist          geo.DistanceFunc
	gridCellSizeM float64
	skipMalformed bool
}

// Option configures import and snapshot-load behavior. The resulting
// Database carries its options into every narrowed view it produces.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithCodec configures the codec used for snapshot payloads.
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithDistanceFunc swaps the geodesic distance formula used by radius
// queries. The default is the haversine great-circle distance. The same
// function is used for indexing and querying, keeping search deterministic.
func WithDistanceFunc(dist geo.DistanceFunc) Option {
	return func(o *options) {
		if dist == nil {
			dist = geo.Haversine
		}
		o.dist = dist
	}
}

// WithGridCellSize sets the spatial grid cell edge in meters. Smaller cells
// speed up small-radius queries at the cost of more grid buckets.
func WithGridCellSize(meters float64) Option {
	return func(o *options) {
		o.gridCellSizeM = meters
	}
}

// WithSkipMalformed makes import log and skip malformed rows instead of
// aborting. Rejected rows never leave partial state behind: the database is
// exactly as it was before the offending row.
func WithSkipMalformed() Option {
	return func(o *options) {
		o.skipMalformed = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:        NoopLogger(),
		metrics:       NoopMetricsCollector{},
		codec:         codec.Default,
		dist:          geo.Haversine,
		gridCellSizeM: spatial.DefaultCellSizeM,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
