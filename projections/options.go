package projections

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxLiveQueueSize = 10000
	DefaultReadBatchSize    = 500
)

// Option configures a Manager or a standalone Driver.
type Option func(*config)

type config struct {
	maxLiveQueueSize int
	readBatchSize    int
	pollingInterval  time.Duration
	snapshotters     []Snapshotter
	logger           *slog.Logger
	verbose          bool
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	maxRestarts      int
	tracerProvider   trace.TracerProvider
	meterProvider    metric.MeterProvider
}

func newConfig(opts []Option) config {
	cfg := config{
		maxLiveQueueSize: DefaultMaxLiveQueueSize,
		readBatchSize:    DefaultReadBatchSize,
		pollingInterval:  time.Second,
		initialBackoff:   100 * time.Millisecond,
		maxBackoff:       30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

func (c *config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.Reset()
	return b
}

// WithMaxLiveQueueSize bounds how many live records may wait for dispatch
// before the subscription drops with a queue overflow. Values <= 0 keep the
// default of 10000.
func WithMaxLiveQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxLiveQueueSize = n
		}
	}
}

// WithReadBatchSize sets how many records each catch-up read fetches. Values
// <= 0 keep the default of 500.
func WithReadBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readBatchSize = n
		}
	}
}

// WithPollingInterval sets how often a live subscription polls the log when no
// notification arrives.
func WithPollingInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollingInterval = d
		}
	}
}

// WithSnapshotters sets the snapshotters consulted after each applied record.
// Order matters: the first matching snapshotter wins.
func WithSnapshotters(s ...Snapshotter) Option {
	return func(c *config) { c.snapshotters = append([]Snapshotter(nil), s...) }
}

// WithLogger sets the logger drivers write to. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithVerbose logs every page read and every applied record at debug level.
func WithVerbose(v bool) Option {
	return func(c *config) { c.verbose = v }
}

// WithRestartBackoff sets the exponential backoff bounds between restarts
// after a transient drop.
func WithRestartBackoff(initial, maxWait time.Duration) Option {
	return func(c *config) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if maxWait > 0 {
			c.maxBackoff = maxWait
		}
		if c.maxBackoff < c.initialBackoff {
			c.maxBackoff = c.initialBackoff
		}
	}
}

// WithMaxRestarts halts a projection with ErrRestartLimit after n consecutive
// restarts that applied nothing. Zero, the default, restarts forever.
func WithMaxRestarts(n int) Option {
	return func(c *config) { c.maxRestarts = n }
}

// WithTracerProvider sets where apply spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithMeterProvider sets where projection metrics go. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.meterProvider = mp }
}
