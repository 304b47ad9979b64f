package pivotgo

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/pivotgo/resource"
)

type options struct {
	name            string
	logger          *Logger
	metrics         MetricsCollector
	auditor         Auditor
	listener        Listener
	executor        Executor
	controller      *resource.Controller
	initialPageSize int
	maxRetries      uint
	retryDelay      time.Duration
	nowFn           func() time.Time
	runIDFn         func() string
}

// Option configures Indexer construction.
type Option func(*options)

// WithName tags the indexer's logs and audit entries with a stable name.
// Useful when several indexers share a process.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger configures structured logging for the indexer.
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

// WithMetricsCollector configures a metrics collector for monitoring.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithAuditor routes data-facing events (shrunk pages, malformed responses)
// to the given auditor.
func WithAuditor(a Auditor) Option {
	return func(o *options) {
		if a == nil {
			a = NoopAuditor{}
		}
		o.auditor = a
	}
}

// WithListener registers the lifecycle hooks invoked by the engine.
func WithListener(l Listener) Option {
	return func(o *options) {
		if l == nil {
			l = NoopListener{}
		}
		o.listener = l
	}
}

// WithExecutor runs cycles on the given executor instead of a pool owned by
// the indexer. Use a shared WorkerPool to bound concurrent runs across
// several indexers. The caller keeps ownership: Close on the indexer will not
// close a provided executor.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithResourceController gates runs on the controller's background slots.
// TriggerCycle returns false without starting a cycle when no slot is free.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithInitialPageSize sets the page size fresh configurations start from.
// It is also the upper bound a checkpointed page size is clamped to.
// Values below MinPageSize are raised to MinPageSize.
func WithInitialPageSize(size int) Option {
	return func(o *options) {
		o.initialPageSize = size
	}
}

// WithRetry bounds transient-failure retries per phase attempt.
// maxRetries is the total number of attempts (minimum 1); delay seeds the
// exponential backoff between attempts.
func WithRetry(maxRetries uint, delay time.Duration) Option {
	return func(o *options) {
		if maxRetries < 1 {
			maxRetries = 1
		}
		o.maxRetries = maxRetries
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// WithClock overrides the engine's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.nowFn = now
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:          NoopLogger(),
		metrics:         NoopMetricsCollector{},
		auditor:         NoopAuditor{},
		listener:        NoopListener{},
		initialPageSize: DefaultPageSize,
		maxRetries:      3,
		retryDelay:      100 * time.Millisecond,
		nowFn:           time.Now,
		runIDFn:         uuid.NewString,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
