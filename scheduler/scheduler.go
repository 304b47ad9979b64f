package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/pivotgo"
)

// Trigger is the engine surface a scheduler drives.
// *pivotgo.Indexer satisfies it.
type Trigger interface {
	// TriggerCycle attempts to launch one cycle and reports whether it ran.
	TriggerCycle(ctx context.Context, now time.Time) bool
}

var _ Trigger = (*pivotgo.Indexer)(nil)

// Options configures a scheduler.
type Options struct {
	// Logger receives skipped-trigger events. Defaults to NoopLogger.
	Logger *pivotgo.Logger

	// Location is the time zone cron expressions are evaluated in.
	// Defaults to time.UTC. Interval scheduling ignores it.
	Location *time.Location

	// Seconds enables the optional leading seconds field in cron expressions.
	Seconds bool
}

func defaultOptions(optFns []func(*Options)) Options {
	opts := Options{
		Logger:   pivotgo.NoopLogger(),
		Location: time.UTC,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = pivotgo.NoopLogger()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return opts
}

// Interval fires the trigger at a fixed period. A tick that arrives while a
// cycle is still running is handed to the engine anyway; the engine skips it
// and the scheduler merely logs the outcome.
type Interval struct {
	trigger Trigger
	every   time.Duration
	opts    Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInterval creates a scheduler firing every period.
func NewInterval(trigger Trigger, every time.Duration, optFns ...func(*Options)) (*Interval, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger must not be nil")
	}
	if every <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", every)
	}
	return &Interval{
		trigger: trigger,
		every:   every,
		opts:    defaultOptions(optFns),
	}, nil
}

// Start begins ticking. The scheduler stops when Stop is called or ctx is
// canceled.
func (s *Interval) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("interval scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if !s.trigger.TriggerCycle(ctx, now) {
					s.opts.Logger.DebugContext(ctx, "scheduled trigger skipped", "at", now)
				}
			}
		}
	}()
	return nil
}

// Stop halts ticking and waits for the scheduling goroutine to exit.
// Stopping an idle scheduler is a no-op; a stopped scheduler may be started
// again.
func (s *Interval) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
