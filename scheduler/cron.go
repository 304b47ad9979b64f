package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron fires the trigger on a cron schedule. Expressions use the standard
// five field syntax plus the @every/@hourly descriptors; Options.Seconds
// enables the leading seconds field.
type Cron struct {
	cron    *cron.Cron
	trigger Trigger
	opts    Options
}

// NewCron creates a scheduler firing per the given cron expression.
func NewCron(trigger Trigger, spec string, optFns ...func(*Options)) (*Cron, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger must not be nil")
	}
	opts := defaultOptions(optFns)

	cronOpts := []cron.Option{cron.WithLocation(opts.Location)}
	if opts.Seconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}

	s := &Cron{
		cron:    cron.New(cronOpts...),
		trigger: trigger,
		opts:    opts,
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return s, nil
}

func (s *Cron) fire() {
	ctx := context.Background()
	now := time.Now().In(s.opts.Location)
	if !s.trigger.TriggerCycle(ctx, now) {
		s.opts.Logger.DebugContext(ctx, "scheduled trigger skipped", "at", now)
	}
}

// Start begins scheduling. It returns immediately; fires run on the cron
// goroutine.
func (s *Cron) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for an in-flight fire to return.
// The scheduler may be started again afterwards.
func (s *Cron) Stop() {
	<-s.cron.Stop().Done()
}
