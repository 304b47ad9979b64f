package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTrigger struct {
	calls  atomic.Int64
	accept atomic.Bool
}

func (c *countingTrigger) TriggerCycle(_ context.Context, _ time.Time) bool {
	c.calls.Add(1)
	return c.accept.Load()
}

func TestNewInterval_Validation(t *testing.T) {
	_, err := NewInterval(nil, time.Second)
	require.ErrorContains(t, err, "trigger")

	_, err = NewInterval(&countingTrigger{}, 0)
	require.ErrorContains(t, err, "period")
}

func TestInterval_Fires(t *testing.T) {
	trg := &countingTrigger{}
	trg.accept.Store(true)

	s, err := NewInterval(trg, 5*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return trg.calls.Load() >= 3
	}, time.Second, time.Millisecond)

	s.Stop()
	after := trg.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, trg.calls.Load())
}

func TestInterval_StartTwice(t *testing.T) {
	s, err := NewInterval(&countingTrigger{}, time.Minute)
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background()))
	require.ErrorContains(t, s.Start(context.Background()), "already started")
}

func TestInterval_RestartAfterStop(t *testing.T) {
	trg := &countingTrigger{}
	s, err := NewInterval(trg, 5*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop() // idempotent

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return trg.calls.Load() >= 1
	}, time.Second, time.Millisecond)
	s.Stop()
}

func TestInterval_StopsOnContextCancel(t *testing.T) {
	trg := &countingTrigger{}
	s, err := NewInterval(trg, 5*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool {
		return trg.calls.Load() >= 1
	}, time.Second, time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	after := trg.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, trg.calls.Load())

	s.Stop()
}

func TestNewCron_Validation(t *testing.T) {
	_, err := NewCron(nil, "@hourly")
	require.ErrorContains(t, err, "trigger")

	_, err = NewCron(&countingTrigger{}, "not a cron")
	require.ErrorContains(t, err, "invalid cron expression")

	// The seconds field is rejected unless enabled.
	_, err = NewCron(&countingTrigger{}, "*/5 * * * * *")
	require.Error(t, err)

	_, err = NewCron(&countingTrigger{}, "*/5 * * * * *", func(o *Options) {
		o.Seconds = true
	})
	require.NoError(t, err)
}

func TestCron_Fires(t *testing.T) {
	trg := &countingTrigger{}
	trg.accept.Store(true)

	s, err := NewCron(trg, "@every 10ms")
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool {
		return trg.calls.Load() >= 2
	}, time.Second, time.Millisecond)

	s.Stop()
	after := trg.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, trg.calls.Load())
}
