package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNextTickAligned(t *testing.T) {
	s, err := New(Options{Interval: 6 * time.Hour, AlignToStart: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 6, 1, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC), s.nextTick(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC), s.cycleStart(now))
}

func TestRunOnStartFiresOnce(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			ticks.Add(1)
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), ticks.Load())
}

func TestCycles(t *testing.T) {
	from := time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC)
	to := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

	got := Cycles(from, to, 6*time.Hour)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, to, got[2])
	assert.Empty(t, Cycles(to, from, time.Hour))
}

func TestValidateSpec(t *testing.T) {
	assert.NoError(t, ValidateSpec("15 3 * * *"))
	assert.Error(t, ValidateSpec("every day"))
}

func TestCronRunnerRejectsBadSpec(t *testing.T) {
	r := NewCronRunner(zerolog.Nop())
	err := r.Add(context.Background(), "fatigue", "nope", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestCronRunnerStopsOnCancel(t *testing.T) {
	r := NewCronRunner(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Add(ctx, "noop", "@every 1h", func(context.Context) error { return nil }))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cron runner did not stop")
	}
}
