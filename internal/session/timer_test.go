package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickLog struct {
	mu      sync.Mutex
	ticks   []int
	expired int
}

func (l *tickLog) onTick(r int) {
	l.mu.Lock()
	l.ticks = append(l.ticks, r)
	l.mu.Unlock()
}

func (l *tickLog) onExpire() {
	l.mu.Lock()
	l.expired++
	l.mu.Unlock()
}

func (l *tickLog) snapshot() ([]int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.ticks...), l.expired
}

func (l *tickLog) lastTick() int {
	ticks, _ := l.snapshot()
	if len(ticks) == 0 {
		return -1
	}
	return ticks[len(ticks)-1]
}

func expireCount(l *tickLog) func() bool {
	return func() bool {
		_, n := l.snapshot()
		return n > 0
	}
}

func runUntil(t *testing.T, clock fakeClock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		clock.Advance(step)
		return cond()
	}, waitFor, pollEvery)
}

func TestPollingDriverCountsDownAndExpiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	d := NewPollingDriver(clock, time.Second)
	log := &tickLog{}

	require.NoError(t, d.Start(Deadline{Start: t0, TimeLimitMinutes: 1}, log.onTick, log.onExpire))
	assert.Equal(t, DriverRunning, d.State())

	require.Eventually(t, func() bool { return log.lastTick() == 60 }, waitFor, pollEvery)

	runUntil(t, clock, 10*time.Second, expireCount(log))
	require.Eventually(t, func() bool { return d.State() == DriverStopped }, waitFor, pollEvery)

	clock.Advance(time.Minute)
	ticks, expired := log.snapshot()
	assert.Equal(t, 1, expired)
	for i := 1; i < len(ticks); i++ {
		assert.LessOrEqual(t, ticks[i], ticks[i-1])
	}
}

func TestPollingDriverStartTwice(t *testing.T) {
	d := NewPollingDriver(clockwork.NewFakeClockAt(t0), time.Second)
	dl := Deadline{Start: t0, TimeLimitMinutes: 1}

	require.NoError(t, d.Start(dl, func(int) {}, func() {}))
	assert.ErrorIs(t, d.Start(dl, func(int) {}, func() {}), ErrDriverNotIdle)
	d.Stop()
}

func TestPollingDriverStopIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	d := NewPollingDriver(clock, time.Second)
	log := &tickLog{}

	d.Stop()
	assert.Equal(t, DriverStopped, d.State())
	assert.ErrorIs(t, d.Start(Deadline{Start: t0, TimeLimitMinutes: 1}, log.onTick, log.onExpire), ErrDriverNotIdle)
	d.Stop()

	clock.Advance(2 * time.Minute)
	ticks, expired := log.snapshot()
	assert.Empty(t, ticks)
	assert.Zero(t, expired)
}

func TestPollingDriverResync(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	d := NewPollingDriver(clock, time.Hour)
	log := &tickLog{}

	require.NoError(t, d.Start(Deadline{Start: t0, TimeLimitMinutes: 10}, log.onTick, log.onExpire))
	defer d.Stop()
	require.Eventually(t, func() bool { return log.lastTick() == 600 }, waitFor, pollEvery)

	// The ticker interval is far away; only a resync produces a fresh value.
	clock.Advance(4 * time.Minute)
	d.Resync()
	require.Eventually(t, func() bool { return log.lastTick() == 360 }, waitFor, pollEvery)
}

func TestWorkerDriverRunsIsolatedCountdown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	d := NewDriver(DriverOptions{Mode: ModeWorker, Clock: clock, Interval: time.Second, Log: zerolog.Nop()})
	log := &tickLog{}

	require.NoError(t, d.Start(Deadline{Start: t0, TimeLimitMinutes: 1}, log.onTick, log.onExpire))
	assert.Equal(t, ModeWorker, d.Mode())
	require.Eventually(t, func() bool { return log.lastTick() == 60 }, waitFor, pollEvery)

	runUntil(t, clock, 10*time.Second, expireCount(log))
	require.Eventually(t, func() bool { return d.State() == DriverStopped }, waitFor, pollEvery)
	_, expired := log.snapshot()
	assert.Equal(t, 1, expired)
}

func TestWorkerDriverFallsBackWhenSpawnFails(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	spawn := func(context.Context, Deadline, clockwork.Clock, time.Duration, chan<- TimerMessage) error {
		return errors.New("isolated context unavailable")
	}
	d := NewDriver(DriverOptions{Mode: ModeWorker, Clock: clock, Interval: time.Second, Spawner: spawn, Log: zerolog.Nop()})
	log := &tickLog{}

	require.NoError(t, d.Start(Deadline{Start: t0, TimeLimitMinutes: 1}, log.onTick, log.onExpire))
	assert.Equal(t, ModePolling, d.Mode())
	assert.Equal(t, DriverRunning, d.State())

	runUntil(t, clock, 10*time.Second, expireCount(log))
	_, expired := log.snapshot()
	assert.Equal(t, 1, expired)
}

func TestWorkerDriverFallsBackOnAsyncError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	spawn := func(ctx context.Context, d Deadline, c clockwork.Clock, _ time.Duration, out chan<- TimerMessage) error {
		go func() {
			post(ctx, out, TimerMessage{Remaining: d.Remaining(c.Now())})
			post(ctx, out, TimerMessage{Err: errors.New("countdown crashed")})
		}()
		return nil
	}
	d := NewDriver(DriverOptions{Mode: ModeWorker, Clock: clock, Interval: time.Second, Spawner: spawn, Log: zerolog.Nop()})
	log := &tickLog{}

	require.NoError(t, d.Start(Deadline{Start: t0, TimeLimitMinutes: 2}, log.onTick, log.onExpire))
	require.Eventually(t, func() bool { return d.Mode() == ModePolling }, waitFor, pollEvery)

	// The countdown continues on the fallback without an error surfacing.
	runUntil(t, clock, 10*time.Second, expireCount(log))
	require.Eventually(t, func() bool { return d.State() == DriverStopped }, waitFor, pollEvery)
	_, expired := log.snapshot()
	assert.Equal(t, 1, expired)
}

func TestGoroutineSpawnerReportsPanics(t *testing.T) {
	out := make(chan TimerMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A nil clock makes the countdown panic on first use.
	require.NoError(t, GoroutineSpawner(ctx, Deadline{Start: t0, TimeLimitMinutes: 1}, nil, time.Second, out))

	select {
	case msg := <-out:
		assert.Error(t, msg.Err)
	case <-time.After(waitFor):
		t.Fatal("no message from panicking countdown")
	}
}

func TestNewDriverPollingMode(t *testing.T) {
	d := NewDriver(DriverOptions{Mode: ModePolling, Clock: clockwork.NewFakeClockAt(t0)})
	assert.Equal(t, ModePolling, d.Mode())
	assert.Equal(t, DriverIdle, d.State())
}
