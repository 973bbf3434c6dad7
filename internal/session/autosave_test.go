package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type saveCounter struct {
	mu       sync.Mutex
	calls    int
	err      error
	statuses []SaveStatus
}

func (c *saveCounter) save(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *saveCounter) status(st SaveStatus) {
	c.mu.Lock()
	c.statuses = append(c.statuses, st)
	c.mu.Unlock()
}

func (c *saveCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newAutosaver(clock clockwork.Clock, c *saveCounter) *Autosaver {
	a := NewAutosaver(clock, 5*time.Second, c.save, c.status, zerolog.Nop())
	a.Resume()
	return a
}

func TestAutosaverCollapsesBurst(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := &saveCounter{}
	a := newAutosaver(clock, c)

	for range 5 {
		a.Schedule()
		clock.Advance(200 * time.Millisecond)
	}
	assert.True(t, a.Pending())
	assert.Zero(t, c.count())

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return c.count() == 1 }, waitFor, pollEvery)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.count())
	assert.False(t, a.Pending())
}

func TestAutosaverSaveNowBypassesWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := &saveCounter{}
	a := newAutosaver(clock, c)

	a.Schedule()
	require.NoError(t, a.SaveNow(context.Background()))
	assert.Equal(t, 1, c.count())

	// The pending debounce was consumed by the manual save.
	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.count())
	assert.Equal(t, []SaveStatus{SaveStatusSaving, SaveStatusIdle}, c.statuses)
}

func TestAutosaverFailureRevertsToIdle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := &saveCounter{err: errBoom}
	a := newAutosaver(clock, c)

	assert.ErrorIs(t, a.SaveNow(context.Background()), errBoom)
	assert.ErrorIs(t, a.LastError(), errBoom)
	assert.Equal(t, []SaveStatus{SaveStatusSaving, SaveStatusIdle}, c.statuses)

	c.mu.Lock()
	c.err = nil
	c.mu.Unlock()
	require.NoError(t, a.SaveNow(context.Background()))
	assert.NoError(t, a.LastError())
}

func TestAutosaverPauseDropsPending(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := &saveCounter{}
	a := newAutosaver(clock, c)

	a.Schedule()
	a.Pause()
	a.Schedule()
	assert.False(t, a.Pending())

	clock.Advance(time.Minute)
	assert.Zero(t, c.count())
}

func TestAutosaverFlush(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := &saveCounter{}
	a := newAutosaver(clock, c)

	require.NoError(t, a.Flush(context.Background()))
	assert.Zero(t, c.count())

	a.Schedule()
	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, 1, c.count())
}
