package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveClockSnapshotChangesOnlyOnTick(t *testing.T) {
	source := NewFixedClock(at(2024, 3, 15, 10, 0))
	clock := NewLiveClock(ClockConfig{Source: source.Now, Location: time.UTC})

	assert.Equal(t, at(2024, 3, 15, 10, 0), clock.Now())
	source.Advance(time.Minute)
	assert.Equal(t, at(2024, 3, 15, 10, 0), clock.Now())

	clock.Tick()
	assert.Equal(t, at(2024, 3, 15, 10, 1), clock.Now())
}

func TestLiveClockIntervalDefaults(t *testing.T) {
	assert.Equal(t, DefaultClockInterval, NewLiveClock(ClockConfig{}).Interval())
	assert.Equal(t, time.Minute, NewLiveClock(ClockConfig{Interval: time.Hour}).Interval())
	assert.Equal(t, 5*time.Second, NewLiveClock(ClockConfig{Interval: 5 * time.Second}).Interval())
}

func TestLiveClockSubscribeAndRelease(t *testing.T) {
	source := NewFixedClock(at(2024, 3, 15, 10, 0))
	var ticked []time.Time
	clock := NewLiveClock(ClockConfig{Source: source.Now, Location: time.UTC, OnTick: func(t time.Time) {
		ticked = append(ticked, t)
	}})

	ch, release := clock.Subscribe()
	require.Equal(t, 1, clock.Subscribers())

	source.Advance(time.Minute)
	clock.Tick()
	source.Advance(time.Minute)
	clock.Tick()

	// Only the latest tick is buffered.
	select {
	case got := <-ch:
		assert.Equal(t, at(2024, 3, 15, 10, 2), got)
	default:
		t.Fatal("expected a tick")
	}
	assert.Len(t, ticked, 2)

	release()
	release()
	assert.Equal(t, 0, clock.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestLiveClockStartStopReleasesSubscribers(t *testing.T) {
	clock := NewLiveClock(ClockConfig{Interval: time.Second, Location: time.UTC})
	clock.Start(context.Background())
	clock.Start(context.Background())

	ch, release := clock.Subscribe()
	clock.Stop()
	clock.Stop()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, clock.Subscribers())
	release()
}

func TestLiveClockStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := NewLiveClock(ClockConfig{Interval: time.Second})
	clock.Start(ctx)
	cancel()
	clock.Stop()
	assert.Equal(t, 0, clock.Subscribers())
}
