package calendar

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultClockInterval is how often LiveClock refreshes its snapshot.
	DefaultClockInterval = 30 * time.Second
	maxClockInterval     = time.Minute
)

// Clock supplies the current instant to layouts and presenters.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// FixedClock is a manually advanced Clock.
type FixedClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFixedClock returns a clock frozen at now.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ClockConfig configures a LiveClock.
type ClockConfig struct {
	Interval time.Duration
	Location *time.Location
	Source   func() time.Time
	Logger   *zap.Logger
	OnTick   func(time.Time)
}

// LiveClock is the shared ticking time source. Between ticks Now returns the
// same snapshot so every consumer of one render pass agrees on "now".
type LiveClock struct {
	interval time.Duration
	loc      *time.Location
	source   func() time.Time
	logger   *zap.Logger
	onTick   func(time.Time)

	mu          sync.RWMutex
	current     time.Time
	subscribers map[int]chan time.Time
	nextID      int

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewLiveClock builds a clock; it does not tick until Start.
func NewLiveClock(cfg ClockConfig) *LiveClock {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultClockInterval
	}
	if cfg.Interval > maxClockInterval {
		cfg.Interval = maxClockInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Source == nil {
		cfg.Source = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &LiveClock{
		interval:    cfg.Interval,
		loc:         cfg.Location,
		source:      cfg.Source,
		logger:      cfg.Logger,
		onTick:      cfg.OnTick,
		subscribers: make(map[int]chan time.Time),
	}
	c.current = c.read()
	return c
}

func (c *LiveClock) read() time.Time {
	return c.source().In(c.loc)
}

// Interval returns the tick cadence.
func (c *LiveClock) Interval() time.Duration {
	return c.interval
}

// Location returns the calendar location used for snapshots.
func (c *LiveClock) Location() *time.Location {
	return c.loc
}

// Now returns the latest snapshot.
func (c *LiveClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Start launches the ticker. Safe to call once; later calls are ignored.
func (c *LiveClock) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.started = true
	go c.run(ctx)
	c.logger.Sugar().Infow("live clock started", "interval", c.interval.String(), "location", c.loc.String())
}

func (c *LiveClock) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Stop cancels the ticker, waits for it to exit and closes every subscription.
func (c *LiveClock) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.cancel()
	done := c.done
	c.mu.Unlock()
	<-done

	c.mu.Lock()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	c.started = false
	c.mu.Unlock()
	c.logger.Sugar().Infow("live clock stopped")
}

// Tick refreshes the snapshot and notifies subscribers. Slow subscribers
// only ever see the latest instant.
func (c *LiveClock) Tick() time.Time {
	now := c.read()
	c.mu.Lock()
	c.current = now
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- now
	}
	c.mu.Unlock()
	if c.onTick != nil {
		c.onTick(now)
	}
	return now
}

// Subscribe returns a channel receiving every tick and a release func that
// must be called when the consumer goes away.
func (c *LiveClock) Subscribe() (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan time.Time, 1)
	c.subscribers[id] = ch

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				close(sub)
				delete(c.subscribers, id)
			}
		})
	}
	return ch, release
}

// Subscribers returns the number of live subscriptions.
func (c *LiveClock) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}
