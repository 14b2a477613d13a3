// Package clock provides the recorder's time source, its sampling
// cadence and the window boundary decision.
package clock

import (
	"sync"
	"time"
)

// Ticker delivers ticks on C at a fixed cadence until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts wall time so window boundaries can be driven
// deterministically in tests.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

// New returns a Clock backed by the system wall clock.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }

func (r *realTicker) Stop() { r.t.Stop() }

// Manual is a Clock that only moves when Advance or Set is called.
// Tickers created from it fire as the time passes their next deadline.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

var _ Clock = (*Manual)(nil)

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTicker{
		clock:    m,
		c:        make(chan time.Time, 1),
		interval: d,
		next:     m.now.Add(d),
	}

	m.tickers = append(m.tickers, t)

	return t
}

// Advance moves the clock forward by d and fires any due tickers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
	m.fireLocked()
}

// Set moves the clock to t. Moving backwards does not fire tickers.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = t
	m.fireLocked()
}

func (m *Manual) fireLocked() {
	for _, t := range m.tickers {
		if t.stopped || t.interval <= 0 {
			continue
		}

		for !t.next.After(m.now) {
			// Slow receivers lose ticks, as with time.Ticker.
			select {
			case t.c <- t.next:
			default:
			}

			t.next = t.next.Add(t.interval)
		}
	}
}

type manualTicker struct {
	clock    *Manual
	c        chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}
