package clock

import "time"

// Window decides when the open aggregation window closes. A window is due
// once at least Interval has elapsed since the previous boundary, checked
// only when a sample arrives, so widths drift above Interval under
// scheduler jitter rather than snapping to a fixed grid.
type Window struct {
	interval time.Duration
	last     time.Time
}

// NewWindow creates a window clock whose first window opens at start.
func NewWindow(interval time.Duration, start time.Time) *Window {
	if interval <= 0 {
		interval = time.Second
	}

	return &Window{
		interval: interval,
		last:     start,
	}
}

// Interval returns the nominal window width.
func (w *Window) Interval() time.Duration { return w.interval }

// Last returns the time of the most recent boundary.
func (w *Window) Last() time.Time { return w.last }

// Due reports whether the open window should close at now.
func (w *Window) Due(now time.Time) bool {
	return now.Sub(w.last) >= w.interval
}

// Advance records now as the latest window boundary.
func (w *Window) Advance(now time.Time) {
	w.last = now
}
