// Package series aggregates scalar samples of one named metric into
// fixed windows of min/max/average.
package series

import (
	"fmt"
	"math"
)

// WindowStats is one closed window of a single series.
type WindowStats struct {
	Min     float64
	Max     float64
	Average float64
	// Count is the number of samples recorded in the window.
	Count uint32
}

// Empty reports whether the window closed without any samples.
func (w WindowStats) Empty() bool {
	return w.Count == 0
}

// Aggregator owns the open window and the closed-window history of one
// series. It is not safe for concurrent use; the recording session that
// owns it serializes all calls.
type Aggregator struct {
	name string

	// Open window state.
	sum   float64
	count uint32
	min   float64
	max   float64

	windows []WindowStats
	raw     []float64
}

// NewAggregator creates an aggregator for the named series.
func NewAggregator(name string) *Aggregator {
	return &Aggregator{
		name:    name,
		windows: make([]WindowStats, 0, 64),
		raw:     make([]float64, 0, 1024),
	}
}

// Name returns the series name.
func (a *Aggregator) Name() string { return a.name }

// Record adds a sample to the open window. Non-finite values are dropped.
func (a *Aggregator) Record(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}

	if a.count == 0 {
		a.min = v
		a.max = v
	} else {
		if v < a.min {
			a.min = v
		}

		if v > a.max {
			a.max = v
		}
	}

	a.sum += v
	a.count++
	a.raw = append(a.raw, v)
}

// Pending returns the number of samples in the open window.
func (a *Aggregator) Pending() uint32 { return a.count }

// CloseWindow finalizes the open window, appends it to the history and
// opens a fresh one. A window closed with no samples has zero stats and
// reports Empty.
func (a *Aggregator) CloseWindow() WindowStats {
	stats := WindowStats{Count: a.count}

	if a.count > 0 {
		stats.Min = a.min
		stats.Max = a.max
		stats.Average = a.sum / float64(a.count)
	}

	a.windows = append(a.windows, stats)

	a.sum = 0
	a.count = 0
	a.min = 0
	a.max = 0

	return stats
}

// Len returns the number of closed windows.
func (a *Aggregator) Len() int { return len(a.windows) }

// WindowAt returns the closed window at index. ok is false when index is
// outside the closed range.
func (a *Aggregator) WindowAt(index int) (WindowStats, bool) {
	if index < 0 || index >= len(a.windows) {
		return WindowStats{}, false
	}

	return a.windows[index], true
}

// Columns returns the column titles for this series in output order.
func (a *Aggregator) Columns() []string {
	return Columns(a.name)
}

// ColumnHeader returns the column titles for this series joined by a
// bare comma, the same layout as the log header and data rows.
func (a *Aggregator) ColumnHeader() string {
	cols := a.Columns()

	return cols[0] + "," + cols[1] + "," + cols[2]
}

// Samples returns a copy of every sample recorded over the aggregator's
// lifetime, including the open window.
func (a *Aggregator) Samples() []float64 {
	out := make([]float64, len(a.raw))
	copy(out, a.raw)

	return out
}

// Columns returns the average, min and max column titles for name.
func Columns(name string) []string {
	return []string{
		fmt.Sprintf("Avg-%s", name),
		fmt.Sprintf("Min-%s", name),
		fmt.Sprintf("Max-%s", name),
	}
}
