// Package export holds the operator-facing surfaces of the recorder:
// Prometheus health metrics and best-effort mirrors of closed windows.
package export

import (
	"context"
	"time"
)

// WindowRecord is one series of one closed window in long format.
type WindowRecord struct {
	SessionID   string
	Context     string
	WindowIndex uint32
	WindowEnd   time.Time
	Elapsed     time.Duration
	Series      string
	Average     float64
	Min         float64
	Max         float64
	Samples     uint32
}

// WindowExporter mirrors flushed windows to an external store. Mirrors
// see each window once, after it was durably written to the CSV log.
// A mirror failure never affects the CSV log.
type WindowExporter interface {
	// Name returns the exporter identifier.
	Name() string
	// Start initializes the exporter.
	Start(ctx context.Context) error
	// Export writes records.
	Export(ctx context.Context, records []WindowRecord) error
	// Stop flushes and shuts down the exporter.
	Stop() error
}
