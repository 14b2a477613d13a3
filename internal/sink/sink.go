// Package sink persists closed windows as an append-only CSV log and
// writes the end-of-session percentile summary.
package sink

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethpandaops/stat2csv/internal/series"
)

// ErrWriteFailure wraps every failure to open, write, sync or close an
// output file. The caller must not advance its flush watermark.
var ErrWriteFailure = errors.New("write failure")

// TimeColumn is the title of the leading elapsed-seconds column.
const TimeColumn = "time"

// nameLayout formats the session start time in file names (YYMMDD_HHMMSS).
const nameLayout = "060102_150405"

// Row is one closed window across every series, in column order.
type Row struct {
	// Index is the window number within the session.
	Index int
	// Elapsed is the window close time relative to session start.
	Elapsed time.Duration
	// Stats holds one entry per series. Empty entries are written as
	// blank fields.
	Stats []series.WindowStats
}

// Sink receives flushed windows and the terminal summary of a session.
type Sink interface {
	// Name returns the sink's name for logging.
	Name() string
	// Append durably appends rows. first is true until an Append has
	// succeeded and causes the destination to be truncated and the
	// header written ahead of the rows.
	Append(rows []Row, first bool) error
	// WriteSummary writes the one-off percentile summary.
	WriteSummary(summary Summary) error
}

// BaseName returns the file base name for a session started at t,
// e.g. stat2csv-250102_153004.
func BaseName(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = "stat2csv"
	}

	return fmt.Sprintf("%s-%s", prefix, t.Format(nameLayout))
}

// LogPath returns the continuous log path for base under dir.
func LogPath(dir, base string) string {
	return filepath.Join(dir, base+".csv")
}

// SummaryPath returns the summary path for base under dir.
func SummaryPath(dir, base string) string {
	return filepath.Join(dir, base+"-avg.csv")
}
