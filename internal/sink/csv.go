package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/series"
)

const lineEnding = "\r\n"

// maxBaseSuffix bounds the search for a free base name.
const maxBaseSuffix = 1000

// CSVSink writes windows to <dir>/<base>.csv and the summary to
// <dir>/<base>-avg.csv. Each call opens, writes, syncs and closes the
// file, so nothing already appended is lost on a crash.
//
// Files are never shared between sinks: the first write claims the base
// name exclusively, and a base whose log or summary already exists is
// suffixed with -1, -2 and so on.
type CSVSink struct {
	log     logrus.FieldLogger
	dir     string
	base    string
	header  string
	columns int

	mu          sync.Mutex
	claimed     bool
	path        string
	summaryPath string
}

var _ Sink = (*CSVSink)(nil)

// NewCSVSink creates a CSV sink for the ordered series names.
func NewCSVSink(log logrus.FieldLogger, dir, base string, names []string) *CSVSink {
	cols := make([]string, 0, 1+3*len(names))
	cols = append(cols, TimeColumn)

	for _, name := range names {
		cols = append(cols, series.Columns(name)...)
	}

	return &CSVSink{
		log:         log.WithField("sink", "csv"),
		dir:         dir,
		base:        base,
		header:      strings.Join(cols, ","),
		columns:     len(cols),
		path:        LogPath(dir, base),
		summaryPath: SummaryPath(dir, base),
	}
}

func (s *CSVSink) Name() string { return "csv" }

// Path returns the continuous log path. Before the first write it is
// the preferred path; the claimed one may carry a suffix.
func (s *CSVSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.path
}

// SummaryPath returns the summary file path.
func (s *CSVSink) SummaryPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.summaryPath
}

// Header returns the header line without its line ending.
func (s *CSVSink) Header() string { return s.header }

// Append writes rows to the log. On failure the file is truncated back
// to its size before the call and an ErrWriteFailure is returned.
func (s *CSVSink) Append(rows []Row, first bool) error {
	if len(rows) == 0 && !first {
		return nil
	}

	var b strings.Builder

	if first {
		b.WriteString(s.header)
		b.WriteString(lineEnding)
	}

	for i := range rows {
		if err := s.formatRow(&b, &rows[i]); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		f   *os.File
		err error
	)

	switch {
	case !s.claimed:
		f, err = s.claimLocked(false)
	case first:
		// Header retry on our own, still header-less file.
		f, err = openFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	default:
		f, err = openFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
	}

	if err != nil {
		return err
	}

	if err := writeDurable(s.log, f, s.path, b.String()); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"rows":  len(rows),
		"first": first,
	}).Debug("Appended windows")

	return nil
}

// WriteSummary writes summary to the summary path, replacing any
// previous content written by this sink.
func (s *CSVSink) WriteSummary(summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		f   *os.File
		err error
	)

	if s.claimed {
		f, err = openFile(s.summaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	} else {
		f, err = s.claimLocked(true)
	}

	if err != nil {
		return err
	}

	return writeDurable(s.log, f, s.summaryPath, formatSummary(summary))
}

// claimLocked picks the first base name whose log and summary are both
// absent and creates one of them exclusively: the summary when summary
// is set, the log otherwise.
func (s *CSVSink) claimLocked(summary bool) (*os.File, error) {
	for n := 0; n < maxBaseSuffix; n++ {
		base := s.base
		if n > 0 {
			base = fmt.Sprintf("%s-%d", s.base, n)
		}

		logPath, sumPath := LogPath(s.dir, base), SummaryPath(s.dir, base)

		create, other := logPath, sumPath
		if summary {
			create, other = sumPath, logPath
		}

		if _, err := os.Lstat(other); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrWriteFailure, other, err)
		}

		f, err := os.OpenFile(create, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("%w: creating %s: %w", ErrWriteFailure, create, err)
		}

		s.claimed = true
		s.path, s.summaryPath = logPath, sumPath

		s.log.WithField("path", logPath).Info("Session log created")

		return f, nil
	}

	return nil, fmt.Errorf("%w: no free file name for %s in %s", ErrWriteFailure, s.base, s.dir)
}

func (s *CSVSink) formatRow(b *strings.Builder, row *Row) error {
	if 1+3*len(row.Stats) != s.columns {
		return fmt.Errorf("%w: window %d has %d series, header has %d columns",
			ErrWriteFailure, row.Index, len(row.Stats), s.columns)
	}

	var num [32]byte

	b.Write(strconv.AppendFloat(num[:0], row.Elapsed.Seconds(), 'f', 2, 64))

	for _, st := range row.Stats {
		if st.Empty() {
			b.WriteString(",,,")

			continue
		}

		for _, v := range [3]float64{st.Average, st.Min, st.Max} {
			b.WriteByte(',')
			b.Write(strconv.AppendFloat(num[:0], v, 'f', 1, 64))
		}
	}

	b.WriteString(lineEnding)

	return nil
}

func openFile(path string, flags int) (*os.File, error) {
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrWriteFailure, path, err)
	}

	return f, nil
}

// durableFile is the subset of *os.File used by writeDurable.
type durableFile interface {
	Stat() (os.FileInfo, error)
	WriteString(s string) (int, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// writeDurable writes data in one call, syncs and closes f. If the write
// or sync fails, f is truncated back to its original size. Once synced
// the data is committed, so a failing close is only logged.
func writeDurable(log logrus.FieldLogger, f durableFile, path, data string) error {
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("%w: stat %s: %w", ErrWriteFailure, path, err)
	}

	size := info.Size()

	if _, err := f.WriteString(data); err != nil {
		return rollback(f, path, size, fmt.Errorf("writing: %w", err))
	}

	if err := f.Sync(); err != nil {
		return rollback(f, path, size, fmt.Errorf("syncing: %w", err))
	}

	if err := f.Close(); err != nil {
		log.WithError(err).WithField("path", path).Warn("Closing synced file failed")
	}

	return nil
}

func rollback(f durableFile, path string, size int64, cause error) error {
	if err := f.Truncate(size); err == nil {
		_ = f.Sync()
	}

	_ = f.Close()

	return fmt.Errorf("%w: %s: %w", ErrWriteFailure, path, cause)
}
