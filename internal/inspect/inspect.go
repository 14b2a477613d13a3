// Package inspect reads session log files back and reports per-series
// totals for a quick look at a recording.
package inspect

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/stat2csv/internal/sink"
)

// ErrNotLog is returned for files that do not carry a session log header.
var ErrNotLog = errors.New("not a session log")

// SeriesReport aggregates one series over every window of a log.
type SeriesReport struct {
	Name string
	// Windows is the number of windows with data for the series.
	Windows int
	// Avg is the mean of the per-window averages.
	Avg float64
	Min float64
	Max float64
}

// Report summarizes a session log.
type Report struct {
	Path     string
	Windows  int
	Duration time.Duration
	Series   []SeriesReport
}

// ReadFile parses the session log at path.
func ReadFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rep, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rep.Path = path

	return rep, nil
}

// Read parses a session log.
func Read(r io.Reader) (*Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotLog
		}

		return nil, err
	}

	names, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	rep := &Report{Series: make([]SeriesReport, len(names))}
	sums := make([]float64, len(names))

	for i, name := range names {
		rep.Series[i] = SeriesReport{
			Name: name,
			Min:  math.Inf(1),
			Max:  math.Inf(-1),
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		if len(rec) != 1+3*len(names) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d",
				rep.Windows+1, 1+3*len(names), len(rec))
		}

		elapsed, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad time %q", rep.Windows+1, rec[0])
		}

		rep.Windows++
		rep.Duration = time.Duration(math.Round(elapsed*1000)) * time.Millisecond

		for i := range names {
			cols := rec[1+3*i : 4+3*i]
			if cols[0] == "" {
				continue
			}

			vals, err := parseFloats(cols)
			if err != nil {
				return nil, fmt.Errorf("row %d, %s: %w", rep.Windows, names[i], err)
			}

			s := &rep.Series[i]
			s.Windows++
			sums[i] += vals[0]
			s.Min = math.Min(s.Min, vals[1])
			s.Max = math.Max(s.Max, vals[2])
		}
	}

	for i := range rep.Series {
		s := &rep.Series[i]
		if s.Windows == 0 {
			s.Min, s.Max = 0, 0

			continue
		}

		s.Avg = sums[i] / float64(s.Windows)
	}

	return rep, nil
}

// parseHeader returns the series names of a time,Avg-X,Min-X,Max-X header.
func parseHeader(header []string) ([]string, error) {
	if len(header) == 0 || header[0] != sink.TimeColumn || (len(header)-1)%3 != 0 {
		return nil, ErrNotLog
	}

	names := make([]string, 0, (len(header)-1)/3)

	for i := 1; i < len(header); i += 3 {
		name, ok := strings.CutPrefix(header[i], "Avg-")
		if !ok ||
			header[i+1] != "Min-"+name ||
			header[i+2] != "Max-"+name {
			return nil, fmt.Errorf("%w: unexpected columns %q", ErrNotLog, header[i:i+3])
		}

		names = append(names, name)
	}

	return names, nil
}

func parseFloats(cols []string) ([3]float64, error) {
	var out [3]float64

	for i, c := range cols {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return out, fmt.Errorf("bad value %q", c)
		}

		out[i] = v
	}

	return out, nil
}
