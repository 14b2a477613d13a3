// Package recorder runs a recording session: it samples a metric source
// on a fixed cadence, closes windows in lockstep across all series and
// flushes closed windows to a sink exactly once.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/clock"
	"github.com/ethpandaops/stat2csv/internal/export"
	"github.com/ethpandaops/stat2csv/internal/series"
	"github.com/ethpandaops/stat2csv/internal/sink"
	"github.com/ethpandaops/stat2csv/internal/source"
)

// ErrStopped is returned by Start on a session that was already stopped.
var ErrStopped = errors.New("session stopped")

// Deps are the collaborators of a session.
type Deps struct {
	// ID identifies the session in logs and mirrors. Generated when empty.
	ID string
	// Context is a free-form label for what is being recorded.
	Context string
	// Series is the ordered series list; order is column order.
	Series []source.Series
	Source source.Source
	Sink   sink.Sink
	// Clock defaults to the wall clock.
	Clock  clock.Clock
	Health *export.HealthMetrics
	// Exporters receive every flushed window after the sink accepted it.
	Exporters []export.WindowExporter
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID        string
	Context   string
	StartedAt time.Time
	Closed    int
	Flushed   int
	Samples   uint64
}

// Pending returns the number of closed windows not yet flushed.
func (s Stats) Pending() int {
	return s.Closed - s.Flushed
}

// Session owns the aggregators of one recording. Sample and Dump may be
// called directly or driven by the loop started with Start; all state is
// serialized by mu.
type Session struct {
	log     logrus.FieldLogger
	cfg     Config
	id      string
	label   string
	series  []source.Series
	aggs    []*series.Aggregator
	src     source.Source
	sink    sink.Sink
	clk     clock.Clock
	health  *export.HealthMetrics
	mirror  *mirror
	started time.Time

	mu            sync.Mutex
	window        *clock.Window
	windowEnds    []time.Time
	lastTick      time.Time
	headerWritten bool
	retryAt       time.Time

	// Published after the window data they cover is complete.
	closed  atomic.Int64
	flushed atomic.Int64
	samples atomic.Uint64

	runMu    sync.Mutex
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New creates a session. t0 is taken from the clock at construction.
func New(log logrus.FieldLogger, cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recorder config: %w", err)
	}

	if err := source.ValidateSeries(deps.Series); err != nil {
		return nil, err
	}

	if deps.Source == nil {
		return nil, errors.New("source is required")
	}

	if deps.Sink == nil {
		return nil, errors.New("sink is required")
	}

	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	if deps.ID == "" {
		deps.ID = uuid.NewString()
	}

	if deps.Health == nil {
		deps.Health = export.NewHealthMetrics(log, export.HealthConfig{})
	}

	aggs := make([]*series.Aggregator, len(deps.Series))
	for i := range deps.Series {
		aggs[i] = series.NewAggregator(deps.Series[i].Name)
	}

	now := deps.Clock.Now()

	s := &Session{
		log: log.WithFields(logrus.Fields{
			"component":  "recorder",
			"session_id": deps.ID,
			"context":    deps.Context,
		}),
		cfg:        cfg,
		id:         deps.ID,
		label:      deps.Context,
		series:     deps.Series,
		aggs:       aggs,
		src:        deps.Source,
		sink:       deps.Sink,
		clk:        deps.Clock,
		health:     deps.Health,
		started:    now,
		window:     clock.NewWindow(cfg.WindowInterval, now),
		windowEnds: make([]time.Time, 0, 64),
		done:       make(chan struct{}),
	}

	if len(deps.Exporters) > 0 {
		s.mirror = newMirror(s.log, deps.Exporters, s.health)
	}

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Context returns the session's context label.
func (s *Session) Context() string { return s.label }

// StartedAt returns t0.
func (s *Session) StartedAt() time.Time { return s.started }

// Start launches the sampling loop.
func (s *Session) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if s.running {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	go s.run(ctx)

	s.log.WithFields(logrus.Fields{
		"series":          len(s.series),
		"sample_interval": s.cfg.SampleInterval,
		"window_interval": s.cfg.WindowInterval,
	}).Info("Recording session started")

	return nil
}

// Stop ends the session: the loop exits, pending windows are flushed
// with backoff ignored, the summary is written and the mirror drained.
// Later calls return the first call's result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.runMu.Lock()
		s.stopped = true

		if s.running {
			s.cancel()
			<-s.done
		}
		s.runMu.Unlock()

		s.mu.Lock()
		dumpErr := s.dumpLocked(true)
		summaryErr := s.writeSummaryLocked()
		// Dumps after Stop no longer reach the mirror.
		m := s.mirror
		s.mirror = nil
		s.mu.Unlock()

		if m != nil {
			m.close()
		}

		st := s.Stats()

		s.log.WithFields(logrus.Fields{
			"windows": st.Closed,
			"flushed": st.Flushed,
			"samples": st.Samples,
		}).Info("Recording session ended")

		s.stopErr = errors.Join(dumpErr, summaryErr)
	})

	return s.stopErr
}

// Flush writes every closed window now, ignoring retry backoff.
func (s *Session) Flush() error {
	return s.Dump(true)
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		ID:        s.id,
		Context:   s.label,
		StartedAt: s.started,
		Closed:    int(s.closed.Load()),
		Flushed:   int(s.flushed.Load()),
		Samples:   s.samples.Load(),
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := s.clk.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			now := s.clk.Now()

			s.Sample(now)
			_ = s.Dump(false)
		}
	}
}

// Sample pulls current values, records them and closes the open window
// once now is at least one window interval past the previous boundary.
// A boundary reached without any sample since the last close is skipped:
// no window index is consumed.
func (s *Session) Sample(now time.Time) {
	vals, err := s.src.Sample()
	if err != nil {
		s.health.SampleErrors.WithLabelValues(s.src.Name()).Inc()
		s.log.WithError(err).Debug("Source sample failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastTick.IsZero() {
		s.health.SampleInterval.Observe(now.Sub(s.lastTick).Seconds())
	}

	s.lastTick = now

	if err == nil {
		out, ok := source.Resolve(s.series, vals)
		recorded := false

		for i, agg := range s.aggs {
			if ok[i] {
				agg.Record(out[i])
				recorded = true
			}
		}

		if recorded {
			s.samples.Add(1)
			s.health.SamplesTotal.Inc()
		}
	}

	if !s.window.Due(now) {
		return
	}

	if !s.hasPendingLocked() {
		s.window.Advance(now)
		s.health.WindowsSkipped.Inc()
		s.log.WithField("at", now.Sub(s.started)).Debug("Skipped empty window")

		return
	}

	width := now.Sub(s.window.Last())

	for _, agg := range s.aggs {
		agg.CloseWindow()
	}

	s.windowEnds = append(s.windowEnds, now)
	s.window.Advance(now)

	closed := s.closed.Add(1)

	s.health.WindowsClosed.Inc()
	s.health.WindowWidth.Observe(width.Seconds())
	s.health.PendingWindows.Set(float64(closed - s.flushed.Load()))
}

func (s *Session) hasPendingLocked() bool {
	for _, agg := range s.aggs {
		if agg.Pending() > 0 {
			return true
		}
	}

	return false
}

// Dump appends every closed, unflushed window to the sink in one call.
// It is a no-op when nothing new has closed. On failure the watermark is
// kept and, unless force is set, further attempts wait for the retry
// interval.
func (s *Session) Dump(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dumpLocked(force)
}

func (s *Session) dumpLocked(force bool) error {
	closed := int(s.closed.Load())
	flushed := int(s.flushed.Load())

	if flushed >= closed {
		return nil
	}

	if !force && !s.retryAt.IsZero() && s.clk.Now().Before(s.retryAt) {
		return nil
	}

	rows := make([]sink.Row, 0, closed-flushed)

	for i := flushed; i < closed; i++ {
		row := sink.Row{
			Index:   i,
			Elapsed: s.windowEnds[i].Sub(s.started),
			Stats:   make([]series.WindowStats, len(s.aggs)),
		}

		for j, agg := range s.aggs {
			row.Stats[j], _ = agg.WindowAt(i)
		}

		rows = append(rows, row)
	}

	start := time.Now()

	if err := s.sink.Append(rows, !s.headerWritten); err != nil {
		s.retryAt = s.clk.Now().Add(s.cfg.FlushRetryInterval)
		s.health.FlushErrors.Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"from_window": flushed,
			"to_window":   closed - 1,
			"retry_in":    s.cfg.FlushRetryInterval,
		}).Error("Failed to append windows")

		return err
	}

	s.health.FlushDuration.Observe(time.Since(start).Seconds())
	s.headerWritten = true
	s.retryAt = time.Time{}
	s.flushed.Store(int64(closed))

	s.health.WindowsFlushed.Add(float64(len(rows)))
	s.health.PendingWindows.Set(0)

	if s.mirror != nil {
		s.mirror.publish(s.records(rows))
	}

	return nil
}

// records converts rows to one mirror record per non-empty series.
func (s *Session) records(rows []sink.Row) []export.WindowRecord {
	out := make([]export.WindowRecord, 0, len(rows)*len(s.aggs))

	for _, row := range rows {
		end := s.started.Add(row.Elapsed)

		for j, st := range row.Stats {
			if st.Empty() {
				continue
			}

			out = append(out, export.WindowRecord{
				SessionID:   s.id,
				Context:     s.label,
				WindowIndex: uint32(row.Index),
				WindowEnd:   end,
				Elapsed:     row.Elapsed,
				Series:      s.aggs[j].Name(),
				Average:     st.Average,
				Min:         st.Min,
				Max:         st.Max,
				Samples:     st.Count,
			})
		}
	}

	return out
}

// writeSummaryLocked writes percentiles over every raw sample of the
// session, including the open window. Sessions without samples write
// nothing.
func (s *Session) writeSummaryLocked() error {
	if s.samples.Load() == 0 {
		return nil
	}

	byName := make(map[string]*series.Aggregator, len(s.aggs))
	for _, agg := range s.aggs {
		byName[agg.Name()] = agg
	}

	cols := s.cfg.Summary.Columns
	raw := make([][]float64, len(cols))
	titles := make([]string, len(cols))

	for i, col := range cols {
		titles[i] = col.Title
		if agg, ok := byName[col.Series]; ok {
			raw[i] = agg.Samples()
		}
	}

	summary := sink.Summary{
		Columns: titles,
		Context: s.label,
		Rows:    make([]sink.SummaryRow, 0, len(s.cfg.Summary.Percentiles)),
	}

	for _, p := range s.cfg.Summary.Percentiles {
		row := sink.SummaryRow{Percentile: p, Values: make([]float64, len(cols))}

		for i := range cols {
			if len(raw[i]) > 0 {
				row.Values[i] = series.Percentile(raw[i], p)
			}
		}

		summary.Rows = append(summary.Rows, row)
	}

	if err := s.sink.WriteSummary(summary); err != nil {
		s.health.SummaryWrites.WithLabelValues("error").Inc()
		s.log.WithError(err).Error("Failed to write summary")

		return fmt.Errorf("writing summary: %w", err)
	}

	s.health.SummaryWrites.WithLabelValues("ok").Inc()

	return nil
}
