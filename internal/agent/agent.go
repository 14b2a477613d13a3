// Package agent wires the recorder, its source, sinks and mirrors into
// a long-running process driven by session triggers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/clock"
	"github.com/ethpandaops/stat2csv/internal/export"
	"github.com/ethpandaops/stat2csv/internal/lifecycle"
	"github.com/ethpandaops/stat2csv/internal/recorder"
	"github.com/ethpandaops/stat2csv/internal/sink"
	"github.com/ethpandaops/stat2csv/internal/source"
)

// stopTimeout bounds the final session flush on shutdown.
const stopTimeout = 30 * time.Second

// Agent is the top-level orchestrator for stat2csv.
type Agent interface {
	// Start begins the agent: health server, source, mirrors and the
	// session lifecycle.
	Start(ctx context.Context) error
	// Stop ends the active session and shuts everything down.
	Stop() error
	// Lifecycle returns the session lifecycle for trigger delivery.
	Lifecycle() *lifecycle.Lifecycle
}

type agent struct {
	log    logrus.FieldLogger
	cfg    Config
	health *export.HealthMetrics
	clk    clock.Clock

	src     source.Source
	mirrors []export.WindowExporter
	lc      *lifecycle.Lifecycle

	mu            sync.Mutex
	started       bool
	sourceStarted bool

	// exporters are the mirrors that started; sessions publish to these.
	exporters []export.WindowExporter
	cancel    context.CancelFunc
	stopOnce  sync.Once
	stopErr   error
}

var _ Agent = (*agent)(nil)

// New creates a new Agent from cfg.
func New(log logrus.FieldLogger, cfg Config) (Agent, error) {
	src, err := source.New(log, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("creating source: %w", err)
	}

	return NewWithSource(log, cfg, src)
}

// NewWithSource creates an Agent that samples src instead of the
// configured source. Hosts that push their own counters use this with a
// source.Static.
func NewWithSource(log logrus.FieldLogger, cfg Config, src source.Source) (Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if src == nil {
		return nil, errors.New("source is required")
	}

	a := &agent{
		log:    log.WithField("component", "agent"),
		cfg:    cfg,
		health: export.NewHealthMetrics(log, cfg.Health),
		clk:    clock.New(),
		src:    src,
	}

	if unknown := cfg.UnknownSummarySeries(); len(unknown) > 0 {
		a.log.WithField("series", unknown).
			Warn("Summary columns reference unrecorded series, they will read zero")
	}

	if cfg.Export.HTTP.Enabled {
		exp, err := export.NewHTTPExporter(log, cfg.Export.HTTP)
		if err != nil {
			return nil, fmt.Errorf("creating http exporter: %w", err)
		}

		a.mirrors = append(a.mirrors, exp)
	}

	if cfg.Export.ClickHouse.Enabled {
		writer := export.NewClickHouseWriter(log, cfg.Export.ClickHouse)
		a.mirrors = append(a.mirrors, export.NewClickHouseExporter(log, writer, a.health))
	}

	a.lc = lifecycle.New(log, a.newSession, a.health)

	if cfg.Control.Enabled {
		newControl(a.log, a.lc, cfg.AutoStartContext).register(a.health)
	}

	return a, nil
}

// Lifecycle returns the session lifecycle.
func (a *agent) Lifecycle() *lifecycle.Lifecycle {
	return a.lc
}

// Start begins all subsystems. Mirrors that fail to start are dropped
// with a warning; the CSV log does not depend on them.
func (a *agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("agent already started")
	}

	a.started = true

	a.log.WithFields(logrus.Fields{
		"output_dir":      a.cfg.OutputDir,
		"sample_interval": a.cfg.Recorder.SampleInterval,
		"window_interval": a.cfg.Recorder.WindowInterval,
		"series":          len(a.cfg.Series),
		"source":          a.src.Name(),
	}).Info("Starting stat2csv agent")

	// 1. Health metrics server.
	if !a.cfg.Health.Disabled() {
		if err := a.health.Start(ctx); err != nil {
			return fmt.Errorf("starting health metrics: %w", err)
		}
	}

	// 2. Output directory. A failure here surfaces as write failures in
	// the session and is retried on every flush.
	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		a.log.WithError(err).WithField("dir", a.cfg.OutputDir).
			Warn("Could not create output directory")
	}

	// 3. Source background work.
	if runner, ok := a.src.(source.Runner); ok {
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("starting source: %w", err)
		}

		a.sourceStarted = true
	}

	// 4. Mirrors.
	for _, exp := range a.mirrors {
		if err := exp.Start(ctx); err != nil {
			a.log.WithError(err).WithField("exporter", exp.Name()).
				Warn("Mirror failed to start, disabling it")

			continue
		}

		a.exporters = append(a.exporters, exp)
	}

	// 5. Session lifecycle.
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		if err := a.lc.Run(runCtx); err != nil {
			a.log.WithError(err).Error("Lifecycle stopped with error")
		}
	}()

	if a.cfg.AutoStart {
		if err := a.lc.OnSessionStart(ctx, a.cfg.AutoStartContext); err != nil {
			return fmt.Errorf("auto-starting session: %w", err)
		}
	}

	a.log.Info("Agent started")

	return nil
}

// Stop ends the active session, then shuts down mirrors, source and the
// health server. It is safe to call more than once.
func (a *agent) Stop() error {
	a.stopOnce.Do(func() {
		a.stopErr = a.stop()
	})

	return a.stopErr
}

func (a *agent) stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.log.Info("Stopping stat2csv agent")

	var errs []error

	if a.cancel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)

		err := a.lc.OnProcessExit(ctx)
		if err != nil && !errors.Is(err, lifecycle.ErrClosed) {
			errs = append(errs, fmt.Errorf("ending session: %w", err))
		}

		select {
		case <-a.lc.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for lifecycle: %w", ctx.Err()))
		}

		cancel()
		a.cancel()
	}

	for _, exp := range a.exporters {
		if err := exp.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s exporter: %w", exp.Name(), err))
		}
	}

	if runner, ok := a.src.(source.Runner); ok && a.sourceStarted {
		if err := runner.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping source: %w", err))
		}
	}

	if !a.cfg.Health.Disabled() {
		if err := a.health.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping health metrics: %w", err))
		}
	}

	a.log.Info("Agent stopped")

	return errors.Join(errs...)
}

// newSession builds a recording session writing to a fresh pair of
// files named after the current time.
func (a *agent) newSession(label string) (lifecycle.Session, error) {
	base := sink.BaseName(a.cfg.FilePrefix, a.clk.Now())
	csv := sink.NewCSVSink(a.log, a.cfg.OutputDir, base, a.cfg.SeriesNames())

	sess, err := recorder.New(a.log, a.cfg.Recorder, recorder.Deps{
		Context:   label,
		Series:    a.cfg.Series,
		Source:    a.src,
		Sink:      csv,
		Clock:     a.clk,
		Health:    a.health,
		Exporters: a.exporters,
	})
	if err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"session_id": sess.ID(),
		"context":    label,
		"base":       base,
	}).Info("Session created")

	return sess, nil
}
