package recorder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/export"
)

const (
	mirrorQueueSize = 64
	mirrorTimeout   = 30 * time.Second
)

// mirror hands flushed windows to the exporters on its own goroutine so
// a slow mirror never stalls sampling.
type mirror struct {
	log       logrus.FieldLogger
	exporters []export.WindowExporter
	health    *export.HealthMetrics

	ch   chan []export.WindowRecord
	done chan struct{}
}

func newMirror(
	log logrus.FieldLogger,
	exporters []export.WindowExporter,
	health *export.HealthMetrics,
) *mirror {
	m := &mirror{
		log:       log.WithField("component", "mirror"),
		exporters: exporters,
		health:    health,
		ch:        make(chan []export.WindowRecord, mirrorQueueSize),
		done:      make(chan struct{}),
	}

	go m.run()

	return m
}

// publish queues records without blocking. Records are dropped when the
// queue is full.
func (m *mirror) publish(records []export.WindowRecord) {
	select {
	case m.ch <- records:
	default:
		for _, e := range m.exporters {
			m.health.MirrorErrors.WithLabelValues(e.Name(), "queue_full").Inc()
		}

		m.log.WithField("records", len(records)).Warn("Mirror queue full, dropping windows")
	}
}

// close drains queued records and stops the goroutine.
func (m *mirror) close() {
	close(m.ch)
	<-m.done
}

func (m *mirror) run() {
	defer close(m.done)

	for records := range m.ch {
		for _, e := range m.exporters {
			m.export(e, records)
		}
	}
}

func (m *mirror) export(e export.WindowExporter, records []export.WindowRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := e.Export(ctx, records); err != nil {
		m.health.MirrorErrors.WithLabelValues(e.Name(), "export").Inc()
		m.log.WithError(err).WithField("exporter", e.Name()).Warn("Mirror export failed")

		return
	}

	m.health.MirrorRecords.WithLabelValues(e.Name()).Add(float64(len(records)))
}
