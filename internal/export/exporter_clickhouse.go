package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ClickHouseExporter mirrors window records into a ClickHouse table
// created by the migrate package.
type ClickHouseExporter struct {
	log    logrus.FieldLogger
	writer *ClickHouseWriter
	health *HealthMetrics
}

var _ WindowExporter = (*ClickHouseExporter)(nil)

// NewClickHouseExporter creates a ClickHouse window mirror.
func NewClickHouseExporter(
	log logrus.FieldLogger,
	writer *ClickHouseWriter,
	health *HealthMetrics,
) *ClickHouseExporter {
	return &ClickHouseExporter{
		log:    log.WithField("exporter", "clickhouse"),
		writer: writer,
		health: health,
	}
}

// Name returns the exporter identifier.
func (e *ClickHouseExporter) Name() string {
	return "clickhouse"
}

// Start connects the writer.
func (e *ClickHouseExporter) Start(ctx context.Context) error {
	if err := e.writer.Start(ctx); err != nil {
		return err
	}

	if e.health != nil {
		e.health.ClickHouseConnected.Set(1)
	}

	return nil
}

// Stop closes the writer.
func (e *ClickHouseExporter) Stop() error {
	if e.health != nil {
		e.health.ClickHouseConnected.Set(0)
	}

	return e.writer.Stop()
}

// Export inserts records in a single batch.
func (e *ClickHouseExporter) Export(ctx context.Context, records []WindowRecord) error {
	if len(records) == 0 {
		return nil
	}

	conn := e.writer.Conn()
	if conn == nil {
		return errors.New("clickhouse writer not started")
	}

	cfg := e.writer.Config()

	ctx, cancel := context.WithTimeout(ctx, cfg.InsertTimeout)
	defer cancel()

	start := time.Now()

	batch, err := conn.PrepareBatch(ctx, insertQuery(cfg.Database, cfg.Table))
	if err != nil {
		return fmt.Errorf("preparing %s batch: %w", cfg.Table, err)
	}

	now := time.Now()

	for _, r := range records {
		if err := batch.Append(
			now, r.SessionID, r.Context, r.WindowIndex, r.WindowEnd,
			r.Elapsed.Seconds(), r.Series,
			r.Average, r.Min, r.Max, r.Samples,
			cfg.MetaClientName,
		); err != nil {
			_ = batch.Abort()

			return fmt.Errorf("appending %s row: %w", cfg.Table, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending %s batch: %w", cfg.Table, err)
	}

	if e.health != nil {
		e.health.ClickHouseBatchDuration.WithLabelValues("insert").
			Observe(time.Since(start).Seconds())
	}

	e.log.WithField("rows", len(records)).Debug("Mirrored windows to ClickHouse")

	return nil
}

func insertQuery(database, table string) string {
	return fmt.Sprintf(`INSERT INTO %s.%s (
		updated_date_time, session_id, context, window_index, window_end,
		elapsed_seconds, series,
		avg, min, max, samples,
		meta_client_name
	)`, database, table)
}
