package export

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	httpexport "github.com/ethpandaops/stat2csv/internal/export/http"
)

const timeLayout = "2006-01-02 15:04:05.000"

// WindowJSON is the NDJSON schema of a mirrored window record.
type WindowJSON struct {
	UpdatedDateTime string  `json:"updated_date_time"`
	SessionID       string  `json:"session_id"`
	Context         string  `json:"context,omitempty"`
	WindowIndex     uint32  `json:"window_index"`
	WindowEnd       string  `json:"window_end"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	Series          string  `json:"series"`
	Avg             float64 `json:"avg"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	Samples         uint32  `json:"samples"`
	MetaClientName  string  `json:"meta_client_name,omitempty"`
}

// HTTPExporter mirrors window records as NDJSON through a batch
// processor (e.g. to Vector).
type HTTPExporter struct {
	log  logrus.FieldLogger
	proc *processor.BatchItemProcessor[WindowJSON]
	cfg  httpexport.Config
}

var _ WindowExporter = (*HTTPExporter)(nil)

// NewHTTPExporter creates an HTTP window mirror.
func NewHTTPExporter(log logrus.FieldLogger, cfg httpexport.Config) (*HTTPExporter, error) {
	proc, err := httpexport.NewProcessor[WindowJSON](log, cfg, "stat2csv_windows")
	if err != nil {
		return nil, fmt.Errorf("creating http processor: %w", err)
	}

	return &HTTPExporter{
		log:  log.WithField("exporter", "http"),
		proc: proc,
		cfg:  cfg,
	}, nil
}

// Name returns the exporter identifier.
func (e *HTTPExporter) Name() string {
	return "http"
}

// Start starts the batch processor workers.
func (e *HTTPExporter) Start(ctx context.Context) error {
	e.proc.Start(ctx)

	return nil
}

// Stop drains queued records and shuts down the processor.
func (e *HTTPExporter) Stop() error {
	return e.proc.Shutdown(context.Background())
}

// Export queues records for asynchronous delivery.
func (e *HTTPExporter) Export(ctx context.Context, records []WindowRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now()
	events := make([]*WindowJSON, 0, len(records))

	for i := range records {
		events = append(events, e.toJSON(&records[i], now))
	}

	if err := e.proc.Write(ctx, events); err != nil {
		return fmt.Errorf("queueing %d records: %w", len(events), err)
	}

	return nil
}

func (e *HTTPExporter) toJSON(r *WindowRecord, now time.Time) *WindowJSON {
	return &WindowJSON{
		UpdatedDateTime: now.UTC().Format(timeLayout),
		SessionID:       r.SessionID,
		Context:         r.Context,
		WindowIndex:     r.WindowIndex,
		WindowEnd:       r.WindowEnd.UTC().Format(timeLayout),
		ElapsedSeconds:  r.Elapsed.Seconds(),
		Series:          r.Series,
		Avg:             r.Average,
		Min:             r.Min,
		Max:             r.Max,
		Samples:         r.Samples,
		MetaClientName:  e.cfg.MetaClientName,
	}
}
