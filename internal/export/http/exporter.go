// Package http posts batches of records as NDJSON to an HTTP collector
// such as Vector.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/version"
)

// StatusError is returned when the collector answers with a non-2xx
// status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Retryable reports whether the collector may accept the same batch
// later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Exporter implements processor.ItemExporter for NDJSON over HTTP.
type Exporter[T any] struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	userAgent  string
	log        logrus.FieldLogger
}

var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter creates an NDJSON exporter.
func NewExporter[T any](log logrus.FieldLogger, cfg Config) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Exporter[T]{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Workers * 2,
				MaxIdleConnsPerHost: cfg.Workers * 2,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   !cfg.IsKeepAlive(),
			},
			Timeout: cfg.ExportTimeout,
		},
		compressor: compressor,
		userAgent:  "stat2csv/" + version.Short(),
		log:        log.WithField("component", "http_exporter"),
	}, nil
}

// ExportItems posts items as one NDJSON request. Nil items are skipped.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	body, n, err := encodeNDJSON(items)
	if err != nil {
		return err
	}

	if n == 0 {
		return nil
	}

	payload, err := e.compressor.Compress(body)
	if err != nil {
		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", e.userAgent)

	if enc := e.compressor.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	e.log.WithFields(logrus.Fields{
		"items":      n,
		"bytes":      len(body),
		"compressed": len(payload),
	}).Debug("Exported batch via HTTP")

	return nil
}

// Shutdown releases the compressor.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}

func encodeNDJSON[T any](items []*T) ([]byte, int, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	n := 0

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return nil, 0, fmt.Errorf("encoding item: %w", err)
		}

		n++
	}

	return buf.Bytes(), n, nil
}

// NewProcessor creates a BatchItemProcessor sending through an Exporter.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[T], error) {
	exporter, err := NewExporter[T](log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	cfg = exporter.cfg

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
