package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

const (
	defaultWindowTable   = "window_stats"
	defaultInsertTimeout = 10 * time.Second
	defaultDialTimeout   = 5 * time.Second
)

// ClickHouseConfig configures the ClickHouse window mirror.
type ClickHouseConfig struct {
	// Enabled turns the mirror on.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the native protocol address, host:port.
	Endpoint string `yaml:"endpoint"`

	Database string `yaml:"database"`

	// Table receives one row per series per window. Defaults to
	// window_stats, the table created by `stat2csv migrate up`.
	Table string `yaml:"table"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// InsertTimeout bounds a single batch insert. Defaults to 10s.
	InsertTimeout time.Duration `yaml:"insert_timeout"`

	// MetaClientName identifies this recorder in mirrored rows.
	MetaClientName string `yaml:"meta_client_name"`
}

// Validate checks an enabled configuration.
func (c *ClickHouseConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch {
	case c.Endpoint == "":
		return errors.New("clickhouse endpoint is required when enabled")
	case c.Database == "":
		return errors.New("clickhouse database is required when enabled")
	case c.InsertTimeout < 0:
		return errors.New("clickhouse insert_timeout must not be negative")
	}

	return nil
}

// withDefaults returns a copy with unset fields filled in.
func (c ClickHouseConfig) withDefaults() ClickHouseConfig {
	if c.Table == "" {
		c.Table = defaultWindowTable
	}

	if c.InsertTimeout <= 0 {
		c.InsertTimeout = defaultInsertTimeout
	}

	return c
}

// Options returns the driver options for the configured endpoint. A
// recorder inserts one small batch per flush, so the pool stays tiny.
func (c ClickHouseConfig) Options() *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{c.Endpoint},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:  defaultDialTimeout,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// ClickHouseWriter owns the connection used by the window mirror.
type ClickHouseWriter struct {
	log  logrus.FieldLogger
	cfg  ClickHouseConfig
	conn clickhouse.Conn
}

// NewClickHouseWriter creates an unconnected writer.
func NewClickHouseWriter(log logrus.FieldLogger, cfg ClickHouseConfig) *ClickHouseWriter {
	return &ClickHouseWriter{
		log: log.WithField("component", "clickhouse"),
		cfg: cfg.withDefaults(),
	}
}

// Start connects and verifies the server answers.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	conn, err := clickhouse.Open(w.cfg.Options())
	if err != nil {
		return fmt.Errorf("opening clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()

		return fmt.Errorf("pinging clickhouse at %s: %w", w.cfg.Endpoint, err)
	}

	w.conn = conn

	w.log.WithFields(logrus.Fields{
		"endpoint": w.cfg.Endpoint,
		"table":    w.cfg.Database + "." + w.cfg.Table,
	}).Info("Window mirror connected")

	return nil
}

// Conn returns the connection, nil before Start.
func (w *ClickHouseWriter) Conn() clickhouse.Conn {
	return w.conn
}

// Config returns the configuration with defaults applied.
func (w *ClickHouseWriter) Config() ClickHouseConfig {
	return w.cfg
}

// Stop closes the connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn == nil {
		return nil
	}

	err := w.conn.Close()
	w.conn = nil

	return err
}
