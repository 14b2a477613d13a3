// Package migrate applies the ClickHouse schema used by the window
// mirror.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse" // ClickHouse driver.
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/stat2csv/internal/export"
)

//go:embed sql/*.sql
var migrations embed.FS

// Migrator manages ClickHouse schema migrations.
type Migrator interface {
	// Up applies all pending migrations.
	Up(ctx context.Context) error
	// Down rolls back the last migration.
	Down(ctx context.Context) error
	// Status returns the current migration version.
	Status(ctx context.Context) (version uint, dirty bool, err error)
}

type migrator struct {
	log logrus.FieldLogger
	dsn string
}

// New creates a Migrator for the mirror's ClickHouse database.
func New(log logrus.FieldLogger, cfg export.ClickHouseConfig) (Migrator, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	return &migrator{
		log: log.WithFields(logrus.Fields{
			"component": "migrate",
			"database":  cfg.Database,
		}),
		dsn: dsn,
	}, nil
}

// DSN builds a golang-migrate ClickHouse URL from cfg with
// multi-statement migrations enabled.
func DSN(cfg export.ClickHouseConfig) (string, error) {
	if cfg.Endpoint == "" {
		return "", errors.New("clickhouse endpoint is required")
	}

	if cfg.Database == "" {
		return "", errors.New("clickhouse database is required")
	}

	u := url.URL{
		Scheme: "clickhouse",
		Host:   cfg.Endpoint,
	}

	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("x-multi-statement", "true")

	if cfg.Username != "" {
		q.Set("username", cfg.Username)
	}

	if cfg.Password != "" {
		q.Set("password", cfg.Password)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Up applies all pending migrations.
func (m *migrator) Up(_ context.Context) error {
	mig, err := m.newMigrate()
	if err != nil {
		return err
	}
	defer mig.Close()

	m.log.Info("Running migrations")

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, _, _ := mig.Version()
	m.log.WithField("version", version).Info("Migrations applied")

	return nil
}

// Down rolls back the last migration.
func (m *migrator) Down(_ context.Context) error {
	mig, err := m.newMigrate()
	if err != nil {
		return err
	}
	defer mig.Close()

	m.log.Info("Rolling back last migration")

	if err := mig.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migration: %w", err)
	}

	m.log.Info("Rollback complete")

	return nil
}

// Status returns the current migration version. Version 0 means no
// migration has been applied.
func (m *migrator) Status(_ context.Context) (uint, bool, error) {
	mig, err := m.newMigrate()
	if err != nil {
		return 0, false, err
	}
	defer mig.Close()

	version, dirty, err := mig.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("getting migration version: %w", err)
	}

	return version, dirty, nil
}

func (m *migrator) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "sql")
	if err != nil {
		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	mig, err := migrate.NewWithSourceInstance("iofs", src, m.dsn)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}

	return mig, nil
}
