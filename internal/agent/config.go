package agent

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/stat2csv/internal/export"
	httpexport "github.com/ethpandaops/stat2csv/internal/export/http"
	"github.com/ethpandaops/stat2csv/internal/recorder"
	"github.com/ethpandaops/stat2csv/internal/source"
)

// Config is the top-level configuration for the stat2csv agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFile optionally mirrors logs to a rotating file.
	LogFile LogFileConfig `yaml:"log_file"`

	// OutputDir is where session CSV files are written.
	// Defaults to Saved/stat2csv.
	OutputDir string `yaml:"output_dir"`

	// FilePrefix starts every output file name. Defaults to stat2csv.
	FilePrefix string `yaml:"file_prefix"`

	// Recorder holds the sampling cadence, windowing and summary layout.
	Recorder recorder.Config `yaml:",inline"`

	// Series is the ordered list of recorded series. Order is column
	// order in the CSV log.
	Series []source.Series `yaml:"series"`

	// Source selects where values are sampled from.
	Source source.Config `yaml:"source"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// Control exposes session triggers on the health server.
	Control ControlConfig `yaml:"control"`

	// Export configures best-effort window mirrors.
	Export ExportConfig `yaml:"export"`

	// AutoStart starts a session as soon as the agent is up.
	// Defaults to true.
	AutoStart bool `yaml:"auto_start"`

	// AutoStartContext labels the automatically started session and
	// sessions restarted by signal. Defaults to "auto".
	AutoStartContext string `yaml:"auto_start_context"`
}

// ControlConfig configures the session control endpoints.
type ControlConfig struct {
	// Enabled registers /session endpoints on the health server.
	Enabled bool `yaml:"enabled"`
}

// ExportConfig holds the window mirror configuration.
type ExportConfig struct {
	HTTP       httpexport.Config       `yaml:"http"`
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		LogFile:    DefaultLogFileConfig(),
		OutputDir:  "Saved/stat2csv",
		FilePrefix: "stat2csv",
		Recorder:   recorder.DefaultConfig(),
		Series:     source.DefaultSeries(),
		Source: source.Config{
			Type: source.TypeRuntime,
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		Control: ControlConfig{
			Enabled: true,
		},
		Export: ExportConfig{
			HTTP: httpexport.DefaultConfig(),
		},
		AutoStart:        true,
		AutoStartContext: "auto",
	}
}

// LoadConfig reads and parses a YAML configuration file over the
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}

	if err := c.Recorder.Validate(); err != nil {
		return err
	}

	if err := source.ValidateSeries(c.Series); err != nil {
		return fmt.Errorf("series: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if c.Control.Enabled && c.Health.Disabled() {
		return errors.New("control endpoints need the health server (health.addr)")
	}

	if err := c.Export.HTTP.Validate(); err != nil {
		return fmt.Errorf("export.http: %w", err)
	}

	if err := c.Export.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("export.clickhouse: %w", err)
	}

	return nil
}

// SeriesNames returns the configured series names in column order.
func (c *Config) SeriesNames() []string {
	names := make([]string, len(c.Series))
	for i := range c.Series {
		names[i] = c.Series[i].Name
	}

	return names
}

// UnknownSummarySeries returns summary columns that reference a series
// that is not recorded. Those columns are written as zero.
func (c *Config) UnknownSummarySeries() []string {
	known := make(map[string]struct{}, len(c.Series))
	for i := range c.Series {
		known[c.Series[i].Name] = struct{}{}
	}

	var out []string

	for _, col := range c.Recorder.Summary.Columns {
		if _, ok := known[col.Series]; !ok {
			out = append(out, col.Series)
		}
	}

	return out
}
