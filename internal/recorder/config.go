package recorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/stat2csv/internal/sink"
)

// Config controls the sampling cadence, windowing and summary layout of
// a recording session.
type Config struct {
	// SampleInterval is the sampling cadence. Defaults to 30ms.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// WindowInterval is the minimum window width. Windows close on the
	// first sample at least this long after the previous boundary.
	// Defaults to 1s.
	WindowInterval time.Duration `yaml:"window_interval"`

	// FlushRetryInterval is how long a failed append is left alone
	// before the backlog is retried. Defaults to 1s.
	FlushRetryInterval time.Duration `yaml:"flush_retry_interval"`

	// Summary configures the end-of-session percentile file.
	Summary SummaryConfig `yaml:"summary"`
}

// SummaryConfig selects the summary percentiles and columns.
type SummaryConfig struct {
	Percentiles []float64            `yaml:"percentiles"`
	Columns     []sink.SummaryColumn `yaml:"columns"`
}

// DefaultConfig returns the stock cadence: 30ms samples in 1s windows.
func DefaultConfig() Config {
	return Config{
		SampleInterval:     30 * time.Millisecond,
		WindowInterval:     time.Second,
		FlushRetryInterval: time.Second,
		Summary: SummaryConfig{
			Percentiles: sink.DefaultPercentiles(),
			Columns:     sink.DefaultSummaryColumns(),
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleInterval <= 0 {
		return errors.New("sample_interval must be positive")
	}

	if c.WindowInterval < c.SampleInterval {
		return fmt.Errorf("window_interval (%s) must not be shorter than sample_interval (%s)",
			c.WindowInterval, c.SampleInterval)
	}

	if c.FlushRetryInterval < 0 {
		return errors.New("flush_retry_interval must not be negative")
	}

	for _, p := range c.Summary.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("summary percentile %v out of range [0, 100]", p)
		}
	}

	for i, col := range c.Summary.Columns {
		if col.Series == "" {
			return fmt.Errorf("summary column %d has no series", i)
		}
	}

	return nil
}
