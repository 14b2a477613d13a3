package source

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Source types selectable from configuration.
const (
	TypeRuntime = "runtime"
	TypeProc    = "proc"
	TypeHTTP    = "http"
	TypeStatic  = "static"
)

// Config selects and configures the metric source.
type Config struct {
	// Type is one of runtime, proc, http or static. Defaults to runtime.
	Type string `yaml:"type"`

	// Proc configures the procfs source.
	Proc ProcConfig `yaml:"proc"`

	// HTTP configures the JSON polling source.
	HTTP HTTPConfig `yaml:"http"`

	// Static holds fixed values for the static source.
	Static map[string]float64 `yaml:"static"`

	// IncludeRuntime merges the recorder's own runtime stats into a
	// non-runtime source.
	IncludeRuntime bool `yaml:"include_runtime"`
}

// Validate checks the source configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeRuntime, TypeStatic:
	case TypeProc:
		if c.Proc.PID <= 0 && c.Proc.ProcessName == "" {
			return fmt.Errorf("source.proc needs pid or process_name")
		}
	case TypeHTTP:
		if c.HTTP.Endpoint == "" {
			return fmt.Errorf("source.http.endpoint is required")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Type)
	}

	return nil
}

// New builds the Source described by cfg.
func New(log logrus.FieldLogger, cfg Config) (Source, error) {
	var (
		primary Source
		err     error
	)

	switch cfg.Type {
	case "", TypeRuntime:
		return NewRuntime(), nil
	case TypeStatic:
		primary = NewStatic(cfg.Static)
	case TypeProc:
		primary, err = NewProc(log, cfg.Proc)
	case TypeHTTP:
		primary, err = NewHTTP(log, cfg.HTTP)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("creating %s source: %w", cfg.Type, err)
	}

	if cfg.IncludeRuntime {
		return NewComposite(NewRuntime(), primary), nil
	}

	return primary, nil
}
