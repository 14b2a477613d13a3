// Package source defines where the recorder pulls its live values from
// and how derived series are computed from them.
package source

import (
	"context"
	"fmt"
	"sync"
)

// Values holds the current value of each series, keyed by series name.
// A missing key means the source has no value for that series this tick.
type Values map[string]float64

// Source supplies current values for the tracked series on demand.
// Sample is called from the sampling cadence and must not block on I/O.
type Source interface {
	// Name returns the source's name for logging.
	Name() string
	// Sample returns the values available at call time.
	Sample() (Values, error)
}

// Runner is implemented by sources that need background work, such as
// polling a remote endpoint.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error
}

// Static is a Source whose values are set explicitly. It is safe for
// concurrent use and is handy for embedding the recorder in a host that
// pushes its counters.
type Static struct {
	mu     sync.RWMutex
	values Values
}

var _ Source = (*Static)(nil)

// NewStatic creates a Static source seeded with initial.
func NewStatic(initial Values) *Static {
	s := &Static{values: make(Values, len(initial))}
	for k, v := range initial {
		s.values[k] = v
	}

	return s
}

func (s *Static) Name() string { return "static" }

// Set stores the current value for a series.
func (s *Static) Set(name string, v float64) {
	s.mu.Lock()
	s.values[name] = v
	s.mu.Unlock()
}

// Delete removes a series so it reports no value.
func (s *Static) Delete(name string) {
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
}

func (s *Static) Sample() (Values, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Values, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}

	return out, nil
}

// Func adapts a function to a Source.
type Func struct {
	name string
	fn   func() (Values, error)
}

// NewFunc creates a Source calling fn on every sample.
func NewFunc(name string, fn func() (Values, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Sample() (Values, error) { return f.fn() }

// Composite merges several sources. Later sources override earlier ones
// for the same series. A failing member is reported only if every member
// fails.
type Composite struct {
	sources []Source
}

var (
	_ Source = (*Composite)(nil)
	_ Runner = (*Composite)(nil)
)

// NewComposite creates a Composite over sources.
func NewComposite(sources ...Source) *Composite {
	return &Composite{sources: sources}
}

func (c *Composite) Name() string { return "composite" }

func (c *Composite) Sample() (Values, error) {
	out := make(Values, 16)

	var lastErr error

	failed := 0

	for _, s := range c.sources {
		vals, err := s.Sample()
		if err != nil {
			lastErr = fmt.Errorf("source %s: %w", s.Name(), err)
			failed++

			continue
		}

		for k, v := range vals {
			out[k] = v
		}
	}

	if len(c.sources) > 0 && failed == len(c.sources) {
		return nil, lastErr
	}

	return out, nil
}

// Start starts every member that implements Runner.
func (c *Composite) Start(ctx context.Context) error {
	for _, s := range c.sources {
		if r, ok := s.(Runner); ok {
			if err := r.Start(ctx); err != nil {
				return fmt.Errorf("starting source %s: %w", s.Name(), err)
			}
		}
	}

	return nil
}

// Stop stops every member that implements Runner.
func (c *Composite) Stop() error {
	var firstErr error

	for _, s := range c.sources {
		if r, ok := s.(Runner); ok {
			if err := r.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
