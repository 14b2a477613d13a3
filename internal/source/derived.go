package source

import (
	"errors"
	"fmt"
	"math"
)

// Op combines the current values of a derived series' sources.
type Op string

const (
	// OpRate is 1000 divided by the largest source value, i.e. a per-second
	// rate from millisecond timings. Fallback is used when the largest
	// value is ~0.
	OpRate Op = "rate"
	OpMax  Op = "max"
	OpMin  Op = "min"
	OpSum  Op = "sum"
	OpAvg  Op = "avg"
)

// rateEpsilon is the denominator below which OpRate uses its fallback.
const rateEpsilon = 1e-6

// Derived declares a series computed from other series each sample.
type Derived struct {
	Op       Op       `yaml:"op"`
	Sources  []string `yaml:"sources"`
	Fallback float64  `yaml:"fallback"`
}

// Validate checks the derived declaration.
func (d *Derived) Validate() error {
	if len(d.Sources) == 0 {
		return errors.New("derived series needs at least one source")
	}

	switch d.Op {
	case OpRate, OpMax, OpMin, OpSum, OpAvg:
	default:
		return fmt.Errorf("unknown derived op %q", d.Op)
	}

	return nil
}

// Evaluate computes the derived value from vals. ok is false when none of
// the sources has a value.
func (d *Derived) Evaluate(vals Values) (float64, bool) {
	present := make([]float64, 0, len(d.Sources))

	for _, name := range d.Sources {
		if v, ok := vals[name]; ok {
			present = append(present, v)
		}
	}

	if len(present) == 0 {
		return 0, false
	}

	switch d.Op {
	case OpRate:
		m := maxOf(present)
		if m <= rateEpsilon {
			return d.Fallback, true
		}

		return 1000 / m, true
	case OpMax:
		return maxOf(present), true
	case OpMin:
		m := math.Inf(1)
		for _, v := range present {
			m = math.Min(m, v)
		}

		return m, true
	case OpSum:
		return sumOf(present), true
	case OpAvg:
		return sumOf(present) / float64(len(present)), true
	default:
		return 0, false
	}
}

func maxOf(vals []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vals {
		m = math.Max(m, v)
	}

	return m
}

func sumOf(vals []float64) float64 {
	total := 0.0
	for _, v := range vals {
		total += v
	}

	return total
}

// Series declares one tracked series. A nil Derived means the value is
// read from the source under Name.
type Series struct {
	Name    string   `yaml:"name"`
	Derived *Derived `yaml:"derived,omitempty"`
}

// DefaultSeries returns the stock frame-timing layout: a frame rate
// derived from the slowest of the game, render and GPU timings, the raw
// timings in milliseconds, memory in megabytes and the dynamic
// resolution scale reported by the stock summary.
func DefaultSeries() []Series {
	return []Series{
		{
			Name: "FPS",
			Derived: &Derived{
				Op:       OpRate,
				Sources:  []string{"GPUTime", "RenderTime", "GameTime"},
				Fallback: 200,
			},
		},
		{Name: "FrameTime"},
		{Name: "RenderTime"},
		{Name: "GameTime"},
		{Name: "RHITime"},
		{Name: "GPUTime"},
		{Name: "Memory"},
		{Name: "PreAllocMemory"},
		{Name: "DynRes"},
	}
}

// ValidateSeries checks names are unique and non-empty and that derived
// declarations are well formed.
func ValidateSeries(series []Series) error {
	if len(series) == 0 {
		return errors.New("at least one series is required")
	}

	seen := make(map[string]struct{}, len(series))

	for i := range series {
		s := &series[i]
		if s.Name == "" {
			return fmt.Errorf("series %d has no name", i)
		}

		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("duplicate series %q", s.Name)
		}

		seen[s.Name] = struct{}{}

		if s.Derived != nil {
			if err := s.Derived.Validate(); err != nil {
				return fmt.Errorf("series %q: %w", s.Name, err)
			}
		}
	}

	return nil
}

// Resolve evaluates every series against vals in declaration order.
// Derived series see raw values plus any series resolved before them.
// ok[i] is false when series i has no value this sample.
func Resolve(series []Series, vals Values) (out []float64, ok []bool) {
	out = make([]float64, len(series))
	ok = make([]bool, len(series))

	scope := make(Values, len(vals)+len(series))
	for k, v := range vals {
		scope[k] = v
	}

	for i := range series {
		s := &series[i]

		if s.Derived == nil {
			out[i], ok[i] = vals[s.Name]
		} else {
			out[i], ok[i] = s.Derived.Evaluate(scope)
		}

		if ok[i] {
			scope[s.Name] = out[i]
		}
	}

	return out, ok
}
