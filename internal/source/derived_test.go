package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerived_Rate(t *testing.T) {
	d := &Derived{Op: OpRate, Sources: []string{"GPUTime", "RenderTime", "GameTime"}, Fallback: 200}

	v, ok := d.Evaluate(Values{"GPUTime": 10, "RenderTime": 20, "GameTime": 5})
	require.True(t, ok)
	assert.InDelta(t, 50.0, v, 1e-9)
}

func TestDerived_RateFallback(t *testing.T) {
	d := &Derived{Op: OpRate, Sources: []string{"GPUTime", "GameTime"}, Fallback: 200}

	v, ok := d.Evaluate(Values{"GPUTime": 0, "GameTime": 0})
	require.True(t, ok)
	assert.Equal(t, 200.0, v)
}

func TestDerived_NoSources(t *testing.T) {
	d := &Derived{Op: OpMax, Sources: []string{"A"}}

	_, ok := d.Evaluate(Values{"B": 1})
	assert.False(t, ok)
}

func TestDerived_Ops(t *testing.T) {
	vals := Values{"A": 2, "B": 6, "C": 4}

	tests := []struct {
		op   Op
		want float64
	}{
		{op: OpMax, want: 6},
		{op: OpMin, want: 2},
		{op: OpSum, want: 12},
		{op: OpAvg, want: 4},
	}

	for _, tt := range tests {
		d := &Derived{Op: tt.op, Sources: []string{"A", "B", "C"}}

		v, ok := d.Evaluate(vals)
		require.True(t, ok, string(tt.op))
		assert.Equal(t, tt.want, v, string(tt.op))
	}
}

func TestDerived_Validate(t *testing.T) {
	assert.Error(t, (&Derived{Op: OpMax}).Validate())
	assert.Error(t, (&Derived{Op: "median", Sources: []string{"A"}}).Validate())
	assert.NoError(t, (&Derived{Op: OpSum, Sources: []string{"A"}}).Validate())
}

func TestValidateSeries(t *testing.T) {
	require.NoError(t, ValidateSeries(DefaultSeries()))

	err := ValidateSeries(nil)
	require.Error(t, err)

	err = ValidateSeries([]Series{{Name: "A"}, {Name: "A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate series")

	err = ValidateSeries([]Series{{Name: ""}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no name")

	err = ValidateSeries([]Series{{Name: "X", Derived: &Derived{Op: "bogus", Sources: []string{"A"}}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `series "X"`)
}

func TestResolve(t *testing.T) {
	series := DefaultSeries()

	out, ok := Resolve(series, Values{
		"FrameTime":  16,
		"RenderTime": 8,
		"GameTime":   12.5,
		"GPUTime":    10,
		"Memory":     2048,
	})

	require.Len(t, out, len(series))
	assert.True(t, ok[0])
	assert.InDelta(t, 80.0, out[0], 1e-9) // 1000 / 12.5
	assert.Equal(t, 16.0, out[1])
	assert.False(t, ok[4]) // RHITime missing
	assert.False(t, ok[7]) // PreAllocMemory missing
	assert.False(t, ok[8]) // DynRes missing
}

func TestResolve_DerivedOfDerived(t *testing.T) {
	series := []Series{
		{Name: "Total", Derived: &Derived{Op: OpSum, Sources: []string{"A", "B"}}},
		{Name: "Double", Derived: &Derived{Op: OpSum, Sources: []string{"Total", "Total"}}},
	}

	out, ok := Resolve(series, Values{"A": 1, "B": 2})
	require.True(t, ok[1])
	assert.Equal(t, 6.0, out[1])
}
