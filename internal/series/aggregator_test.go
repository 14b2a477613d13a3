package series

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_CloseWindowStats(t *testing.T) {
	a := NewAggregator("FPS")

	a.Record(10)
	a.Record(20)
	a.Record(30)

	stats := a.CloseWindow()
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 30.0, stats.Max)
	assert.Equal(t, 20.0, stats.Average)
	assert.Equal(t, uint32(3), stats.Count)
	assert.False(t, stats.Empty())
	assert.Equal(t, 1, a.Len())
}

func TestAggregator_MinAverageMaxOrdering(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{name: "single", values: []float64{7.5}},
		{name: "negative", values: []float64{-4, -1, -9}},
		{name: "large", values: []float64{70000, 120000, 65537}},
		{name: "mixed", values: []float64{0.25, 16.6, 33.3, 8, 1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator("x")

			wantMin, wantMax, sum := math.Inf(1), math.Inf(-1), 0.0
			for _, v := range tt.values {
				a.Record(v)
				wantMin = math.Min(wantMin, v)
				wantMax = math.Max(wantMax, v)
				sum += v
			}

			stats := a.CloseWindow()
			assert.Equal(t, wantMin, stats.Min)
			assert.Equal(t, wantMax, stats.Max)
			assert.InDelta(t, sum/float64(len(tt.values)), stats.Average, 1e-9)
			assert.LessOrEqual(t, stats.Min, stats.Average)
			assert.LessOrEqual(t, stats.Average, stats.Max)
		})
	}
}

func TestAggregator_EmptyWindow(t *testing.T) {
	a := NewAggregator("FrameTime")

	stats := a.CloseWindow()
	assert.True(t, stats.Empty())
	assert.Equal(t, 0.0, stats.Average)
}

func TestAggregator_WindowsAreIndependent(t *testing.T) {
	a := NewAggregator("GameTime")

	a.Record(5)
	a.CloseWindow()

	a.Record(100)
	a.Record(200)
	a.CloseWindow()

	first, ok := a.WindowAt(0)
	require.True(t, ok)
	assert.Equal(t, 5.0, first.Min)
	assert.Equal(t, 5.0, first.Max)

	second, ok := a.WindowAt(1)
	require.True(t, ok)
	assert.Equal(t, 100.0, second.Min)
	assert.Equal(t, 200.0, second.Max)
	assert.Equal(t, 150.0, second.Average)
}

func TestAggregator_WindowAtOutOfRange(t *testing.T) {
	a := NewAggregator("GPUTime")
	a.Record(1)
	a.CloseWindow()

	_, ok := a.WindowAt(1)
	assert.False(t, ok)

	_, ok = a.WindowAt(-1)
	assert.False(t, ok)

	_, ok = a.WindowAt(100)
	assert.False(t, ok)
}

func TestAggregator_DropsNonFinite(t *testing.T) {
	a := NewAggregator("Memory")

	a.Record(math.NaN())
	a.Record(math.Inf(1))
	a.Record(4)

	assert.Equal(t, uint32(1), a.Pending())

	stats := a.CloseWindow()
	assert.Equal(t, 4.0, stats.Average)
}

func TestAggregator_ColumnHeader(t *testing.T) {
	a := NewAggregator("FPS")

	assert.Equal(t, "Avg-FPS,Min-FPS,Max-FPS", a.ColumnHeader())
	assert.Equal(t, []string{"Avg-FPS", "Min-FPS", "Max-FPS"}, a.Columns())
}

func TestAggregator_SamplesSpanWindows(t *testing.T) {
	a := NewAggregator("RHITime")

	a.Record(1)
	a.Record(2)
	a.CloseWindow()
	a.Record(3)

	samples := a.Samples()
	assert.Equal(t, []float64{1, 2, 3}, samples)

	// The returned slice is a copy.
	samples[0] = 99
	assert.Equal(t, 1.0, a.Samples()[0])
}
