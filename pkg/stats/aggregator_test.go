package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileEmpty(t *testing.T) {
	a := New(0)
	assert.Equal(t, 0.0, a.Percentile(50))
	assert.Equal(t, 0.0, a.Mean())
	assert.Equal(t, 0.0, a.Min())
	assert.Equal(t, 0.0, a.Max())
	assert.Equal(t, Summary{}, a.Summarize())
}

func TestPercentileInterpolation(t *testing.T) {
	a := New(4)
	for _, v := range []float64{40, 10, 30, 20} {
		a.Record(v)
	}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{50, 25},
		{90, 37},
		{100, 40},
		{-5, 10},
		{150, 40},
		{math.NaN(), 10},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, a.Percentile(tt.p), 1e-9, "p=%v", tt.p)
	}
}

func TestPercentileSingleSample(t *testing.T) {
	a := New(1)
	a.Record(7)
	for _, p := range []float64{0, 50, 99, 100} {
		assert.Equal(t, 7.0, a.Percentile(p))
	}
}

func TestPercentileBoundsAndMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		a := New(0)
		n := 1 + r.Intn(200)
		for i := 0; i < n; i++ {
			a.Record(r.NormFloat64()*100 + 500)
		}

		assert.InDelta(t, a.Min(), a.Percentile(0), 1e-9)
		assert.InDelta(t, a.Max(), a.Percentile(100), 1e-9)

		prev := a.Percentile(0)
		for p := 1.0; p <= 100; p++ {
			cur := a.Percentile(p)
			require.GreaterOrEqual(t, cur, prev, "p=%v", p)
			prev = cur
		}
	}
}

func TestPercentileDoesNotReorderBuffer(t *testing.T) {
	a := New(3)
	a.Record(3)
	a.Record(1)
	a.Record(2)
	_ = a.Percentile(50)
	assert.Equal(t, []float64{3, 1, 2}, a.values)
}

func TestMerge(t *testing.T) {
	a, b, c := New(0), New(0), New(0)
	a.Record(1)
	b.Record(2)
	b.Record(3)
	c.Record(4)

	total := New(0)
	total.Merge(a, nil, b, c)

	assert.Equal(t, 4, total.Count())
	assert.Equal(t, 10.0, total.Sum())
	assert.Equal(t, 2.5, total.Mean())
}

func TestSummarize(t *testing.T) {
	a := New(0)
	for i := 1; i <= 100; i++ {
		a.Record(float64(i))
	}
	s := a.Summarize()

	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.InDelta(t, 50.5, s.Mean, 1e-9)
	assert.InDelta(t, a.Percentile(50), s.P50, 1e-9)
	assert.InDelta(t, a.Percentile(90), s.P90, 1e-9)
	assert.InDelta(t, a.Percentile(99), s.P99, 1e-9)
}

func BenchmarkPercentile(b *testing.B) {
	a := New(1000)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a.Record(r.Float64())
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = a.Summarize()
	}
}
