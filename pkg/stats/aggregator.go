// Package stats accumulates latency and throughput samples and computes
// order-statistic summaries over them.
package stats

import (
	"math"
	"sort"
)

// Aggregator buffers float64 samples. It is not safe for concurrent use;
// give each worker its own Aggregator and Merge them once the window closes.
type Aggregator struct {
	values []float64
}

// New creates an Aggregator with room for sizeHint samples.
func New(sizeHint int) *Aggregator {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Aggregator{values: make([]float64, 0, sizeHint)}
}

// Record appends a sample.
func (a *Aggregator) Record(v float64) {
	a.values = append(a.values, v)
}

// Merge appends every sample held by the other aggregators.
func (a *Aggregator) Merge(others ...*Aggregator) {
	for _, o := range others {
		if o == nil {
			continue
		}
		a.values = append(a.values, o.values...)
	}
}

// Count returns the number of recorded samples.
func (a *Aggregator) Count() int {
	return len(a.values)
}

// Sum returns the sum of all samples.
func (a *Aggregator) Sum() float64 {
	var sum float64
	for _, v := range a.values {
		sum += v
	}
	return sum
}

// Mean returns the arithmetic mean, or 0 when empty.
func (a *Aggregator) Mean() float64 {
	if len(a.values) == 0 {
		return 0
	}
	return a.Sum() / float64(len(a.values))
}

// Min returns the smallest sample, or 0 when empty.
func (a *Aggregator) Min() float64 {
	if len(a.values) == 0 {
		return 0
	}
	m := a.values[0]
	for _, v := range a.values[1:] {
		m = math.Min(m, v)
	}
	return m
}

// Max returns the largest sample, or 0 when empty.
func (a *Aggregator) Max() float64 {
	if len(a.values) == 0 {
		return 0
	}
	m := a.values[0]
	for _, v := range a.values[1:] {
		m = math.Max(m, v)
	}
	return m
}

// Percentile returns the p-th percentile (p in [0,100]) using linear
// interpolation between the two bracketing order statistics of a sorted
// copy of the buffer. An empty buffer yields 0. p is clamped to [0,100].
func (a *Aggregator) Percentile(p float64) float64 {
	n := len(a.values)
	if n == 0 {
		return 0
	}

	s := make([]float64, n)
	copy(s, a.values)
	sort.Float64s(s)

	return percentileSorted(s, p)
}

func percentileSorted(s []float64, p float64) float64 {
	n := len(s)
	if !(p > 0) {
		p = 0
	} else if p > 100 {
		p = 100
	}

	k := float64(n-1) * p / 100
	f := int(math.Floor(k))
	c := f + 1
	if c > n-1 {
		c = n - 1
	}
	return s[f] + (s[c]-s[f])*(k-float64(f))
}

// Summary is the percentile family reported for one metric.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Summarize computes the full percentile family with a single sort.
func (a *Aggregator) Summarize() Summary {
	n := len(a.values)
	if n == 0 {
		return Summary{}
	}

	s := make([]float64, n)
	copy(s, a.values)
	sort.Float64s(s)

	return Summary{
		Count: n,
		Min:   s[0],
		Max:   s[n-1],
		Mean:  a.Mean(),
		P50:   percentileSorted(s, 50),
		P90:   percentileSorted(s, 90),
		P99:   percentileSorted(s, 99),
	}
}
