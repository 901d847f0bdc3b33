// Package stats provides the numeric primitives shared by the analytics
// packages: a fixed-capacity rolling window and the descriptive statistics
// used for volatility, trend and percentile calculations.
package stats

import (
	"math"
	"sort"
)

// Window is a fixed-capacity ring buffer over float64 samples with a
// running sum. Pushing beyond capacity evicts the oldest sample.
type Window struct {
	buf   []float64
	head  int
	size  int
	count int
	sum   float64
}

// NewWindow creates a window holding at most n samples.
func NewWindow(n int) *Window {
	if n <= 0 {
		n = 1
	}
	return &Window{
		buf:  make([]float64, n),
		size: n,
	}
}

// Push adds a sample, evicting the oldest when the window is full.
func (w *Window) Push(v float64) {
	w.sum -= w.buf[w.head]
	w.buf[w.head] = v
	w.sum += v
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// Count returns the number of samples currently held.
func (w *Window) Count() int {
	return w.count
}

// Full reports whether the window has reached capacity.
func (w *Window) Full() bool {
	return w.count == w.size
}

// Sum returns the running sum of the held samples.
func (w *Window) Sum() float64 {
	return w.sum
}

// Mean returns the average of the held samples, or 0 when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Last returns the most recently pushed sample, or 0 when empty.
func (w *Window) Last() float64 {
	if w.count == 0 {
		return 0
	}
	idx := (w.head - 1 + w.size) % w.size
	return w.buf[idx]
}

// Values returns the held samples ordered oldest to newest.
func (w *Window) Values() []float64 {
	out := make([]float64, w.count)
	start := (w.head - w.count + w.size) % w.size
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%w.size]
	}
	return out
}

// Tail returns the newest n samples ordered oldest to newest. When fewer
// than n samples are held it returns all of them.
func (w *Window) Tail(n int) []float64 {
	if n > w.count {
		n = w.count
	}
	out := make([]float64, n)
	start := (w.head - n + w.size) % w.size
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%w.size]
	}
	return out
}

// Reset discards all samples.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.sum = 0
	w.head = 0
	w.count = 0
}

// Mean returns the arithmetic mean of xs, or 0 when empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// MeanAbs returns the mean of the absolute values of xs, or 0 when empty.
func MeanAbs(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Abs(x)
	}
	return sum / float64(len(xs))
}

// Variance returns the population variance of xs, or 0 when empty.
func Variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// Std returns the population standard deviation of xs.
func Std(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// Min returns the smallest value in xs, or 0 when empty.
func Min(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	min := xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
	}
	return min
}

// Max returns the largest value in xs, or 0 when empty.
func Max(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	max := xs[0]
	for _, x := range xs[1:] {
		if x > max {
			max = x
		}
	}
	return max
}

// LogReturns returns the log returns of consecutive closes. The result has
// length len(closes)-1; non-positive prices yield a zero return.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i] > 0 && closes[i-1] > 0 {
			out[i-1] = math.Log(closes[i] / closes[i-1])
		}
	}
	return out
}

// Percentile returns the p-th percentile of xs (p in [0,100]) using linear
// interpolation between closest ranks. xs is not modified.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// PercentileOfScore returns the percentage of values in xs ranked at or
// below score, averaging the rank of exact matches. Result is in [0,100].
func PercentileOfScore(xs []float64, score float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	left, right := 0, 0
	for _, x := range xs {
		if x < score {
			left++
		}
		if x <= score {
			right++
		}
	}
	bump := 0
	if right > left {
		bump = 1
	}
	return float64(right+left+bump) * 50.0 / float64(n)
}

// LinearRegression fits y = slope*x + intercept over index positions
// x = 0..len(ys)-1 by least squares.
func LinearRegression(ys []float64) (slope, intercept float64) {
	n := len(ys)
	if n < 2 {
		if n == 1 {
			return 0, ys[0]
		}
		return 0, 0
	}
	meanX := float64(n-1) / 2
	meanY := Mean(ys)
	num, den := 0.0, 0.0
	for i, y := range ys {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0, meanY
	}
	slope = num / den
	intercept = meanY - slope*meanX
	return slope, intercept
}

// RSquared returns the coefficient of determination for the fitted line
// y = slope*x + intercept against ys, clamped to [0,1].
func RSquared(ys []float64, slope, intercept float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	meanY := Mean(ys)
	ssRes, ssTot := 0.0, 0.0
	for i, y := range ys {
		pred := slope*float64(i) + intercept
		ssRes += (y - pred) * (y - pred)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return 0
	}
	return Clamp(1-ssRes/ssTot, 0, 1)
}

// Clamp limits v to the inclusive range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
