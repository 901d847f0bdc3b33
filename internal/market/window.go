package market

import "time"

// CandleWindow is a bounded sliding window of closed candles. Appending
// beyond capacity evicts the oldest candle.
type CandleWindow struct {
	buf   []Candle
	head  int
	size  int
	count int
}

// NewCandleWindow creates a window holding at most n candles.
func NewCandleWindow(n int) *CandleWindow {
	if n <= 0 {
		n = 1
	}
	return &CandleWindow{
		buf:  make([]Candle, n),
		size: n,
	}
}

// Append adds a candle, evicting the oldest when full.
func (w *CandleWindow) Append(c Candle) {
	w.buf[w.head] = c
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// Len returns the number of candles held.
func (w *CandleWindow) Len() int {
	return w.count
}

// Values returns the held candles ordered oldest to newest.
func (w *CandleWindow) Values() []Candle {
	out := make([]Candle, w.count)
	start := (w.head - w.count + w.size) % w.size
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%w.size]
	}
	return out
}

// Tail returns the newest n candles ordered oldest to newest.
func (w *CandleWindow) Tail(n int) []Candle {
	if n > w.count {
		n = w.count
	}
	out := make([]Candle, n)
	start := (w.head - n + w.size) % w.size
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%w.size]
	}
	return out
}

// Last returns the most recent candle and whether one exists.
func (w *CandleWindow) Last() (Candle, bool) {
	if w.count == 0 {
		return Candle{}, false
	}
	idx := (w.head - 1 + w.size) % w.size
	return w.buf[idx], true
}

// Closes returns the close prices of all held candles, oldest first.
func (w *CandleWindow) Closes() []float64 {
	out := make([]float64, w.count)
	start := (w.head - w.count + w.size) % w.size
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%w.size].Close
	}
	return out
}

// TickWindow is a bounded sliding window of trades. Appending beyond
// capacity evicts the oldest trade.
type TickWindow struct {
	buf   []Tick
	head  int
	size  int
	count int
}

// NewTickWindow creates a window holding at most n trades.
func NewTickWindow(n int) *TickWindow {
	if n <= 0 {
		n = 1
	}
	return &TickWindow{
		buf:  make([]Tick, n),
		size: n,
	}
}

// Append adds a trade, evicting the oldest when full.
func (w *TickWindow) Append(t Tick) {
	w.buf[w.head] = t
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// Len returns the number of trades held.
func (w *TickWindow) Len() int {
	return w.count
}

// Values returns the held trades ordered oldest to newest.
func (w *TickWindow) Values() []Tick {
	out := make([]Tick, w.count)
	start := (w.head - w.count + w.size) % w.size
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%w.size]
	}
	return out
}

// Tail returns the newest n trades ordered oldest to newest.
func (w *TickWindow) Tail(n int) []Tick {
	if n > w.count {
		n = w.count
	}
	out := make([]Tick, n)
	start := (w.head - n + w.size) % w.size
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%w.size]
	}
	return out
}

// Since returns the held trades with timestamps at or after cutoff,
// ordered oldest to newest.
func (w *TickWindow) Since(cutoff time.Time) []Tick {
	out := make([]Tick, 0)
	start := (w.head - w.count + w.size) % w.size
	for i := 0; i < w.count; i++ {
		t := w.buf[(start+i)%w.size]
		if !t.Timestamp.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
