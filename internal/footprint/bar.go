// Package footprint builds per-symbol footprint bars from the trade
// tape, splitting traded volume by aggressor side at each price level,
// and flags order flow patterns when bars close.
package footprint

import (
	"math"
	"sort"
	"time"
)

// Level is the volume traded at one price inside a bar, split by
// aggressor side.
type Level struct {
	Price     float64 `json:"price"`
	BidVolume float64 `json:"bid_volume"` // sell aggressor
	AskVolume float64 `json:"ask_volume"` // buy aggressor
	Delta     float64 `json:"delta"`      // ask - bid
}

// Bar is a single footprint bar. Bars are mutable while current and
// frozen once closed.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`

	TotalBidVolume  float64 `json:"total_bid_volume"`
	TotalAskVolume  float64 `json:"total_ask_volume"`
	Delta           float64 `json:"delta"` // ask - bid
	CumulativeDelta float64 `json:"cumulative_delta"`

	HasAbsorption bool `json:"has_absorption"`
	HasExhaustion bool `json:"has_exhaustion"`
	HasImbalance  bool `json:"has_imbalance"`

	tick   float64
	levels map[int64]*Level
}

func newBar(symbol string, price float64, ts time.Time, tick float64) *Bar {
	return &Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		tick:      tick,
		levels:    make(map[int64]*Level),
	}
}

func (b *Bar) levelKey(price float64) int64 {
	return int64(math.Round(price / b.tick))
}

// TotalVolume returns the combined volume of both sides
func (b *Bar) TotalVolume() float64 {
	return b.TotalBidVolume + b.TotalAskVolume
}

// Range returns the high-low price range of the bar
func (b *Bar) Range() float64 {
	return b.High - b.Low
}

// Levels returns the traded price levels sorted ascending by price
func (b *Bar) Levels() []Level {
	out := make([]Level, 0, len(b.levels))
	for _, lvl := range b.levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// LevelAt returns the level containing the given price, if traded
func (b *Bar) LevelAt(price float64) (Level, bool) {
	lvl, ok := b.levels[b.levelKey(price)]
	if !ok {
		return Level{}, false
	}
	return *lvl, true
}
