// Package market defines the normalized market data vocabulary shared by
// the analytics packages: ticks, candles, order book snapshots and the
// bounded windows that hold them.
package market

import "time"

// Side identifies the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction is a trade direction recommendation.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Timeframe identifies a candle aggregation interval.
type Timeframe string

const (
	TimeframeM1  Timeframe = "1m"
	TimeframeM5  Timeframe = "5m"
	TimeframeM15 Timeframe = "15m"
	TimeframeM30 Timeframe = "30m"
	TimeframeH1  Timeframe = "1h"
	TimeframeH4  Timeframe = "4h"
	TimeframeD1  Timeframe = "1d"
)

// Duration returns the wall-clock length of one candle of this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TimeframeM1:
		return time.Minute
	case TimeframeM5:
		return 5 * time.Minute
	case TimeframeM15:
		return 15 * time.Minute
	case TimeframeM30:
		return 30 * time.Minute
	case TimeframeH1:
		return time.Hour
	case TimeframeH4:
		return 4 * time.Hour
	case TimeframeD1:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Tick is a single executed trade.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Qty       float64   `json:"qty"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// Notional returns the USD value of the trade.
func (t Tick) Notional() float64 {
	return t.Price * t.Qty
}

// Candle is one closed OHLCV bar.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// BookSnapshot is a point-in-time L2 order book state. Bids are expected
// sorted descending by price, asks ascending.
type BookSnapshot struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}
