// Package feed streams market data into the engine. Sources are
// explicit: the synthetic generator for live-like runs, the replay
// reader for recorded sessions. Nothing here touches the network.
package feed

import (
	"context"
	"time"

	"microstructure-engine/internal/engine"
	"microstructure-engine/internal/market"
)

// Sink consumes a market data stream. *engine.Engine satisfies it
// directly.
type Sink interface {
	OnTrade(symbol string, price, qty float64, side market.Side, ts time.Time) (*engine.EnhancedSignal, error)
	OnOrderBookUpdate(symbol string, bids, asks []market.BookLevel, ts time.Time)
	OnCandleClose(symbol string, c market.Candle) (*engine.EnhancedSignal, error)
}

// Source pushes market data into a sink until the context ends or the
// stream is exhausted.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// SignalHandler observes signals that survive the pipeline. Sources
// call it for every non-nil engine result.
type SignalHandler func(*engine.EnhancedSignal)
