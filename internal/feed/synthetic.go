package feed

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/engine"
	"microstructure-engine/internal/market"
)

// SyntheticConfig holds the synthetic source settings
type SyntheticConfig struct {
	Symbols         []string      `json:"symbols" yaml:"symbols" validate:"min=1"`
	Seed            int64         `json:"seed" yaml:"seed"`
	StartPrice      float64       `json:"start_price" yaml:"start_price" validate:"gt=0"`
	VolPerMinute    float64       `json:"vol_per_minute" yaml:"vol_per_minute" validate:"gt=0"`
	DriftPerMinute  float64       `json:"drift_per_minute" yaml:"drift_per_minute"`
	BaseQty         float64       `json:"base_qty" yaml:"base_qty" validate:"gt=0"`
	WhaleEvery      int           `json:"whale_every" yaml:"whale_every" validate:"gt=0"`
	WhaleQty        float64       `json:"whale_qty" yaml:"whale_qty" validate:"gt=0"`
	BookEverySec    int           `json:"book_every_seconds" yaml:"book_every_seconds" validate:"gt=0"`
	TickInterval    time.Duration `json:"tick_interval" yaml:"tick_interval"`
	DurationMinutes int           `json:"duration_minutes" yaml:"duration_minutes"`
}

// DefaultSyntheticConfig returns a calm one-symbol random walk with an
// occasional whale print. A zero TickInterval runs the simulation as
// fast as the sink can take it.
func DefaultSyntheticConfig() *SyntheticConfig {
	return &SyntheticConfig{
		Symbols:         []string{"BTCUSDT"},
		Seed:            42,
		StartPrice:      50000,
		VolPerMinute:    0.0008,
		DriftPerMinute:  0,
		BaseQty:         0.05,
		WhaleEvery:      180,
		WhaleQty:        1.5,
		BookEverySec:    5,
		TickInterval:    0,
		DurationMinutes: 0,
	}
}

// symbolWalk is one symbol's simulated state
type symbolWalk struct {
	price  float64
	open   float64
	high   float64
	low    float64
	volume float64
	trades int
}

// Synthetic is a seeded random-walk market data source. The same seed
// and config replay exactly the same tape.
type Synthetic struct {
	config *SyntheticConfig
	logger zerolog.Logger
	rng    *rand.Rand
	onEmit SignalHandler
}

// NewSynthetic creates a synthetic market data source
func NewSynthetic(config *SyntheticConfig, onEmit SignalHandler, logger zerolog.Logger) *Synthetic {
	if config == nil {
		config = DefaultSyntheticConfig()
	}
	return &Synthetic{
		config: config,
		logger: logger.With().Str("component", "SyntheticFeed").Logger(),
		rng:    rand.New(rand.NewSource(config.Seed)),
		onEmit: onEmit,
	}
}

// Run generates the tape: one trade per symbol per simulated second,
// book snapshots every BookEverySec, a closed candle every simulated
// minute. Returns nil when a configured duration is exhausted.
func (s *Synthetic) Run(ctx context.Context, sink Sink) error {
	start := time.Now().UTC().Truncate(time.Minute)
	walks := make(map[string]*symbolWalk, len(s.config.Symbols))
	for _, sym := range s.config.Symbols {
		p := s.config.StartPrice
		walks[sym] = &symbolWalk{price: p, open: p, high: p, low: p}
	}

	// Per-second parameters derived from the per-minute config.
	stepVol := s.config.VolPerMinute / math.Sqrt(60)
	stepDrift := s.config.DriftPerMinute / 60

	var ticker *time.Ticker
	if s.config.TickInterval > 0 {
		ticker = time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()
	}

	s.logger.Info().
		Strs("symbols", s.config.Symbols).
		Int64("seed", s.config.Seed).
		Msg("Synthetic feed started")

	for sec := 0; ; sec++ {
		if s.config.DurationMinutes > 0 && sec >= s.config.DurationMinutes*60 {
			s.logger.Info().Int("seconds", sec).Msg("Synthetic feed finished")
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		ts := start.Add(time.Duration(sec) * time.Second)
		for _, sym := range s.config.Symbols {
			w := walks[sym]
			s.step(w, stepVol, stepDrift)

			qty := s.config.BaseQty * (0.5 + s.rng.Float64())
			w.trades++
			if w.trades%s.config.WhaleEvery == 0 {
				qty = s.config.WhaleQty
			}
			side := market.SideBuy
			if s.rng.Float64() < 0.5 {
				side = market.SideSell
			}
			w.volume += qty

			s.emit(sink.OnTrade(sym, w.price, qty, side, ts))

			if sec%s.config.BookEverySec == 0 {
				bids, asks := s.book(w.price)
				sink.OnOrderBookUpdate(sym, bids, asks, ts)
			}
			if sec > 0 && sec%60 == 0 {
				s.emit(sink.OnCandleClose(sym, market.Candle{
					Open:      w.open,
					High:      w.high,
					Low:       w.low,
					Close:     w.price,
					Volume:    w.volume,
					Timestamp: ts.Truncate(time.Minute),
				}))
				w.open, w.high, w.low, w.volume = w.price, w.price, w.price, 0
			}
		}
	}
}

// step advances one symbol's price by a Gaussian increment
func (s *Synthetic) step(w *symbolWalk, stepVol, stepDrift float64) {
	r := s.rng.NormFloat64()*stepVol + stepDrift
	w.price *= math.Exp(r)
	w.high = math.Max(w.high, w.price)
	w.low = math.Min(w.low, w.price)
}

// book builds a tight five-level book around the current price with
// mildly random depth
func (s *Synthetic) book(price float64) ([]market.BookLevel, []market.BookLevel) {
	halfSpread := price * 0.00005 // 1bp spread
	tick := price * 0.0001
	bids := make([]market.BookLevel, 5)
	asks := make([]market.BookLevel, 5)
	for i := 0; i < 5; i++ {
		depth := 5 + 10*s.rng.Float64()
		bids[i] = market.BookLevel{Price: price - halfSpread - float64(i)*tick, Qty: depth}
		depth = 5 + 10*s.rng.Float64()
		asks[i] = market.BookLevel{Price: price + halfSpread + float64(i)*tick, Qty: depth}
	}
	return bids, asks
}

func (s *Synthetic) emit(sig *engine.EnhancedSignal, err error) {
	if err != nil {
		s.logger.Error().Err(err).Msg("Sink rejected event")
		return
	}
	if sig != nil && s.onEmit != nil {
		s.onEmit(sig)
	}
}
