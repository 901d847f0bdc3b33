package footprint

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/market"
)

const (
	maxBarHistory = 1000

	absorptionLookback    = 20
	absorptionVolumeRatio = 2.0
	absorptionMaxRange    = 0.002 // fraction of close
	exhaustionBars        = 3
	imbalanceThreshold    = 0.7

	// A delta move only counts as divergence when it dwarfs the price
	// move by this factor.
	divergenceScale = 100.0
)

// Divergence is the direction of a price/delta disagreement
type Divergence string

const (
	DivergenceNone    Divergence = ""
	DivergenceBullish Divergence = "BULLISH"
	DivergenceBearish Divergence = "BEARISH"
)

// AnalyzerConfig holds the footprint analyzer settings
type AnalyzerConfig struct {
	BarSize  time.Duration `json:"bar_size" yaml:"bar_size" validate:"gt=0"`   // bar interval
	TickSize float64       `json:"tick_size" yaml:"tick_size" validate:"gt=0"` // price level granularity
}

// DefaultAnalyzerConfig returns the default footprint configuration
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		BarSize:  time.Minute,
		TickSize: 0.1,
	}
}

// Analyzer aggregates the trade tape into footprint bars and tracks
// cumulative delta per symbol.
type Analyzer struct {
	mu     sync.RWMutex
	config *AnalyzerConfig
	logger zerolog.Logger

	bars     map[string][]*Bar
	current  map[string]*Bar
	cumDelta map[string]float64
}

// NewAnalyzer creates a footprint analyzer
func NewAnalyzer(config *AnalyzerConfig, logger zerolog.Logger) *Analyzer {
	if config == nil {
		config = DefaultAnalyzerConfig()
	}
	return &Analyzer{
		config:   config,
		logger:   logger.With().Str("component", "FootprintAnalyzer").Logger(),
		bars:     make(map[string][]*Bar),
		current:  make(map[string]*Bar),
		cumDelta: make(map[string]float64),
	}
}

// AddTrade folds a trade into the current bar. When the trade falls at
// or past the bar boundary the open bar closes, patterns are evaluated
// and the trade seeds a fresh bar. Returns the closed bar, or nil.
func (a *Analyzer) AddTrade(t market.Tick) *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	bar, ok := a.current[t.Symbol]
	if !ok {
		bar = newBar(t.Symbol, t.Price, t.Timestamp, a.config.TickSize)
		a.current[t.Symbol] = bar
	}

	var closed *Bar
	if t.Timestamp.Sub(bar.Timestamp) >= a.config.BarSize {
		a.closeBar(t.Symbol, bar)
		closed = bar
		bar = newBar(t.Symbol, t.Price, t.Timestamp, a.config.TickSize)
		a.current[t.Symbol] = bar
	}

	a.applyTrade(bar, t)
	return closed
}

// applyTrade updates OHLC, the price level and all deltas. Caller must
// hold the lock.
func (a *Analyzer) applyTrade(bar *Bar, t market.Tick) {
	if t.Price > bar.High {
		bar.High = t.Price
	}
	if t.Price < bar.Low {
		bar.Low = t.Price
	}
	bar.Close = t.Price

	key := bar.levelKey(t.Price)
	lvl, ok := bar.levels[key]
	if !ok {
		lvl = &Level{Price: float64(key) * bar.tick}
		bar.levels[key] = lvl
	}

	deltaChange := t.Qty
	if t.Side == market.SideBuy {
		lvl.AskVolume += t.Qty
		bar.TotalAskVolume += t.Qty
	} else {
		lvl.BidVolume += t.Qty
		bar.TotalBidVolume += t.Qty
		deltaChange = -t.Qty
	}
	lvl.Delta = lvl.AskVolume - lvl.BidVolume
	bar.Delta = bar.TotalAskVolume - bar.TotalBidVolume

	a.cumDelta[t.Symbol] += deltaChange
	bar.CumulativeDelta = a.cumDelta[t.Symbol]
}

// closeBar flags patterns against the already-closed archive, then
// appends the bar to it. Caller must hold the lock.
func (a *Analyzer) closeBar(symbol string, bar *Bar) {
	archive := a.bars[symbol]
	bar.HasAbsorption = detectAbsorption(bar, archive)
	bar.HasExhaustion = detectExhaustion(archive)
	bar.HasImbalance = detectImbalance(bar)

	archive = append(archive, bar)
	if len(archive) > maxBarHistory {
		archive = archive[len(archive)-maxBarHistory:]
	}
	a.bars[symbol] = archive

	a.logger.Debug().
		Str("symbol", symbol).
		Float64("delta", bar.Delta).
		Float64("volume", bar.TotalVolume()).
		Bool("absorption", bar.HasAbsorption).
		Bool("exhaustion", bar.HasExhaustion).
		Bool("imbalance", bar.HasImbalance).
		Msg("Footprint bar closed")
}

// detectAbsorption flags heavy volume trapped in a tight range, the
// signature of passive orders soaking up aggression.
func detectAbsorption(bar *Bar, archive []*Bar) bool {
	total := bar.TotalVolume()
	if total == 0 || bar.Close <= 0 {
		return false
	}
	recent := tailBars(archive, absorptionLookback)
	if len(recent) == 0 {
		return false
	}
	sum := 0.0
	for _, b := range recent {
		sum += b.TotalVolume()
	}
	avg := sum / float64(len(recent))
	if avg == 0 {
		return false
	}
	rangePct := bar.Range() / bar.Close
	return total/avg > absorptionVolumeRatio && rangePct < absorptionMaxRange
}

// detectExhaustion flags three consecutive closed bars of strictly
// declining volume.
func detectExhaustion(archive []*Bar) bool {
	if len(archive) < exhaustionBars {
		return false
	}
	recent := archive[len(archive)-exhaustionBars:]
	return recent[0].TotalVolume() > recent[1].TotalVolume() &&
		recent[1].TotalVolume() > recent[2].TotalVolume() &&
		recent[2].TotalVolume() > 0
}

// detectImbalance flags bars where one side took more than 70% of the
// volume.
func detectImbalance(bar *Bar) bool {
	total := bar.TotalVolume()
	if total == 0 {
		return false
	}
	return math.Abs(bar.Delta)/total > imbalanceThreshold
}

// DeltaDivergence reports whether price and cumulative delta moved in
// opposite directions over the last lookback closed bars.
func (a *Analyzer) DeltaDivergence(symbol string, lookback int) Divergence {
	a.mu.RLock()
	defer a.mu.RUnlock()

	archive := a.bars[symbol]
	if lookback <= 0 || len(archive) < lookback {
		return DivergenceNone
	}
	recent := archive[len(archive)-lookback:]
	priceChange := recent[len(recent)-1].Close - recent[0].Close
	deltaChange := recent[len(recent)-1].CumulativeDelta - recent[0].CumulativeDelta

	significant := math.Abs(deltaChange) > math.Abs(priceChange)*divergenceScale
	switch {
	case priceChange > 0 && deltaChange < 0 && significant:
		return DivergenceBearish
	case priceChange < 0 && deltaChange > 0 && significant:
		return DivergenceBullish
	}
	return DivergenceNone
}

// CurrentDelta returns the running cumulative delta for a symbol
func (a *Analyzer) CurrentDelta(symbol string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cumDelta[symbol]
}

// Bars returns up to n most recent closed bars, oldest first. Closed
// bars are immutable and safe to share.
func (a *Analyzer) Bars(symbol string, n int) []*Bar {
	a.mu.RLock()
	defer a.mu.RUnlock()
	recent := tailBars(a.bars[symbol], n)
	out := make([]*Bar, len(recent))
	copy(out, recent)
	return out
}

// BarCount returns the number of closed bars for a symbol
func (a *Analyzer) BarCount(symbol string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.bars[symbol])
}

// RangeProfile aggregates volume by price level over the last
// lookbackBars closed bars.
func (a *Analyzer) RangeProfile(symbol string, lookbackBars int) map[float64]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	profile := make(map[float64]float64)
	for _, bar := range tailBars(a.bars[symbol], lookbackBars) {
		for _, lvl := range bar.levels {
			profile[lvl.Price] += lvl.BidVolume + lvl.AskVolume
		}
	}
	return profile
}

// PointOfControl returns the price level with the highest traded volume
// over the last lookbackBars closed bars. Ties resolve to the lowest
// price.
func (a *Analyzer) PointOfControl(symbol string, lookbackBars int) (float64, bool) {
	profile := a.RangeProfile(symbol, lookbackBars)
	if len(profile) == 0 {
		return 0, false
	}
	poc := 0.0
	best := math.Inf(-1)
	for price, volume := range profile {
		if volume > best || (volume == best && price < poc) {
			poc = price
			best = volume
		}
	}
	return poc, true
}

func tailBars(bars []*Bar, n int) []*Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
