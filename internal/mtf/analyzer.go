// Package mtf analyzes several candle timeframes side by side and
// measures how strongly their trends agree. Higher timeframes provide
// context, lower timeframes provide the entry read; the confluence of
// the two is what the pipeline consumes.
package mtf

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/market"
	"microstructure-engine/internal/stats"
)

// Trend buckets a regression slope into five direction grades.
type Trend string

const (
	TrendStrongUp   Trend = "STRONG_UP"
	TrendUp         Trend = "UP"
	TrendNeutral    Trend = "NEUTRAL"
	TrendDown       Trend = "DOWN"
	TrendStrongDown Trend = "STRONG_DOWN"
)

// Code maps the trend onto a signed scale from -2 to +2.
func (t Trend) Code() float64 {
	switch t {
	case TrendStrongUp:
		return 2
	case TrendUp:
		return 1
	case TrendDown:
		return -1
	case TrendStrongDown:
		return -2
	default:
		return 0
	}
}

const minutesPerYear = 365.0 * 24 * 60

// Config holds the multi-timeframe analyzer settings
type Config struct {
	Timeframes     []market.Timeframe `json:"timeframes" yaml:"timeframes"`
	WindowSize     int                `json:"window_size" yaml:"window_size" validate:"gt=0"`
	MinCandles     int                `json:"min_candles" yaml:"min_candles" validate:"gt=1"`
	RegressionSpan int                `json:"regression_span" yaml:"regression_span" validate:"gt=2"`
	StrongSlope    float64            `json:"strong_slope" yaml:"strong_slope"`
	WeakSlope      float64            `json:"weak_slope" yaml:"weak_slope"`
	MinAlignment   float64            `json:"min_alignment" yaml:"min_alignment"`
	AgreementRatio float64            `json:"agreement_ratio" yaml:"agreement_ratio"`
	VolumeLookback int                `json:"volume_lookback" yaml:"volume_lookback"`
}

// DefaultConfig returns the default multi-timeframe configuration
func DefaultConfig() *Config {
	return &Config{
		Timeframes:     []market.Timeframe{market.TimeframeM5, market.TimeframeM15, market.TimeframeH1, market.TimeframeH4},
		WindowSize:     200,
		MinCandles:     50,
		RegressionSpan: 50,
		StrongSlope:    0.5,
		WeakSlope:      0.1,
		MinAlignment:   0.6,
		AgreementRatio: 0.6,
		VolumeLookback: 10,
	}
}

// TimeframeAnalysis is the trend read for one symbol on one timeframe
type TimeframeAnalysis struct {
	Timeframe   market.Timeframe `json:"timeframe"`
	Trend       Trend            `json:"trend"`
	Strength    float64          `json:"trend_strength"` // R-squared, 0 to 1
	Volatility  float64          `json:"volatility"`     // annualized
	VolumeRatio float64          `json:"volume_ratio"`   // recent / overall
	Support     float64          `json:"support_level"`
	Resistance  float64          `json:"resistance_level"`
}

// Confluence is the cross-timeframe agreement summary for a symbol
type Confluence struct {
	Symbol            string                                 `json:"symbol"`
	Timestamp         time.Time                              `json:"timestamp"`
	Analyses          map[market.Timeframe]TimeframeAnalysis `json:"analyses"`
	TrendAlignment    float64                                `json:"trend_alignment"` // 0 to 1
	Direction         market.Direction                       `json:"direction"`
	Confidence        float64                                `json:"confidence"`
	NearestSupport    float64                                `json:"nearest_support"`
	NearestResistance float64                                `json:"nearest_resistance"`
}

// Analyzer keeps bounded per-(symbol, timeframe) candle windows and
// derives confluence on demand.
type Analyzer struct {
	mu     sync.RWMutex
	config *Config
	logger zerolog.Logger

	windows map[string]map[market.Timeframe]*market.CandleWindow
}

// NewAnalyzer creates a multi-timeframe analyzer
func NewAnalyzer(config *Config, logger zerolog.Logger) *Analyzer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Analyzer{
		config:  config,
		logger:  logger.With().Str("component", "MultiTimeframeAnalyzer").Logger(),
		windows: make(map[string]map[market.Timeframe]*market.CandleWindow),
	}
}

// AddCandles appends closed candles for one symbol and timeframe
func (a *Analyzer) AddCandles(symbol string, tf market.Timeframe, candles []market.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.window(symbol, tf)
	for _, c := range candles {
		w.Append(c)
	}
}

// Analyze derives the cross-timeframe confluence for a symbol. Returns
// nil when fewer than two timeframes have enough history; callers
// treat nil as neutral rather than an error.
func (a *Analyzer) Analyze(symbol string, now time.Time) *Confluence {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tfs, ok := a.windows[symbol]
	if !ok {
		return nil
	}

	analyses := make(map[market.Timeframe]TimeframeAnalysis)
	for _, tf := range a.config.Timeframes {
		w, ok := tfs[tf]
		if !ok || w.Len() < a.config.MinCandles {
			continue
		}
		analyses[tf] = a.analyzeTimeframe(tf, w)
	}
	if len(analyses) < 2 {
		return nil
	}

	alignment := trendAlignment(analyses)
	direction := a.direction(analyses, alignment)
	confidence := (alignment + meanStrength(analyses)) / 2

	support, resistance := keyLevels(analyses)

	return &Confluence{
		Symbol:            symbol,
		Timestamp:         now,
		Analyses:          analyses,
		TrendAlignment:    alignment,
		Direction:         direction,
		Confidence:        confidence,
		NearestSupport:    support,
		NearestResistance: resistance,
	}
}

// analyzeTimeframe runs the regression trend read over the last
// RegressionSpan candles. Caller must hold the lock.
func (a *Analyzer) analyzeTimeframe(tf market.Timeframe, w *market.CandleWindow) TimeframeAnalysis {
	candles := w.Tail(a.config.RegressionSpan)
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	low, high := math.Inf(1), math.Inf(-1)
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
		if c.Low < low {
			low = c.Low
		}
		if c.High > high {
			high = c.High
		}
	}

	slope, intercept := stats.LinearRegression(closes)
	strength := stats.RSquared(closes, slope, intercept)

	// Slope in price units per candle, normalized by span and price so
	// thresholds are comparable across symbols and timeframes.
	normalizedSlope := 0.0
	if mean := stats.Mean(closes); mean > 0 {
		normalizedSlope = slope * float64(len(closes)) / mean
	}
	trend := a.bucketTrend(normalizedSlope)

	returns := stats.LogReturns(closes)
	perYear := minutesPerYear / tf.Duration().Minutes()
	volatility := stats.Std(returns) * math.Sqrt(perYear)

	volumeRatio := 1.0
	if overall := stats.Mean(volumes); overall > 0 {
		recent := stats.Mean(lastN(volumes, a.config.VolumeLookback))
		volumeRatio = recent / overall
	}

	return TimeframeAnalysis{
		Timeframe:   tf,
		Trend:       trend,
		Strength:    stats.Clamp(strength, 0, 1),
		Volatility:  volatility,
		VolumeRatio: volumeRatio,
		Support:     low,
		Resistance:  high,
	}
}

func (a *Analyzer) bucketTrend(normalizedSlope float64) Trend {
	switch {
	case normalizedSlope > a.config.StrongSlope:
		return TrendStrongUp
	case normalizedSlope > a.config.WeakSlope:
		return TrendUp
	case normalizedSlope < -a.config.StrongSlope:
		return TrendStrongDown
	case normalizedSlope < -a.config.WeakSlope:
		return TrendDown
	default:
		return TrendNeutral
	}
}

// direction requires enough timeframes agreeing on a side and a floor
// on overall alignment before committing to a direction.
func (a *Analyzer) direction(analyses map[market.Timeframe]TimeframeAnalysis, alignment float64) market.Direction {
	if alignment < a.config.MinAlignment {
		return market.DirectionNeutral
	}
	bullish, bearish := 0, 0
	for _, an := range analyses {
		switch an.Trend {
		case TrendUp, TrendStrongUp:
			bullish++
		case TrendDown, TrendStrongDown:
			bearish++
		}
	}
	needed := float64(len(analyses)) * a.config.AgreementRatio
	switch {
	case bullish > bearish && float64(bullish) >= needed:
		return market.DirectionLong
	case bearish > bullish && float64(bearish) >= needed:
		return market.DirectionShort
	default:
		return market.DirectionNeutral
	}
}

// trendAlignment maps the spread of trend codes onto [0,1]: identical
// trends score 1, maximally split trends score 0.
func trendAlignment(analyses map[market.Timeframe]TimeframeAnalysis) float64 {
	codes := make([]float64, 0, len(analyses))
	for _, an := range analyses {
		codes = append(codes, an.Trend.Code())
	}
	return stats.Clamp(1-stats.Std(codes)/2, 0, 1)
}

func meanStrength(analyses map[market.Timeframe]TimeframeAnalysis) float64 {
	sum := 0.0
	for _, an := range analyses {
		sum += an.Strength
	}
	return sum / float64(len(analyses))
}

// keyLevels picks the tightest bracket around price: the highest
// support and lowest resistance across timeframes.
func keyLevels(analyses map[market.Timeframe]TimeframeAnalysis) (support, resistance float64) {
	resistance = math.Inf(1)
	for _, an := range analyses {
		if an.Support > support {
			support = an.Support
		}
		if an.Resistance < resistance {
			resistance = an.Resistance
		}
	}
	if math.IsInf(resistance, 1) {
		resistance = 0
	}
	return support, resistance
}

func (a *Analyzer) window(symbol string, tf market.Timeframe) *market.CandleWindow {
	tfs, ok := a.windows[symbol]
	if !ok {
		tfs = make(map[market.Timeframe]*market.CandleWindow)
		a.windows[symbol] = tfs
	}
	w, ok := tfs[tf]
	if !ok {
		w = market.NewCandleWindow(a.config.WindowSize)
		tfs[tf] = w
	}
	return w
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
