// Package engine wires the analytics components into the enhancement
// pipeline: base candidate, guard and regime gates, order-flow and
// multi-timeframe enrichment, scoring, sizing, emission.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"microstructure-engine/internal/events"
	"microstructure-engine/internal/footprint"
	"microstructure-engine/internal/guard"
	"microstructure-engine/internal/market"
	"microstructure-engine/internal/mtf"
	"microstructure-engine/internal/regime"
	"microstructure-engine/internal/scalper"
	"microstructure-engine/internal/scoring"
	"microstructure-engine/internal/sizing"
	"microstructure-engine/internal/stats"
	"microstructure-engine/internal/volatility"
)

// Feature horizons in one-minute candles.
const (
	horizon1h  = 60
	horizon4h  = 240
	horizon24h = 1440
)

const (
	candleWindowSize = 1500
	tickWindowSize   = 1000
	minutesPerYear   = 365.0 * 24 * 60
)

// Pipeline stages reported on rejection.
const (
	stageGuard     = "guard"
	stageRegime    = "regime"
	stageScore     = "score"
	stageRateLimit = "rate_limit"
)

// Config holds the engine settings
type Config struct {
	Symbols              []string `json:"symbols" yaml:"symbols" validate:"min=1"`
	DivergenceLookback   int      `json:"divergence_lookback" yaml:"divergence_lookback" validate:"gt=0"`
	LargeTradeUSD        float64  `json:"large_trade_usd" yaml:"large_trade_usd" validate:"gt=0"`
	LargeTradeWindowSec  int      `json:"large_trade_window_seconds" yaml:"large_trade_window_seconds" validate:"gt=0"`
	MaxSignalsPerMinute  float64  `json:"max_signals_per_minute" yaml:"max_signals_per_minute" validate:"gt=0"`
	SignalBurst          int      `json:"signal_burst" yaml:"signal_burst" validate:"gt=0"`
	SweepIntervalSeconds int      `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds" validate:"gt=0"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Symbols:              []string{"BTCUSDT"},
		DivergenceLookback:   10,
		LargeTradeUSD:        50000,
		LargeTradeWindowSec:  300,
		MaxSignalsPerMinute:  6,
		SignalBurst:          2,
		SweepIntervalSeconds: 60,
	}
}

// Components are the injected collaborators. All are required.
type Components struct {
	Scalper    *scalper.Strategy
	Detector   *volatility.Detector
	Footprint  *footprint.Analyzer
	Classifier *regime.Classifier
	MTF        *mtf.Analyzer
	Scorer     *scoring.Scorer
	Sizer      *sizing.Sizer
	Guard      *guard.Guard
}

func (c Components) validate() error {
	switch {
	case c.Scalper == nil:
		return errors.New("nil scalper")
	case c.Detector == nil:
		return errors.New("nil detector")
	case c.Footprint == nil:
		return errors.New("nil footprint analyzer")
	case c.Classifier == nil:
		return errors.New("nil regime classifier")
	case c.MTF == nil:
		return errors.New("nil multi-timeframe analyzer")
	case c.Scorer == nil:
		return errors.New("nil scorer")
	case c.Sizer == nil:
		return errors.New("nil sizer")
	case c.Guard == nil:
		return errors.New("nil guard")
	}
	return nil
}

// symbolState is the engine's own per-symbol history, independent of
// what the components track internally.
type symbolState struct {
	mu      sync.Mutex
	candles *market.CandleWindow
	ticks   *market.TickWindow
	limiter *rate.Limiter
}

// Engine is the enhancement pipeline over per-symbol market streams
type Engine struct {
	mu     sync.RWMutex
	config *Config
	comps  Components
	bus    *events.Bus
	logger zerolog.Logger

	state map[string]*symbolState

	signalCount int
	rejectCount int
}

// New creates the signal engine from explicitly constructed components
func New(config *Config, comps Components, bus *events.Bus, logger zerolog.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := comps.validate(); err != nil {
		return nil, fmt.Errorf("engine components: %w", err)
	}
	return &Engine{
		config: config,
		comps:  comps,
		bus:    bus,
		logger: logger.With().Str("component", "Engine").Logger(),
		state:  make(map[string]*symbolState),
	}, nil
}

// Run drives the periodic housekeeping sweep until the context is
// cancelled. All signal processing happens on the caller's goroutine
// via the On* entry points.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.config.SweepIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("sweep_interval", interval).Msg("Engine housekeeping started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine housekeeping stopped")
			return ctx.Err()
		case now := <-ticker.C:
			e.sweep(now)
		}
	}
}

// sweep prunes expired signals, alerts and rolling windows
func (e *Engine) sweep(now time.Time) {
	expired := e.comps.Scalper.ClearExpiredSignals(now)
	expired += e.comps.Detector.ExpireSignals(now, 15*time.Minute)
	cleared := e.comps.Guard.Sweep(now)
	pruned := e.comps.Scalper.Profiles().Prune(now)

	e.logger.Debug().
		Int("expired_signals", expired).
		Int("cleared_suppressions", cleared).
		Int("pruned_profile_slices", pruned).
		Msg("Housekeeping sweep")
}

// OnTrade processes one trade print. Returns an EnhancedSignal when
// the scalper produced a candidate that cleared the whole pipeline,
// nil otherwise. The error is always nil today; it stays in the
// signature for symmetry with OnCandleClose.
func (e *Engine) OnTrade(symbol string, price, qty float64, side market.Side, ts time.Time) (*EnhancedSignal, error) {
	t := market.Tick{Symbol: symbol, Price: price, Qty: qty, Side: side, Timestamp: ts}

	st := e.symbolState(symbol)
	st.mu.Lock()
	st.ticks.Append(t)
	st.mu.Unlock()

	e.comps.Detector.OnPriceUpdate(symbol, price)
	e.comps.Footprint.AddTrade(t)

	base := e.comps.Scalper.OnTrade(t)
	if base == nil {
		return nil, nil
	}

	stop := math.Abs(base.EntryPrice - base.StopLoss)
	return e.enhance(symbol, candidate{
		signalID:     base.ID,
		strategy:     "InstitutionalVolumeScalper",
		direction:    base.Direction,
		entry:        base.EntryPrice,
		stop:         base.StopLoss,
		takeProfit:   base.TakeProfit1,
		confidence:   base.Confidence,
		riskReward:   base.RiskReward,
		nearKeyLevel: true, // the scalper only emits at volume profile key levels
		whaleBacked:  true,
	}, stop/base.EntryPrice, ts), nil
}

// OnOrderBookUpdate applies an L2 snapshot for a symbol
func (e *Engine) OnOrderBookUpdate(symbol string, bids, asks []market.BookLevel, ts time.Time) {
	e.comps.Scalper.OnBookUpdate(market.BookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	})
}

// OnCandleClose ingests a closed one-minute candle: the detector
// reclassifies the regime, black swan alerts trip the guard, and a
// volatility signal runs the same enhancement pipeline as scalp
// candidates.
func (e *Engine) OnCandleClose(symbol string, c market.Candle) (*EnhancedSignal, error) {
	st := e.symbolState(symbol)
	st.mu.Lock()
	st.candles.Append(c)
	st.mu.Unlock()

	sig, err := e.comps.Detector.OnCandleClose(symbol, c)
	if err != nil {
		if errors.Is(err, volatility.ErrInsufficientData) {
			e.logger.Debug().Str("symbol", symbol).Err(err).Msg("Detector warming up")
			return nil, nil
		}
		e.logger.Error().Str("symbol", symbol).Str("stage", "detector").Err(err).Msg("Candle processing failed")
		return nil, nil
	}

	// A fresh alert suppresses the symbol before any candidate this
	// candle could be considered.
	if alert, ok := e.comps.Detector.GetActiveAlert(symbol); ok && alert.Timestamp.Equal(c.Timestamp) {
		e.comps.Guard.Trip(symbol, string(alert.Type), c.Timestamp)
	}

	if state, ok := e.comps.Detector.GetCurrentRegime(symbol); ok {
		e.comps.Sizer.ObserveVolatility(symbol, state.RealizedVol)
	}

	if sig == nil {
		return nil, nil
	}

	m, ok := e.comps.Detector.GetLatestMetrics(symbol)
	if !ok || m.ATR <= 0 || c.Close <= 0 {
		return nil, nil
	}
	stopDist := m.ATR * sig.StopATRMultiplier
	targetDist := m.ATR * sig.TargetATRMultiplier
	stop, target := c.Close-stopDist, c.Close+targetDist
	if sig.Direction == market.DirectionShort {
		stop, target = c.Close+stopDist, c.Close-targetDist
	}
	riskReward := 0.0
	if stopDist > 0 {
		riskReward = targetDist / stopDist
	}

	return e.enhance(symbol, candidate{
		signalID:   sig.ID,
		strategy:   "VolatilityRegimeDetector",
		direction:  sig.Direction,
		entry:      c.Close,
		stop:       stop,
		takeProfit: target,
		confidence: sig.Confidence,
		riskReward: riskReward,
	}, stopDist/c.Close, c.Timestamp), nil
}

// AddTimeframeData registers closed higher-timeframe candles for the
// confluence read
func (e *Engine) AddTimeframeData(symbol string, tf market.Timeframe, candles []market.Candle) {
	e.comps.MTF.AddCandles(symbol, tf, candles)
}

// enhance runs a base candidate through the gates. Every rejection is
// logged with its stage and published; no partial signal escapes.
func (e *Engine) enhance(symbol string, c candidate, stopDistancePct float64, ts time.Time) *EnhancedSignal {
	if allowed, reason := e.comps.Guard.Allow(symbol, ts); !allowed {
		return e.reject(symbol, stageGuard, reason, ts)
	}

	features := e.buildFeatures(symbol, ts)
	assessment := e.comps.Classifier.Classify(features, ts)
	if assessment.Regime == regime.Extreme {
		return e.reject(symbol, stageRegime, assessment.Regime.Description(), ts)
	}
	if state, ok := e.comps.Detector.GetCurrentRegime(symbol); ok && state.Regime == regime.Extreme {
		return e.reject(symbol, stageRegime, "detector regime EXTREME", ts)
	}

	divergence := e.comps.Footprint.DeltaDivergence(symbol, e.config.DivergenceLookback)
	cumulativeDelta := e.comps.Footprint.CurrentDelta(symbol)

	mtfAlignment, mtfConfidence := 0.5, 0.5
	indicatorsAligned := false
	momentumAccel := 0.0
	confluence := e.comps.MTF.Analyze(symbol, ts)
	if confluence != nil {
		mtfAlignment = confluence.TrendAlignment
		mtfConfidence = confluence.Confidence
		switch confluence.Direction {
		case c.direction:
			indicatorsAligned = true
			momentumAccel = mtfAlignment
		case market.DirectionNeutral:
			momentumAccel = 0
		default:
			momentumAccel = -mtfAlignment
		}
	}

	score := e.comps.Scorer.ScoreSignal(e.buildScoringContext(symbol, c, assessment, divergence, stopDistancePct, momentumAccel, indicatorsAligned))
	if !score.TradeRecommended {
		return e.reject(symbol, stageScore,
			fmt.Sprintf("score %.1f below %.1f", score.TotalScore, e.comps.Scorer.MinScoreToTrade()), ts)
	}

	realizedVol := 0.0
	if state, ok := e.comps.Detector.GetCurrentRegime(symbol); ok {
		realizedVol = state.RealizedVol
	}
	recommendation := e.comps.Sizer.Recommend(sizing.Request{
		Symbol:          symbol,
		Price:           c.entry,
		StopDistancePct: stopDistancePct,
		RealizedVol:     realizedVol,
	})

	st := e.symbolState(symbol)
	if !st.limiter.AllowN(ts, 1) {
		return e.reject(symbol, stageRateLimit, "per-symbol emission rate exceeded", ts)
	}

	signal := &EnhancedSignal{
		ID:               uuid.New().String(),
		Symbol:           symbol,
		Strategy:         c.strategy,
		Direction:        c.direction,
		EntryPrice:       c.entry,
		StopLoss:         c.stop,
		TakeProfit:       c.takeProfit,
		Score:            score.TotalScore,
		Quality:          score.Quality,
		Regime:           assessment.Regime,
		RegimeName:       assessment.Regime.Description(),
		RegimeConfidence: assessment.Confidence,
		RegimeSource:     assessment.Source,
		SizeUSD:          recommendation.SizeUSD,
		SizeBase:         recommendation.SizeBase,
		MaxLossUSD:       recommendation.MaxLossUSD,
		SizingMethod:     recommendation.Method,
		MTFAlignment:     mtfAlignment,
		MTFConfidence:    mtfConfidence,
		DeltaDivergence:  divergence,
		CumulativeDelta:  cumulativeDelta,
		Confidence:       c.confidence * score.Confidence,
		Strengths:        score.Strengths,
		Weaknesses:       score.Weaknesses,
		Timestamp:        ts,
	}

	e.mu.Lock()
	e.signalCount++
	e.mu.Unlock()

	e.logger.Info().
		Str("symbol", symbol).
		Str("base_signal", c.signalID).
		Str("strategy", c.strategy).
		Str("direction", string(c.direction)).
		Float64("score", score.TotalScore).
		Str("quality", string(score.Quality)).
		Float64("size_usd", recommendation.SizeUSD).
		Float64("confidence", signal.Confidence).
		Msg("Enhanced signal emitted")
	if e.bus != nil {
		e.bus.PublishEnhancedSignal(symbol, string(c.direction), score.TotalScore, signal.Confidence, recommendation.SizeUSD, ts)
	}
	return signal
}

// buildScoringContext assembles the scorer's evidence from tracked
// state rather than assumptions.
func (e *Engine) buildScoringContext(symbol string, c candidate, assessment regime.Assessment, divergence footprint.Divergence, stopDistancePct, momentumAccel float64, indicatorsAligned bool) scoring.Context {
	patternDetected := (divergence == footprint.DivergenceBullish && c.direction == market.DirectionLong) ||
		(divergence == footprint.DivergenceBearish && c.direction == market.DirectionShort)

	volPercentile := 50.0
	if state, ok := e.comps.Detector.GetCurrentRegime(symbol); ok {
		volPercentile = state.VolPercentile
	}

	bookImbalance, liquidity, spreadQuality := 0.0, 0.5, 0.5
	if micro, ok := e.comps.Scalper.LatestMicrostructure(symbol); ok {
		bookImbalance = micro.BookImbalance
		liquidity = micro.Liquidity
		spreadQuality = stats.Clamp(1-micro.SpreadBps/20.0, 0, 1)
	}

	return scoring.Context{
		NearKeyLevel:         c.nearKeyLevel,
		IndicatorsAligned:    indicatorsAligned,
		PatternDetected:      patternDetected,
		WhaleActivity:        c.whaleBacked,
		VolumeRatio:          e.volumeRatio(symbol),
		BookImbalance:        bookImbalance,
		Regime:               assessment.Regime,
		VolPercentile:        volPercentile,
		TrendStrength:        c.confidence,
		MomentumAcceleration: momentumAccel,
		RiskReward:           c.riskReward,
		StopDistancePct:      stopDistancePct,
		Liquidity:            liquidity,
		SpreadQuality:        spreadQuality,
	}
}

// reject logs and publishes a gate rejection, returning nil so the
// caller emits nothing
func (e *Engine) reject(symbol, stage, reason string, ts time.Time) *EnhancedSignal {
	e.mu.Lock()
	e.rejectCount++
	e.mu.Unlock()

	e.logger.Info().
		Str("symbol", symbol).
		Str("stage", stage).
		Str("reason", reason).
		Msg("Signal rejected")
	if e.bus != nil {
		e.bus.PublishSignalRejected(symbol, stage, reason, ts)
	}
	return nil
}

// buildFeatures derives the classifier feature vector from the
// engine's per-symbol history and the latest microstructure sample.
// Missing horizons yield zero features, which the rule fallback
// handles as low volatility readings.
func (e *Engine) buildFeatures(symbol string, ts time.Time) regime.Features {
	st := e.symbolState(symbol)
	st.mu.Lock()
	candles := st.candles.Values()
	window := st.ticks.Since(ts.Add(-time.Duration(e.config.LargeTradeWindowSec) * time.Second))
	st.mu.Unlock()

	f := regime.Features{}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	returns := stats.LogReturns(closes)
	annualize := math.Sqrt(minutesPerYear)
	f.RealizedVol1h = stats.Std(lastFloats(returns, horizon1h)) * annualize
	f.RealizedVol4h = stats.Std(lastFloats(returns, horizon4h)) * annualize
	f.RealizedVol24h = stats.Std(lastFloats(returns, horizon24h)) * annualize

	if state, ok := e.comps.Detector.GetCurrentRegime(symbol); ok {
		f.VolOfVol = state.VolOfVol
		// The detector's medium-window estimate is better grounded than
		// a thin candle history early in the session.
		if f.RealizedVol24h == 0 {
			f.RealizedVol24h = state.RealizedVol
		}
	}

	f.Volume1h = volumeSum(candles, horizon1h)
	f.Volume4h = volumeSum(candles, horizon4h)
	f.Volume24h = volumeSum(candles, horizon24h)
	f.VolumeRatio = e.volumeRatio(symbol)

	f.Returns1h = horizonReturn(closes, horizon1h)
	f.Returns4h = horizonReturn(closes, horizon4h)
	f.Returns24h = horizonReturn(closes, horizon24h)
	f.PriceRange1h = priceRange(candles, horizon1h)

	if micro, ok := e.comps.Scalper.LatestMicrostructure(symbol); ok {
		f.SpreadBps = micro.SpreadBps
		f.BookImbalance = micro.BookImbalance
		if total := micro.BidDepth + micro.AskDepth; total > 0 {
			f.DepthImbalance = (micro.BidDepth - micro.AskDepth) / total
		}
		f.TradeAggression = math.Max(micro.BuyRatio, micro.SellRatio)
	}

	if len(window) > 0 {
		large := 0
		for _, t := range window {
			if t.Notional() >= e.config.LargeTradeUSD {
				large++
			}
		}
		f.LargeTradeFrequency = float64(large) / float64(len(window))
	}
	return f
}

// volumeRatio compares the last candle's volume to the window average
func (e *Engine) volumeRatio(symbol string) float64 {
	st := e.symbolState(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	candles := st.candles.Values()
	if len(candles) < 2 {
		return 1.0
	}
	sum := 0.0
	for _, c := range candles[:len(candles)-1] {
		sum += c.Volume
	}
	avg := sum / float64(len(candles)-1)
	if avg <= 0 {
		return 1.0
	}
	return candles[len(candles)-1].Volume / avg
}

// CurrentRegime returns the detector's latest regime state for a symbol
func (e *Engine) CurrentRegime(symbol string) (volatility.RegimeState, bool) {
	return e.comps.Detector.GetCurrentRegime(symbol)
}

// RiskParameters returns regime-appropriate risk limits for a symbol
func (e *Engine) RiskParameters(symbol string) (volatility.RiskParameters, bool) {
	return e.comps.Detector.GetRiskParameters(symbol)
}

// TransitionProbability exposes the classifier's regime transition
// estimate
func (e *Engine) TransitionProbability(from, to regime.Regime) float64 {
	return e.comps.Classifier.TransitionProbability(from, to)
}

// StrategyMetrics returns the combined monitoring snapshot
func (e *Engine) StrategyMetrics() map[string]interface{} {
	e.mu.RLock()
	signals, rejects := e.signalCount, e.rejectCount
	e.mu.RUnlock()

	return map[string]interface{}{
		"engine": map[string]interface{}{
			"enhanced_signals": signals,
			"rejected_signals": rejects,
			"tracked_symbols":  e.trackedSymbols(),
			"status":           "ACTIVE",
		},
		"scalper":    e.comps.Scalper.GetMetrics(),
		"detector":   e.comps.Detector.GetMetrics(),
		"classifier": e.comps.Classifier.GetMetrics(),
		"guard":      e.comps.Guard.GetMetrics(),
		"sizer":      e.comps.Sizer.GetMetrics(),
	}
}

func (e *Engine) trackedSymbols() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.state)
}

// symbolState resolves (or creates) the engine state for one symbol
func (e *Engine) symbolState(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.state[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.state[symbol]; ok {
		return st
	}
	st = &symbolState{
		candles: market.NewCandleWindow(candleWindowSize),
		ticks:   market.NewTickWindow(tickWindowSize),
		limiter: rate.NewLimiter(rate.Limit(e.config.MaxSignalsPerMinute/60), e.config.SignalBurst),
	}
	e.state[symbol] = st
	return st
}

func volumeSum(candles []market.Candle, n int) float64 {
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum
}

func horizonReturn(closes []float64, n int) float64 {
	if len(closes) < n+1 {
		return 0
	}
	past := closes[len(closes)-1-n]
	if past <= 0 {
		return 0
	}
	return math.Log(closes[len(closes)-1] / past)
}

func priceRange(candles []market.Candle, n int) float64 {
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	if len(candles) == 0 {
		return 0
	}
	high, low := math.Inf(-1), math.Inf(1)
	for _, c := range candles {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0
	}
	return (high - low) / last
}

func lastFloats(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
