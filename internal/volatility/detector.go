package volatility

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"microstructure-engine/internal/events"
	"microstructure-engine/internal/market"
	"microstructure-engine/internal/regime"
	"microstructure-engine/internal/stats"
)

// History capacities per symbol.
const (
	priceHistorySize  = 1000
	candleHistorySize = 500
	volHistorySize    = 200
	regimeHistorySize = 100
)

// volOfVolWindow is the number of past primary-vol samples used for
// vol-of-vol. percentileMinHistory gates the percentile rank until
// enough history exists to make it meaningful.
const (
	volOfVolWindow       = 20
	percentileMinHistory = 50
)

// DetectorConfig holds the regime detector settings
type DetectorConfig struct {
	Symbols                 []string `json:"symbols" yaml:"symbols"`
	LookbackShort           int      `json:"lookback_short" yaml:"lookback_short" validate:"gt=1"`   // candles
	LookbackMedium          int      `json:"lookback_medium" yaml:"lookback_medium" validate:"gt=1"` // candles
	LookbackLong            int      `json:"lookback_long" yaml:"lookback_long" validate:"gt=1"`     // candles
	LowThreshold            float64  `json:"low_threshold" yaml:"low_threshold" validate:"gt=0"`     // annualized vol
	MediumThreshold         float64  `json:"medium_threshold" yaml:"medium_threshold" validate:"gt=0"`
	HighThreshold           float64  `json:"high_threshold" yaml:"high_threshold" validate:"gt=0"`
	VolBreakoutPercentile   float64  `json:"vol_breakout_percentile" yaml:"vol_breakout_percentile" validate:"gte=0,lte=100"`
	MinConfidence           float64  `json:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=1"`
	UseGARCH                bool     `json:"use_garch" yaml:"use_garch"`
	ATRPeriod               int      `json:"atr_period" yaml:"atr_period" validate:"gt=0"`
	AlertSuppressionSeconds int      `json:"alert_suppression_seconds" yaml:"alert_suppression_seconds" validate:"gt=0"`
}

// DefaultDetectorConfig returns the default detector configuration
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		Symbols:                 []string{"BTCUSDT"},
		LookbackShort:           20,
		LookbackMedium:          60,
		LookbackLong:            240,
		LowThreshold:            0.15,
		MediumThreshold:         0.35,
		HighThreshold:           0.60,
		VolBreakoutPercentile:   80.0,
		MinConfidence:           0.70,
		UseGARCH:                true,
		ATRPeriod:               14,
		AlertSuppressionSeconds: 900,
	}
}

// Detector classifies per-symbol volatility regimes from closed candles
// and emits signals on breakouts, exhaustion and regime transitions.
type Detector struct {
	mu     sync.RWMutex
	config *DetectorConfig
	bus    *events.Bus
	logger zerolog.Logger

	prices      map[string]*stats.Window
	candles     map[string]*market.CandleWindow
	volHistory  map[string]*stats.Window
	regimeHist  map[string][]RegimeState
	current     map[string]RegimeState
	alerts      map[string]BlackSwanAlert
	signals     map[string]Signal
	lastMetrics map[string]Metrics

	signalCount       int
	regimeChangeCount int
	blackSwanCount    int
}

// NewDetector creates a volatility regime detector
func NewDetector(config *DetectorConfig, bus *events.Bus, logger zerolog.Logger) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &Detector{
		config:      config,
		bus:         bus,
		logger:      logger.With().Str("component", "VolatilityRegimeDetector").Logger(),
		prices:      make(map[string]*stats.Window),
		candles:     make(map[string]*market.CandleWindow),
		volHistory:  make(map[string]*stats.Window),
		regimeHist:  make(map[string][]RegimeState),
		current:     make(map[string]RegimeState),
		alerts:      make(map[string]BlackSwanAlert),
		signals:     make(map[string]Signal),
		lastMetrics: make(map[string]Metrics),
	}
}

// OnPriceUpdate records a trade price for a symbol
func (d *Detector) OnPriceUpdate(symbol string, price float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.priceWindow(symbol).Push(price)
}

// OnCandleClose ingests a closed candle, reclassifies the regime and
// returns a signal when one fires. Returns ErrInsufficientData until
// the long lookback is filled; a nil signal with nil error means the
// candle was processed but nothing fired.
func (d *Detector) OnCandleClose(symbol string, candle market.Candle) (*Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cw := d.candleWindow(symbol)
	cw.Append(candle)

	if cw.Len() < d.config.LookbackLong {
		return nil, fmt.Errorf("%w: %d/%d candles for %s", ErrInsufficientData, cw.Len(), d.config.LookbackLong, symbol)
	}

	metrics, err := d.computeMetrics(symbol)
	if err != nil {
		return nil, err
	}
	d.volWindow(symbol).Push(metrics.PrimaryVol)
	d.lastMetrics[symbol] = *metrics

	state := d.classifyRegime(symbol, metrics, candle.Timestamp)

	prev, hadPrev := d.current[symbol]
	if hadPrev && prev.Regime != state.Regime {
		d.regimeChangeCount++
		d.logger.Info().
			Str("symbol", symbol).
			Str("from", prev.Regime.String()).
			Str("to", state.Regime.String()).
			Float64("primary_vol", metrics.PrimaryVol).
			Float64("confidence", state.Confidence).
			Msg("Volatility regime change")
		if d.bus != nil {
			d.bus.PublishRegimeChange(symbol, prev.Regime.String(), state.Regime.String(), state.Confidence, candle.Timestamp)
		}
	}
	d.current[symbol] = state
	d.appendRegimeHistory(symbol, state)

	if alert := d.detectBlackSwan(symbol, metrics, candle.Timestamp); alert != nil {
		d.alerts[symbol] = *alert
		d.blackSwanCount++
		d.logger.Warn().
			Str("symbol", symbol).
			Str("alert_type", string(alert.Type)).
			Float64("severity", alert.Severity).
			Str("action", string(alert.Action)).
			Msg("Black swan alert")
		if d.bus != nil {
			d.bus.PublishBlackSwan(symbol, string(alert.Type), string(alert.Action), alert.Severity, candle.Timestamp)
		}
	}

	signal := d.generateSignal(symbol, metrics, state, candle.Timestamp)
	if signal != nil {
		d.signals[symbol] = *signal
		d.signalCount++
		d.logger.Info().
			Str("symbol", symbol).
			Str("signal_type", string(signal.Type)).
			Str("direction", string(signal.Direction)).
			Float64("confidence", signal.Confidence).
			Float64("risk_score", signal.RiskScore).
			Msg("Volatility signal generated")
		if d.bus != nil {
			d.bus.PublishVolatilitySignal(symbol, string(signal.Type), string(signal.Direction), signal.Confidence, candle.Timestamp)
		}
	}
	return signal, nil
}

// computeMetrics runs all estimators over the candle history. Caller
// must hold the lock.
func (d *Detector) computeMetrics(symbol string) (*Metrics, error) {
	candles := d.candles[symbol].Values()
	if len(candles) < d.config.ATRPeriod {
		return nil, fmt.Errorf("%w: %d candles for ATR(%d)", ErrInsufficientData, len(candles), d.config.ATRPeriod)
	}

	opens := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		opens[i] = c.Open
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	returns := stats.LogReturns(closes)
	if len(returns) < d.config.LookbackShort {
		return nil, fmt.Errorf("%w: %d returns for lookback %d", ErrInsufficientData, len(returns), d.config.LookbackShort)
	}

	annualize := math.Sqrt(MinutesPerYear)
	m := &Metrics{
		RealizedVolShort:  stats.Std(lastN(returns, d.config.LookbackShort)) * annualize,
		RealizedVolMedium: stats.Std(lastN(returns, d.config.LookbackMedium)) * annualize,
		RealizedVolLong:   stats.Std(lastN(returns, d.config.LookbackLong)) * annualize,
		CurrentPrice:      closes[len(closes)-1],
		Returns:           returns,
	}

	med := d.config.LookbackMedium
	m.ParkinsonVol = ParkinsonVolatility(lastN(highs, med), lastN(lows, med), true)
	m.GarmanKlassVol = GarmanKlassVolatility(lastN(opens, med), lastN(highs, med), lastN(lows, med), lastN(closes, med), true)
	m.RogersSatchellVol = RogersSatchellVolatility(lastN(opens, med), lastN(highs, med), lastN(lows, med), lastN(closes, med), true)
	m.YangZhangVol = YangZhangVolatility(lastN(opens, med), lastN(highs, med), lastN(lows, med), lastN(closes, med), true)

	atrLen := d.config.ATRPeriod + 1
	if series := ATR(lastN(highs, atrLen), lastN(lows, atrLen), lastN(closes, atrLen), d.config.ATRPeriod); len(series) > 0 {
		m.ATR = series[len(series)-1]
	}

	// Vol-of-vol over history prior to this candle.
	if hist := d.volWindow(symbol); hist.Count() >= volOfVolWindow {
		past := hist.Tail(volOfVolWindow)
		if mean := stats.Mean(past); mean > 0 {
			m.VolOfVol = stats.Std(past) / mean
		}
	}

	if d.config.UseGARCH && len(returns) >= 100 {
		m.GARCHForecast = GARCHForecast(lastN(returns, 100))
	} else {
		m.GARCHForecast = m.RealizedVolMedium
	}

	m.PrimaryVol = m.YangZhangVol
	if m.PrimaryVol <= 0 {
		m.PrimaryVol = m.RealizedVolMedium
	}
	return m, nil
}

// classifyRegime maps the primary vol onto a regime with a confidence
// score. Caller must hold the lock; the vol history already includes
// the current sample.
func (d *Detector) classifyRegime(symbol string, m *Metrics, ts time.Time) RegimeState {
	v := m.PrimaryVol

	var reg regime.Regime
	switch {
	case v < d.config.LowThreshold:
		reg = regime.Low
	case v < d.config.MediumThreshold:
		reg = regime.Medium
	case v < d.config.HighThreshold:
		reg = regime.High
	default:
		reg = regime.Extreme
	}

	percentile := 50.0
	if hist := d.volWindow(symbol); hist.Count() >= percentileMinHistory {
		percentile = stats.PercentileOfScore(hist.Values(), v)
	}

	confidence := d.regimeConfidence(reg, v)

	duration := 0
	if start, ok := d.regimeStart(symbol, reg); ok {
		duration = int(ts.Sub(start).Minutes())
	}

	return RegimeState{
		Symbol:          symbol,
		Timestamp:       ts,
		Regime:          reg,
		Confidence:      confidence,
		RealizedVol:     m.RealizedVolMedium,
		ForecastVol:     m.GARCHForecast,
		VolPercentile:   percentile,
		VolOfVol:        m.VolOfVol,
		DurationMinutes: duration,
	}
}

// regimeConfidence scores how firmly the vol sits inside its band.
// Mid-band readings score high, readings near a threshold score low.
func (d *Detector) regimeConfidence(reg regime.Regime, v float64) float64 {
	var confidence float64
	switch reg {
	case regime.Low:
		confidence = math.Min(1.0, (d.config.LowThreshold-v)/d.config.LowThreshold+0.5)
	case regime.Medium:
		mid := (d.config.LowThreshold + d.config.MediumThreshold) / 2
		halfWidth := (d.config.MediumThreshold - d.config.LowThreshold) / 2
		confidence = 1.0 - math.Abs(v-mid)/(halfWidth*2)
	case regime.High:
		mid := (d.config.MediumThreshold + d.config.HighThreshold) / 2
		halfWidth := (d.config.HighThreshold - d.config.MediumThreshold) / 2
		confidence = 1.0 - math.Abs(v-mid)/(halfWidth*2)
	default:
		confidence = math.Min(1.0, (v-d.config.HighThreshold)/d.config.HighThreshold)
	}
	return stats.Clamp(confidence, 0, 1)
}

// regimeStart walks the history backwards to find when the current
// regime streak began. Caller must hold the lock.
func (d *Detector) regimeStart(symbol string, reg regime.Regime) (time.Time, bool) {
	hist := d.regimeHist[symbol]
	var start time.Time
	found := false
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Regime != reg {
			break
		}
		start = hist[i].Timestamp
		found = true
	}
	return start, found
}

// detectBlackSwan checks the latest return for tail events. Order
// matters: tail risk trumps jump trumps vol explosion. Caller must
// hold the lock.
func (d *Detector) detectBlackSwan(symbol string, m *Metrics, ts time.Time) *BlackSwanAlert {
	returns := m.Returns
	if len(returns) < 100 {
		return nil
	}
	latest := returns[len(returns)-1]
	absLatest := math.Abs(latest)

	absAll := make([]float64, len(returns))
	for i, r := range returns {
		absAll[i] = math.Abs(r)
	}
	p99 := stats.Percentile(absAll, 99)

	if absLatest > p99 {
		severity := math.Min(1.0, absLatest/(p99*1.5))
		action := ActionReduceExposure
		if severity >= 0.8 {
			action = ActionCloseAll
		}
		return &BlackSwanAlert{
			ID:          uuid.New().String(),
			Symbol:      symbol,
			Timestamp:   ts,
			Type:        AlertTailRisk,
			Severity:    severity,
			Description: fmt.Sprintf("Extreme price move: %.2f%% (99th percentile: %.2f%%)", latest*100, p99*100),
			Action:      action,
		}
	}

	avgAbs := stats.MeanAbs(lastN(returns, 100))
	if avgAbs > 0 && absLatest > 5*avgAbs && absLatest > 0.02 {
		return &BlackSwanAlert{
			ID:          uuid.New().String(),
			Symbol:      symbol,
			Timestamp:   ts,
			Type:        AlertJump,
			Severity:    math.Min(1.0, absLatest/(5*avgAbs)/2),
			Description: fmt.Sprintf("Price jump detected: %.2f%% (5x average: %.2f%%)", latest*100, 5*avgAbs*100),
			Action:      ActionHedge,
		}
	}

	if m.VolOfVol > 2.0 {
		return &BlackSwanAlert{
			ID:          uuid.New().String(),
			Symbol:      symbol,
			Timestamp:   ts,
			Type:        AlertVolatilityExplosion,
			Severity:    math.Min(1.0, m.VolOfVol/4),
			Description: fmt.Sprintf("Volatility explosion: vol-of-vol = %.2f", m.VolOfVol),
			Action:      ActionReduceExposure,
		}
	}
	return nil
}

// generateSignal derives a trading signal from the current state. Later
// checks deliberately override earlier ones so the strongest structural
// read wins. Caller must hold the lock; regime history already includes
// the current state.
func (d *Detector) generateSignal(symbol string, m *Metrics, state RegimeState, ts time.Time) *Signal {
	if state.Regime == regime.Extreme {
		return nil
	}
	if alert, ok := d.alerts[symbol]; ok {
		if ts.Sub(alert.Timestamp) < time.Duration(d.config.AlertSuppressionSeconds)*time.Second {
			return nil
		}
	}
	if len(m.Returns) == 0 {
		return nil
	}
	lastReturn := m.Returns[len(m.Returns)-1]
	hist := d.regimeHist[symbol]

	var sigType SignalType
	direction := market.DirectionNeutral
	confidence := 0.0

	// Breakout: vol surging out of a quiet regime.
	if state.VolPercentile > d.config.VolBreakoutPercentile && len(hist) >= 2 {
		prev := hist[len(hist)-2]
		if prev.Regime == regime.Low && (state.Regime == regime.Medium || state.Regime == regime.High) {
			sigType = SignalVolatilityBreakout
			direction = directionFromReturn(lastReturn)
			confidence = 0.75 * state.Confidence
		}
	}

	// Exhaustion: vol pinned at extremes for over an hour tends to revert.
	if state.VolPercentile > 95 && state.DurationMinutes > 60 {
		sigType = SignalMeanReversion
		direction = directionAgainstReturn(lastReturn)
		confidence = 0.70
	}

	// Fresh transition this candle.
	if len(hist) >= 2 {
		prev := hist[len(hist)-2]
		if prev.Regime != state.Regime {
			switch {
			case prev.Regime == regime.Low && (state.Regime == regime.Medium || state.Regime == regime.High):
				sigType = SignalRegimeShift
				direction = directionFromReturn(lastReturn)
				confidence = 0.80 * state.Confidence
			case prev.Regime == regime.High && (state.Regime == regime.Medium || state.Regime == regime.Low):
				sigType = SignalRegimeShift
				direction = directionAgainstReturn(lastReturn)
				confidence = 0.75 * state.Confidence
			}
		}
	}

	if sigType == "" || confidence < d.config.MinConfidence {
		return nil
	}

	params := riskParametersFor(symbol, state.Regime)
	return &Signal{
		ID:                  uuid.New().String(),
		Symbol:              symbol,
		Timestamp:           ts,
		Type:                sigType,
		Direction:           direction,
		Confidence:          confidence,
		Regime:              state.Regime,
		ExpectedVol:         state.ForecastVol,
		SizeMultiplier:      params.PositionSizeMultiplier,
		StopATRMultiplier:   params.StopLossATRMultiplier,
		TargetATRMultiplier: params.TakeProfitATRMultiplier,
		MaxHoldMinutes:      maxHoldMinutes(state.Regime),
		RiskScore:           riskScore(state.Regime, m.VolOfVol),
	}
}

func directionFromReturn(r float64) market.Direction {
	if r > 0 {
		return market.DirectionLong
	}
	return market.DirectionShort
}

func directionAgainstReturn(r float64) market.Direction {
	if r > 0 {
		return market.DirectionShort
	}
	return market.DirectionLong
}

// riskParametersFor returns the regime-indexed risk limits. Calm
// regimes allow wide stops and leverage, chaotic regimes clamp both.
func riskParametersFor(symbol string, reg regime.Regime) RiskParameters {
	p := RiskParameters{Symbol: symbol, Regime: reg}
	switch reg {
	case regime.Low:
		p.PositionSizeMultiplier = 1.5
		p.StopLossATRMultiplier = 2.0
		p.TakeProfitATRMultiplier = 3.0
		p.MaxLeverage = 3.0
		p.MaxPositions = 10
		p.CircuitBreakerThreshold = 0.05
	case regime.Medium:
		p.PositionSizeMultiplier = 1.0
		p.StopLossATRMultiplier = 3.0
		p.TakeProfitATRMultiplier = 4.0
		p.MaxLeverage = 2.0
		p.MaxPositions = 5
		p.CircuitBreakerThreshold = 0.03
	case regime.High:
		p.PositionSizeMultiplier = 0.5
		p.StopLossATRMultiplier = 4.0
		p.TakeProfitATRMultiplier = 6.0
		p.MaxLeverage = 1.5
		p.MaxPositions = 3
		p.CircuitBreakerThreshold = 0.02
	default:
		p.PositionSizeMultiplier = 0.25
		p.StopLossATRMultiplier = 6.0
		p.TakeProfitATRMultiplier = 8.0
		p.MaxLeverage = 1.0
		p.MaxPositions = 1
		p.CircuitBreakerThreshold = 0.01
	}
	return p
}

func maxHoldMinutes(reg regime.Regime) int {
	switch reg {
	case regime.Low:
		return 60
	case regime.Medium:
		return 30
	default:
		return 15
	}
}

func riskScore(reg regime.Regime, volOfVol float64) float64 {
	base := map[regime.Regime]float64{
		regime.Low:     0.2,
		regime.Medium:  0.5,
		regime.High:    0.8,
		regime.Extreme: 1.0,
	}[reg]
	return math.Min(1.0, base+volOfVol*0.1)
}

// GetCurrentRegime returns the latest regime assessment for a symbol
func (d *Detector) GetCurrentRegime(symbol string) (RegimeState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	state, ok := d.current[symbol]
	return state, ok
}

// GetRiskParameters returns regime-appropriate risk limits for a symbol
func (d *Detector) GetRiskParameters(symbol string) (RiskParameters, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	state, ok := d.current[symbol]
	if !ok {
		return RiskParameters{}, false
	}
	return riskParametersFor(symbol, state.Regime), true
}

// GetLatestMetrics returns the estimator outputs from the most recent
// candle close for a symbol
func (d *Detector) GetLatestMetrics(symbol string) (Metrics, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.lastMetrics[symbol]
	return m, ok
}

// GetActiveAlert returns the most recent black swan alert for a symbol
func (d *Detector) GetActiveAlert(symbol string) (BlackSwanAlert, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	alert, ok := d.alerts[symbol]
	return alert, ok
}

// GetActiveSignal returns the most recent signal for a symbol
func (d *Detector) GetActiveSignal(symbol string) (Signal, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	signal, ok := d.signals[symbol]
	return signal, ok
}

// ExpireSignals drops active signals older than maxAge and returns how
// many were removed
func (d *Detector) ExpireSignals(now time.Time, maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for symbol, signal := range d.signals {
		if now.Sub(signal.Timestamp) > maxAge {
			delete(d.signals, symbol)
			removed++
			if d.bus != nil {
				d.bus.PublishSignalExpired(symbol, signal.ID, now)
			}
		}
	}
	return removed
}

// GetMetrics returns strategy metrics for monitoring
func (d *Detector) GetMetrics() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	regimes := make(map[string]string, len(d.current))
	for symbol, state := range d.current {
		regimes[symbol] = state.Regime.String()
	}
	return map[string]interface{}{
		"strategy_name":     "VolatilityRegimeDetector",
		"symbols":           d.config.Symbols,
		"signals_generated": d.signalCount,
		"regime_changes":    d.regimeChangeCount,
		"black_swan_alerts": d.blackSwanCount,
		"active_signals":    len(d.signals),
		"current_regimes":   regimes,
		"status":            "ACTIVE",
	}
}

func (d *Detector) priceWindow(symbol string) *stats.Window {
	w, ok := d.prices[symbol]
	if !ok {
		w = stats.NewWindow(priceHistorySize)
		d.prices[symbol] = w
	}
	return w
}

func (d *Detector) candleWindow(symbol string) *market.CandleWindow {
	w, ok := d.candles[symbol]
	if !ok {
		w = market.NewCandleWindow(candleHistorySize)
		d.candles[symbol] = w
	}
	return w
}

func (d *Detector) volWindow(symbol string) *stats.Window {
	w, ok := d.volHistory[symbol]
	if !ok {
		w = stats.NewWindow(volHistorySize)
		d.volHistory[symbol] = w
	}
	return w
}

func (d *Detector) appendRegimeHistory(symbol string, state RegimeState) {
	hist := append(d.regimeHist[symbol], state)
	if len(hist) > regimeHistorySize {
		hist = hist[len(hist)-regimeHistorySize:]
	}
	d.regimeHist[symbol] = hist
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
