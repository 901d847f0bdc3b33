// Package sizing converts scored signals into concrete position sizes.
// Four methods share one guarantee: the worst-case loss never exceeds
// the portfolio's per-trade risk budget.
package sizing

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/stats"
)

// Method selects the sizing calculation
type Method string

const (
	MethodKelly           Method = "KELLY_CRITERION"
	MethodVolatility      Method = "VOLATILITY_TARGET"
	MethodRiskParity      Method = "RISK_PARITY"
	MethodFixedFractional Method = "FIXED_FRACTIONAL"
	methodFallback        Method = "FALLBACK_FIXED"
)

// ErrInvalidConfig reports a sizing configuration that would produce
// unsafe sizes. Raised at construction, never mid-stream.
var ErrInvalidConfig = errors.New("invalid sizing config")

// Config holds the position sizer settings. Kelly inputs are the
// strategy's tracked trade statistics.
type Config struct {
	Method           Method  `json:"method" yaml:"method" validate:"oneof=KELLY_CRITERION VOLATILITY_TARGET RISK_PARITY FIXED_FRACTIONAL"`
	MaxRiskPerTrade  float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade" validate:"gt=0,lte=1"`
	TargetVolatility float64 `json:"target_volatility" yaml:"target_volatility" validate:"gt=0"`
	KellyFraction    float64 `json:"kelly_fraction" yaml:"kelly_fraction" validate:"gt=0,lte=1"`
	WinRate          float64 `json:"win_rate" yaml:"win_rate" validate:"gt=0,lt=1"`
	AvgWinUSD        float64 `json:"avg_win_usd" yaml:"avg_win_usd" validate:"gt=0"`
	AvgLossUSD       float64 `json:"avg_loss_usd" yaml:"avg_loss_usd" validate:"gt=0"`
	FixedFraction    float64 `json:"fixed_fraction" yaml:"fixed_fraction" validate:"gt=0,lte=1"`
	MaxVolScalar     float64 `json:"max_vol_scalar" yaml:"max_vol_scalar" validate:"gt=0"`
}

// DefaultConfig returns conservative sizing defaults: quarter-Kelly,
// 2% trade risk, 15% volatility target.
func DefaultConfig() *Config {
	return &Config{
		Method:           MethodKelly,
		MaxRiskPerTrade:  0.02,
		TargetVolatility: 0.15,
		KellyFraction:    0.25,
		WinRate:          0.55,
		AvgWinUSD:        120,
		AvgLossUSD:       60,
		FixedFraction:    0.02,
		MaxVolScalar:     2.0,
	}
}

// Request carries the per-signal inputs to a sizing calculation
type Request struct {
	Symbol          string
	Price           float64
	StopDistancePct float64 // fraction of entry price
	RealizedVol     float64 // annualized, for volatility and parity methods
}

// Recommendation is a sized position with its risk bound
type Recommendation struct {
	Symbol      string  `json:"symbol"`
	SizeUSD     float64 `json:"recommended_size_usd"`
	SizeBase    float64 `json:"recommended_size_base"`
	MaxLossUSD  float64 `json:"max_loss_usd"`
	RiskPercent float64 `json:"risk_percent"`
	Method      Method  `json:"sizing_method"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// Sizer computes position sizes against a live portfolio value. It
// remembers per-symbol realized volatility so risk parity can weight
// symbols against the book.
type Sizer struct {
	mu        sync.RWMutex
	config    *Config
	portfolio Portfolio
	logger    zerolog.Logger

	symbolVols map[string]float64
}

// NewSizer creates a position sizer. Configuration errors fail here,
// not during signal processing.
func NewSizer(config *Config, portfolio Portfolio, logger zerolog.Logger) (*Sizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if portfolio == nil {
		return nil, fmt.Errorf("%w: nil portfolio", ErrInvalidConfig)
	}
	if portfolio.Value() <= 0 {
		return nil, fmt.Errorf("%w: non-positive portfolio value %.2f", ErrInvalidConfig, portfolio.Value())
	}
	if config.MaxRiskPerTrade <= 0 || config.MaxRiskPerTrade > 1 {
		return nil, fmt.Errorf("%w: max_risk_per_trade %.4f outside (0,1]", ErrInvalidConfig, config.MaxRiskPerTrade)
	}
	if config.AvgLossUSD <= 0 {
		return nil, fmt.Errorf("%w: avg_loss_usd must be positive", ErrInvalidConfig)
	}
	if config.KellyFraction <= 0 || config.KellyFraction > 1 {
		return nil, fmt.Errorf("%w: kelly_fraction %.2f outside (0,1]", ErrInvalidConfig, config.KellyFraction)
	}
	return &Sizer{
		config:     config,
		portfolio:  portfolio,
		logger:     logger.With().Str("component", "AdvancedPositionSizer").Logger(),
		symbolVols: make(map[string]float64),
	}, nil
}

// ObserveVolatility records a symbol's latest realized volatility for
// risk parity weighting
func (s *Sizer) ObserveVolatility(symbol string, vol float64) {
	if vol <= 0 {
		return
	}
	s.mu.Lock()
	s.symbolVols[symbol] = vol
	s.mu.Unlock()
}

// Recommend sizes a position using the configured method. Degenerate
// per-signal inputs degrade to the fixed-fractional fallback rather
// than erroring mid-stream.
func (s *Sizer) Recommend(req Request) Recommendation {
	return s.RecommendWith(s.config.Method, req)
}

// RecommendWith sizes a position using an explicit method
func (s *Sizer) RecommendWith(method Method, req Request) Recommendation {
	if req.Price <= 0 || req.StopDistancePct <= 0 {
		return s.fallback(req, "degenerate price or stop distance")
	}

	var rec Recommendation
	switch method {
	case MethodKelly:
		rec = s.kelly(req)
	case MethodVolatility:
		rec = s.volatilityTarget(req)
	case MethodRiskParity:
		rec = s.riskParity(req)
	case MethodFixedFractional:
		rec = s.fixedFractional(req)
	default:
		rec = s.fallback(req, fmt.Sprintf("unknown method %q", method))
	}

	s.logger.Debug().
		Str("symbol", req.Symbol).
		Str("method", string(rec.Method)).
		Float64("size_usd", rec.SizeUSD).
		Float64("max_loss_usd", rec.MaxLossUSD).
		Float64("risk_percent", rec.RiskPercent).
		Msg("Position sized")
	return rec
}

// kelly applies f = (bp - q)/b scaled by the Kelly fraction and
// clamped to the trade risk budget.
func (s *Sizer) kelly(req Request) Recommendation {
	b := s.config.AvgWinUSD / s.config.AvgLossUSD
	p := s.config.WinRate
	q := 1 - p

	f := (b*p - q) / b
	f *= s.config.KellyFraction
	f = stats.Clamp(f, 0, s.config.MaxRiskPerTrade)

	return s.build(req, f, MethodKelly, 0.9,
		fmt.Sprintf("quarter-Kelly f=%.4f from b=%.2f p=%.2f", f, b, p))
}

// volatilityTarget scales the base risk toward the volatility target:
// quiet markets size up, loud ones size down.
func (s *Sizer) volatilityTarget(req Request) Recommendation {
	vol := req.RealizedVol
	if vol <= 0 {
		vol = 0.20
	}
	scalar := math.Min(s.config.TargetVolatility/vol, s.config.MaxVolScalar)
	risk := stats.Clamp(s.config.MaxRiskPerTrade*scalar, 0, s.config.MaxRiskPerTrade)

	return s.build(req, risk, MethodVolatility, 0.85,
		fmt.Sprintf("vol scalar %.2f from realized %.2f vs target %.2f", scalar, vol, s.config.TargetVolatility))
}

// riskParity weights the symbol's risk budget by inverse volatility
// relative to the tracked book.
func (s *Sizer) riskParity(req Request) Recommendation {
	vol := req.RealizedVol
	if vol <= 0 {
		return s.volatilityTarget(req)
	}
	s.mu.RLock()
	inverseSum := 0.0
	count := 0
	for _, v := range s.symbolVols {
		if v > 0 {
			inverseSum += 1 / v
			count++
		}
	}
	s.mu.RUnlock()
	if count == 0 || inverseSum == 0 {
		return s.volatilityTarget(req)
	}

	weight := (1 / vol) / inverseSum
	risk := stats.Clamp(s.config.MaxRiskPerTrade*weight*float64(count), 0, s.config.MaxRiskPerTrade)

	return s.build(req, risk, MethodRiskParity, 0.8,
		fmt.Sprintf("inverse-vol weight %.3f over %d symbols", weight, count))
}

func (s *Sizer) fixedFractional(req Request) Recommendation {
	risk := stats.Clamp(s.config.FixedFraction, 0, s.config.MaxRiskPerTrade)
	return s.build(req, risk, MethodFixedFractional, 0.75,
		fmt.Sprintf("fixed fraction %.2f%%", risk*100))
}

func (s *Sizer) fallback(req Request, reason string) Recommendation {
	s.logger.Warn().Str("symbol", req.Symbol).Str("reason", reason).Msg("Sizing fell back to fixed risk")
	risk := s.config.MaxRiskPerTrade
	rec := Recommendation{
		Symbol:      req.Symbol,
		Method:      methodFallback,
		RiskPercent: risk,
		Confidence:  0.6,
		Reasoning:   reason,
	}
	if req.Price > 0 && req.StopDistancePct > 0 {
		rec.MaxLossUSD = s.portfolio.Value() * risk
		rec.SizeUSD = rec.MaxLossUSD / req.StopDistancePct
		rec.SizeBase = rec.SizeUSD / req.Price
	}
	return rec
}

// build turns a risk fraction into a sized recommendation. MaxLossUSD
// equals portfolio x risk by construction, so the per-trade budget
// holds for every method.
func (s *Sizer) build(req Request, risk float64, method Method, confidence float64, reasoning string) Recommendation {
	value := s.portfolio.Value()
	maxLoss := value * risk
	sizeUSD := maxLoss / req.StopDistancePct

	return Recommendation{
		Symbol:      req.Symbol,
		SizeUSD:     sizeUSD,
		SizeBase:    sizeUSD / req.Price,
		MaxLossUSD:  maxLoss,
		RiskPercent: risk,
		Method:      method,
		Confidence:  confidence,
		Reasoning:   reasoning,
	}
}

// GetMetrics returns sizing metrics for monitoring
func (s *Sizer) GetMetrics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"component":          "AdvancedPositionSizer",
		"method":             string(s.config.Method),
		"portfolio_value":    s.portfolio.Value(),
		"portfolio_updated":  s.portfolio.LastUpdated(),
		"max_risk_per_trade": s.config.MaxRiskPerTrade,
		"tracked_symbols":    len(s.symbolVols),
	}
}
