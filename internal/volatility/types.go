package volatility

import (
	"time"

	"microstructure-engine/internal/market"
	"microstructure-engine/internal/regime"
)

// SignalType identifies the volatility setup that produced a signal
type SignalType string

const (
	SignalVolatilityBreakout SignalType = "VOLATILITY_BREAKOUT"
	SignalMeanReversion      SignalType = "MEAN_REVERSION"
	SignalRegimeShift        SignalType = "REGIME_SHIFT"
)

// AlertType identifies the kind of extreme event detected
type AlertType string

const (
	AlertTailRisk            AlertType = "TAIL_RISK"
	AlertJump                AlertType = "JUMP"
	AlertVolatilityExplosion AlertType = "VOLATILITY_EXPLOSION"
)

// Action is the recommended defensive response to a black swan alert
type Action string

const (
	ActionReduceExposure Action = "REDUCE_EXPOSURE"
	ActionHedge          Action = "HEDGE"
	ActionCloseAll       Action = "CLOSE_ALL"
)

// RegimeState is a point-in-time regime assessment for one symbol
type RegimeState struct {
	Symbol          string        `json:"symbol"`
	Timestamp       time.Time     `json:"timestamp"`
	Regime          regime.Regime `json:"regime"`
	Confidence      float64       `json:"confidence"`
	RealizedVol     float64       `json:"realized_vol"`
	ForecastVol     float64       `json:"forecast_vol"`
	VolPercentile   float64       `json:"vol_percentile"`
	VolOfVol        float64       `json:"vol_of_vol"`
	DurationMinutes int           `json:"duration_minutes"`
}

// BlackSwanAlert flags an extreme market event requiring defensive action
type BlackSwanAlert struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Timestamp   time.Time `json:"timestamp"`
	Type        AlertType `json:"alert_type"`
	Severity    float64   `json:"severity"` // 0.0 to 1.0
	Description string    `json:"description"`
	Action      Action    `json:"recommended_action"`
}

// Signal is a volatility-derived trading signal with attached risk guidance
type Signal struct {
	ID                  string           `json:"id"`
	Symbol              string           `json:"symbol"`
	Timestamp           time.Time        `json:"timestamp"`
	Type                SignalType       `json:"signal_type"`
	Direction           market.Direction `json:"direction"`
	Confidence          float64          `json:"confidence"`
	Regime              regime.Regime    `json:"current_regime"`
	ExpectedVol         float64          `json:"expected_vol"`
	SizeMultiplier      float64          `json:"position_size_multiplier"`
	StopATRMultiplier   float64          `json:"stop_loss_multiplier"`
	TargetATRMultiplier float64          `json:"take_profit_multiplier"`
	MaxHoldMinutes      int              `json:"max_hold_time_minutes"`
	RiskScore           float64          `json:"risk_score"` // 0.0 to 1.0
}

// RiskParameters are the regime-appropriate risk limits for a symbol
type RiskParameters struct {
	Symbol                  string        `json:"symbol"`
	Regime                  regime.Regime `json:"regime"`
	PositionSizeMultiplier  float64       `json:"position_size_multiplier"`
	StopLossATRMultiplier   float64       `json:"stop_loss_atr_multiplier"`
	TakeProfitATRMultiplier float64       `json:"take_profit_atr_multiplier"`
	MaxLeverage             float64       `json:"max_leverage"`
	MaxPositions            int           `json:"max_positions"`
	CircuitBreakerThreshold float64       `json:"circuit_breaker_threshold"`
}

// Metrics is the full set of volatility measures computed on a candle close
type Metrics struct {
	RealizedVolShort  float64   `json:"realized_vol_short"`
	RealizedVolMedium float64   `json:"realized_vol_medium"`
	RealizedVolLong   float64   `json:"realized_vol_long"`
	ParkinsonVol      float64   `json:"parkinson_vol"`
	GarmanKlassVol    float64   `json:"garman_klass_vol"`
	RogersSatchellVol float64   `json:"rogers_satchell_vol"`
	YangZhangVol      float64   `json:"yang_zhang_vol"`
	PrimaryVol        float64   `json:"primary_vol"`
	GARCHForecast     float64   `json:"garch_forecast"`
	ATR               float64   `json:"atr"`
	VolOfVol          float64   `json:"vol_of_vol"`
	CurrentPrice      float64   `json:"current_price"`
	Returns           []float64 `json:"-"`
}
