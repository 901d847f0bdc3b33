package engine

import (
	"time"

	"microstructure-engine/internal/footprint"
	"microstructure-engine/internal/market"
	"microstructure-engine/internal/regime"
	"microstructure-engine/internal/scoring"
	"microstructure-engine/internal/sizing"
)

// EnhancedSignal is the pipeline output: a base candidate that cleared
// every gate, carrying its score, regime read, sizing and order-flow
// evidence.
type EnhancedSignal struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Strategy  string           `json:"strategy_name"`
	Direction market.Direction `json:"direction"`

	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	Score   float64         `json:"signal_score"` // 0 to 100
	Quality scoring.Quality `json:"signal_quality"`

	Regime           regime.Regime `json:"regime_id"`
	RegimeName       string        `json:"regime_name"`
	RegimeConfidence float64       `json:"regime_confidence"`
	RegimeSource     regime.Source `json:"regime_source"`

	SizeUSD      float64       `json:"recommended_size_usd"`
	SizeBase     float64       `json:"recommended_size_base"`
	MaxLossUSD   float64       `json:"max_loss_usd"`
	SizingMethod sizing.Method `json:"sizing_method"`

	MTFAlignment  float64 `json:"mtf_alignment"`
	MTFConfidence float64 `json:"mtf_confidence"`

	DeltaDivergence footprint.Divergence `json:"delta_divergence"`
	CumulativeDelta float64              `json:"cumulative_delta"`

	Confidence float64   `json:"confidence"` // base x score confidence
	Strengths  []string  `json:"strengths"`
	Weaknesses []string  `json:"weaknesses"`
	Timestamp  time.Time `json:"timestamp"`
}

// candidate is a base signal normalized for the enhancement pipeline
type candidate struct {
	signalID     string
	strategy     string
	direction    market.Direction
	entry        float64
	stop         float64
	takeProfit   float64
	confidence   float64
	riskReward   float64
	nearKeyLevel bool
	whaleBacked  bool
}
