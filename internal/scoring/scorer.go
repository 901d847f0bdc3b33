// Package scoring grades candidate signals on six weighted factors and
// turns the blend into a trade/no-trade recommendation.
package scoring

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/regime"
	"microstructure-engine/internal/stats"
)

// Quality buckets the total score
type Quality string

const (
	QualityExcellent Quality = "EXCELLENT" // >= 90
	QualityGood      Quality = "GOOD"      // >= 75
	QualityFair      Quality = "FAIR"      // >= 60
	QualityPoor      Quality = "POOR"      // < 60
)

// Weights are the relative importance of each component. They must
// sum to 1.0.
type Weights struct {
	Technical  float64 `json:"technical" yaml:"technical"`
	Volume     float64 `json:"volume" yaml:"volume"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
	Momentum   float64 `json:"momentum" yaml:"momentum"`
	RiskReward float64 `json:"risk_reward" yaml:"risk_reward"`
	Timing     float64 `json:"timing" yaml:"timing"`
}

// DefaultWeights returns the standard component weighting
func DefaultWeights() Weights {
	return Weights{
		Technical:  0.30,
		Volume:     0.20,
		Volatility: 0.15,
		Momentum:   0.15,
		RiskReward: 0.10,
		Timing:     0.10,
	}
}

func (w Weights) sum() float64 {
	return w.Technical + w.Volume + w.Volatility + w.Momentum + w.RiskReward + w.Timing
}

// Config holds the signal scorer settings
type Config struct {
	MinScoreToTrade float64 `json:"min_score_to_trade" yaml:"min_score_to_trade" validate:"gte=0,lte=100"`
	Weights         Weights `json:"weights" yaml:"weights"`
}

// DefaultConfig returns the default scorer configuration
func DefaultConfig() *Config {
	return &Config{
		MinScoreToTrade: 70.0,
		Weights:         DefaultWeights(),
	}
}

// Context carries the evidence a candidate signal is judged on
type Context struct {
	// Technical
	NearKeyLevel      bool
	IndicatorsAligned bool
	PatternDetected   bool

	// Volume
	WhaleActivity bool
	VolumeRatio   float64 // current / average
	BookImbalance float64 // -1 to +1

	// Volatility
	Regime        regime.Regime
	VolPercentile float64 // 0 to 100

	// Momentum
	TrendStrength        float64 // 0 to 1
	MomentumAcceleration float64 // -1 to +1

	// Risk/reward
	RiskReward      float64
	StopDistancePct float64 // fraction, 0.01 = 1%

	// Timing
	Liquidity     float64 // 0 to 1
	SpreadQuality float64 // 0 to 1, tight spread = 1
}

// Score is the graded assessment of one candidate signal
type Score struct {
	TotalScore float64 `json:"total_score"` // 0 to 100
	Quality    Quality `json:"quality"`

	TechnicalScore  float64 `json:"technical_score"`
	VolumeScore     float64 `json:"volume_score"`
	VolatilityScore float64 `json:"volatility_score"`
	MomentumScore   float64 `json:"momentum_score"`
	RiskRewardScore float64 `json:"risk_reward_score"`
	TimingScore     float64 `json:"timing_score"`

	Confidence       float64  `json:"confidence"` // 0.5 to 1.0
	TradeRecommended bool     `json:"trade_recommended"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	Reasoning        []string `json:"reasoning"`
}

// Scorer grades candidates with additive per-factor rules and a
// weighted blend. Confidence rewards consistency across components
// over a single strong dimension.
type Scorer struct {
	config *Config
	logger zerolog.Logger
}

// NewScorer creates a signal scorer
func NewScorer(config *Config, logger zerolog.Logger) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Weights == (Weights{}) {
		config.Weights = DefaultWeights()
	}
	return &Scorer{
		config: config,
		logger: logger.With().Str("component", "SignalScorer").Logger(),
	}
}

// MinScoreToTrade returns the recommendation threshold
func (s *Scorer) MinScoreToTrade() float64 {
	return s.config.MinScoreToTrade
}

// SetWeights replaces the component weights. The new weights must sum
// to 1.0 within tolerance.
func (s *Scorer) SetWeights(w Weights) error {
	if total := w.sum(); total < 0.99 || total > 1.01 {
		return fmt.Errorf("weights must sum to 1.0, got %.2f", total)
	}
	s.config.Weights = w
	return nil
}

// ScoreSignal grades a candidate against the supplied evidence
func (s *Scorer) ScoreSignal(ctx Context) Score {
	score := Score{
		TechnicalScore:  scoreTechnical(ctx),
		VolumeScore:     scoreVolume(ctx),
		VolatilityScore: scoreVolatility(ctx),
		MomentumScore:   scoreMomentum(ctx),
		RiskRewardScore: scoreRiskReward(ctx),
		TimingScore:     scoreTiming(ctx),
	}

	w := s.config.Weights
	score.TotalScore = score.TechnicalScore*w.Technical +
		score.VolumeScore*w.Volume +
		score.VolatilityScore*w.Volatility +
		score.MomentumScore*w.Momentum +
		score.RiskRewardScore*w.RiskReward +
		score.TimingScore*w.Timing

	switch {
	case score.TotalScore >= 90:
		score.Quality = QualityExcellent
	case score.TotalScore >= 75:
		score.Quality = QualityGood
	case score.TotalScore >= 60:
		score.Quality = QualityFair
	default:
		score.Quality = QualityPoor
	}

	components := []float64{
		score.TechnicalScore, score.VolumeScore, score.VolatilityScore,
		score.MomentumScore, score.RiskRewardScore, score.TimingScore,
	}
	score.Confidence = math.Max(0.5, math.Min(1.0, 1.0-stats.Std(components)/50.0))
	score.TradeRecommended = score.TotalScore >= s.config.MinScoreToTrade

	names := []string{"Technical", "Volume", "Volatility", "Momentum", "Risk/Reward", "Timing"}
	for i, c := range components {
		switch {
		case c >= 80:
			score.Strengths = append(score.Strengths, fmt.Sprintf("Strong %s (%.0f/100)", names[i], c))
		case c < 50:
			score.Weaknesses = append(score.Weaknesses, fmt.Sprintf("Weak %s (%.0f/100)", names[i], c))
		}
		score.Reasoning = append(score.Reasoning, fmt.Sprintf("%s: %.0f/100", names[i], c))
	}
	return score
}

func scoreTechnical(ctx Context) float64 {
	score := 50.0
	if ctx.NearKeyLevel {
		score += 20
	}
	if ctx.IndicatorsAligned {
		score += 20
	}
	if ctx.PatternDetected {
		score += 10
	}
	return math.Min(100, score)
}

func scoreVolume(ctx Context) float64 {
	score := 40.0
	if ctx.WhaleActivity {
		score += 30
	}
	switch {
	case ctx.VolumeRatio >= 2.0:
		score += 20
	case ctx.VolumeRatio >= 1.5:
		score += 10
	}
	if math.Abs(ctx.BookImbalance) > 0.3 {
		score += 10
	}
	return math.Min(100, score)
}

func scoreVolatility(ctx Context) float64 {
	var base float64
	switch ctx.Regime {
	case regime.Low:
		base = 80
	case regime.Medium:
		base = 70
	case regime.High:
		base = 50
	default:
		base = 20
	}
	switch {
	case ctx.VolPercentile >= 30 && ctx.VolPercentile <= 70:
		base += 10
	case ctx.VolPercentile > 90:
		base -= 10
	}
	return stats.Clamp(base, 0, 100)
}

func scoreMomentum(ctx Context) float64 {
	score := 50.0 + ctx.TrendStrength*30 + math.Min(20, ctx.MomentumAcceleration*20)
	return stats.Clamp(score, 0, 100)
}

func scoreRiskReward(ctx Context) float64 {
	score := 30.0
	switch {
	case ctx.RiskReward >= 3.0:
		score += 40
	case ctx.RiskReward >= 2.0:
		score += 30
	case ctx.RiskReward >= 1.5:
		score += 20
	}
	switch {
	case ctx.StopDistancePct > 0 && ctx.StopDistancePct <= 0.01:
		score += 20
	case ctx.StopDistancePct > 0 && ctx.StopDistancePct <= 0.02:
		score += 10
	}
	return math.Min(90, score)
}

func scoreTiming(ctx Context) float64 {
	score := 50.0 + ctx.Liquidity*30 + ctx.SpreadQuality*20
	return stats.Clamp(score, 0, 100)
}
