package regime

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrModelUnavailable reports that the trained ensemble could not
// produce a usable prediction. Callers fall back to the rule-based
// classification and never surface this to the stream.
var ErrModelUnavailable = errors.New("regime model unavailable")

// ErrInsufficientTraining reports that Train was called with too few
// labelled samples to fit the ensemble.
var ErrInsufficientTraining = errors.New("insufficient training data")

const (
	historySize        = 1000
	transitionMinCount = 50
	uniformPrior       = 0.25
)

// ClassifierConfig holds the ensemble classifier settings
type ClassifierConfig struct {
	MinTrainingSamples int     `json:"min_training_samples" yaml:"min_training_samples" validate:"gt=0"`
	CentroidWeight     float64 `json:"centroid_weight" yaml:"centroid_weight" validate:"gt=0,lte=1"`
	BayesWeight        float64 `json:"bayes_weight" yaml:"bayes_weight" validate:"gt=0,lte=1"`
	LowThreshold       float64 `json:"low_threshold" yaml:"low_threshold" validate:"gt=0"`
	MediumThreshold    float64 `json:"medium_threshold" yaml:"medium_threshold" validate:"gt=0"`
	HighThreshold      float64 `json:"high_threshold" yaml:"high_threshold" validate:"gt=0"`
	FallbackConfidence float64 `json:"fallback_confidence" yaml:"fallback_confidence"`
	BreakerMaxFailures uint32  `json:"breaker_max_failures" yaml:"breaker_max_failures"`
	BreakerCooldownSec int     `json:"breaker_cooldown_seconds" yaml:"breaker_cooldown_seconds"`
}

// DefaultClassifierConfig returns the default classifier configuration
func DefaultClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{
		MinTrainingSamples: 100,
		CentroidWeight:     0.6,
		BayesWeight:        0.4,
		LowThreshold:       0.15,
		MediumThreshold:    0.35,
		HighThreshold:      0.60,
		FallbackConfidence: 0.7,
		BreakerMaxFailures: 5,
		BreakerCooldownSec: 300,
	}
}

// Assessment is a single regime classification with provenance
type Assessment struct {
	Regime     Regime    `json:"regime"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// classStats holds per-class feature statistics in scaled space
type classStats struct {
	count    int
	mean     [FeatureCount]float64
	variance [FeatureCount]float64
}

// Classifier assigns volatility regimes from a feature snapshot. Two
// deterministic learners (nearest centroid and naive Bayes, both over
// standardized features) vote with fixed weights; until Train has seen
// enough labelled history, or whenever inference misbehaves and the
// breaker opens, classification falls back to volatility thresholds.
type Classifier struct {
	mu      sync.RWMutex
	config  *ClassifierConfig
	logger  zerolog.Logger
	breaker *gobreaker.CircuitBreaker

	trained    bool
	scaleMean  [FeatureCount]float64
	scaleStd   [FeatureCount]float64
	classes    [4]classStats
	history    []Regime
	modelCalls int
	ruleCalls  int
}

// NewClassifier creates a regime classifier. It starts untrained and
// rule-based; Train promotes it to the ensemble.
func NewClassifier(config *ClassifierConfig, logger zerolog.Logger) *Classifier {
	if config == nil {
		config = DefaultClassifierConfig()
	}
	c := &Classifier{
		config: config,
		logger: logger.With().Str("component", "RegimeClassifier").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "regime-ensemble",
		Timeout: time.Duration(config.BreakerCooldownSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Regime model breaker state change")
		},
	})
	return c
}

// Train fits both learners on labelled feature history. Requires at
// least MinTrainingSamples samples; returns ErrInsufficientTraining
// otherwise and leaves the classifier in its prior state.
func (c *Classifier) Train(features []Features, labels []Regime) error {
	if len(features) != len(labels) {
		return fmt.Errorf("feature/label length mismatch: %d vs %d", len(features), len(labels))
	}
	if len(features) < c.config.MinTrainingSamples {
		return fmt.Errorf("%w: %d/%d samples", ErrInsufficientTraining, len(features), c.config.MinTrainingSamples)
	}
	for i, label := range labels {
		if !label.Valid() {
			return fmt.Errorf("invalid label %d at index %d", label, i)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Fit the scaler on the full training set.
	var sum, sumSq [FeatureCount]float64
	for _, f := range features {
		v := f.Vector()
		for j := 0; j < FeatureCount; j++ {
			sum[j] += v[j]
			sumSq[j] += v[j] * v[j]
		}
	}
	n := float64(len(features))
	for j := 0; j < FeatureCount; j++ {
		c.scaleMean[j] = sum[j] / n
		variance := sumSq[j]/n - c.scaleMean[j]*c.scaleMean[j]
		if variance < 1e-12 {
			variance = 1e-12
		}
		c.scaleStd[j] = math.Sqrt(variance)
	}

	// Per-class statistics in scaled space.
	c.classes = [4]classStats{}
	var scaledSum, scaledSumSq [4][FeatureCount]float64
	for i, f := range features {
		label := labels[i]
		scaled := c.scale(f.Vector())
		c.classes[label].count++
		for j := 0; j < FeatureCount; j++ {
			scaledSum[label][j] += scaled[j]
			scaledSumSq[label][j] += scaled[j] * scaled[j]
		}
	}
	for class := range c.classes {
		count := float64(c.classes[class].count)
		if count == 0 {
			continue
		}
		for j := 0; j < FeatureCount; j++ {
			mean := scaledSum[class][j] / count
			variance := scaledSumSq[class][j]/count - mean*mean
			if variance < 1e-6 {
				variance = 1e-6
			}
			c.classes[class].mean[j] = mean
			c.classes[class].variance[j] = variance
		}
	}

	c.trained = true
	c.logger.Info().Int("samples", len(features)).Msg("Regime classifier trained")
	return nil
}

// Trained reports whether the ensemble has been fitted
func (c *Classifier) Trained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trained
}

// Classify assigns a regime to the feature snapshot. Model inference
// runs behind a circuit breaker; any failure degrades to the rule
// classification, never to an error.
func (c *Classifier) Classify(f Features, ts time.Time) Assessment {
	c.mu.RLock()
	trained := c.trained
	c.mu.RUnlock()

	var assessment Assessment
	if trained {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.predict(f, ts)
		})
		if err == nil {
			assessment = result.(Assessment)
		} else {
			c.logger.Debug().Err(err).Msg("Model inference unavailable, using rule fallback")
		}
	}
	if assessment.Source == "" {
		assessment = c.ruleClassification(f, ts)
	}

	c.mu.Lock()
	if assessment.Source == SourceModel {
		c.modelCalls++
	} else {
		c.ruleCalls++
	}
	c.history = append(c.history, assessment.Regime)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
	c.mu.Unlock()
	return assessment
}

// predict runs the weighted ensemble vote. Returns
// ErrModelUnavailable when the blended probabilities are degenerate.
func (c *Classifier) predict(f Features, ts time.Time) (Assessment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scaled := c.scale(f.Vector())
	centroid := c.centroidProbabilities(scaled)
	bayes := c.bayesProbabilities(scaled)

	var blended [4]float64
	best, bestProb := Low, -1.0
	for class := Low; class <= Extreme; class++ {
		blended[class] = c.config.CentroidWeight*centroid[class] + c.config.BayesWeight*bayes[class]
		if math.IsNaN(blended[class]) || math.IsInf(blended[class], 0) {
			return Assessment{}, fmt.Errorf("%w: non-finite probability for %s", ErrModelUnavailable, class)
		}
		if blended[class] > bestProb {
			best, bestProb = class, blended[class]
		}
	}
	if bestProb <= 0 {
		return Assessment{}, fmt.Errorf("%w: degenerate probabilities", ErrModelUnavailable)
	}

	return Assessment{
		Regime:     best,
		Confidence: bestProb,
		Source:     SourceModel,
		Timestamp:  ts,
	}, nil
}

// centroidProbabilities scores classes by distance to their training
// centroid, softmaxed so closer means more probable.
func (c *Classifier) centroidProbabilities(scaled [FeatureCount]float64) [4]float64 {
	var scores [4]float64
	for class := range c.classes {
		if c.classes[class].count == 0 {
			scores[class] = math.Inf(-1)
			continue
		}
		dist := 0.0
		for j := 0; j < FeatureCount; j++ {
			d := scaled[j] - c.classes[class].mean[j]
			dist += d * d
		}
		scores[class] = -math.Sqrt(dist)
	}
	return softmax(scores)
}

// bayesProbabilities scores classes by independent Gaussian likelihood
// per feature.
func (c *Classifier) bayesProbabilities(scaled [FeatureCount]float64) [4]float64 {
	var scores [4]float64
	for class := range c.classes {
		if c.classes[class].count == 0 {
			scores[class] = math.Inf(-1)
			continue
		}
		logLik := 0.0
		for j := 0; j < FeatureCount; j++ {
			mean := c.classes[class].mean[j]
			variance := c.classes[class].variance[j]
			d := scaled[j] - mean
			logLik += -0.5*math.Log(2*math.Pi*variance) - d*d/(2*variance)
		}
		scores[class] = logLik
	}
	return softmax(scores)
}

// ruleClassification is the threshold fallback on 24h realized vol.
func (c *Classifier) ruleClassification(f Features, ts time.Time) Assessment {
	vol := f.RealizedVol24h
	var reg Regime
	switch {
	case vol < c.config.LowThreshold:
		reg = Low
	case vol < c.config.MediumThreshold:
		reg = Medium
	case vol < c.config.HighThreshold:
		reg = High
	default:
		reg = Extreme
	}
	return Assessment{
		Regime:     reg,
		Confidence: c.config.FallbackConfidence,
		Source:     SourceRule,
		Timestamp:  ts,
	}
}

// TransitionProbability estimates P(next=target | current) from the
// classification history. With under 50 observations the estimate is
// the uniform prior over four regimes.
func (c *Classifier) TransitionProbability(current, target Regime) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.history) < transitionMinCount {
		return uniformPrior
	}
	transitions, total := 0, 0
	for i := 1; i < len(c.history); i++ {
		if c.history[i-1] != current {
			continue
		}
		total++
		if c.history[i] == target {
			transitions++
		}
	}
	if total == 0 {
		return uniformPrior
	}
	return float64(transitions) / float64(total)
}

// GetMetrics returns classifier metrics for monitoring
func (c *Classifier) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"component":     "RegimeClassifier",
		"trained":       c.trained,
		"model_calls":   c.modelCalls,
		"rule_calls":    c.ruleCalls,
		"history_size":  len(c.history),
		"breaker_state": c.breaker.State().String(),
	}
}

func (c *Classifier) scale(v [FeatureCount]float64) [FeatureCount]float64 {
	var scaled [FeatureCount]float64
	for j := 0; j < FeatureCount; j++ {
		scaled[j] = (v[j] - c.scaleMean[j]) / c.scaleStd[j]
	}
	return scaled
}

func softmax(scores [4]float64) [4]float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	var out [4]float64
	sum := 0.0
	for i, s := range scores {
		if math.IsInf(s, -1) {
			continue
		}
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
