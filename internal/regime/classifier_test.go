package regime

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// calmFeatures builds a feature snapshot typical of a quiet market,
// jittered by r so training sets are not degenerate.
func calmFeatures(r *rand.Rand) Features {
	return Features{
		RealizedVol1h:       0.08 + r.Float64()*0.02,
		RealizedVol4h:       0.09 + r.Float64()*0.02,
		RealizedVol24h:      0.10 + r.Float64()*0.02,
		VolOfVol:            0.02 + r.Float64()*0.01,
		Volume1h:            1e6 + r.Float64()*1e5,
		Volume4h:            4e6 + r.Float64()*1e5,
		Volume24h:           2e7 + r.Float64()*1e6,
		VolumeRatio:         1.0 + r.Float64()*0.1,
		Returns1h:           r.Float64()*0.002 - 0.001,
		Returns4h:           r.Float64()*0.004 - 0.002,
		Returns24h:          r.Float64()*0.01 - 0.005,
		PriceRange1h:        0.004 + r.Float64()*0.002,
		SpreadBps:           2 + r.Float64(),
		BookImbalance:       r.Float64()*0.2 - 0.1,
		DepthImbalance:      r.Float64()*0.2 - 0.1,
		TradeAggression:     0.52 + r.Float64()*0.05,
		LargeTradeFrequency: 0.05 + r.Float64()*0.02,
	}
}

// wildFeatures builds a snapshot typical of a chaotic market.
func wildFeatures(r *rand.Rand) Features {
	return Features{
		RealizedVol1h:       0.9 + r.Float64()*0.2,
		RealizedVol4h:       0.85 + r.Float64()*0.2,
		RealizedVol24h:      0.8 + r.Float64()*0.2,
		VolOfVol:            1.5 + r.Float64()*0.5,
		Volume1h:            8e6 + r.Float64()*1e6,
		Volume4h:            3e7 + r.Float64()*1e6,
		Volume24h:           1.2e8 + r.Float64()*1e7,
		VolumeRatio:         3.0 + r.Float64(),
		Returns1h:           0.03 + r.Float64()*0.02,
		Returns4h:           0.06 + r.Float64()*0.03,
		Returns24h:          0.10 + r.Float64()*0.05,
		PriceRange1h:        0.05 + r.Float64()*0.02,
		SpreadBps:           20 + r.Float64()*10,
		BookImbalance:       0.5 + r.Float64()*0.3,
		DepthImbalance:      0.4 + r.Float64()*0.3,
		TradeAggression:     0.8 + r.Float64()*0.1,
		LargeTradeFrequency: 0.4 + r.Float64()*0.1,
	}
}

// TestUntrainedFallsBackToRules verifies the threshold classification
// is used before any training happens
func TestUntrainedFallsBackToRules(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	cases := []struct {
		vol24h float64
		want   Regime
	}{
		{0.10, Low},
		{0.20, Medium},
		{0.45, High},
		{0.75, Extreme},
	}
	for _, tc := range cases {
		a := c.Classify(Features{RealizedVol24h: tc.vol24h}, testTime)
		if a.Regime != tc.want {
			t.Errorf("vol %.2f: expected %s, got %s", tc.vol24h, tc.want, a.Regime)
		}
		if a.Source != SourceRule {
			t.Errorf("vol %.2f: expected rule source, got %s", tc.vol24h, a.Source)
		}
		if a.Confidence != 0.7 {
			t.Errorf("vol %.2f: expected fallback confidence 0.7, got %v", tc.vol24h, a.Confidence)
		}
	}
}

// TestTrainRequiresMinimumSamples verifies Train rejects small sets
func TestTrainRequiresMinimumSamples(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())
	r := rand.New(rand.NewSource(7))

	features := make([]Features, 10)
	labels := make([]Regime, 10)
	for i := range features {
		features[i] = calmFeatures(r)
		labels[i] = Low
	}
	err := c.Train(features, labels)
	if !errors.Is(err, ErrInsufficientTraining) {
		t.Fatalf("Expected ErrInsufficientTraining, got %v", err)
	}
	if c.Trained() {
		t.Error("Classifier should remain untrained after failed Train")
	}
}

// TestTrainedEnsembleSeparatesRegimes verifies the ensemble learns an
// obvious calm/chaos split and reports model provenance
func TestTrainedEnsembleSeparatesRegimes(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())
	r := rand.New(rand.NewSource(42))

	var features []Features
	var labels []Regime
	for i := 0; i < 60; i++ {
		features = append(features, calmFeatures(r))
		labels = append(labels, Low)
	}
	for i := 0; i < 60; i++ {
		features = append(features, wildFeatures(r))
		labels = append(labels, Extreme)
	}
	if err := c.Train(features, labels); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if !c.Trained() {
		t.Fatal("Classifier should be trained")
	}

	calm := c.Classify(calmFeatures(r), testTime)
	if calm.Regime != Low {
		t.Errorf("Calm snapshot classified as %s", calm.Regime)
	}
	if calm.Source != SourceModel {
		t.Errorf("Expected model source, got %s", calm.Source)
	}
	if calm.Confidence <= 0 || calm.Confidence > 1 {
		t.Errorf("Confidence out of range: %v", calm.Confidence)
	}

	wild := c.Classify(wildFeatures(r), testTime)
	if wild.Regime != Extreme {
		t.Errorf("Wild snapshot classified as %s", wild.Regime)
	}
}

// TestTransitionProbability verifies the uniform prior and the
// empirical estimate once history accumulates
func TestTransitionProbability(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	if p := c.TransitionProbability(Low, High); p != 0.25 {
		t.Errorf("Expected uniform prior 0.25, got %v", p)
	}

	// Alternate Low and Medium so every Low is followed by Medium.
	for i := 0; i < 60; i++ {
		vol := 0.10
		if i%2 == 1 {
			vol = 0.25
		}
		c.Classify(Features{RealizedVol24h: vol}, testTime.Add(time.Duration(i)*time.Minute))
	}

	if p := c.TransitionProbability(Low, Medium); p != 1.0 {
		t.Errorf("Expected P(Low->Medium)=1.0, got %v", p)
	}
	if p := c.TransitionProbability(Low, High); p != 0.0 {
		t.Errorf("Expected P(Low->High)=0.0, got %v", p)
	}
}
