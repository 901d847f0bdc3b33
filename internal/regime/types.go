// Package regime defines the volatility regime taxonomy shared across the
// engine and the classifier that assigns regimes from market features.
// One enum covers both the threshold-based detector and the model-based
// classifier so downstream consumers never translate between taxonomies.
package regime

import "fmt"

// Regime classifies market volatility into four levels. The numeric codes
// are stable and used as model class labels.
type Regime int

const (
	Low Regime = iota
	Medium
	High
	Extreme
)

// String returns the short regime name.
func (r Regime) String() string {
	switch r {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Extreme:
		return "EXTREME"
	default:
		return "UNKNOWN"
	}
}

// Description returns the long-form market character name.
func (r Regime) Description() string {
	switch r {
	case Low:
		return "LOW_VOLATILITY_TRENDING"
	case Medium:
		return "MEDIUM_VOLATILITY_RANGING"
	case High:
		return "HIGH_VOLATILITY_TRENDING"
	case Extreme:
		return "EXTREME_VOLATILITY_CHAOS"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether r is one of the four defined regimes.
func (r Regime) Valid() bool {
	return r >= Low && r <= Extreme
}

// Parse converts a short regime name into a Regime.
func Parse(s string) (Regime, error) {
	switch s {
	case "LOW":
		return Low, nil
	case "MEDIUM":
		return Medium, nil
	case "HIGH":
		return High, nil
	case "EXTREME":
		return Extreme, nil
	default:
		return Low, fmt.Errorf("unknown regime %q", s)
	}
}

// Source identifies how a regime assessment was produced.
type Source string

const (
	SourceRule  Source = "RULE"  // threshold fallback
	SourceModel Source = "MODEL" // trained ensemble
)
