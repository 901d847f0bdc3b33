package volatility

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// TestRealizedVolatility verifies the close-to-close estimator and its
// annualization
func TestRealizedVolatility(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.01, -0.01}

	raw := RealizedVolatility(returns, false)
	if !almostEqual(raw, 0.01, 1e-12) {
		t.Errorf("Expected raw vol 0.01, got %v", raw)
	}

	annualized := RealizedVolatility(returns, true)
	want := 0.01 * math.Sqrt(MinutesPerDay)
	if !almostEqual(annualized, want, 1e-9) {
		t.Errorf("Expected annualized vol %v, got %v", want, annualized)
	}

	if got := RealizedVolatility([]float64{0.01}, true); got != 0 {
		t.Errorf("Expected 0 for a single return, got %v", got)
	}
}

// TestParkinsonVolatility verifies the range estimator against a
// constant high-low spread, where the mean collapses to a closed form
func TestParkinsonVolatility(t *testing.T) {
	highs := []float64{101, 101, 101, 101, 101}
	lows := []float64{100, 100, 100, 100, 100}

	got := ParkinsonVolatility(highs, lows, false)
	want := math.Log(1.01) / math.Sqrt(4*math.Ln2)
	if !almostEqual(got, want, 1e-12) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if got := ParkinsonVolatility(highs, lows[:3], false); got != 0 {
		t.Errorf("Expected 0 for mismatched lengths, got %v", got)
	}
	if got := ParkinsonVolatility(highs[:1], lows[:1], false); got != 0 {
		t.Errorf("Expected 0 for a single bar, got %v", got)
	}
}

// TestGarmanKlassVolatility verifies that the open-to-close term drops
// out for doji bars and that a negative variance estimate is floored
func TestGarmanKlassVolatility(t *testing.T) {
	t.Run("doji bars", func(t *testing.T) {
		opens := []float64{100, 100}
		highs := []float64{101, 101}
		lows := []float64{100, 100}
		closes := []float64{100, 100}

		got := GarmanKlassVolatility(opens, highs, lows, closes, false)
		want := math.Sqrt(0.5) * math.Log(1.01)
		if !almostEqual(got, want, 1e-12) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("negative estimate floored", func(t *testing.T) {
		// Close far outside the high-low range drives the estimate
		// negative. Only possible with corrupt bars.
		opens := []float64{100, 100}
		highs := []float64{100.1, 100.1}
		lows := []float64{99.9, 99.9}
		closes := []float64{110, 110}

		if got := GarmanKlassVolatility(opens, highs, lows, closes, false); got != 0 {
			t.Errorf("Expected 0 for negative variance estimate, got %v", got)
		}
	})
}

// TestRogersSatchellVolatility verifies drift independence: bars that
// open at the low and close at the high contribute zero variance
func TestRogersSatchellVolatility(t *testing.T) {
	opens := []float64{100, 101}
	lows := []float64{100, 101}
	closes := []float64{101, 102.01}
	highs := []float64{101, 102.01}

	if got := RogersSatchellVolatility(opens, highs, lows, closes, false); got != 0 {
		t.Errorf("Expected 0 for pure drift bars, got %v", got)
	}

	corrupt := []float64{110, 110}
	if got := RogersSatchellVolatility([]float64{100, 100}, []float64{105, 105}, []float64{99, 99}, corrupt, false); got != 0 {
		t.Errorf("Expected 0 for corrupt bars, got %v", got)
	}
}

// TestYangZhangVolatility verifies the component weighting when the
// overnight and open-to-close variances vanish
func TestYangZhangVolatility(t *testing.T) {
	opens := []float64{100, 100}
	highs := []float64{101, 101}
	lows := []float64{99, 99}
	closes := []float64{100, 100}

	rs := RogersSatchellVolatility(opens, highs, lows, closes, false)
	if rs <= 0 {
		t.Fatalf("Expected positive Rogers-Satchell vol, got %v", rs)
	}
	k := 0.34 / (1.34 + 3.0)
	want := math.Sqrt((1 - k) * rs * rs)

	got := YangZhangVolatility(opens, highs, lows, closes, false)
	if !almostEqual(got, want, 1e-12) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	annualized := YangZhangVolatility(opens, highs, lows, closes, true)
	if !almostEqual(annualized, want*math.Sqrt(MinutesPerDay), 1e-9) {
		t.Errorf("Expected annualized %v, got %v", want*math.Sqrt(MinutesPerDay), annualized)
	}
}

// TestATR verifies Wilder smoothing against a hand-computed series
func TestATR(t *testing.T) {
	highs := []float64{10, 11, 12, 13}
	lows := []float64{9, 10, 11, 12}
	closes := []float64{9.5, 10.5, 11.5, 12.5}

	series := ATR(highs, lows, closes, 2)
	if len(series) != 3 {
		t.Fatalf("Expected 3 ATR values, got %d", len(series))
	}
	want := []float64{1.25, 1.375, 1.4375}
	for i, w := range want {
		if !almostEqual(series[i], w, 1e-12) {
			t.Errorf("ATR[%d]: expected %v, got %v", i, w, series[i])
		}
	}

	if got := ATR(highs[:1], lows[:1], closes[:1], 2); got != nil {
		t.Errorf("Expected nil for insufficient bars, got %v", got)
	}
	if got := ATR(highs, lows[:2], closes, 2); got != nil {
		t.Errorf("Expected nil for mismatched lengths, got %v", got)
	}
}

// TestGARCH verifies fitting thresholds and the long-run forecast
func TestGARCH(t *testing.T) {
	t.Run("insufficient data", func(t *testing.T) {
		var g GARCH
		err := g.Fit(make([]float64, 49))
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("Expected ErrInsufficientData, got %v", err)
		}
		if g.Fitted() {
			t.Error("Expected model to stay unfitted")
		}
	})

	t.Run("unfitted forecast", func(t *testing.T) {
		var g GARCH
		if got := g.Forecast(); got != 0 {
			t.Errorf("Expected 0 from unfitted model, got %v", got)
		}
	})

	t.Run("long-run forecast", func(t *testing.T) {
		returns := make([]float64, 100)
		for i := range returns {
			returns[i] = 0.01
			if i%2 == 1 {
				returns[i] = -0.01
			}
		}
		var g GARCH
		if err := g.Fit(returns); err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		// Omega is a tenth of the sample variance with persistence
		// alpha+beta = 0.95, so the long-run vol is std * sqrt(2).
		want := 0.01 * math.Sqrt2
		if got := g.Forecast(); !almostEqual(got, want, 1e-9) {
			t.Errorf("Expected forecast %v, got %v", want, got)
		}

		if got := GARCHForecast(returns); !almostEqual(got, want, 1e-9) {
			t.Errorf("Expected convenience forecast %v, got %v", want, got)
		}
	})

	t.Run("convenience fallback", func(t *testing.T) {
		if got := GARCHForecast(make([]float64, 10)); got != 0 {
			t.Errorf("Expected 0 for short series, got %v", got)
		}
	})
}

// TestVolOfVol verifies the windowed second moment of a vol series
func TestVolOfVol(t *testing.T) {
	vols := []float64{1, 2, 3}
	if got := VolOfVol(vols, 5); got != 0 {
		t.Errorf("Expected 0 below window size, got %v", got)
	}
	want := math.Sqrt(2.0 / 3.0)
	if got := VolOfVol(vols, 3); !almostEqual(got, want, 1e-12) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
