// Package volatility implements the volatility estimators, GARCH
// forecasting and the regime detector that classifies market conditions
// and derives risk parameters from them.
package volatility

import (
	"errors"
	"math"

	"microstructure-engine/internal/stats"
)

// Annualization factors for 1-minute crypto data (24/7 markets).
const (
	MinutesPerDay  = 1440.0
	MinutesPerYear = 525600.0
)

// ErrInsufficientData is returned when a calculation needs more history
// than is available.
var ErrInsufficientData = errors.New("insufficient data")

// RealizedVolatility returns the standard deviation of returns,
// annualized by sqrt(minutes per day) when requested.
func RealizedVolatility(returns []float64, annualize bool) float64 {
	if len(returns) < 2 {
		return 0
	}
	vol := stats.Std(returns)
	if annualize {
		vol *= math.Sqrt(MinutesPerDay)
	}
	return vol
}

// ParkinsonVolatility estimates volatility from high-low ranges. More
// efficient than close-to-close since it captures intrabar movement.
func ParkinsonVolatility(highs, lows []float64, annualize bool) float64 {
	n := len(highs)
	if n < 2 || len(lows) != n {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		if highs[i] <= 0 || lows[i] <= 0 {
			return 0
		}
		hl := math.Log(highs[i] / lows[i])
		sum += hl * hl
	}
	return annualized(math.Sqrt(sum/float64(n)/(4*math.Ln2)), annualize)
}

// GarmanKlassVolatility estimates volatility from OHLC bars, folding in
// the open-to-close jump.
func GarmanKlassVolatility(opens, highs, lows, closes []float64, annualize bool) float64 {
	n := len(opens)
	if n < 2 || len(highs) != n || len(lows) != n || len(closes) != n {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		if opens[i] <= 0 || highs[i] <= 0 || lows[i] <= 0 || closes[i] <= 0 {
			return 0
		}
		hl := math.Log(highs[i] / lows[i])
		co := math.Log(closes[i] / opens[i])
		sum += 0.5*hl*hl - (2*math.Ln2-1)*co*co
	}
	mean := sum / float64(n)
	if mean < 0 {
		return 0
	}
	return annualized(math.Sqrt(mean), annualize)
}

// RogersSatchellVolatility estimates volatility independent of drift,
// which keeps it honest in trending markets.
func RogersSatchellVolatility(opens, highs, lows, closes []float64, annualize bool) float64 {
	n := len(opens)
	if n < 2 || len(highs) != n || len(lows) != n || len(closes) != n {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		if opens[i] <= 0 || highs[i] <= 0 || lows[i] <= 0 || closes[i] <= 0 {
			return 0
		}
		ho := math.Log(highs[i] / opens[i])
		hc := math.Log(highs[i] / closes[i])
		lo := math.Log(lows[i] / opens[i])
		lc := math.Log(lows[i] / closes[i])
		sum += ho*hc + lo*lc
	}
	mean := sum / float64(n)
	if mean < 0 {
		return 0
	}
	return annualized(math.Sqrt(mean), annualize)
}

// YangZhangVolatility combines overnight, open-to-close and
// Rogers-Satchell variance into the minimum-variance unbiased estimate.
func YangZhangVolatility(opens, highs, lows, closes []float64, annualize bool) float64 {
	n := len(opens)
	if n < 2 || len(highs) != n || len(lows) != n || len(closes) != n {
		return 0
	}
	overnight := make([]float64, n-1)
	for i := 1; i < n; i++ {
		if opens[i] <= 0 || closes[i-1] <= 0 {
			return 0
		}
		overnight[i-1] = math.Log(opens[i] / closes[i-1])
	}
	openClose := make([]float64, n)
	for i := 0; i < n; i++ {
		if opens[i] <= 0 || closes[i] <= 0 {
			return 0
		}
		openClose[i] = math.Log(closes[i] / opens[i])
	}

	rs := RogersSatchellVolatility(opens, highs, lows, closes, false)

	k := 0.34 / (1.34 + float64(n+1)/float64(n-1))
	yz := stats.Variance(overnight) + k*stats.Variance(openClose) + (1-k)*rs*rs
	if yz < 0 {
		return 0
	}
	return annualized(math.Sqrt(yz), annualize)
}

func annualized(vol float64, annualize bool) float64 {
	if annualize {
		return vol * math.Sqrt(MinutesPerDay)
	}
	return vol
}

// ATR returns the Wilder-smoothed average true range series. The first
// value is the simple mean of the first period true ranges. Returns nil
// when fewer than period bars are supplied.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	if n != len(lows) || n != len(closes) || n < period || period <= 0 {
		return nil
	}

	trueRanges := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			trueRanges[i] = highs[i] - lows[i]
			continue
		}
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		trueRanges[i] = tr
	}

	atr := make([]float64, 0, n-period+1)
	initial := 0.0
	for _, tr := range trueRanges[:period] {
		initial += tr
	}
	atr = append(atr, initial/float64(period))

	for i := period; i < n; i++ {
		prev := atr[len(atr)-1]
		atr = append(atr, (prev*float64(period-1)+trueRanges[i])/float64(period))
	}
	return atr
}

// VolOfVol returns the standard deviation of the last window volatility
// samples, or 0 with insufficient history.
func VolOfVol(vols []float64, window int) float64 {
	if len(vols) < window {
		return 0
	}
	return stats.Std(vols[len(vols)-window:])
}

// GARCH is a GARCH(1,1) volatility model with moment-matched parameters.
// Alpha captures reaction to shocks, beta captures persistence.
type GARCH struct {
	Omega  float64
	Alpha  float64
	Beta   float64
	fitted bool
}

// Fit estimates parameters from a return series. Needs 50+ returns.
func (g *GARCH) Fit(returns []float64) error {
	if len(returns) < 50 {
		return ErrInsufficientData
	}
	g.Omega = stats.Variance(returns) * 0.1
	g.Alpha = 0.1
	g.Beta = 0.85
	g.fitted = true
	return nil
}

// Fitted reports whether the model has been fit.
func (g *GARCH) Fitted() bool {
	return g.fitted
}

// Forecast returns the long-run volatility implied by the fitted
// parameters, or 0 when unfitted.
func (g *GARCH) Forecast() float64 {
	if !g.fitted {
		return 0
	}
	longRunVar := g.Omega / (1 - g.Alpha - g.Beta)
	return math.Sqrt(longRunVar)
}

// GARCHForecast fits a model to returns and forecasts in one step.
func GARCHForecast(returns []float64) float64 {
	var g GARCH
	if err := g.Fit(returns); err != nil {
		return 0
	}
	return g.Forecast()
}
