package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"microstructure-engine/internal/events"
	"microstructure-engine/internal/regime"
)

// waitForValue polls a collector until it reaches the expected value;
// bus dispatch is asynchronous.
func waitForValue(t *testing.T, name string, read func() float64, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if read() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: expected %v, got %v", name, want, read())
}

// TestAttachCountsBusEvents verifies each event type lands in its
// collector with the right labels
func TestAttachCountsBusEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	bus := events.NewBus()
	m.Attach(bus)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	bus.PublishEnhancedSignal("BTCUSDT", "LONG", 82.5, 0.8, 25000, now)
	bus.PublishSignalRejected("BTCUSDT", "guard", "suppressed: TAIL_RISK", now)
	bus.PublishSignalExpired("BTCUSDT", "sig-1", now)
	bus.PublishWhale("BTCUSDT", "BUY", 50000, 60000, now)
	bus.PublishBlackSwan("BTCUSDT", "TAIL_RISK", "HALT_TRADING", 0.9, now)

	waitForValue(t, "signals_generated", func() float64 {
		return testutil.ToFloat64(m.SignalsGenerated.WithLabelValues("BTCUSDT", "LONG"))
	}, 1)
	waitForValue(t, "signals_rejected", func() float64 {
		return testutil.ToFloat64(m.SignalsRejected.WithLabelValues("BTCUSDT", "guard"))
	}, 1)
	waitForValue(t, "signals_expired", func() float64 {
		return testutil.ToFloat64(m.SignalsExpired.WithLabelValues("BTCUSDT"))
	}, 1)
	waitForValue(t, "whales_detected", func() float64 {
		return testutil.ToFloat64(m.WhalesDetected.WithLabelValues("BTCUSDT", "BUY"))
	}, 1)
	waitForValue(t, "black_swan_alerts", func() float64 {
		return testutil.ToFloat64(m.BlackSwanAlerts.WithLabelValues("BTCUSDT", "TAIL_RISK"))
	}, 1)
}

// TestRegimeChangeUpdatesGauge verifies a regime transition both counts
// the change and moves the per-symbol regime gauge to the new code
func TestRegimeChangeUpdatesGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	bus := events.NewBus()
	m.Attach(bus)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	bus.PublishRegimeChange("BTCUSDT", "LOW", "EXTREME", 0.9, now)

	waitForValue(t, "regime_changes", func() float64 {
		return testutil.ToFloat64(m.RegimeChanges.WithLabelValues("BTCUSDT", "EXTREME"))
	}, 1)
	waitForValue(t, "current_regime", func() float64 {
		return testutil.ToFloat64(m.CurrentRegime.WithLabelValues("BTCUSDT"))
	}, float64(regime.Extreme))

	bus.PublishRegimeChange("BTCUSDT", "EXTREME", "MEDIUM", 0.8, now.Add(time.Minute))

	waitForValue(t, "current_regime after recovery", func() float64 {
		return testutil.ToFloat64(m.CurrentRegime.WithLabelValues("BTCUSDT"))
	}, float64(regime.Medium))
}

// TestCollectorsRegisterOnce verifies a second registration on the same
// registry fails instead of silently duplicating series
func TestCollectorsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)

	defer func() {
		if recover() == nil {
			t.Fatal("Expected MustRegister to panic on duplicate collectors")
		}
	}()
	New(registry)
}
