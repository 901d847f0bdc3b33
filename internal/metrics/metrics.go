// Package metrics exports Prometheus collectors for the signal engine,
// fed from the event bus so instrumented components stay unaware of
// the metrics surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"microstructure-engine/internal/events"
	"microstructure-engine/internal/regime"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	SignalsGenerated *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec
	SignalsExpired   *prometheus.CounterVec
	WhalesDetected   *prometheus.CounterVec
	RegimeChanges    *prometheus.CounterVec
	BlackSwanAlerts  *prometheus.CounterVec
	SignalConfidence prometheus.Histogram
	CurrentRegime    *prometheus.GaugeVec
}

// New creates and registers the engine collectors
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microstructure",
			Name:      "signals_generated_total",
			Help:      "Enhanced signals emitted, by symbol and direction.",
		}, []string{"symbol", "direction"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microstructure",
			Name:      "signals_rejected_total",
			Help:      "Candidate signals rejected, by symbol and pipeline stage.",
		}, []string{"symbol", "stage"}),
		SignalsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microstructure",
			Name:      "signals_expired_total",
			Help:      "Active signals dropped by age.",
		}, []string{"symbol"}),
		WhalesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microstructure",
			Name:      "whales_detected_total",
			Help:      "Trades above the whale notional threshold.",
		}, []string{"symbol", "side"}),
		RegimeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microstructure",
			Name:      "regime_changes_total",
			Help:      "Volatility regime transitions, by symbol and new regime.",
		}, []string{"symbol", "to"}),
		BlackSwanAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microstructure",
			Name:      "black_swan_alerts_total",
			Help:      "Black swan alerts raised, by symbol and type.",
		}, []string{"symbol", "type"}),
		SignalConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "microstructure",
			Name:      "signal_confidence",
			Help:      "Final confidence of emitted enhanced signals.",
			Buckets:   prometheus.LinearBuckets(0.5, 0.05, 10),
		}),
		CurrentRegime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "microstructure",
			Name:      "current_regime",
			Help:      "Current volatility regime code per symbol (0=LOW..3=EXTREME).",
		}, []string{"symbol"}),
	}
	reg.MustRegister(
		m.SignalsGenerated, m.SignalsRejected, m.SignalsExpired,
		m.WhalesDetected, m.RegimeChanges, m.BlackSwanAlerts,
		m.SignalConfidence, m.CurrentRegime,
	)
	return m
}

// Attach subscribes the collectors to bus events
func (m *Metrics) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventEnhancedSignal, func(e events.Event) {
		direction, _ := e.Data["direction"].(string)
		m.SignalsGenerated.WithLabelValues(e.Symbol, direction).Inc()
		if confidence, ok := e.Data["confidence"].(float64); ok {
			m.SignalConfidence.Observe(confidence)
		}
	})
	bus.Subscribe(events.EventSignalRejected, func(e events.Event) {
		stage, _ := e.Data["stage"].(string)
		m.SignalsRejected.WithLabelValues(e.Symbol, stage).Inc()
	})
	bus.Subscribe(events.EventSignalExpired, func(e events.Event) {
		m.SignalsExpired.WithLabelValues(e.Symbol).Inc()
	})
	bus.Subscribe(events.EventWhaleDetected, func(e events.Event) {
		side, _ := e.Data["side"].(string)
		m.WhalesDetected.WithLabelValues(e.Symbol, side).Inc()
	})
	bus.Subscribe(events.EventRegimeChange, func(e events.Event) {
		to, _ := e.Data["to"].(string)
		m.RegimeChanges.WithLabelValues(e.Symbol, to).Inc()
		if r, err := regime.Parse(to); err == nil {
			m.CurrentRegime.WithLabelValues(e.Symbol).Set(float64(r))
		}
	})
	bus.Subscribe(events.EventBlackSwanAlert, func(e events.Event) {
		alertType, _ := e.Data["alert_type"].(string)
		m.BlackSwanAlerts.WithLabelValues(e.Symbol, alertType).Inc()
	})
}
