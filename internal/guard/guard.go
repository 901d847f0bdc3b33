// Package guard is the per-symbol signal gate. Black swan alerts and
// extreme regimes trip a symbol into a suppression window during which
// no new signals may be emitted; expiry is lazy on check plus a
// periodic sweep.
package guard

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/events"
)

// State represents the gate state for one symbol
type State string

const (
	StateOpen       State = "open"       // signals flow
	StateSuppressed State = "suppressed" // signals blocked until the window expires
)

// Config holds the signal guard settings
type Config struct {
	Enabled              bool `json:"enabled" yaml:"enabled"`
	DefaultCooldownSec   int  `json:"default_cooldown_seconds" yaml:"default_cooldown_seconds" validate:"gt=0"`
	SweepIntervalSeconds int  `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds" validate:"gt=0"`
}

// DefaultConfig returns safe guard defaults: 15 minute suppression
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		DefaultCooldownSec:   900,
		SweepIntervalSeconds: 60,
	}
}

// suppression is one active blocking window
type suppression struct {
	reason string
	since  time.Time
	until  time.Time
}

// Guard tracks per-symbol suppression windows
type Guard struct {
	mu     sync.RWMutex
	config *Config
	bus    *events.Bus
	logger zerolog.Logger

	suppressed map[string]suppression
	tripCount  int
	onTrip     func(symbol, reason string)
	onClear    func(symbol string)
}

// NewGuard creates a signal guard
func NewGuard(config *Config, bus *events.Bus, logger zerolog.Logger) *Guard {
	if config == nil {
		config = DefaultConfig()
	}
	return &Guard{
		config:     config,
		bus:        bus,
		logger:     logger.With().Str("component", "SignalGuard").Logger(),
		suppressed: make(map[string]suppression),
	}
}

// OnTrip sets a callback invoked when a symbol is suppressed
func (g *Guard) OnTrip(handler func(symbol, reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTrip = handler
}

// OnClear sets a callback invoked when a suppression expires
func (g *Guard) OnClear(handler func(symbol string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onClear = handler
}

// Trip suppresses a symbol for the default cooldown
func (g *Guard) Trip(symbol, reason string, now time.Time) {
	g.TripFor(symbol, reason, now, time.Duration(g.config.DefaultCooldownSec)*time.Second)
}

// TripFor suppresses a symbol for an explicit window. A later trip
// extends an earlier one, never shortens it.
func (g *Guard) TripFor(symbol, reason string, now time.Time, window time.Duration) {
	if !g.config.Enabled {
		return
	}
	g.mu.Lock()
	until := now.Add(window)
	if existing, ok := g.suppressed[symbol]; ok && existing.until.After(until) {
		g.mu.Unlock()
		return
	}
	g.suppressed[symbol] = suppression{reason: reason, since: now, until: until}
	g.tripCount++
	handler := g.onTrip
	g.mu.Unlock()

	g.logger.Warn().
		Str("symbol", symbol).
		Str("reason", reason).
		Time("until", until).
		Msg("Signal guard tripped")
	if handler != nil {
		handler(symbol, reason)
	}
}

// Allow reports whether new signals may be emitted for a symbol. An
// expired suppression is cleared on the way through.
func (g *Guard) Allow(symbol string, now time.Time) (bool, string) {
	if !g.config.Enabled {
		return true, ""
	}
	g.mu.Lock()
	s, ok := g.suppressed[symbol]
	if !ok {
		g.mu.Unlock()
		return true, ""
	}
	if now.Before(s.until) {
		g.mu.Unlock()
		return false, s.reason
	}
	delete(g.suppressed, symbol)
	handler := g.onClear
	g.mu.Unlock()

	g.logger.Info().Str("symbol", symbol).Msg("Signal guard cleared")
	if handler != nil {
		handler(symbol)
	}
	return true, ""
}

// SymbolState returns the gate state for a symbol
func (g *Guard) SymbolState(symbol string, now time.Time) State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.suppressed[symbol]; ok && now.Before(s.until) {
		return StateSuppressed
	}
	return StateOpen
}

// Sweep drops expired suppressions and returns how many were cleared
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	var cleared []string
	for symbol, s := range g.suppressed {
		if !now.Before(s.until) {
			delete(g.suppressed, symbol)
			cleared = append(cleared, symbol)
		}
	}
	handler := g.onClear
	g.mu.Unlock()

	for _, symbol := range cleared {
		g.logger.Info().Str("symbol", symbol).Msg("Signal guard cleared")
		if handler != nil {
			handler(symbol)
		}
	}
	return len(cleared)
}

// GetMetrics returns guard metrics for monitoring
func (g *Guard) GetMetrics() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	active := make(map[string]string, len(g.suppressed))
	for symbol, s := range g.suppressed {
		active[symbol] = s.reason
	}
	return map[string]interface{}{
		"component":           "SignalGuard",
		"enabled":             g.config.Enabled,
		"trips":               g.tripCount,
		"active_suppressions": active,
	}
}
