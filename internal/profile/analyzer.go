package profile

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/market"
)

// AnalyzerConfig holds configuration for the windowed profile analyzer
type AnalyzerConfig struct {
	WindowSeconds int     `json:"window_seconds" yaml:"window_seconds" validate:"gt=0"` // Sliding window length
	TickSize      float64 `json:"tick_size" yaml:"tick_size" validate:"gt=0"`           // Bucket width as fraction of price
	SliceSeconds  int     `json:"slice_seconds" yaml:"slice_seconds" validate:"gt=0"`   // Time slice granularity for expiry
}

// DefaultAnalyzerConfig returns default configuration
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		WindowSeconds: 3600,
		TickSize:      0.0001,
		SliceSeconds:  60,
	}
}

// symbolProfile holds per-symbol sub-profiles keyed by time slice. All
// slices of a symbol share one bucket grid anchored at the first trade.
type symbolProfile struct {
	bucketSize float64
	lastTs     time.Time
	slices     map[int64]*Profile
}

// Analyzer maintains sliding-window volume profiles per symbol. Trades
// accumulate into time-sliced sub-profiles so expired volume drops out
// a slice at a time instead of requiring a full rebuild.
type Analyzer struct {
	mu      sync.RWMutex
	config  *AnalyzerConfig
	symbols map[string]*symbolProfile
	logger  zerolog.Logger
}

// NewAnalyzer creates a windowed volume profile analyzer
func NewAnalyzer(config *AnalyzerConfig, logger zerolog.Logger) *Analyzer {
	if config == nil {
		config = DefaultAnalyzerConfig()
	}
	return &Analyzer{
		config:  config,
		symbols: make(map[string]*symbolProfile),
		logger:  logger.With().Str("component", "VolumeProfileAnalyzer").Logger(),
	}
}

// AddTrade accumulates a trade into the current time slice of its symbol.
func (a *Analyzer) AddTrade(t market.Tick) {
	if t.Price <= 0 || t.Qty <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	sp, ok := a.symbols[t.Symbol]
	if !ok {
		sp = &symbolProfile{
			bucketSize: t.Price * a.config.TickSize,
			slices:     make(map[int64]*Profile),
		}
		a.symbols[t.Symbol] = sp
	}
	if t.Timestamp.After(sp.lastTs) {
		sp.lastTs = t.Timestamp
	}

	key := t.Timestamp.Unix() / int64(a.config.SliceSeconds)
	slice, ok := sp.slices[key]
	if !ok {
		slice = NewProfileWithBucket(sp.bucketSize)
		sp.slices[key] = slice
	}
	slice.AddTrade(t.Price, t.Qty, t.Side)
}

// Profile returns the merged profile over the symbol's sliding window,
// or nil when no trades are held. The window ends at the symbol's most
// recent trade so replayed data stays deterministic.
func (a *Analyzer) Profile(symbol string) *Profile {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sp, ok := a.symbols[symbol]
	if !ok || len(sp.slices) == 0 {
		return nil
	}

	cutoff := sp.lastTs.Add(-time.Duration(a.config.WindowSeconds) * time.Second).Unix()
	sliceSec := int64(a.config.SliceSeconds)

	merged := NewProfileWithBucket(sp.bucketSize)
	for key, slice := range sp.slices {
		if (key+1)*sliceSec > cutoff {
			merged.merge(slice)
		}
	}
	if merged.TotalVolume() == 0 {
		return nil
	}
	return merged
}

// POC returns the point of control over the symbol's window.
func (a *Analyzer) POC(symbol string) (POC, bool) {
	p := a.Profile(symbol)
	if p == nil {
		return POC{}, false
	}
	return p.POC()
}

// ValueArea returns the 70% value area over the symbol's window.
func (a *Analyzer) ValueArea(symbol string) (ValueArea, bool) {
	p := a.Profile(symbol)
	if p == nil {
		return ValueArea{}, false
	}
	return p.ValueArea(0.70)
}

// Prune drops time slices that fell out of the window as of now.
// Returns the number of slices removed.
func (a *Analyzer) Prune(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.Add(-time.Duration(a.config.WindowSeconds) * time.Second).Unix()
	sliceSec := int64(a.config.SliceSeconds)

	removed := 0
	for symbol, sp := range a.symbols {
		for key := range sp.slices {
			if (key+1)*sliceSec <= cutoff {
				delete(sp.slices, key)
				removed++
			}
		}
		if len(sp.slices) == 0 {
			delete(a.symbols, symbol)
		}
	}
	if removed > 0 {
		a.logger.Debug().Int("slices", removed).Msg("Pruned expired profile slices")
	}
	return removed
}
