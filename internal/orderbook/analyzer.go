package orderbook

import (
	"sync"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/market"
)

// Analyzer maintains one Book per symbol and exposes thread-safe
// microstructure queries over them.
type Analyzer struct {
	mu          sync.RWMutex
	depthLevels int
	books       map[string]*Book
	logger      zerolog.Logger
}

// NewAnalyzer creates an analyzer tracking depthLevels per book side.
func NewAnalyzer(depthLevels int, logger zerolog.Logger) *Analyzer {
	if depthLevels <= 0 {
		depthLevels = 50
	}
	return &Analyzer{
		depthLevels: depthLevels,
		books:       make(map[string]*Book),
		logger:      logger.With().Str("component", "OrderBookAnalyzer").Logger(),
	}
}

// Update applies an order book snapshot to its symbol's book.
func (a *Analyzer) Update(snap market.BookSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	book, ok := a.books[snap.Symbol]
	if !ok {
		book = NewBook(a.depthLevels)
		a.books[snap.Symbol] = book
	}
	book.Update(snap.Bids, snap.Asks, snap.Timestamp)
}

// Symbols returns the symbols with book state.
func (a *Analyzer) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.books))
	for symbol := range a.books {
		out = append(out, symbol)
	}
	return out
}

// BestBidAsk returns the top of book for a symbol.
func (a *Analyzer) BestBidAsk(symbol string) (bid, ask float64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, found := a.books[symbol]
	if !found {
		return 0, 0, false
	}
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA {
		return 0, 0, false
	}
	return bid, ask, true
}

// MidPrice returns the mid price for a symbol.
func (a *Analyzer) MidPrice(symbol string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, ok := a.books[symbol]
	if !ok {
		return 0, false
	}
	return book.MidPrice()
}

// SpreadBps returns the spread in basis points for a symbol.
func (a *Analyzer) SpreadBps(symbol string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, ok := a.books[symbol]
	if !ok {
		return 0, false
	}
	return book.SpreadBps()
}

// VolumeAtBest returns resting quantity at best bid and ask for a symbol.
func (a *Analyzer) VolumeAtBest(symbol string) (bidQty, askQty float64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, found := a.books[symbol]
	if !found {
		return 0, 0, false
	}
	return book.VolumeAtBest()
}

// Imbalance returns the imbalance metrics over the top levels of a
// symbol's book.
func (a *Analyzer) Imbalance(symbol string, levels int) (Imbalance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, ok := a.books[symbol]
	if !ok {
		return Imbalance{}, false
	}
	return book.Imbalance(levels)
}

// Depth returns per-side depth over the top levels of a symbol's book.
func (a *Analyzer) Depth(symbol string, levels int) (Depth, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, ok := a.books[symbol]
	if !ok {
		return Depth{}, false
	}
	return book.DepthTop(levels), true
}

// DepthProfile returns the depth summary for a symbol.
func (a *Analyzer) DepthProfile(symbol string) (DepthProfile, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, ok := a.books[symbol]
	if !ok {
		return DepthProfile{}, false
	}
	return book.DepthProfile()
}

// DetectWalls returns large resting orders for a symbol.
func (a *Analyzer) DetectWalls(symbol string, thresholdMultiplier float64) (bidWalls, askWalls []float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, ok := a.books[symbol]
	if !ok {
		return nil, nil
	}
	return book.DetectWalls(thresholdMultiplier)
}

// IsSpreadAnomaly reports whether a symbol's spread is unusually wide or
// tight relative to its rolling history.
func (a *Analyzer) IsSpreadAnomaly(symbol string, threshold float64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	book, ok := a.books[symbol]
	if !ok {
		return false
	}
	return book.IsSpreadAnomaly(threshold)
}
