package orderbook

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/market"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func testBook() *Book {
	b := NewBook(50)
	b.Update(
		[]market.BookLevel{
			{Price: 99.9, Qty: 10},
			{Price: 100.0, Qty: 20}, // best bid, out of order on purpose
			{Price: 99.8, Qty: 30},
		},
		[]market.BookLevel{
			{Price: 100.2, Qty: 15},
			{Price: 100.1, Qty: 5}, // best ask, out of order on purpose
			{Price: 100.3, Qty: 25},
		},
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	)
	return b
}

// TestBookSorting verifies bids sort descending and asks ascending
func TestBookSorting(t *testing.T) {
	b := testBook()

	bid, ok := b.BestBid()
	if !ok || bid != 100.0 {
		t.Errorf("Expected best bid 100.0, got %v (ok=%v)", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask != 100.1 {
		t.Errorf("Expected best ask 100.1, got %v (ok=%v)", ask, ok)
	}

	mid, _ := b.MidPrice()
	if !almostEqual(mid, 100.05, 1e-9) {
		t.Errorf("Expected mid 100.05, got %v", mid)
	}
	spread, _ := b.Spread()
	if !almostEqual(spread, 0.1, 1e-9) {
		t.Errorf("Expected spread 0.1, got %v", spread)
	}
	spreadBps, _ := b.SpreadBps()
	if !almostEqual(spreadBps, 0.1/100.05*10000, 1e-9) {
		t.Errorf("Expected spread ~10 bps, got %v", spreadBps)
	}
}

// TestDepthTruncation verifies levels beyond the configured depth drop
func TestDepthTruncation(t *testing.T) {
	b := NewBook(2)
	b.Update(
		[]market.BookLevel{{Price: 100, Qty: 1}, {Price: 99, Qty: 1}, {Price: 98, Qty: 100}},
		[]market.BookLevel{{Price: 101, Qty: 1}, {Price: 102, Qty: 1}, {Price: 103, Qty: 100}},
		time.Now(),
	)

	d := b.DepthTop(10)
	if d.BidDepth != 2 {
		t.Errorf("Expected bid depth 2 after truncation, got %v", d.BidDepth)
	}
	if d.AskDepth != 2 {
		t.Errorf("Expected ask depth 2 after truncation, got %v", d.AskDepth)
	}
}

// TestImbalanceRatio verifies the (bid-ask)/(bid+ask) computation and
// pressure classification
func TestImbalanceRatio(t *testing.T) {
	b := testBook()

	im, ok := b.Imbalance(5)
	if !ok {
		t.Fatal("Expected imbalance")
	}
	// bids 60 vs asks 45 -> (60-45)/105
	if !almostEqual(im.ImbalanceRatio, 15.0/105.0, 1e-9) {
		t.Errorf("Expected ratio %v, got %v", 15.0/105.0, im.ImbalanceRatio)
	}
	if im.Pressure != "NEUTRAL" {
		t.Errorf("Expected NEUTRAL pressure, got %s", im.Pressure)
	}
	if im.IsBullish() || im.IsBearish() {
		t.Error("Mild imbalance should be neither bullish nor bearish")
	}

	// Heavily bid book
	heavy := NewBook(50)
	heavy.Update(
		[]market.BookLevel{{Price: 100, Qty: 90}},
		[]market.BookLevel{{Price: 100.1, Qty: 10}},
		time.Now(),
	)
	im, _ = heavy.Imbalance(5)
	if im.Pressure != "BUY" {
		t.Errorf("Expected BUY pressure, got %s", im.Pressure)
	}
	if !im.IsBullish() {
		t.Error("Expected bullish book")
	}
}

// TestLiquidityScore verifies volume and spread both shape the score
func TestLiquidityScore(t *testing.T) {
	thin := NewBook(50)
	thin.Update(
		[]market.BookLevel{{Price: 100, Qty: 10}},
		[]market.BookLevel{{Price: 101, Qty: 10}},
		time.Now(),
	)
	thick := NewBook(50)
	thick.Update(
		[]market.BookLevel{{Price: 100, Qty: 6000}},
		[]market.BookLevel{{Price: 100.01, Qty: 6000}},
		time.Now(),
	)

	thinIm, _ := thin.Imbalance(5)
	thickIm, _ := thick.Imbalance(5)
	if thinIm.LiquidityScore >= thickIm.LiquidityScore {
		t.Errorf("Thick tight book should score higher: thin=%v thick=%v",
			thinIm.LiquidityScore, thickIm.LiquidityScore)
	}
	if thickIm.LiquidityScore > 1 {
		t.Errorf("Liquidity score must stay within [0,1], got %v", thickIm.LiquidityScore)
	}
}

// TestDepthAtPrice verifies price-bounded depth sums
func TestDepthAtPrice(t *testing.T) {
	b := testBook()

	bidDepth, askDepth := b.DepthAtPrice(99.9)
	// Bids at or above 99.9: 20 + 10
	if !almostEqual(bidDepth, 30, 1e-9) {
		t.Errorf("Expected bid depth 30, got %v", bidDepth)
	}
	// No asks at or below 99.9
	if askDepth != 0 {
		t.Errorf("Expected ask depth 0, got %v", askDepth)
	}
}

// TestVWAP verifies volume weighting on each side
func TestVWAP(t *testing.T) {
	b := NewBook(50)
	b.Update(
		[]market.BookLevel{{Price: 100, Qty: 10}, {Price: 90, Qty: 30}},
		[]market.BookLevel{{Price: 110, Qty: 10}},
		time.Now(),
	)

	vwap, ok := b.BidVWAP(10)
	if !ok {
		t.Fatal("Expected bid VWAP")
	}
	// (100*10 + 90*30) / 40 = 92.5
	if !almostEqual(vwap, 92.5, 1e-9) {
		t.Errorf("Expected VWAP 92.5, got %v", vwap)
	}
}

// TestDetectWalls verifies oversized levels surface as walls
func TestDetectWalls(t *testing.T) {
	b := NewBook(50)
	b.Update(
		[]market.BookLevel{{Price: 100, Qty: 10}, {Price: 99, Qty: 10}, {Price: 98, Qty: 200}},
		[]market.BookLevel{{Price: 101, Qty: 10}, {Price: 102, Qty: 10}},
		time.Now(),
	)

	bidWalls, askWalls := b.DetectWalls(2.0)
	if len(bidWalls) != 1 || bidWalls[0] != 98 {
		t.Errorf("Expected bid wall at 98, got %v", bidWalls)
	}
	if len(askWalls) != 0 {
		t.Errorf("Expected no ask walls, got %v", askWalls)
	}
}

// TestFlowToxicity verifies the neutral default and volatile imbalances
// raising the score
func TestFlowToxicity(t *testing.T) {
	b := NewBook(50)
	if got := b.FlowToxicity(); got != 0.5 {
		t.Errorf("Expected neutral 0.5 before history, got %v", got)
	}

	// Alternate heavily bid / heavily offered books
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			b.Update(
				[]market.BookLevel{{Price: 100, Qty: 95}},
				[]market.BookLevel{{Price: 100.1, Qty: 5}},
				time.Now(),
			)
		} else {
			b.Update(
				[]market.BookLevel{{Price: 100, Qty: 5}},
				[]market.BookLevel{{Price: 100.1, Qty: 95}},
				time.Now(),
			)
		}
	}
	if got := b.FlowToxicity(); got < 0.9 {
		t.Errorf("Expected high toxicity for flipping book, got %v", got)
	}
}

// TestSpreadAnomaly verifies detection needs history and a genuine outlier
func TestSpreadAnomaly(t *testing.T) {
	b := NewBook(50)
	for i := 0; i < 25; i++ {
		// Small jitter so the spread history has nonzero deviation
		w := 0.10
		if i%2 == 0 {
			w = 0.12
		}
		b.Update(
			[]market.BookLevel{{Price: 100, Qty: 10}},
			[]market.BookLevel{{Price: 100 + w, Qty: 10}},
			time.Now(),
		)
	}
	if b.IsSpreadAnomaly(3.0) {
		t.Error("Stable spread should not be anomalous")
	}

	b.Update(
		[]market.BookLevel{{Price: 100, Qty: 10}},
		[]market.BookLevel{{Price: 105, Qty: 10}}, // spread blows out
		time.Now(),
	)
	if !b.IsSpreadAnomaly(3.0) {
		t.Error("Blown-out spread should be anomalous")
	}
}

// TestAnalyzerPerSymbol verifies symbol isolation in the wrapper
func TestAnalyzerPerSymbol(t *testing.T) {
	a := NewAnalyzer(50, zerolog.Nop())
	now := time.Now()

	a.Update(market.BookSnapshot{
		Symbol:    "BTCUSDT",
		Bids:      []market.BookLevel{{Price: 50000, Qty: 2}},
		Asks:      []market.BookLevel{{Price: 50010, Qty: 3}},
		Timestamp: now,
	})
	a.Update(market.BookSnapshot{
		Symbol:    "ETHUSDT",
		Bids:      []market.BookLevel{{Price: 3000, Qty: 5}},
		Asks:      []market.BookLevel{{Price: 3001, Qty: 5}},
		Timestamp: now,
	})

	bid, ask, ok := a.BestBidAsk("BTCUSDT")
	if !ok || bid != 50000 || ask != 50010 {
		t.Errorf("Expected BTC book 50000/50010, got %v/%v (ok=%v)", bid, ask, ok)
	}
	mid, ok := a.MidPrice("ETHUSDT")
	if !ok || !almostEqual(mid, 3000.5, 1e-9) {
		t.Errorf("Expected ETH mid 3000.5, got %v", mid)
	}
	if _, _, ok := a.BestBidAsk("SOLUSDT"); ok {
		t.Error("Expected no book for unknown symbol")
	}

	d, ok := a.Depth("BTCUSDT", 5)
	if !ok || d.BidDepth != 2 || d.AskDepth != 3 {
		t.Errorf("Expected depth 2/3, got %+v (ok=%v)", d, ok)
	}
	bidQty, askQty, ok := a.VolumeAtBest("BTCUSDT")
	if !ok || bidQty != 2 || askQty != 3 {
		t.Errorf("Expected volume at best 2/3, got %v/%v", bidQty, askQty)
	}
}
