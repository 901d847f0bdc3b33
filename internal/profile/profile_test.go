package profile

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

// TestBucketGridStable verifies that nearby prices land in the same bucket
// on a grid anchored to the first trade
func TestBucketGridStable(t *testing.T) {
	p := NewProfile(0.001) // 0.1% of 100 = 0.1 wide buckets

	p.AddTrade(100.00, 10, market.SideBuy)
	p.AddTrade(100.04, 5, market.SideSell) // same bucket as 100.00
	p.AddTrade(100.06, 3, market.SideBuy)  // next bucket up

	if p.NumLevels() != 2 {
		t.Fatalf("Expected 2 price levels, got %d", p.NumLevels())
	}
	if got := p.VolumeAtPrice(100.00); !almostEqual(got, 15, 1e-9) {
		t.Errorf("Expected volume 15 at 100.00, got %v", got)
	}
	if got := p.VolumeAtPrice(100.06); !almostEqual(got, 3, 1e-9) {
		t.Errorf("Expected volume 3 at 100.06, got %v", got)
	}
	if got := p.TotalVolume(); !almostEqual(got, 18, 1e-9) {
		t.Errorf("Expected total volume 18, got %v", got)
	}
}

// TestNodeImbalance verifies buy/sell pressure classification
func TestNodeImbalance(t *testing.T) {
	n := Node{TotalVolume: 40, BuyVolume: 30, SellVolume: 10}

	if got := n.Imbalance(); !almostEqual(got, 0.5, 1e-12) {
		t.Errorf("Expected imbalance 0.5, got %v", got)
	}
	if !n.IsBullish() {
		t.Error("Node with imbalance 0.5 should be bullish")
	}
	if n.IsBearish() {
		t.Error("Node with imbalance 0.5 should not be bearish")
	}
	empty := Node{}
	if got := empty.Imbalance(); got != 0 {
		t.Errorf("Expected imbalance 0 for empty node, got %v", got)
	}
}

// TestPOCHighestVolume verifies POC selection and tie-breaking to the
// lowest price
func TestPOCHighestVolume(t *testing.T) {
	p := NewProfile(0.001)
	p.AddTrade(100.0, 50, market.SideBuy)
	p.AddTrade(100.5, 30, market.SideSell)
	p.AddTrade(99.5, 20, market.SideBuy)

	poc, ok := p.POC()
	if !ok {
		t.Fatal("Expected POC")
	}
	if !almostEqual(poc.Price, 100.0, 1e-6) {
		t.Errorf("Expected POC at 100.0, got %v", poc.Price)
	}
	if !almostEqual(poc.Volume, 50, 1e-9) {
		t.Errorf("Expected POC volume 50, got %v", poc.Volume)
	}
	if !almostEqual(poc.PercentageOfTotal, 50, 1e-9) {
		t.Errorf("Expected POC percentage 50, got %v", poc.PercentageOfTotal)
	}

	// Tie resolves to lowest price; grid is anchored to the first trade
	// so levels approximate the raw prices
	tie := NewProfile(0.001)
	tie.AddTrade(100.5, 10, market.SideBuy)
	tie.AddTrade(100.0, 10, market.SideBuy)
	poc, _ = tie.POC()
	if !almostEqual(poc.Price, 100.0, 0.01) {
		t.Errorf("Expected tied POC near lowest price 100.0, got %v", poc.Price)
	}
}

// TestValueAreaAccumulation verifies the 70% value area runs over the
// highest-volume levels
func TestValueAreaAccumulation(t *testing.T) {
	p := NewProfile(0.001)
	p.AddTrade(100.0, 50, market.SideBuy)
	p.AddTrade(100.5, 30, market.SideSell)
	p.AddTrade(99.5, 20, market.SideBuy)

	va, ok := p.ValueArea(0.70)
	if !ok {
		t.Fatal("Expected value area")
	}
	// 50 + 30 = 80 >= 70% of 100; the 99.5 level stays out
	if !almostEqual(va.VAL, 100.0, 1e-6) {
		t.Errorf("Expected VAL 100.0, got %v", va.VAL)
	}
	if !almostEqual(va.VAH, 100.5, 1e-6) {
		t.Errorf("Expected VAH 100.5, got %v", va.VAH)
	}
	if !almostEqual(va.VolumeInArea, 80, 1e-9) {
		t.Errorf("Expected 80 volume in area, got %v", va.VolumeInArea)
	}
	if !almostEqual(va.Percentage(), 80, 1e-9) {
		t.Errorf("Expected 80%% in area, got %v", va.Percentage())
	}
	if va.Width() <= 0 {
		t.Errorf("Expected positive width, got %v", va.Width())
	}
}

// TestSupportResistanceSplit verifies levels split around the POC
func TestSupportResistanceSplit(t *testing.T) {
	p := NewProfile(0.001)
	p.AddTrade(99.0, 80, market.SideBuy)
	p.AddTrade(99.5, 80, market.SideBuy)
	p.AddTrade(100.0, 100, market.SideBuy)
	p.AddTrade(100.5, 80, market.SideSell)
	p.AddTrade(101.0, 80, market.SideSell)

	support, resistance := p.SupportResistance(5)
	if len(support) != 2 {
		t.Fatalf("Expected 2 support levels, got %d", len(support))
	}
	// Closest to POC first; levels sit on the grid anchored at 99.0
	if !almostEqual(support[0], 99.5, 0.05) || !almostEqual(support[1], 99.0, 0.05) {
		t.Errorf("Expected support near [99.5 99.0], got %v", support)
	}
	if len(resistance) != 2 {
		t.Fatalf("Expected 2 resistance levels, got %d", len(resistance))
	}
	if !almostEqual(resistance[0], 100.5, 0.05) || !almostEqual(resistance[1], 101.0, 0.05) {
		t.Errorf("Expected resistance near [100.5 101.0], got %v", resistance)
	}
}

// TestDistributionStats verifies histogram summary statistics
func TestDistributionStats(t *testing.T) {
	p := NewProfile(0.001)
	p.AddTrade(100.0, 60, market.SideBuy)
	p.AddTrade(100.5, 40, market.SideSell)

	d := p.Distribution()
	if d.NumPriceLevels != 2 {
		t.Errorf("Expected 2 levels, got %d", d.NumPriceLevels)
	}
	if !almostEqual(d.TotalVolume, 100, 1e-9) {
		t.Errorf("Expected total 100, got %v", d.TotalVolume)
	}
	if !almostEqual(d.AvgVolumePerLevel, 50, 1e-9) {
		t.Errorf("Expected avg 50, got %v", d.AvgVolumePerLevel)
	}
	if !almostEqual(d.VolumeConcentration, 0.6, 1e-9) {
		t.Errorf("Expected concentration 0.6, got %v", d.VolumeConcentration)
	}
}

// TestAnalyzerWindowExpiry verifies that volume outside the sliding
// window is excluded from the merged profile
func TestAnalyzerWindowExpiry(t *testing.T) {
	cfg := &AnalyzerConfig{WindowSeconds: 3600, TickSize: 0.0001, SliceSeconds: 60}
	a := NewAnalyzer(cfg, zerolog.Nop())
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a.AddTrade(market.Tick{Symbol: "BTCUSDT", Price: 50000, Qty: 2, Side: market.SideBuy, Timestamp: base})
	a.AddTrade(market.Tick{Symbol: "BTCUSDT", Price: 50000, Qty: 3, Side: market.SideSell, Timestamp: base.Add(2 * time.Hour)})

	p := a.Profile("BTCUSDT")
	if p == nil {
		t.Fatal("Expected profile")
	}
	// Only the recent trade is inside the 1h window ending at the last trade
	if !almostEqual(p.TotalVolume(), 3, 1e-9) {
		t.Errorf("Expected windowed volume 3, got %v", p.TotalVolume())
	}

	if removed := a.Prune(base.Add(2 * time.Hour)); removed != 1 {
		t.Errorf("Expected 1 slice pruned, got %d", removed)
	}
	if p = a.Profile("BTCUSDT"); p == nil || !almostEqual(p.TotalVolume(), 3, 1e-9) {
		t.Error("Recent volume should survive pruning")
	}
}

// TestAnalyzerValueArea verifies the windowed POC and value area accessors
func TestAnalyzerValueArea(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, ok := a.POC("ETHUSDT"); ok {
		t.Error("Expected no POC for unknown symbol")
	}

	for i := 0; i < 10; i++ {
		a.AddTrade(market.Tick{Symbol: "ETHUSDT", Price: 3000, Qty: 5, Side: market.SideBuy, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	a.AddTrade(market.Tick{Symbol: "ETHUSDT", Price: 3010, Qty: 1, Side: market.SideSell, Timestamp: base.Add(11 * time.Second)})

	poc, ok := a.POC("ETHUSDT")
	if !ok {
		t.Fatal("Expected POC")
	}
	if !almostEqual(poc.Price, 3000, 0.5) {
		t.Errorf("Expected POC near 3000, got %v", poc.Price)
	}

	va, ok := a.ValueArea("ETHUSDT")
	if !ok {
		t.Fatal("Expected value area")
	}
	if va.VAL > poc.Price || va.VAH < poc.Price {
		t.Errorf("POC %v should sit inside value area [%v, %v]", poc.Price, va.VAL, va.VAH)
	}
}
