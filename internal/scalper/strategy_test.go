package scalper

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/events"
	"microstructure-engine/internal/market"
)

var scalpStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func tick(symbol string, price, qty float64, side market.Side, ts time.Time) market.Tick {
	return market.Tick{Symbol: symbol, Price: price, Qty: qty, Side: side, Timestamp: ts}
}

// strongBook is a tight two-bps book with a 0.7 bid-side imbalance and
// 200 units of top-five depth.
func strongBook(symbol string, ts time.Time) market.BookSnapshot {
	return market.BookSnapshot{
		Symbol:    symbol,
		Bids:      []market.BookLevel{{Price: 99.99, Qty: 100}, {Price: 99.98, Qty: 70}},
		Asks:      []market.BookLevel{{Price: 100.01, Qty: 20}, {Price: 100.02, Qty: 10}},
		Timestamp: ts,
	}
}

// mixedTapeWithWhales feeds 18 alternating unit trades and two $60k
// whale buys at 100.0, returning the next free timestamp. A third
// whale afterwards completes the accumulation pattern.
func mixedTapeWithWhales(s *Strategy, symbol string) time.Time {
	ts := scalpStart
	for i := 0; i < 9; i++ {
		s.OnTrade(tick(symbol, 100.0, 1, market.SideSell, ts))
		ts = ts.Add(time.Second)
		s.OnTrade(tick(symbol, 100.0, 1, market.SideBuy, ts))
		ts = ts.Add(time.Second)
	}
	s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts))
	ts = ts.Add(time.Second)
	s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts))
	return ts.Add(time.Second)
}

// TestScalpSignalGeneration walks the full entry gauntlet: whale
// accumulation, tight book, low toxicity and POC proximity
func TestScalpSignalGeneration(t *testing.T) {
	s := NewStrategy(nil, nil, zerolog.Nop())
	symbol := "BTCUSDT"

	ts := mixedTapeWithWhales(s, symbol)
	s.OnBookUpdate(strongBook(symbol, ts))

	signal := s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts.Add(time.Second)))
	if signal == nil {
		t.Fatal("Expected a scalp signal")
	}

	if signal.Direction != market.DirectionLong {
		t.Errorf("Expected LONG, got %s", signal.Direction)
	}
	if signal.EntryPrice != 100.0 {
		t.Errorf("Expected entry 100.0, got %v", signal.EntryPrice)
	}
	if math.Abs(signal.StopLoss-99.6) > 1e-9 {
		t.Errorf("Expected stop 99.6, got %v", signal.StopLoss)
	}
	if math.Abs(signal.TakeProfit1-100.3) > 1e-9 {
		t.Errorf("Expected TP1 100.3, got %v", signal.TakeProfit1)
	}
	if math.Abs(signal.TakeProfit3-100.8) > 1e-9 {
		t.Errorf("Expected TP3 100.8, got %v", signal.TakeProfit3)
	}
	if math.Abs(signal.RiskReward-0.75) > 1e-6 {
		t.Errorf("Expected risk/reward 0.75, got %v", signal.RiskReward)
	}
	// Factors: whale 1.0, imbalance 0.7, spread quality 0.8,
	// toxicity quality 0.8, liquidity 1.0.
	if math.Abs(signal.Confidence-0.86) > 1e-9 {
		t.Errorf("Expected confidence 0.86, got %v", signal.Confidence)
	}
	if len(signal.Sources) != 2 || signal.Sources[0] != "3_whales_accumulation" {
		t.Errorf("Unexpected sources: %v", signal.Sources)
	}
	if signal.ID == "" {
		t.Error("Expected signal ID to be set")
	}
	if signal.ExpectedDurationSeconds != 900 {
		t.Errorf("Expected 900s duration, got %d", signal.ExpectedDurationSeconds)
	}

	if again := s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts.Add(2*time.Second))); again != nil {
		t.Error("Expected the active signal to suppress a second entry")
	}
	if _, ok := s.GetActiveSignal(symbol); !ok {
		t.Error("Expected the signal to be tracked as active")
	}

	metrics := s.GetMetrics()
	if metrics["signals_generated"].(int) != 1 {
		t.Errorf("Expected 1 signal generated, got %v", metrics["signals_generated"])
	}
	if metrics["whales_detected"].(int) != 4 {
		t.Errorf("Expected 4 whales detected, got %v", metrics["whales_detected"])
	}
	if metrics["strategy_name"] != "InstitutionalVolumeScalper" {
		t.Errorf("Unexpected strategy name: %v", metrics["strategy_name"])
	}
}

// TestSpreadGateRejects verifies a wide spread blocks entries even with
// a whale pattern in place
func TestSpreadGateRejects(t *testing.T) {
	s := NewStrategy(nil, nil, zerolog.Nop())
	symbol := "BTCUSDT"

	ts := mixedTapeWithWhales(s, symbol)
	wide := market.BookSnapshot{
		Symbol:    symbol,
		Bids:      []market.BookLevel{{Price: 99.9, Qty: 170}},
		Asks:      []market.BookLevel{{Price: 100.1, Qty: 30}},
		Timestamp: ts,
	}
	s.OnBookUpdate(wide)

	if signal := s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts.Add(time.Second))); signal != nil {
		t.Errorf("Expected rejection on a 20bps spread, got %+v", signal)
	}
	if _, ok := s.GetActiveSignal(symbol); ok {
		t.Error("Expected no active signal")
	}
}

// TestToxicityGateRejects verifies one-sided tape blocks entries
func TestToxicityGateRejects(t *testing.T) {
	s := NewStrategy(nil, nil, zerolog.Nop())
	symbol := "BTCUSDT"

	ts := scalpStart
	for i := 0; i < 18; i++ {
		s.OnTrade(tick(symbol, 100.0, 1, market.SideBuy, ts))
		ts = ts.Add(time.Second)
	}
	s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts))
	s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts.Add(time.Second)))
	ts = ts.Add(2 * time.Second)

	s.OnBookUpdate(strongBook(symbol, ts))

	if signal := s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts.Add(time.Second))); signal != nil {
		t.Errorf("Expected rejection on toxic flow, got %+v", signal)
	}
}

// TestKeyLevelGateRejects verifies entries far from the POC and value
// area are blocked
func TestKeyLevelGateRejects(t *testing.T) {
	s := NewStrategy(nil, nil, zerolog.Nop())
	symbol := "BTCUSDT"

	// Whale volume concentrates the profile at 95.
	ts := scalpStart
	for i := 0; i < 9; i++ {
		s.OnTrade(tick(symbol, 95.0, 1, market.SideSell, ts))
		ts = ts.Add(time.Second)
		s.OnTrade(tick(symbol, 95.0, 1, market.SideBuy, ts))
		ts = ts.Add(time.Second)
	}
	for i := 0; i < 3; i++ {
		s.OnTrade(tick(symbol, 95.0, 700, market.SideBuy, ts))
		ts = ts.Add(time.Second)
	}
	s.OnBookUpdate(strongBook(symbol, ts))

	// Price has moved 5% above the POC.
	if signal := s.OnTrade(tick(symbol, 100.0, 1, market.SideBuy, ts.Add(time.Second))); signal != nil {
		t.Errorf("Expected rejection away from key levels, got %+v", signal)
	}
}

// TestWhaleWindowExcludesStale verifies whales outside the window do
// not count toward the pattern
func TestWhaleWindowExcludesStale(t *testing.T) {
	s := NewStrategy(nil, nil, zerolog.Nop())
	symbol := "BTCUSDT"

	s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, scalpStart))
	s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, scalpStart.Add(time.Second)))

	// 400s later only one whale is inside the 300s window.
	if signal := s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, scalpStart.Add(400*time.Second))); signal != nil {
		t.Errorf("Expected no pattern from stale whales, got %+v", signal)
	}
}

// TestStaleActiveSignalReplaced verifies an aged-out active signal no
// longer blocks new entries
func TestStaleActiveSignalReplaced(t *testing.T) {
	s := NewStrategy(nil, nil, zerolog.Nop())
	symbol := "BTCUSDT"
	s.active[symbol] = Signal{ID: "old", Symbol: symbol, Timestamp: scalpStart.Add(-16 * time.Minute)}

	ts := mixedTapeWithWhales(s, symbol)
	s.OnBookUpdate(strongBook(symbol, ts))

	signal := s.OnTrade(tick(symbol, 100.0, 600, market.SideBuy, ts.Add(time.Second)))
	if signal == nil {
		t.Fatal("Expected a new signal after the old one aged out")
	}
	if signal.ID == "old" {
		t.Error("Expected a fresh signal, got the stale one")
	}
}

// TestClearExpiredSignals verifies expiry sweeping and its event
func TestClearExpiredSignals(t *testing.T) {
	bus := events.NewBus()
	received := make(chan events.Event, 4)
	bus.Subscribe(events.EventSignalExpired, func(e events.Event) {
		received <- e
	})

	s := NewStrategy(nil, bus, zerolog.Nop())
	now := scalpStart
	s.active["BTCUSDT"] = Signal{ID: "stale", Symbol: "BTCUSDT", Timestamp: now.Add(-20 * time.Minute)}
	s.active["ETHUSDT"] = Signal{ID: "fresh", Symbol: "ETHUSDT", Timestamp: now.Add(-2 * time.Minute)}

	if removed := s.ClearExpiredSignals(now); removed != 1 {
		t.Fatalf("Expected 1 removal, got %d", removed)
	}
	if _, ok := s.GetActiveSignal("BTCUSDT"); ok {
		t.Error("Expected stale signal removed")
	}
	if _, ok := s.GetActiveSignal("ETHUSDT"); !ok {
		t.Error("Expected fresh signal kept")
	}

	select {
	case e := <-received:
		if e.Data["signal_id"] != "stale" {
			t.Errorf("Expected expiry for stale signal, got %v", e.Data["signal_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a signal expired event")
	}
}

// TestWhaleEventPublished verifies whale detections go out on the bus
func TestWhaleEventPublished(t *testing.T) {
	bus := events.NewBus()
	received := make(chan events.Event, 4)
	bus.Subscribe(events.EventWhaleDetected, func(e events.Event) {
		received <- e
	})

	s := NewStrategy(nil, bus, zerolog.Nop())
	s.OnTrade(tick("BTCUSDT", 100.0, 600, market.SideBuy, scalpStart))

	select {
	case e := <-received:
		if e.Symbol != "BTCUSDT" {
			t.Errorf("Expected BTCUSDT, got %s", e.Symbol)
		}
		if e.Data["value_usd"].(float64) != 60000.0 {
			t.Errorf("Expected $60k notional, got %v", e.Data["value_usd"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a whale event")
	}
}

// TestMicrostructureSnapshot verifies the derived book and tape metrics
func TestMicrostructureSnapshot(t *testing.T) {
	s := NewStrategy(nil, nil, zerolog.Nop())
	symbol := "BTCUSDT"

	ts := scalpStart
	for i := 0; i < 3; i++ {
		s.OnTrade(tick(symbol, 100.0, 1, market.SideBuy, ts))
		ts = ts.Add(time.Second)
	}
	s.OnTrade(tick(symbol, 100.0, 1, market.SideSell, ts))
	s.OnBookUpdate(strongBook(symbol, ts.Add(time.Second)))

	m, ok := s.LatestMicrostructure(symbol)
	if !ok {
		t.Fatal("Expected a microstructure snapshot")
	}
	if math.Abs(m.SpreadBps-2.0) > 1e-9 {
		t.Errorf("Expected 2bps spread, got %v", m.SpreadBps)
	}
	if math.Abs(m.BookImbalance-0.7) > 1e-9 {
		t.Errorf("Expected imbalance 0.7, got %v", m.BookImbalance)
	}
	if m.Liquidity != 1.0 {
		t.Errorf("Expected full liquidity score, got %v", m.Liquidity)
	}
	if math.Abs(m.BuyRatio-0.75) > 1e-9 {
		t.Errorf("Expected buy ratio 0.75, got %v", m.BuyRatio)
	}
	if math.Abs(m.Toxicity-0.5) > 1e-9 {
		t.Errorf("Expected toxicity 0.5, got %v", m.Toxicity)
	}
	if m.VolumeAtBestBid != 100 || m.VolumeAtBestAsk != 20 {
		t.Errorf("Expected best volumes 100/20, got %v/%v", m.VolumeAtBestBid, m.VolumeAtBestAsk)
	}

	if _, ok := s.LatestMicrostructure("ETHUSDT"); ok {
		t.Error("Expected no snapshot for an unseen symbol")
	}
}
