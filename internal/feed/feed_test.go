package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/engine"
	"microstructure-engine/internal/market"
)

// captureSink records the stream it receives. An optional signal is
// returned for every trade to exercise the emission path.
type captureSink struct {
	trades  []market.Tick
	books   []market.BookSnapshot
	candles []market.Candle
	emit    *engine.EnhancedSignal
}

func (c *captureSink) OnTrade(symbol string, price, qty float64, side market.Side, ts time.Time) (*engine.EnhancedSignal, error) {
	c.trades = append(c.trades, market.Tick{Symbol: symbol, Price: price, Qty: qty, Side: side, Timestamp: ts})
	return c.emit, nil
}

func (c *captureSink) OnOrderBookUpdate(symbol string, bids, asks []market.BookLevel, ts time.Time) {
	c.books = append(c.books, market.BookSnapshot{Symbol: symbol, Bids: bids, Asks: asks, Timestamp: ts})
}

func (c *captureSink) OnCandleClose(symbol string, candle market.Candle) (*engine.EnhancedSignal, error) {
	c.candles = append(c.candles, candle)
	return nil, nil
}

// TestSyntheticDeterminism verifies the same seed replays the same tape
func TestSyntheticDeterminism(t *testing.T) {
	run := func() *captureSink {
		config := DefaultSyntheticConfig()
		config.DurationMinutes = 2
		sink := &captureSink{}
		src := NewSynthetic(config, nil, zerolog.Nop())
		if err := src.Run(context.Background(), sink); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return sink
	}

	a, b := run(), run()
	if len(a.trades) != len(b.trades) || len(a.trades) == 0 {
		t.Fatalf("Expected identical non-empty tapes, got %d vs %d trades", len(a.trades), len(b.trades))
	}
	for i := range a.trades {
		if a.trades[i].Price != b.trades[i].Price || a.trades[i].Qty != b.trades[i].Qty || a.trades[i].Side != b.trades[i].Side {
			t.Fatalf("Trade %d diverged: %+v vs %+v", i, a.trades[i], b.trades[i])
		}
	}
}

// TestSyntheticShape verifies the stream carries books and closed
// candles at the configured cadence
func TestSyntheticShape(t *testing.T) {
	config := DefaultSyntheticConfig()
	config.DurationMinutes = 3
	sink := &captureSink{}
	src := NewSynthetic(config, nil, zerolog.Nop())
	if err := src.Run(context.Background(), sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(sink.trades); got != 180 {
		t.Errorf("Expected one trade per simulated second (180), got %d", got)
	}
	// Candles close at the 60s and 120s marks; the run ends before 180s
	// closes a third.
	if got := len(sink.candles); got != 2 {
		t.Errorf("Expected 2 closed candles, got %d", got)
	}
	if got := len(sink.books); got != 36 {
		t.Errorf("Expected a book snapshot every 5s (36), got %d", got)
	}
	for _, c := range sink.candles {
		if c.High < c.Low || c.Volume <= 0 {
			t.Errorf("Malformed candle: %+v", c)
		}
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Errorf("OHLC out of range: %+v", c)
		}
	}

	whales := 0
	for _, tr := range sink.trades {
		if tr.Qty == config.WhaleQty {
			whales++
		}
	}
	if whales != 1 {
		t.Errorf("Expected exactly 1 whale print in 180 trades, got %d", whales)
	}
}

// TestSyntheticCancellation verifies an unbounded run stops on context
// cancel
func TestSyntheticCancellation(t *testing.T) {
	config := DefaultSyntheticConfig()
	config.TickInterval = time.Millisecond
	sink := &captureSink{}
	src := NewSynthetic(config, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := src.Run(ctx, sink); err != context.DeadlineExceeded {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

// TestReplayStream verifies ordered dispatch and the emission hook
func TestReplayStream(t *testing.T) {
	recording := strings.Join([]string{
		`{"type":"trade","symbol":"BTCUSDT","price":100,"qty":2,"side":"BUY","ts":"2024-03-01T10:00:00Z"}`,
		`{"type":"book","symbol":"BTCUSDT","bids":[{"price":99.99,"qty":10}],"asks":[{"price":100.01,"qty":8}],"ts":"2024-03-01T10:00:01Z"}`,
		`{"type":"candle","symbol":"BTCUSDT","open":100,"high":101,"low":99,"close":100.5,"volume":250,"ts":"2024-03-01T10:01:00Z"}`,
	}, "\n")

	sink := &captureSink{emit: &engine.EnhancedSignal{ID: "sig-1", Symbol: "BTCUSDT"}}
	var emitted []*engine.EnhancedSignal
	src := NewReplay(strings.NewReader(recording), func(s *engine.EnhancedSignal) {
		emitted = append(emitted, s)
	}, zerolog.Nop())

	if err := src.Run(context.Background(), sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.trades) != 1 || len(sink.books) != 1 || len(sink.candles) != 1 {
		t.Fatalf("Expected 1/1/1 events, got %d/%d/%d", len(sink.trades), len(sink.books), len(sink.candles))
	}
	if sink.trades[0].Side != market.SideBuy || sink.trades[0].Notional() != 200 {
		t.Errorf("Unexpected trade: %+v", sink.trades[0])
	}
	if sink.candles[0].Close != 100.5 {
		t.Errorf("Unexpected candle close: %v", sink.candles[0].Close)
	}
	if len(emitted) != 1 || emitted[0].ID != "sig-1" {
		t.Errorf("Expected the trade signal to reach the emission hook, got %v", emitted)
	}
}

// TestReplayRejectsMalformedLines verifies parse failures carry the
// line number
func TestReplayRejectsMalformedLines(t *testing.T) {
	recording := `{"type":"trade","symbol":"BTCUSDT","price":100,"qty":2,"side":"BUY","ts":"2024-03-01T10:00:00Z"}
not json`
	src := NewReplay(strings.NewReader(recording), nil, zerolog.Nop())
	err := src.Run(context.Background(), &captureSink{})
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Expected the line number in the error, got %v", err)
	}
}

// TestReplayRejectsUnknownType verifies unknown record types stop the
// stream
func TestReplayRejectsUnknownType(t *testing.T) {
	src := NewReplay(strings.NewReader(`{"type":"quote","symbol":"BTCUSDT","ts":"2024-03-01T10:00:00Z"}`), nil, zerolog.Nop())
	if err := src.Run(context.Background(), &captureSink{}); err == nil {
		t.Fatal("Expected an unknown type error")
	}
}
