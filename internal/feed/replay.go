package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"microstructure-engine/internal/market"
)

// Record is one line of a recorded session: a trade print, a book
// snapshot or a closed candle.
type Record struct {
	Type   string             `json:"type"`
	Symbol string             `json:"symbol"`
	Ts     time.Time          `json:"ts"`
	Price  float64            `json:"price,omitempty"`
	Qty    float64            `json:"qty,omitempty"`
	Side   market.Side        `json:"side,omitempty"`
	Bids   []market.BookLevel `json:"bids,omitempty"`
	Asks   []market.BookLevel `json:"asks,omitempty"`
	Open   float64            `json:"open,omitempty"`
	High   float64            `json:"high,omitempty"`
	Low    float64            `json:"low,omitempty"`
	Close  float64            `json:"close,omitempty"`
	Volume float64            `json:"volume,omitempty"`
}

const (
	RecordTrade  = "trade"
	RecordBook   = "book"
	RecordCandle = "candle"
)

// Replay feeds a JSON-lines recording through the sink in order, as
// fast as the sink can take it. The same file from a cold engine
// always produces the same signal sequence.
type Replay struct {
	r      io.Reader
	logger zerolog.Logger
	onEmit SignalHandler
}

// NewReplay creates a replay source over a recording stream
func NewReplay(r io.Reader, onEmit SignalHandler, logger zerolog.Logger) *Replay {
	return &Replay{
		r:      r,
		logger: logger.With().Str("component", "ReplayFeed").Logger(),
		onEmit: onEmit,
	}
}

// Run streams the recording until EOF, the context ends, or a line
// fails to parse.
func (rp *Replay) Run(ctx context.Context, sink Sink) error {
	scanner := bufio.NewScanner(rp.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("replay line %d: %w", line, err)
		}
		if err := rp.apply(sink, rec, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replay read: %w", err)
	}
	rp.logger.Info().Int("lines", line).Msg("Replay finished")
	return nil
}

func (rp *Replay) apply(sink Sink, rec Record, line int) error {
	switch rec.Type {
	case RecordTrade:
		sig, err := sink.OnTrade(rec.Symbol, rec.Price, rec.Qty, rec.Side, rec.Ts)
		if err != nil {
			return fmt.Errorf("replay line %d: %w", line, err)
		}
		if sig != nil && rp.onEmit != nil {
			rp.onEmit(sig)
		}
	case RecordBook:
		sink.OnOrderBookUpdate(rec.Symbol, rec.Bids, rec.Asks, rec.Ts)
	case RecordCandle:
		sig, err := sink.OnCandleClose(rec.Symbol, market.Candle{
			Open:      rec.Open,
			High:      rec.High,
			Low:       rec.Low,
			Close:     rec.Close,
			Volume:    rec.Volume,
			Timestamp: rec.Ts,
		})
		if err != nil {
			return fmt.Errorf("replay line %d: %w", line, err)
		}
		if sig != nil && rp.onEmit != nil {
			rp.onEmit(sig)
		}
	default:
		return fmt.Errorf("replay line %d: unknown record type %q", line, rec.Type)
	}
	return nil
}
