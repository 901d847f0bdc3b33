// Package scalper implements an order-flow scalping strategy: whale
// flow, volume profile key levels and book microstructure are combined
// into high-frequency entry signals with laddered exits.
package scalper

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"microstructure-engine/internal/events"
	"microstructure-engine/internal/market"
	"microstructure-engine/internal/orderbook"
	"microstructure-engine/internal/profile"
)

const (
	whaleHistorySize = 100
	tradeHistorySize = 1000
	microHistorySize = 100

	// Whale flow must be at least this one-sided by notional before a
	// pattern counts.
	whaleImbalanceThreshold = 0.6

	toxicityTradeLookback = 20
	microDepthLevels      = 5
	liquidityDepthNorm    = 100.0
	keyLevelProximity     = 0.002 // 0.2%

	expectedDurationSeconds = 900
	maxPositionUSD          = 10000.0
)

// Config holds the scalper settings
type Config struct {
	Symbols                []string  `json:"symbols" yaml:"symbols"`
	WhaleThresholdUSD      float64   `json:"whale_threshold_usd" yaml:"whale_threshold_usd" validate:"gt=0"`
	WhaleAccumulationCount int       `json:"whale_accumulation_count" yaml:"whale_accumulation_count" validate:"gt=0"`
	WhaleWindowSeconds     int       `json:"whale_window_seconds" yaml:"whale_window_seconds" validate:"gt=0"`
	BookDepthLevels        int       `json:"book_depth_levels" yaml:"book_depth_levels" validate:"gt=0"`
	MinBookImbalance       float64   `json:"min_book_imbalance" yaml:"min_book_imbalance" validate:"gte=0,lte=1"`
	MaxSpreadBps           float64   `json:"max_spread_bps" yaml:"max_spread_bps" validate:"gt=0"`
	MaxToxicity            float64   `json:"max_toxicity" yaml:"max_toxicity" validate:"gt=0,lte=1"`
	MinConfidence          float64   `json:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=1"`
	TakeProfitLevels       []float64 `json:"take_profit_levels" yaml:"take_profit_levels"` // percent
	StopLossPercent        float64   `json:"stop_loss_percent" yaml:"stop_loss_percent" validate:"gt=0"` // percent
	MaxSignalAgeSeconds    int       `json:"max_signal_age_seconds" yaml:"max_signal_age_seconds" validate:"gt=0"`
	ProfileWindowSeconds   int       `json:"profile_window_seconds" yaml:"profile_window_seconds" validate:"gt=0"`
}

// DefaultConfig returns the default scalper configuration
func DefaultConfig() *Config {
	return &Config{
		Symbols:                []string{"BTCUSDT"},
		WhaleThresholdUSD:      50000.0,
		WhaleAccumulationCount: 3,
		WhaleWindowSeconds:     300,
		BookDepthLevels:        50,
		MinBookImbalance:       0.6,
		MaxSpreadBps:           10.0,
		MaxToxicity:            0.5,
		MinConfidence:          0.7,
		TakeProfitLevels:       []float64{0.3, 0.5, 0.8},
		StopLossPercent:        0.4,
		MaxSignalAgeSeconds:    900,
		ProfileWindowSeconds:   3600,
	}
}

// Strategy scalps around institutional order flow. It owns its volume
// profile and order book analyzers and feeds them from the raw streams.
type Strategy struct {
	mu     sync.RWMutex
	config *Config
	bus    *events.Bus
	logger zerolog.Logger

	profiles *profile.Analyzer
	books    *orderbook.Analyzer

	whales     map[string][]WhaleActivity
	trades     map[string]*market.TickWindow
	micro      map[string][]Microstructure
	active     map[string]Signal
	lastPrices map[string]float64

	signalCount  int
	whaleCount   int
	avgLatencyMs float64
}

// NewStrategy creates an institutional volume scalper
func NewStrategy(config *Config, bus *events.Bus, logger zerolog.Logger) *Strategy {
	if config == nil {
		config = DefaultConfig()
	}
	profileCfg := &profile.AnalyzerConfig{
		WindowSeconds: config.ProfileWindowSeconds,
		TickSize:      0.0001,
		SliceSeconds:  60,
	}
	return &Strategy{
		config:     config,
		bus:        bus,
		logger:     logger.With().Str("component", "InstitutionalVolumeScalper").Logger(),
		profiles:   profile.NewAnalyzer(profileCfg, logger),
		books:      orderbook.NewAnalyzer(config.BookDepthLevels, logger),
		whales:     make(map[string][]WhaleActivity),
		trades:     make(map[string]*market.TickWindow),
		micro:      make(map[string][]Microstructure),
		active:     make(map[string]Signal),
		lastPrices: make(map[string]float64),
	}
}

// OnTrade processes a trade from the tape: it feeds the volume profile,
// tracks whales and attempts signal generation. Returns a signal when
// all entry criteria line up.
func (s *Strategy) OnTrade(t market.Tick) *Signal {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPrices[t.Symbol] = t.Price
	s.tradeWindow(t.Symbol).Append(t)
	s.profiles.AddTrade(t)

	if value := t.Notional(); value >= s.config.WhaleThresholdUSD {
		s.appendWhale(t.Symbol, WhaleActivity{
			Symbol:    t.Symbol,
			Timestamp: t.Timestamp,
			Side:      t.Side,
			Price:     t.Price,
			Size:      t.Qty,
			ValueUSD:  value,
			Type:      WhaleSingleLarge,
		})
		s.whaleCount++
		s.logger.Info().
			Str("symbol", t.Symbol).
			Str("side", string(t.Side)).
			Float64("value_usd", value).
			Float64("price", t.Price).
			Msg("Whale detected")
		if s.bus != nil {
			s.bus.PublishWhale(t.Symbol, string(t.Side), t.Price, value, t.Timestamp)
		}
	}

	signal := s.generateSignal(t.Symbol, t.Timestamp)

	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	s.avgLatencyMs = 0.9*s.avgLatencyMs + 0.1*latencyMs
	return signal
}

// OnBookUpdate applies an order book snapshot and refreshes the
// microstructure history for the symbol.
func (s *Strategy) OnBookUpdate(snap market.BookSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.books.Update(snap)
	if m, ok := s.computeMicrostructure(snap.Symbol, snap.Timestamp); ok {
		hist := append(s.micro[snap.Symbol], m)
		if len(hist) > microHistorySize {
			hist = hist[len(hist)-microHistorySize:]
		}
		s.micro[snap.Symbol] = hist
	}
}

// computeMicrostructure derives spread, imbalance, toxicity and
// liquidity from the current book and recent tape. Caller must hold
// the lock.
func (s *Strategy) computeMicrostructure(symbol string, ts time.Time) (Microstructure, bool) {
	bid, ask, ok := s.books.BestBidAsk(symbol)
	if !ok {
		return Microstructure{}, false
	}
	mid := (bid + ask) / 2
	spreadBps := (ask - bid) / mid * 10000

	imbalance, _ := s.books.Imbalance(symbol, microDepthLevels)
	bidQty, askQty, _ := s.books.VolumeAtBest(symbol)
	depth, _ := s.books.Depth(symbol, microDepthLevels)

	// Toxicity approximated by aggressor imbalance over the recent
	// tape. One-sided flow suggests informed trading.
	buyRatio, sellRatio, toxicity := 0.5, 0.5, 0.0
	if w, exists := s.trades[symbol]; exists && w.Len() > 0 {
		recent := w.Tail(toxicityTradeLookback)
		buys := 0
		for _, t := range recent {
			if t.Side == market.SideBuy {
				buys++
			}
		}
		buyRatio = float64(buys) / float64(len(recent))
		sellRatio = 1 - buyRatio
		toxicity = math.Abs(buyRatio - sellRatio)
	}

	liquidity := math.Min(1.0, (depth.BidDepth+depth.AskDepth)/liquidityDepthNorm)

	return Microstructure{
		Symbol:          symbol,
		Timestamp:       ts,
		SpreadBps:       spreadBps,
		BookImbalance:   imbalance.ImbalanceRatio,
		VolumeAtBestBid: bidQty,
		VolumeAtBestAsk: askQty,
		BidDepth:        depth.BidDepth,
		AskDepth:        depth.AskDepth,
		Toxicity:        toxicity,
		Liquidity:       liquidity,
		BuyRatio:        buyRatio,
		SellRatio:       sellRatio,
	}, true
}

// generateSignal runs the entry gauntlet. Every gate must pass: whale
// pattern, book imbalance, tight spread, low toxicity, proximity to a
// volume profile key level, then the blended confidence floor. Caller
// must hold the lock.
func (s *Strategy) generateSignal(symbol string, ts time.Time) *Signal {
	if active, ok := s.active[symbol]; ok {
		if ts.Sub(active.Timestamp) < s.maxSignalAge() {
			return nil
		}
		delete(s.active, symbol)
	}

	price, ok := s.lastPrices[symbol]
	if !ok || price <= 0 {
		return nil
	}

	whale := s.analyzeWhales(symbol, ts)
	if whale == nil {
		return nil
	}

	poc, ok := s.profiles.POC(symbol)
	if !ok || poc.Price <= 0 {
		return nil
	}

	micro, ok := s.latestMicro(symbol)
	if !ok {
		return nil
	}

	if math.Abs(micro.BookImbalance) < s.config.MinBookImbalance {
		return nil
	}
	if micro.SpreadBps > s.config.MaxSpreadBps {
		return nil
	}
	if micro.Toxicity > s.config.MaxToxicity {
		return nil
	}
	if !s.nearKeyLevel(symbol, price, poc.Price) {
		return nil
	}

	entry := price
	var stop float64
	takeProfits := make([]float64, 0, len(s.config.TakeProfitLevels))
	if whale.direction == market.DirectionLong {
		stop = entry * (1 - s.config.StopLossPercent/100)
		for _, tp := range s.config.TakeProfitLevels {
			takeProfits = append(takeProfits, entry*(1+tp/100))
		}
	} else {
		stop = entry * (1 + s.config.StopLossPercent/100)
		for _, tp := range s.config.TakeProfitLevels {
			takeProfits = append(takeProfits, entry*(1-tp/100))
		}
	}
	if len(takeProfits) == 0 {
		return nil
	}

	risk := math.Abs(entry - stop)
	riskReward := 0.0
	if risk > 0 {
		riskReward = math.Abs(takeProfits[0]-entry) / risk
	}

	confidence := (whale.strength +
		math.Abs(micro.BookImbalance) +
		(1 - micro.SpreadBps/s.config.MaxSpreadBps) +
		(1 - micro.Toxicity/s.config.MaxToxicity) +
		micro.Liquidity) / 5
	if confidence < s.config.MinConfidence {
		return nil
	}

	signal := &Signal{
		ID:                      uuid.New().String(),
		Symbol:                  symbol,
		Timestamp:               ts,
		Direction:               whale.direction,
		EntryPrice:              entry,
		StopLoss:                stop,
		TakeProfit1:             takeProfits[0],
		TakeProfit2:             profitAt(takeProfits, 1),
		TakeProfit3:             profitAt(takeProfits, 2),
		Confidence:              confidence,
		Sources:                 whale.sources,
		RiskReward:              riskReward,
		ExpectedDurationSeconds: expectedDurationSeconds,
		MaxPositionUSD:          maxPositionUSD,
	}
	s.active[symbol] = *signal
	s.signalCount++

	s.logger.Info().
		Str("symbol", symbol).
		Str("direction", string(whale.direction)).
		Float64("entry", entry).
		Float64("confidence", confidence).
		Float64("risk_reward", riskReward).
		Strs("sources", whale.sources).
		Msg("Scalp signal generated")
	if s.bus != nil {
		s.bus.PublishScalpSignal(symbol, string(whale.direction), entry, confidence, ts)
	}
	return signal
}

// analyzeWhales checks whether recent whale flow is one-sided enough to
// call accumulation or distribution. Caller must hold the lock.
func (s *Strategy) analyzeWhales(symbol string, now time.Time) *whalePattern {
	history := s.whales[symbol]
	if len(history) == 0 {
		return nil
	}

	cutoff := now.Add(-time.Duration(s.config.WhaleWindowSeconds) * time.Second)
	var buyCount, sellCount, recent int
	var buyVolume, sellVolume float64
	for _, w := range history {
		if w.Timestamp.Before(cutoff) {
			continue
		}
		recent++
		if w.Side == market.SideBuy {
			buyCount++
			buyVolume += w.ValueUSD
		} else {
			sellCount++
			sellVolume += w.ValueUSD
		}
	}
	if recent < s.config.WhaleAccumulationCount {
		return nil
	}
	total := buyVolume + sellVolume
	if total == 0 {
		return nil
	}

	imbalance := (buyVolume - sellVolume) / total
	if math.Abs(imbalance) < whaleImbalanceThreshold {
		return nil
	}

	direction := market.DirectionLong
	pattern := WhaleAccumulation
	count := buyCount
	if imbalance < 0 {
		direction = market.DirectionShort
		pattern = WhaleDistribution
		count = sellCount
	}

	return &whalePattern{
		direction: direction,
		pattern:   pattern,
		strength:  math.Min(1.0, math.Abs(imbalance)),
		count:     count,
		sources: []string{
			fmt.Sprintf("%d_whales_%s", count, strings.ToLower(string(pattern))),
			fmt.Sprintf("whale_imbalance_%.2f%%", math.Abs(imbalance)*100),
		},
	}
}

// nearKeyLevel reports whether price sits within 0.2% of the POC or a
// value area boundary. Caller must hold the lock.
func (s *Strategy) nearKeyLevel(symbol string, price, poc float64) bool {
	if math.Abs(price-poc)/poc < keyLevelProximity {
		return true
	}
	va, ok := s.profiles.ValueArea(symbol)
	if !ok {
		return false
	}
	if va.VAL > 0 && math.Abs(price-va.VAL)/va.VAL < keyLevelProximity {
		return true
	}
	if va.VAH > 0 && math.Abs(price-va.VAH)/va.VAH < keyLevelProximity {
		return true
	}
	return false
}

func (s *Strategy) latestMicro(symbol string) (Microstructure, bool) {
	hist := s.micro[symbol]
	if len(hist) == 0 {
		return Microstructure{}, false
	}
	return hist[len(hist)-1], true
}

// LatestMicrostructure returns the most recent microstructure snapshot
func (s *Strategy) LatestMicrostructure(symbol string) (Microstructure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestMicro(symbol)
}

// GetActiveSignal returns the live signal for a symbol, if any
func (s *Strategy) GetActiveSignal(symbol string) (Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	signal, ok := s.active[symbol]
	return signal, ok
}

// ClearExpiredSignals drops active signals past the configured age and
// returns how many were removed
func (s *Strategy) ClearExpiredSignals(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for symbol, signal := range s.active {
		if now.Sub(signal.Timestamp) > s.maxSignalAge() {
			delete(s.active, symbol)
			removed++
			s.logger.Info().Str("symbol", symbol).Str("signal_id", signal.ID).Msg("Expired signal removed")
			if s.bus != nil {
				s.bus.PublishSignalExpired(symbol, signal.ID, now)
			}
		}
	}
	return removed
}

// Profiles exposes the volume profile analyzer
func (s *Strategy) Profiles() *profile.Analyzer {
	return s.profiles
}

// Books exposes the order book analyzer
func (s *Strategy) Books() *orderbook.Analyzer {
	return s.books
}

// GetMetrics returns strategy metrics for monitoring
func (s *Strategy) GetMetrics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"strategy_name":       "InstitutionalVolumeScalper",
		"symbols":             s.config.Symbols,
		"signals_generated":   s.signalCount,
		"whales_detected":     s.whaleCount,
		"active_signals":      len(s.active),
		"avg_latency_ms":      math.Round(s.avgLatencyMs*100) / 100,
		"whale_threshold_usd": s.config.WhaleThresholdUSD,
		"min_confidence":      s.config.MinConfidence,
		"status":              "ACTIVE",
	}
}

func (s *Strategy) maxSignalAge() time.Duration {
	return time.Duration(s.config.MaxSignalAgeSeconds) * time.Second
}

func (s *Strategy) tradeWindow(symbol string) *market.TickWindow {
	w, ok := s.trades[symbol]
	if !ok {
		w = market.NewTickWindow(tradeHistorySize)
		s.trades[symbol] = w
	}
	return w
}

func (s *Strategy) appendWhale(symbol string, w WhaleActivity) {
	history := append(s.whales[symbol], w)
	if len(history) > whaleHistorySize {
		history = history[len(history)-whaleHistorySize:]
	}
	s.whales[symbol] = history
}

// profitAt returns the take-profit level at index i, or 0 when fewer
// levels are configured.
func profitAt(levels []float64, i int) float64 {
	if i < len(levels) {
		return levels[i]
	}
	return 0
}
