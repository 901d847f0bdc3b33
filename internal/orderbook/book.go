// Package orderbook tracks L2 order book state and derives microstructure
// metrics: imbalance, depth, spread quality, liquidity walls and order
// flow toxicity.
package orderbook

import (
	"math"
	"sort"
	"time"

	"microstructure-engine/internal/market"
	"microstructure-engine/internal/stats"
)

// Pressure classification thresholds on the imbalance ratio.
const (
	pressureThreshold = 0.2
)

// Imbalance holds order book imbalance metrics for one snapshot.
type Imbalance struct {
	BidVolume      float64 `json:"bid_volume"`
	AskVolume      float64 `json:"ask_volume"`
	ImbalanceRatio float64 `json:"imbalance_ratio"` // (bid - ask) / (bid + ask)
	Spread         float64 `json:"spread"`
	MidPrice       float64 `json:"mid_price"`
	LiquidityScore float64 `json:"liquidity_score"` // 0 to 1, higher = more liquid
	Pressure       string  `json:"pressure"`        // "BUY", "SELL", or "NEUTRAL"
}

// IsBullish reports whether the book shows buying pressure.
func (im Imbalance) IsBullish() bool {
	return im.ImbalanceRatio > pressureThreshold
}

// IsBearish reports whether the book shows selling pressure.
func (im Imbalance) IsBearish() bool {
	return im.ImbalanceRatio < -pressureThreshold
}

// Depth sums the quantity resting on each side of the book.
type Depth struct {
	BidDepth float64 `json:"bid_depth"`
	AskDepth float64 `json:"ask_depth"`
}

// DepthProfile summarizes market depth at several distances from mid.
type DepthProfile struct {
	MidPrice        float64            `json:"mid_price"`
	SpreadBps       float64            `json:"spread_bps"`
	BidVolume       float64            `json:"bid_volume"`
	AskVolume       float64            `json:"ask_volume"`
	Imbalance       float64            `json:"imbalance"`
	LiquidityScore  float64            `json:"liquidity_score"`
	DepthByDistance map[string]float64 `json:"depth_by_distance"`
}

// Book holds the L2 state of a single symbol, truncated to a fixed number
// of levels per side, with rolling spread and imbalance histories.
type Book struct {
	depthLevels      int
	bids             []market.BookLevel // sorted descending by price
	asks             []market.BookLevel // sorted ascending by price
	lastUpdate       time.Time
	spreadHistory    *stats.Window
	imbalanceHistory *stats.Window
}

// NewBook creates a book tracking at most depthLevels per side.
func NewBook(depthLevels int) *Book {
	if depthLevels <= 0 {
		depthLevels = 50
	}
	return &Book{
		depthLevels:      depthLevels,
		spreadHistory:    stats.NewWindow(1000),
		imbalanceHistory: stats.NewWindow(1000),
	}
}

// Update replaces the book state with a new snapshot. Levels beyond the
// configured depth are dropped after sorting.
func (b *Book) Update(bids, asks []market.BookLevel, ts time.Time) {
	b.bids = append(b.bids[:0:0], bids...)
	b.asks = append(b.asks[:0:0], asks...)

	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })

	if len(b.bids) > b.depthLevels {
		b.bids = b.bids[:b.depthLevels]
	}
	if len(b.asks) > b.depthLevels {
		b.asks = b.asks[:b.depthLevels]
	}
	b.lastUpdate = ts

	if im, ok := b.Imbalance(10); ok {
		b.spreadHistory.Push(im.Spread)
		b.imbalanceHistory.Push(im.ImbalanceRatio)
	}
}

// LastUpdate returns the timestamp of the most recent snapshot.
func (b *Book) LastUpdate() time.Time {
	return b.lastUpdate
}

// BestBid returns the highest bid price.
func (b *Book) BestBid() (float64, bool) {
	if len(b.bids) == 0 {
		return 0, false
	}
	return b.bids[0].Price, true
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (float64, bool) {
	if len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].Price, true
}

// MidPrice returns the midpoint of best bid and ask.
func (b *Book) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Spread returns the absolute bid-ask spread.
func (b *Book) Spread() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask - bid, true
}

// SpreadBps returns the spread in basis points of mid.
func (b *Book) SpreadBps() (float64, bool) {
	spread, okS := b.Spread()
	mid, okM := b.MidPrice()
	if !okS || !okM || mid <= 0 {
		return 0, false
	}
	return spread / mid * 10000, true
}

// VolumeAtBest returns the resting quantity at best bid and best ask.
func (b *Book) VolumeAtBest() (bidQty, askQty float64, ok bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, 0, false
	}
	return b.bids[0].Qty, b.asks[0].Qty, true
}

// Imbalance computes bid/ask imbalance over the top levels of each side.
func (b *Book) Imbalance(levels int) (Imbalance, bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return Imbalance{}, false
	}
	d := b.DepthTop(levels)
	total := d.BidDepth + d.AskDepth

	ratio := 0.0
	if total > 0 {
		ratio = (d.BidDepth - d.AskDepth) / total
	}

	spread, _ := b.Spread()
	mid, _ := b.MidPrice()

	// Higher volume and tighter spread = more liquid
	liquidity := math.Min(1.0, total/10000)
	if spread > 0 {
		liquidity *= 1.0 / (1.0 + spread)
	}

	pressure := "NEUTRAL"
	if ratio > pressureThreshold {
		pressure = "BUY"
	} else if ratio < -pressureThreshold {
		pressure = "SELL"
	}

	return Imbalance{
		BidVolume:      d.BidDepth,
		AskVolume:      d.AskDepth,
		ImbalanceRatio: ratio,
		Spread:         spread,
		MidPrice:       mid,
		LiquidityScore: liquidity,
		Pressure:       pressure,
	}, true
}

// DepthTop sums quantity over the top levels of each side.
func (b *Book) DepthTop(levels int) Depth {
	var d Depth
	for i, level := range b.bids {
		if i >= levels {
			break
		}
		d.BidDepth += level.Qty
	}
	for i, level := range b.asks {
		if i >= levels {
			break
		}
		d.AskDepth += level.Qty
	}
	return d
}

// DepthAtPrice returns quantity available at or better than price:
// bids at or above, asks at or below.
func (b *Book) DepthAtPrice(price float64) (bidDepth, askDepth float64) {
	for _, level := range b.bids {
		if level.Price >= price {
			bidDepth += level.Qty
		}
	}
	for _, level := range b.asks {
		if level.Price <= price {
			askDepth += level.Qty
		}
	}
	return bidDepth, askDepth
}

// BidVWAP returns the volume-weighted average price over the top bid levels.
func (b *Book) BidVWAP(levels int) (float64, bool) {
	return vwap(b.bids, levels)
}

// AskVWAP returns the volume-weighted average price over the top ask levels.
func (b *Book) AskVWAP(levels int) (float64, bool) {
	return vwap(b.asks, levels)
}

func vwap(side []market.BookLevel, levels int) (float64, bool) {
	if len(side) == 0 {
		return 0, false
	}
	if levels > len(side) {
		levels = len(side)
	}
	totalValue, totalQty := 0.0, 0.0
	for _, level := range side[:levels] {
		totalValue += level.Price * level.Qty
		totalQty += level.Qty
	}
	if totalQty == 0 {
		return 0, false
	}
	return totalValue / totalQty, true
}

// DetectWalls returns price levels holding more than thresholdMultiplier
// times the average size of their side.
func (b *Book) DetectWalls(thresholdMultiplier float64) (bidWalls, askWalls []float64) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return nil, nil
	}
	avgBid := avgQty(b.bids)
	avgAsk := avgQty(b.asks)

	for _, level := range b.bids {
		if level.Qty > avgBid*thresholdMultiplier {
			bidWalls = append(bidWalls, level.Price)
		}
	}
	for _, level := range b.asks {
		if level.Qty > avgAsk*thresholdMultiplier {
			askWalls = append(askWalls, level.Price)
		}
	}
	return bidWalls, askWalls
}

func avgQty(side []market.BookLevel) float64 {
	if len(side) == 0 {
		return 0
	}
	sum := 0.0
	for _, level := range side {
		sum += level.Qty
	}
	return sum / float64(len(side))
}

// LiquidityHeatmap maps price to resting quantity within priceRange
// (fraction of mid) around the mid price.
func (b *Book) LiquidityHeatmap(priceRange float64) map[float64]float64 {
	mid, ok := b.MidPrice()
	if !ok {
		return nil
	}
	heatmap := make(map[float64]float64)
	for _, level := range b.bids {
		if math.Abs(level.Price-mid)/mid <= priceRange {
			heatmap[level.Price] = level.Qty
		}
	}
	for _, level := range b.asks {
		if math.Abs(level.Price-mid)/mid <= priceRange {
			heatmap[level.Price] = level.Qty
		}
	}
	return heatmap
}

// DepthProfile summarizes depth at 0.1%, 0.5%, 1% and 2% from mid.
func (b *Book) DepthProfile() (DepthProfile, bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return DepthProfile{}, false
	}
	mid, ok := b.MidPrice()
	if !ok {
		return DepthProfile{}, false
	}
	im, _ := b.Imbalance(20)
	spreadBps, _ := b.SpreadBps()

	depths := make(map[string]float64, 4)
	for _, pct := range []float64{0.001, 0.005, 0.01, 0.02} {
		bidDepth, _ := b.DepthAtPrice(mid * (1 - pct))
		_, askDepth := b.DepthAtPrice(mid * (1 + pct))
		depths[distanceKey(pct)] = bidDepth + askDepth
	}

	return DepthProfile{
		MidPrice:        mid,
		SpreadBps:       spreadBps,
		BidVolume:       im.BidVolume,
		AskVolume:       im.AskVolume,
		Imbalance:       im.ImbalanceRatio,
		LiquidityScore:  im.LiquidityScore,
		DepthByDistance: depths,
	}, true
}

func distanceKey(pct float64) string {
	switch pct {
	case 0.001:
		return "depth_0.1%"
	case 0.005:
		return "depth_0.5%"
	case 0.01:
		return "depth_1.0%"
	default:
		return "depth_2.0%"
	}
}

// IsSpreadAnomaly reports whether the current spread deviates more than
// threshold standard deviations from the rolling mean. Needs 20 samples.
func (b *Book) IsSpreadAnomaly(threshold float64) bool {
	if b.spreadHistory.Count() < 20 {
		return false
	}
	current, ok := b.Spread()
	if !ok {
		return false
	}
	values := b.spreadHistory.Values()
	mean := stats.Mean(values)
	std := stats.Std(values)
	if std == 0 {
		return false
	}
	return math.Abs((current-mean)/std) > threshold
}

// FlowToxicity scores how erratic the imbalance has been: volatile
// imbalances suggest informed flow. Returns 0.5 until 20 samples exist.
func (b *Book) FlowToxicity() float64 {
	if b.imbalanceHistory.Count() < 20 {
		return 0.5
	}
	vol := stats.Std(b.imbalanceHistory.Tail(20))
	return math.Min(1.0, vol/0.5)
}
