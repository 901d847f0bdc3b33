// Package profile builds volume profiles: per-price-level volume
// histograms used to locate the point of control, the value area and
// volume-based support/resistance.
package profile

import (
	"math"
	"sort"

	"microstructure-engine/internal/market"
	"microstructure-engine/internal/stats"
)

// Node is a single price level with accumulated volume data.
type Node struct {
	PriceLevel  float64 `json:"price_level"`
	TotalVolume float64 `json:"total_volume"`
	BuyVolume   float64 `json:"buy_volume"`
	SellVolume  float64 `json:"sell_volume"`
	TradeCount  int     `json:"trade_count"`
}

// Imbalance returns the buy/sell imbalance at this level, in [-1, 1].
func (n Node) Imbalance() float64 {
	if n.TotalVolume == 0 {
		return 0
	}
	return (n.BuyVolume - n.SellVolume) / n.TotalVolume
}

// IsBullish reports whether this level shows buying pressure.
func (n Node) IsBullish() bool {
	return n.Imbalance() > 0.2
}

// IsBearish reports whether this level shows selling pressure.
func (n Node) IsBearish() bool {
	return n.Imbalance() < -0.2
}

// POC is the point of control: the price level with the highest volume.
type POC struct {
	Price             float64 `json:"price"`
	Volume            float64 `json:"volume"`
	PercentageOfTotal float64 `json:"percentage_of_total"`
}

// ValueArea is the price band containing the target share of volume.
type ValueArea struct {
	VAH          float64 `json:"vah"`
	VAL          float64 `json:"val"`
	POC          POC     `json:"poc"`
	VolumeInArea float64 `json:"volume_in_area"`
	TotalVolume  float64 `json:"total_volume"`
}

// Width returns the price width of the value area.
func (va ValueArea) Width() float64 {
	return va.VAH - va.VAL
}

// Percentage returns the share of total volume inside the value area.
func (va ValueArea) Percentage() float64 {
	if va.TotalVolume == 0 {
		return 0
	}
	return va.VolumeInArea / va.TotalVolume * 100
}

// DistributionStats summarizes how volume spreads across price levels.
type DistributionStats struct {
	TotalVolume         float64 `json:"total_volume"`
	NumPriceLevels      int     `json:"num_price_levels"`
	AvgVolumePerLevel   float64 `json:"avg_volume_per_level"`
	StdVolume           float64 `json:"std_volume"`
	MaxVolume           float64 `json:"max_volume"`
	MinVolume           float64 `json:"min_volume"`
	VolumeConcentration float64 `json:"volume_concentration"`
}

// Profile aggregates trade volume into fixed price buckets. The bucket
// width is anchored to the first observed price so that all trades of a
// symbol land on one stable grid.
type Profile struct {
	tickSize    float64
	bucketSize  float64
	nodes       map[int64]*Node
	totalVolume float64
	minIdx      int64
	maxIdx      int64
}

// NewProfile creates a profile with bucket width tickSize expressed as a
// fraction of price (0.001 = 0.1%).
func NewProfile(tickSize float64) *Profile {
	if tickSize <= 0 {
		tickSize = 0.001
	}
	return &Profile{
		tickSize: tickSize,
		nodes:    make(map[int64]*Node),
	}
}

// NewProfileWithBucket creates a profile on an explicit absolute bucket
// width. Used to merge sub-profiles onto one shared grid.
func NewProfileWithBucket(bucketSize float64) *Profile {
	p := NewProfile(0.001)
	p.bucketSize = bucketSize
	return p
}

// BucketSize returns the absolute bucket width, 0 until the first trade.
func (p *Profile) BucketSize() float64 {
	return p.bucketSize
}

// AddTrade accumulates one trade into its price bucket.
func (p *Profile) AddTrade(price, volume float64, side market.Side) {
	if price <= 0 || volume <= 0 {
		return
	}
	if p.bucketSize == 0 {
		// Anchor the grid to the first observed price
		p.bucketSize = price * p.tickSize
	}
	idx := int64(math.Round(price / p.bucketSize))

	node, ok := p.nodes[idx]
	if !ok {
		node = &Node{PriceLevel: float64(idx) * p.bucketSize}
		p.nodes[idx] = node
		if len(p.nodes) == 1 {
			p.minIdx, p.maxIdx = idx, idx
		}
	}
	node.TotalVolume += volume
	node.TradeCount++
	if side == market.SideBuy {
		node.BuyVolume += volume
	} else {
		node.SellVolume += volume
	}

	p.totalVolume += volume
	if idx < p.minIdx {
		p.minIdx = idx
	}
	if idx > p.maxIdx {
		p.maxIdx = idx
	}
}

// TotalVolume returns the volume accumulated across all levels.
func (p *Profile) TotalVolume() float64 {
	return p.totalVolume
}

// NumLevels returns the number of populated price levels.
func (p *Profile) NumLevels() int {
	return len(p.nodes)
}

// PriceRange returns the lowest and highest populated level prices.
func (p *Profile) PriceRange() (low, high float64, ok bool) {
	if len(p.nodes) == 0 {
		return 0, 0, false
	}
	return float64(p.minIdx) * p.bucketSize, float64(p.maxIdx) * p.bucketSize, true
}

// POC returns the price level with the highest volume. Ties resolve to
// the lowest price so results are stable across runs.
func (p *Profile) POC() (POC, bool) {
	if len(p.nodes) == 0 {
		return POC{}, false
	}
	var best *Node
	for _, node := range p.nodes {
		if best == nil || node.TotalVolume > best.TotalVolume ||
			(node.TotalVolume == best.TotalVolume && node.PriceLevel < best.PriceLevel) {
			best = node
		}
	}
	pct := 0.0
	if p.totalVolume > 0 {
		pct = best.TotalVolume / p.totalVolume * 100
	}
	return POC{
		Price:             best.PriceLevel,
		Volume:            best.TotalVolume,
		PercentageOfTotal: pct,
	}, true
}

// ValueArea returns the band of highest-volume levels that together hold
// at least the given fraction of total volume (0.70 = 70%).
func (p *Profile) ValueArea(fraction float64) (ValueArea, bool) {
	if len(p.nodes) == 0 || p.totalVolume == 0 {
		return ValueArea{}, false
	}
	poc, ok := p.POC()
	if !ok {
		return ValueArea{}, false
	}

	sorted := make([]*Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		sorted = append(sorted, node)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalVolume != sorted[j].TotalVolume {
			return sorted[i].TotalVolume > sorted[j].TotalVolume
		}
		return sorted[i].PriceLevel < sorted[j].PriceLevel
	})

	target := p.totalVolume * fraction
	accumulated := 0.0
	vah, val := math.Inf(-1), math.Inf(1)
	for _, node := range sorted {
		accumulated += node.TotalVolume
		if node.PriceLevel > vah {
			vah = node.PriceLevel
		}
		if node.PriceLevel < val {
			val = node.PriceLevel
		}
		if accumulated >= target {
			break
		}
	}

	return ValueArea{
		VAH:          vah,
		VAL:          val,
		POC:          poc,
		VolumeInArea: accumulated,
		TotalVolume:  p.totalVolume,
	}, true
}

// VolumeAtPrice returns the accumulated volume in the bucket containing price.
func (p *Profile) VolumeAtPrice(price float64) float64 {
	if p.bucketSize == 0 {
		return 0
	}
	node, ok := p.nodes[int64(math.Round(price/p.bucketSize))]
	if !ok {
		return 0
	}
	return node.TotalVolume
}

// ImbalanceAtPrice returns the buy/sell imbalance in the bucket containing price.
func (p *Profile) ImbalanceAtPrice(price float64) float64 {
	if p.bucketSize == 0 {
		return 0
	}
	node, ok := p.nodes[int64(math.Round(price/p.bucketSize))]
	if !ok {
		return 0
	}
	return node.Imbalance()
}

// HighVolumeNodes returns levels at or above the given volume percentile
// (0.80 = top 20%), ordered by price ascending.
func (p *Profile) HighVolumeNodes(percentile float64) []Node {
	if len(p.nodes) == 0 {
		return nil
	}
	volumes := make([]float64, 0, len(p.nodes))
	for _, node := range p.nodes {
		volumes = append(volumes, node.TotalVolume)
	}
	threshold := stats.Percentile(volumes, percentile*100)

	out := make([]Node, 0)
	for _, node := range p.nodes {
		if node.TotalVolume >= threshold {
			out = append(out, *node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceLevel < out[j].PriceLevel })
	return out
}

// SupportResistance splits high-volume levels around the POC: supports
// below (closest first), resistances above, at most numLevels each.
func (p *Profile) SupportResistance(numLevels int) (support, resistance []float64) {
	if len(p.nodes) == 0 {
		return nil, nil
	}
	highVol := p.HighVolumeNodes(0.75)
	poc, ok := p.POC()
	if !ok {
		return nil, nil
	}

	for _, node := range highVol {
		if node.PriceLevel < poc.Price {
			support = append(support, node.PriceLevel)
		} else if node.PriceLevel > poc.Price {
			resistance = append(resistance, node.PriceLevel)
		}
	}

	// Closest to POC first
	for i, j := 0, len(support)-1; i < j; i, j = i+1, j-1 {
		support[i], support[j] = support[j], support[i]
	}
	if len(support) > numLevels {
		support = support[:numLevels]
	}
	if len(resistance) > numLevels {
		resistance = resistance[:numLevels]
	}
	return support, resistance
}

// Distribution returns summary statistics of the volume histogram.
func (p *Profile) Distribution() DistributionStats {
	if len(p.nodes) == 0 {
		return DistributionStats{}
	}
	volumes := make([]float64, 0, len(p.nodes))
	for _, node := range p.nodes {
		volumes = append(volumes, node.TotalVolume)
	}
	maxVol := stats.Max(volumes)
	concentration := 0.0
	if p.totalVolume > 0 {
		concentration = maxVol / p.totalVolume
	}
	return DistributionStats{
		TotalVolume:         p.totalVolume,
		NumPriceLevels:      len(p.nodes),
		AvgVolumePerLevel:   stats.Mean(volumes),
		StdVolume:           stats.Std(volumes),
		MaxVolume:           maxVol,
		MinVolume:           stats.Min(volumes),
		VolumeConcentration: concentration,
	}
}

// merge folds another profile on the same grid into this one.
func (p *Profile) merge(other *Profile) {
	if other == nil {
		return
	}
	if p.bucketSize == 0 {
		p.bucketSize = other.bucketSize
	}
	for idx, node := range other.nodes {
		dst, ok := p.nodes[idx]
		if !ok {
			dst = &Node{PriceLevel: node.PriceLevel}
			p.nodes[idx] = dst
			if len(p.nodes) == 1 {
				p.minIdx, p.maxIdx = idx, idx
			}
		}
		dst.TotalVolume += node.TotalVolume
		dst.BuyVolume += node.BuyVolume
		dst.SellVolume += node.SellVolume
		dst.TradeCount += node.TradeCount
		if idx < p.minIdx {
			p.minIdx = idx
		}
		if idx > p.maxIdx {
			p.maxIdx = idx
		}
	}
	p.totalVolume += other.totalVolume
}

// Clear discards all accumulated volume but keeps the grid anchor.
func (p *Profile) Clear() {
	p.nodes = make(map[int64]*Node)
	p.totalVolume = 0
	p.minIdx, p.maxIdx = 0, 0
}
