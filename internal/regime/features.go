package regime

// FeatureCount is the dimensionality of the classifier input vector.
const FeatureCount = 17

// Features is the market snapshot the classifier consumes. Volatility
// and return horizons are labelled by wall-clock span; the order book
// and microstructure fields come from the latest book snapshot and
// recent tape.
type Features struct {
	RealizedVol1h  float64 `json:"realized_vol_1h"`
	RealizedVol4h  float64 `json:"realized_vol_4h"`
	RealizedVol24h float64 `json:"realized_vol_24h"`
	VolOfVol       float64 `json:"vol_of_vol"`

	Volume1h    float64 `json:"volume_1h"`
	Volume4h    float64 `json:"volume_4h"`
	Volume24h   float64 `json:"volume_24h"`
	VolumeRatio float64 `json:"volume_ratio"` // current / average

	Returns1h    float64 `json:"returns_1h"`
	Returns4h    float64 `json:"returns_4h"`
	Returns24h   float64 `json:"returns_24h"`
	PriceRange1h float64 `json:"price_range_1h"`

	SpreadBps      float64 `json:"spread_bps"`
	BookImbalance  float64 `json:"order_book_imbalance"`
	DepthImbalance float64 `json:"depth_imbalance"`

	TradeAggression     float64 `json:"trade_aggression"` // share of flow on the dominant side
	LargeTradeFrequency float64 `json:"large_trade_frequency"`
}

// Vector flattens the features into the fixed classifier input order.
func (f Features) Vector() [FeatureCount]float64 {
	return [FeatureCount]float64{
		f.RealizedVol1h, f.RealizedVol4h, f.RealizedVol24h,
		f.VolOfVol, f.Volume1h, f.Volume4h, f.Volume24h,
		f.VolumeRatio, f.Returns1h, f.Returns4h, f.Returns24h,
		f.PriceRange1h, f.SpreadBps, f.BookImbalance,
		f.DepthImbalance, f.TradeAggression, f.LargeTradeFrequency,
	}
}
