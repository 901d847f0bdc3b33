package scalper

import (
	"time"

	"microstructure-engine/internal/market"
)

// WhaleType classifies large trader activity
type WhaleType string

const (
	WhaleSingleLarge  WhaleType = "SINGLE_LARGE"
	WhaleAccumulation WhaleType = "ACCUMULATION"
	WhaleDistribution WhaleType = "DISTRIBUTION"
)

// WhaleActivity records a single trade above the whale threshold
type WhaleActivity struct {
	Symbol    string      `json:"symbol"`
	Timestamp time.Time   `json:"timestamp"`
	Side      market.Side `json:"side"`
	Price     float64     `json:"price"`
	Size      float64     `json:"size"`
	ValueUSD  float64     `json:"value_usd"`
	Type      WhaleType   `json:"activity_type"`
}

// Signal is a scalp entry with laddered take profits
type Signal struct {
	ID                      string           `json:"id"`
	Symbol                  string           `json:"symbol"`
	Timestamp               time.Time        `json:"timestamp"`
	Direction               market.Direction `json:"direction"`
	EntryPrice              float64          `json:"entry_price"`
	StopLoss                float64          `json:"stop_loss"`
	TakeProfit1             float64          `json:"take_profit_1"`
	TakeProfit2             float64          `json:"take_profit_2"`
	TakeProfit3             float64          `json:"take_profit_3"`
	Confidence              float64          `json:"confidence"` // 0.0 to 1.0
	Sources                 []string         `json:"signal_sources"`
	RiskReward              float64          `json:"risk_reward_ratio"`
	ExpectedDurationSeconds int              `json:"expected_duration_seconds"`
	MaxPositionUSD          float64          `json:"max_position_size_usd"`
}

// Microstructure is a point-in-time snapshot of book and tape health
type Microstructure struct {
	Symbol          string    `json:"symbol"`
	Timestamp       time.Time `json:"timestamp"`
	SpreadBps       float64   `json:"spread_bps"`
	BookImbalance   float64   `json:"order_book_imbalance"` // -1 sell pressure to +1 buy pressure
	VolumeAtBestBid float64   `json:"volume_at_best_bid"`
	VolumeAtBestAsk float64   `json:"volume_at_best_ask"`
	BidDepth        float64   `json:"bid_depth"` // top 5 levels
	AskDepth        float64   `json:"ask_depth"`
	Toxicity        float64   `json:"toxicity_score"` // informed flow proxy
	Liquidity       float64   `json:"liquidity_score"`
	BuyRatio        float64   `json:"aggressive_buy_ratio"`
	SellRatio       float64   `json:"aggressive_sell_ratio"`
}

// whalePattern is the outcome of whale flow analysis over the window
type whalePattern struct {
	direction market.Direction
	pattern   WhaleType
	strength  float64
	count     int
	sources   []string
}
