package model

import (
	"sort"
	"time"
)

// PoolMetrics is one pool observation as reported by the pool data source.
type PoolMetrics struct {
	Address    string  `json:"pool_address"`
	TVLUSD     float64 `json:"tvl_usd"`
	Volume24h  float64 `json:"volume_24h"`
	FeeAPR     float64 `json:"fee_apr"`
	ObservedAt int64   `json:"observed_at"`
}

// PriceFeed is a single price observation scaled by its exponent.
type PriceFeed struct {
	FeedID      string  `json:"feed_id"`
	Symbol      string  `json:"symbol,omitempty"`
	Price       float64 `json:"price"`
	Confidence  float64 `json:"confidence"`
	Exponent    int32   `json:"exponent"`
	PublishTime int64   `json:"publish_time"`
}

// MarketSnapshot is one immutable observation of pool and price state.
// AverageAPR and TotalTVL are derived by NewMarketSnapshot.
type MarketSnapshot struct {
	Timestamp        int64                  `json:"timestamp"`
	Pools            map[string]PoolMetrics `json:"pools"`
	MarketVolatility float64                `json:"market_volatility"`
	AverageAPR       float64                `json:"average_apr"`
	TotalTVL         float64                `json:"total_tvl"`
	PriceFeeds       []PriceFeed            `json:"price_feeds,omitempty"`
	PoolFallback     bool                   `json:"pool_fallback"`
	PriceFallback    bool                   `json:"price_fallback"`
}

// NewMarketSnapshot builds a snapshot and derives the aggregate fields.
// Negative pool values are clamped to zero.
func NewMarketSnapshot(ts time.Time, pools map[string]PoolMetrics, volatility float64, feeds []PriceFeed) MarketSnapshot {
	copied := make(map[string]PoolMetrics, len(pools))
	var aprSum, tvlSum float64
	for addr, pool := range pools {
		pool.TVLUSD = nonNegative(pool.TVLUSD)
		pool.Volume24h = nonNegative(pool.Volume24h)
		pool.FeeAPR = nonNegative(pool.FeeAPR)
		if pool.Address == "" {
			pool.Address = addr
		}
		copied[addr] = pool
		aprSum += pool.FeeAPR
		tvlSum += pool.TVLUSD
	}

	var avgAPR float64
	if len(copied) > 0 {
		avgAPR = aprSum / float64(len(copied))
	}

	feedsCopy := make([]PriceFeed, len(feeds))
	copy(feedsCopy, feeds)

	return MarketSnapshot{
		Timestamp:        ts.UnixMilli(),
		Pools:            copied,
		MarketVolatility: clampUnit(volatility),
		AverageAPR:       avgAPR,
		TotalTVL:         tvlSum,
		PriceFeeds:       feedsCopy,
	}
}

// PoolAddresses returns the pool keys in ascending order.
func (s MarketSnapshot) PoolAddresses() []string {
	out := make([]string, 0, len(s.Pools))
	for addr := range s.Pools {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// TotalVolume24h sums the 24h volume of all pools.
func (s MarketSnapshot) TotalVolume24h() float64 {
	var total float64
	for _, pool := range s.Pools {
		total += pool.Volume24h
	}
	return total
}

// Concentration is the largest single-pool share of total TVL.
func (s MarketSnapshot) Concentration() float64 {
	if s.TotalTVL <= 0 {
		return 0
	}
	var largest float64
	for _, pool := range s.Pools {
		if pool.TVLUSD > largest {
			largest = pool.TVLUSD
		}
	}
	return largest / s.TotalTVL
}

// Fallback reports whether any part of the snapshot came from fallback data.
func (s MarketSnapshot) Fallback() bool {
	return s.PoolFallback || s.PriceFallback
}

func nonNegative(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	return v
}

func clampUnit(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
