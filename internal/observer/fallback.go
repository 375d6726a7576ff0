package observer

import (
	"time"

	"liquidAgent/internal/model"
)

// Fallback pool addresses used when the pool source is unreachable.
const (
	FallbackPoolA = "0x1234567890123456789012345678901234567890"
	FallbackPoolB = "0x2345678901234567890123456789012345678901"
)

// FallbackPools is the fixed dataset substituted for a failed pool fetch.
func FallbackPools(now time.Time) []model.PoolMetrics {
	ts := now.Unix()
	return []model.PoolMetrics{
		{Address: FallbackPoolA, TVLUSD: 1_000_000, Volume24h: 50_000, FeeAPR: 0.05, ObservedAt: ts},
		{Address: FallbackPoolB, TVLUSD: 2_000_000, Volume24h: 100_000, FeeAPR: 0.03, ObservedAt: ts},
	}
}

// FallbackPrices is the fixed dataset substituted for a failed price fetch:
// ETH/USD at 2500 with a 1 USD confidence band.
func FallbackPrices(now time.Time) []model.PriceFeed {
	return []model.PriceFeed{{
		FeedID:      FeedETHUSD,
		Symbol:      "ETH/USD",
		Price:       2500,
		Confidence:  1,
		Exponent:    -8,
		PublishTime: now.Unix(),
	}}
}
