package model

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func TestNewMarketSnapshotDerivesAggregates(t *testing.T) {
	pools := map[string]PoolMetrics{
		"0xb": {TVLUSD: 2_000_000, Volume24h: 100_000, FeeAPR: 0.03},
		"0xa": {TVLUSD: 1_000_000, Volume24h: 50_000, FeeAPR: 0.05},
	}
	snap := NewMarketSnapshot(time.UnixMilli(1700000000000), pools, 0.4, nil)

	if snap.Timestamp != 1700000000000 {
		t.Fatalf("timestamp mismatch: %d", snap.Timestamp)
	}
	if snap.TotalTVL != 3_000_000 {
		t.Fatalf("total tvl mismatch: %f", snap.TotalTVL)
	}
	if math.Abs(snap.AverageAPR-0.04) > 1e-12 {
		t.Fatalf("average apr mismatch: %f", snap.AverageAPR)
	}
	if got := snap.TotalVolume24h(); got != 150_000 {
		t.Fatalf("total volume mismatch: %f", got)
	}
	if got := snap.Concentration(); math.Abs(got-2.0/3.0) > 1e-12 {
		t.Fatalf("concentration mismatch: %f", got)
	}
	if got := snap.PoolAddresses(); !reflect.DeepEqual(got, []string{"0xa", "0xb"}) {
		t.Fatalf("addresses not sorted: %v", got)
	}
	if snap.Pools["0xa"].Address != "0xa" {
		t.Fatalf("pool address not filled from key")
	}
}

func TestNewMarketSnapshotDoesNotAlias(t *testing.T) {
	pools := map[string]PoolMetrics{"0xa": {TVLUSD: 1}}
	snap := NewMarketSnapshot(time.Now(), pools, 0, nil)
	pools["0xb"] = PoolMetrics{TVLUSD: 5}
	if len(snap.Pools) != 1 {
		t.Fatalf("snapshot pools mutated through input map")
	}
}

func TestNewMarketSnapshotClamps(t *testing.T) {
	snap := NewMarketSnapshot(time.Now(), map[string]PoolMetrics{
		"0xa": {TVLUSD: -5, Volume24h: math.NaN(), FeeAPR: -0.1},
	}, 1.7, nil)

	if snap.MarketVolatility != 1 {
		t.Fatalf("volatility not clamped: %f", snap.MarketVolatility)
	}
	pool := snap.Pools["0xa"]
	if pool.TVLUSD != 0 || pool.Volume24h != 0 || pool.FeeAPR != 0 {
		t.Fatalf("negative values not clamped: %+v", pool)
	}
	if snap.Concentration() != 0 {
		t.Fatalf("concentration should be zero for zero tvl")
	}
}

func TestEmptySnapshot(t *testing.T) {
	snap := NewMarketSnapshot(time.Now(), nil, 0.5, nil)
	if snap.AverageAPR != 0 || snap.TotalTVL != 0 {
		t.Fatalf("empty snapshot aggregates should be zero: %+v", snap)
	}
	if len(snap.PoolAddresses()) != 0 {
		t.Fatalf("expected no addresses")
	}
}
