// Package observer polls pool and price sources and produces market
// snapshots.
package observer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidAgent/internal/history"
	"liquidAgent/internal/metrics"
	"liquidAgent/internal/model"
)

// Config holds observer settings.
type Config struct {
	// Pools restricts snapshots to these addresses. Empty means every pool
	// the source reports.
	Pools       []string
	Interval    time.Duration
	HistorySize int
}

// Observer builds snapshots from its sources, substituting fallback data when
// a source fails.
type Observer struct {
	cfg       Config
	pools     PoolSource
	prices    PriceSource
	snapshots *history.Log[model.MarketSnapshot]
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	allowed   map[string]struct{}

	mu           sync.Mutex
	priceHistory map[string][]float64
}

// New builds an Observer. Nil sources always fall back.
func New(cfg Config, pools PoolSource, prices PriceSource, snapshots *history.Log[model.MarketSnapshot], m *metrics.Metrics, logger *zap.Logger) *Observer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = history.DefaultCapacity
	}
	if snapshots == nil {
		snapshots = history.NewLog[model.MarketSnapshot](cfg.HistorySize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var allowed map[string]struct{}
	if len(cfg.Pools) > 0 {
		allowed = make(map[string]struct{}, len(cfg.Pools))
		for _, p := range cfg.Pools {
			allowed[poolKey(p)] = struct{}{}
		}
	}

	return &Observer{
		cfg:          cfg,
		pools:        pools,
		prices:       prices,
		snapshots:    snapshots,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
		allowed:      allowed,
		priceHistory: make(map[string][]float64),
	}
}

// Observe takes one snapshot and appends it to the snapshot log. It only
// fails when ctx is done. Volatility is read from the samples Run records;
// off-schedule calls add none.
func (o *Observer) Observe(ctx context.Context) (model.MarketSnapshot, error) {
	return o.observe(ctx, false)
}

// observe builds a snapshot. sample appends live prices to the per-feed
// history, which must stay spaced Interval apart for annualizing.
func (o *Observer) observe(ctx context.Context, sample bool) (model.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.MarketSnapshot{}, err
	}
	now := o.now()

	poolFallback := false
	var rows []model.PoolMetrics
	if o.pools != nil {
		var err error
		rows, err = o.pools.FetchPools(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return model.MarketSnapshot{}, ctx.Err()
			}
			o.logger.Warn("pool source failed, using fallback data", zap.String("source", "pools"), zap.Bool("fallback", true), zap.Error(err))
			rows = nil
			poolFallback = true
		}
	} else {
		poolFallback = true
	}
	if poolFallback {
		rows = FallbackPools(now)
		o.metrics.Fallback("pools")
	}

	priceFallback := false
	var feeds []model.PriceFeed
	if o.prices != nil {
		var err error
		feeds, err = o.prices.FetchPrices(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return model.MarketSnapshot{}, ctx.Err()
			}
			o.logger.Warn("price source failed, using fallback data", zap.String("source", "prices"), zap.Bool("fallback", true), zap.Error(err))
			priceFallback = true
		}
	} else {
		priceFallback = true
	}
	if priceFallback {
		feeds = FallbackPrices(now)
		o.metrics.Fallback("prices")
	}

	volatility := o.volatility(feeds, sample && !priceFallback)
	snap := model.NewMarketSnapshot(now, o.selectPools(rows), volatility, feeds)
	snap.PoolFallback = poolFallback
	snap.PriceFallback = priceFallback

	o.snapshots.Append(snap)
	o.metrics.SnapshotTaken()
	o.logger.Debug("market observed",
		zap.Int("pools", len(snap.Pools)),
		zap.Float64("volatility", snap.MarketVolatility),
		zap.Float64("average_apr", snap.AverageAPR),
		zap.Float64("total_tvl", snap.TotalTVL),
		zap.Bool("fallback", snap.Fallback()),
	)
	return snap, nil
}

// Run observes every Interval until ctx is done. It is the only caller that
// records price samples.
func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := o.observe(ctx, true); err != nil && ctx.Err() == nil {
			o.logger.Warn("observation failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Latest returns up to n snapshots, newest first.
func (o *Observer) Latest(n int) []model.MarketSnapshot {
	return o.snapshots.Latest(n)
}

// selectPools keys rows by normalized address, drops pools outside the
// configured set and keeps the newest row per pool.
func (o *Observer) selectPools(rows []model.PoolMetrics) map[string]model.PoolMetrics {
	out := make(map[string]model.PoolMetrics, len(rows))
	for _, row := range rows {
		key := poolKey(row.Address)
		if key == "" {
			continue
		}
		if o.allowed != nil {
			if _, ok := o.allowed[key]; !ok {
				continue
			}
		}
		if prev, ok := out[key]; ok && prev.ObservedAt >= row.ObservedAt {
			continue
		}
		row.Address = key
		out[key] = row
	}
	return out
}

func (o *Observer) volatility(feeds []model.PriceFeed, record bool) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if record {
		for _, f := range feeds {
			if f.Price <= 0 {
				continue
			}
			h := append(o.priceHistory[f.FeedID], f.Price)
			if len(h) > o.cfg.HistorySize {
				h = h[len(h)-o.cfg.HistorySize:]
			}
			o.priceHistory[f.FeedID] = h
		}
	}
	return marketVolatility(feeds, o.priceHistory, o.cfg.Interval)
}

func poolKey(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
