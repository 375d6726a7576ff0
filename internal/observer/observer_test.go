package observer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidAgent/internal/history"
	"liquidAgent/internal/model"
)

const (
	poolX = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	poolY = "0x1111111111111111111111111111111111111111"
)

func graphQLServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "poolMetrics(first: 10")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hermesServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/latest_price_feeds", r.URL.Path)
		assert.Len(t, r.URL.Query()["ids[]"], 2)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const poolsBody = `{"data":{"poolMetrics":[
 {"id":"1","poolAddress":"0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD","tvlUSD":"1500000.5","volume24h":"80000","feeAPR":"0.04","timestamp":"1700000100"},
 {"id":"2","poolAddress":"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd","tvlUSD":"1000000","volume24h":"70000","feeAPR":"0.02","timestamp":"1700000000"},
 {"id":"3","poolAddress":"0x1111111111111111111111111111111111111111","tvlUSD":500000,"volume24h":10000,"feeAPR":0.08,"timestamp":1700000050},
 {"id":"4","poolAddress":"0x9999999999999999999999999999999999999999","tvlUSD":"1","volume24h":"1","feeAPR":"0.5","timestamp":"1700000050"}
]}}`

const pricesBody = `[
 {"id":"ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace","price":{"price":"250000000000","conf":"100000000","expo":-8,"publish_time":1700000000}},
 {"id":"e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43","price":{"price":"4000000000000","conf":"2000000000","expo":-8,"publish_time":1700000000}}
]`

func newTestObserver(t *testing.T, pools PoolSource, prices PriceSource) *Observer {
	t.Helper()
	o := New(Config{Pools: []string{poolX, poolY}, Interval: time.Minute, HistorySize: 3}, pools, prices, nil, nil, nil)
	o.now = func() time.Time { return time.Unix(1700000200, 0) }
	return o
}

func TestObserveLiveSources(t *testing.T) {
	pools := NewGraphQLPoolSource(graphQLServer(t, http.StatusOK, poolsBody).URL, "secret", 10, time.Second)
	prices := NewHermesPriceSource(hermesServer(t, http.StatusOK, pricesBody).URL, nil, time.Second)
	o := newTestObserver(t, pools, prices)

	snap, err := o.Observe(context.Background())
	require.NoError(t, err)

	assert.False(t, snap.Fallback())
	require.Len(t, snap.Pools, 2, "unconfigured pool is filtered out")

	x := snap.Pools[poolKey(poolX)]
	assert.InDelta(t, 1500000.5, x.TVLUSD, 1e-9, "newest row wins")
	assert.InDelta(t, 0.04, x.FeeAPR, 1e-12)
	assert.Equal(t, poolKey(poolX), x.Address)

	assert.InDelta(t, 0.06, snap.AverageAPR, 1e-12)
	assert.InDelta(t, 2000000.5, snap.TotalTVL, 1e-9)

	require.Len(t, snap.PriceFeeds, 2)
	assert.Equal(t, "ETH/USD", snap.PriceFeeds[0].Symbol)
	assert.InDelta(t, 2500, snap.PriceFeeds[0].Price, 1e-9)
	assert.InDelta(t, 1, snap.PriceFeeds[0].Confidence, 1e-9)

	// No return history yet: confidence bands (1/2500 and 20/40000) averaged.
	assert.InDelta(t, (0.0004+0.0005)/2, snap.MarketVolatility, 1e-12)
}

func TestObserveFallsBackOnSourceFailure(t *testing.T) {
	pools := NewGraphQLPoolSource(graphQLServer(t, http.StatusInternalServerError, "boom").URL, "secret", 10, time.Second)
	prices := NewHermesPriceSource(hermesServer(t, http.StatusBadGateway, "down").URL, nil, time.Second)
	o := New(Config{Interval: time.Minute}, pools, prices, nil, nil, nil)

	snap, err := o.Observe(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.PoolFallback)
	assert.True(t, snap.PriceFallback)
	require.Len(t, snap.Pools, 2)
	assert.Equal(t, []string{FallbackPoolA, FallbackPoolB}, snap.PoolAddresses())
	assert.InDelta(t, 0.04, snap.AverageAPR, 1e-12)
	assert.InDelta(t, 3_000_000, snap.TotalTVL, 1e-9)
	assert.InDelta(t, 1.0/2500, snap.MarketVolatility, 1e-12)
}

func TestObserveGraphQLErrorsFallBack(t *testing.T) {
	body := `{"errors":[{"message":"bad field"},{"message":"rate limited"}]}`
	src := NewGraphQLPoolSource(graphQLServer(t, http.StatusOK, body).URL, "secret", 10, time.Second)

	_, err := src.FetchPools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad field; rate limited")
}

type stubPrices struct {
	prices []float64
	calls  int
	err    error
}

func (s *stubPrices) FetchPrices(context.Context) ([]model.PriceFeed, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := s.prices[s.calls%len(s.prices)]
	s.calls++
	return []model.PriceFeed{{FeedID: FeedETHUSD, Symbol: "ETH/USD", Price: p, Confidence: 1}}, nil
}

type stubPools struct{}

func (stubPools) FetchPools(context.Context) ([]model.PoolMetrics, error) {
	return FallbackPools(time.Unix(0, 0)), nil
}

func TestObserveVolatilityFromReturns(t *testing.T) {
	prices := &stubPrices{prices: []float64{100, 110, 100, 110}}
	o := New(Config{Interval: time.Hour, HistorySize: 10}, stubPools{}, prices, nil, nil, nil)

	var snap model.MarketSnapshot
	for i := 0; i < 4; i++ {
		var err error
		snap, err = o.observe(context.Background(), true)
		require.NoError(t, err)
	}
	assert.False(t, snap.Fallback())
	// Alternating returns annualize far above 1 and clamp.
	assert.Equal(t, 1.0, snap.MarketVolatility)
}

func TestObserveDoesNotRecordPriceSamples(t *testing.T) {
	prices := &stubPrices{prices: []float64{100, 100.1, 100, 100.1, 150, 50}}
	o := New(Config{Interval: 24 * time.Hour, HistorySize: 10}, stubPools{}, prices, nil, nil, nil)

	var scheduled model.MarketSnapshot
	for i := 0; i < 4; i++ {
		var err error
		scheduled, err = o.observe(context.Background(), true)
		require.NoError(t, err)
	}
	require.Len(t, o.priceHistory[FeedETHUSD], 4)

	for i := 0; i < 2; i++ {
		snap, err := o.Observe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, scheduled.MarketVolatility, snap.MarketVolatility)
	}
	assert.Len(t, o.priceHistory[FeedETHUSD], 4)
	assert.Equal(t, []float64{100, 100.1, 100, 100.1}, o.priceHistory[FeedETHUSD])
}

func TestObserveWithoutSamplesUsesConfidenceBand(t *testing.T) {
	prices := &stubPrices{prices: []float64{100, 200, 50}}
	o := New(Config{Interval: time.Minute, HistorySize: 10}, stubPools{}, prices, nil, nil, nil)

	for i := 0; i < 3; i++ {
		snap, err := o.Observe(context.Background())
		require.NoError(t, err)
		assert.Empty(t, o.priceHistory[FeedETHUSD])
		assert.InDelta(t, 1/prices.prices[i], snap.MarketVolatility, 1e-12)
	}
}

func TestRunRecordsPriceSamples(t *testing.T) {
	prices := &stubPrices{prices: []float64{100, 101, 102}}
	o := New(Config{Interval: 10 * time.Millisecond, HistorySize: 10}, stubPools{}, prices, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	o.Run(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	assert.GreaterOrEqual(t, len(o.priceHistory[FeedETHUSD]), 2)
}

func TestAnnualizedVolatility(t *testing.T) {
	_, ok := annualizedVolatility([]float64{100, 101}, time.Minute)
	assert.False(t, ok, "one return is not enough")

	v, ok := annualizedVolatility([]float64{100, 100, 100}, time.Minute)
	require.True(t, ok)
	assert.Zero(t, v)

	r := math.Log(1.001)
	v, ok = annualizedVolatility([]float64{100, 100.1, 100, 100.1}, 24*time.Hour)
	require.True(t, ok)
	// Returns are r, -r, r: mean r/3, population variance 8r²/9.
	want := math.Sqrt(8*r*r/9) * math.Sqrt(365)
	assert.InDelta(t, want, v, 1e-9)
}

func TestObserveBoundedHistory(t *testing.T) {
	snaps := history.NewLog[model.MarketSnapshot](3)
	o := New(Config{Interval: time.Minute}, nil, nil, snaps, nil, nil)
	for i := 0; i < 5; i++ {
		_, err := o.Observe(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, snaps.Len())
	assert.Equal(t, uint64(5), snaps.Total())
	assert.Len(t, o.Latest(10), 3)
}

func TestObserveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := New(Config{}, nil, &stubPrices{err: errors.New("unused")}, nil, nil, nil)
	_, err := o.Observe(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToPriceFeedNormalizesID(t *testing.T) {
	var f hermesFeed
	require.NoError(t, json.Unmarshal([]byte(`{"id":"0xFF61491A931112DDF1BD8147CD1B641375F79F5825126D665480874634FD0ACE","price":{"price":"-5","conf":"1","expo":0,"publish_time":1}}`), &f))
	feed := toPriceFeed(f)
	assert.Equal(t, FeedETHUSD, feed.FeedID)
	assert.Equal(t, "ETH/USD", feed.Symbol)
	assert.True(t, strings.HasPrefix(feed.FeedID, "0x"))
}
