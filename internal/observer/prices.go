package observer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"liquidAgent/internal/model"
)

// Well-known Pyth feed ids.
const (
	FeedETHUSD = "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
	FeedBTCUSD = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
)

var feedSymbols = map[string]string{
	strings.TrimPrefix(FeedETHUSD, "0x"): "ETH/USD",
	strings.TrimPrefix(FeedBTCUSD, "0x"): "BTC/USD",
}

// PriceSource returns the latest price feeds.
type PriceSource interface {
	FetchPrices(ctx context.Context) ([]model.PriceFeed, error)
}

// HermesPriceSource reads latest prices from a Pyth Hermes endpoint.
type HermesPriceSource struct {
	baseURL string
	feedIDs []string
	client  *httpClient
}

// NewHermesPriceSource builds a source for baseURL. An empty feed list means
// ETH/USD and BTC/USD.
func NewHermesPriceSource(baseURL string, feedIDs []string, timeout time.Duration) *HermesPriceSource {
	if len(feedIDs) == 0 {
		feedIDs = []string{FeedETHUSD, FeedBTCUSD}
	}
	return &HermesPriceSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		feedIDs: feedIDs,
		client:  newHTTPClient(timeout, 5, 2),
	}
}

type hermesPrice struct {
	Price       decimal.Decimal `json:"price"`
	Conf        decimal.Decimal `json:"conf"`
	Expo        int32           `json:"expo"`
	PublishTime int64           `json:"publish_time"`
}

type hermesFeed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

// FetchPrices calls /api/latest_price_feeds for the configured ids.
func (s *HermesPriceSource) FetchPrices(ctx context.Context) ([]model.PriceFeed, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("price source url is not configured")
	}

	q := url.Values{}
	for _, id := range s.feedIDs {
		q.Add("ids[]", id)
	}
	endpoint := s.baseURL + "/api/latest_price_feeds?" + q.Encode()

	var feeds []hermesFeed
	if err := s.client.getJSON(ctx, endpoint, nil, &feeds); err != nil {
		return nil, fmt.Errorf("fetch price feeds: %w", err)
	}

	out := make([]model.PriceFeed, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toPriceFeed(f))
	}
	return out, nil
}

func toPriceFeed(f hermesFeed) model.PriceFeed {
	id := strings.TrimPrefix(strings.ToLower(f.ID), "0x")
	return model.PriceFeed{
		FeedID:      "0x" + id,
		Symbol:      feedSymbols[id],
		Price:       f.Price.Price.Shift(f.Price.Expo).InexactFloat64(),
		Confidence:  f.Price.Conf.Shift(f.Price.Expo).InexactFloat64(),
		Exponent:    f.Price.Expo,
		PublishTime: f.Price.PublishTime,
	}
}
