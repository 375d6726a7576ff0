package observer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"liquidAgent/internal/model"
)

// PoolSource returns the latest pool observations.
type PoolSource interface {
	FetchPools(ctx context.Context) ([]model.PoolMetrics, error)
}

const poolMetricsQuery = `query GetPoolMetrics {
  poolMetrics(first: %d, orderBy: timestamp, orderDirection: desc) {
    id
    poolAddress
    tvlUSD
    volume24h
    feeAPR
    timestamp
  }
}`

// GraphQLPoolSource reads pool metrics from the indexer's GraphQL endpoint.
type GraphQLPoolSource struct {
	url    string
	apiKey string
	first  int
	client *httpClient
}

// NewGraphQLPoolSource builds a source for url. apiKey is sent as a bearer
// token when set.
func NewGraphQLPoolSource(url, apiKey string, first int, timeout time.Duration) *GraphQLPoolSource {
	if first <= 0 {
		first = 10
	}
	return &GraphQLPoolSource{
		url:    url,
		apiKey: apiKey,
		first:  first,
		client: newHTTPClient(timeout, 5, 2),
	}
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type poolMetricsRow struct {
	ID          string          `json:"id"`
	PoolAddress string          `json:"poolAddress"`
	TVLUSD      decimal.Decimal `json:"tvlUSD"`
	Volume24h   decimal.Decimal `json:"volume24h"`
	FeeAPR      decimal.Decimal `json:"feeAPR"`
	Timestamp   decimal.Decimal `json:"timestamp"`
}

type poolMetricsResponse struct {
	Data struct {
		PoolMetrics []poolMetricsRow `json:"poolMetrics"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// FetchPools runs the pool metrics query.
func (s *GraphQLPoolSource) FetchPools(ctx context.Context) ([]model.PoolMetrics, error) {
	if s.url == "" {
		return nil, fmt.Errorf("pool source url is not configured")
	}

	headers := map[string]string{}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}

	var resp poolMetricsResponse
	req := graphQLRequest{Query: fmt.Sprintf(poolMetricsQuery, s.first)}
	if err := s.client.postJSON(ctx, s.url, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("query pool metrics: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}

	out := make([]model.PoolMetrics, 0, len(resp.Data.PoolMetrics))
	for _, row := range resp.Data.PoolMetrics {
		if row.PoolAddress == "" {
			continue
		}
		out = append(out, model.PoolMetrics{
			Address:    row.PoolAddress,
			TVLUSD:     row.TVLUSD.InexactFloat64(),
			Volume24h:  row.Volume24h.InexactFloat64(),
			FeeAPR:     row.FeeAPR.InexactFloat64(),
			ObservedAt: row.Timestamp.IntPart(),
		})
	}
	return out, nil
}
