package observer

import (
	"math"
	"time"

	"liquidAgent/internal/model"
)

const secondsPerYear = 365 * 24 * 60 * 60

// annualizedVolatility is the population standard deviation of log returns
// scaled to a year of samples taken every interval. ok is false when fewer
// than two returns are available.
func annualizedVolatility(prices []float64, interval time.Duration) (float64, bool) {
	returns := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) < 2 || interval <= 0 {
		return 0, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	periods := secondsPerYear / interval.Seconds()
	return math.Sqrt(variance) * math.Sqrt(periods), true
}

// confidenceBand is the relative width of a feed's confidence interval.
func confidenceBand(feed model.PriceFeed) float64 {
	if feed.Price <= 0 {
		return 0
	}
	return math.Abs(feed.Confidence / feed.Price)
}

// marketVolatility averages per-feed estimates and clamps to [0,1].
func marketVolatility(feeds []model.PriceFeed, history map[string][]float64, interval time.Duration) float64 {
	if len(feeds) == 0 {
		return 0
	}
	var total float64
	for _, feed := range feeds {
		if v, ok := annualizedVolatility(history[feed.FeedID], interval); ok {
			total += v
			continue
		}
		total += confidenceBand(feed)
	}
	v := total / float64(len(feeds))
	return math.Max(0, math.Min(1, v))
}
