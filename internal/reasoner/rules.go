package reasoner

import (
	"strings"

	"liquidAgent/internal/model"
)

// Rule thresholds.
const (
	VolatilityThreshold     = 0.6
	HighVolatility          = 0.8
	APRFloor                = 0.03
	LowAPR                  = 0.02
	HighAPR                 = 0.05
	ConcentrationThreshold  = 0.7
	VolumeThreshold         = 100_000
	LargeTVL                = 1_000_000
	baseConfidence          = 0.5
	confidencePerRule       = 0.1
	confidenceWithPoolsData = 0.2
)

// Rule pairs a predicate over a snapshot with the action it triggers.
type Rule struct {
	Name      string
	Action    model.Action
	Condition func(model.MarketSnapshot) bool
	Priority  func(model.MarketSnapshot) model.Priority
}

// DefaultRules is the fixed, ordered rule table.
var DefaultRules = []Rule{
	{
		Name:      "high_volatility",
		Action:    model.ActionReduceRisk,
		Condition: func(s model.MarketSnapshot) bool { return s.MarketVolatility > VolatilityThreshold },
		Priority: func(s model.MarketSnapshot) model.Priority {
			if s.MarketVolatility > HighVolatility {
				return model.PriorityHigh
			}
			return model.PriorityLow
		},
	},
	{
		Name:      "low_yield",
		Action:    model.ActionOptimizeYield,
		Condition: func(s model.MarketSnapshot) bool { return len(s.Pools) > 0 && s.AverageAPR < APRFloor },
		Priority: func(s model.MarketSnapshot) model.Priority {
			if s.AverageAPR < LowAPR {
				return model.PriorityHigh
			}
			return model.PriorityLow
		},
	},
	{
		Name:      "tvl_concentration",
		Action:    model.ActionDiversify,
		Condition: func(s model.MarketSnapshot) bool { return s.Concentration() > ConcentrationThreshold },
		Priority:  func(model.MarketSnapshot) model.Priority { return model.PriorityMedium },
	},
	{
		Name:      "high_volume",
		Action:    model.ActionIncreaseAllocation,
		Condition: func(s model.MarketSnapshot) bool { return s.TotalVolume24h() > VolumeThreshold },
		Priority:  func(model.MarketSnapshot) model.Priority { return model.PriorityLow },
	},
}

// poolMultiplier is the per-pool adjustment an action applies.
func poolMultiplier(action model.Action, pool model.PoolMetrics) float64 {
	switch action {
	case model.ActionReduceRisk:
		if pool.FeeAPR < LowAPR {
			return 1.2
		}
		return 0.8
	case model.ActionOptimizeYield:
		switch {
		case pool.FeeAPR > HighAPR:
			return 1.3
		case pool.FeeAPR < LowAPR:
			return 0.5
		}
	case model.ActionIncreaseAllocation:
		if pool.Volume24h > VolumeThreshold {
			return 1.1
		}
	}
	return 1
}

func rationale(pool model.PoolMetrics) string {
	reasons := make([]string, 0, 3)
	if pool.FeeAPR > HighAPR {
		reasons = append(reasons, "High APR")
	}
	if pool.Volume24h > VolumeThreshold {
		reasons = append(reasons, "High volume")
	}
	if pool.TVLUSD > LargeTVL {
		reasons = append(reasons, "Large TVL")
	}
	if len(reasons) == 0 {
		return "Balanced allocation"
	}
	return strings.Join(reasons, ", ")
}
