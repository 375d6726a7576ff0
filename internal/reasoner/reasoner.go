// Package reasoner turns a market snapshot into a basis-point allocation.
package reasoner

import (
	"math"
	"sort"

	"liquidAgent/internal/model"
)

// Reasoner applies an ordered rule table to snapshots. It holds no state
// beyond the table and is safe for concurrent use.
type Reasoner struct {
	rules []Rule
}

// New builds a Reasoner. A nil table means DefaultRules.
func New(rules []Rule) *Reasoner {
	if rules == nil {
		rules = DefaultRules
	}
	return &Reasoner{rules: rules}
}

// Reason maps a snapshot to a strategy. It never fails: an empty pool set or
// any numeric inconsistency yields the maintain_current fallback.
func (r *Reasoner) Reason(snap model.MarketSnapshot) model.AllocationStrategy {
	if len(snap.Pools) == 0 {
		return Fallback(snap)
	}

	triggered := make([]model.TriggeredRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Condition == nil || !rule.Condition(snap) {
			continue
		}
		priority := model.PriorityLow
		if rule.Priority != nil {
			priority = rule.Priority(snap)
		}
		triggered = append(triggered, model.TriggeredRule{
			Name:     rule.Name,
			Action:   rule.Action,
			Priority: priority,
		})
	}

	addresses := snap.PoolAddresses()
	base := float64(TotalBps) / float64(len(addresses))
	weights := make([]float64, len(addresses))
	for i, addr := range addresses {
		w := base
		for _, t := range triggered {
			w *= poolMultiplier(t.Action, snap.Pools[addr])
		}
		weights[i] = w
	}

	bps, ok := normalize(weights)
	if !ok {
		return Fallback(snap)
	}

	pools := make([]model.PoolAllocation, len(addresses))
	for i, addr := range addresses {
		pools[i] = model.PoolAllocation{
			PoolAddress:   addr,
			AllocationBps: bps[i],
			Rationale:     rationale(snap.Pools[addr]),
		}
	}

	return model.AllocationStrategy{
		Timestamp:      snap.Timestamp,
		SnapshotAt:     snap.Timestamp,
		Pools:          pools,
		Confidence:     Confidence(len(triggered), true),
		TriggeredRules: triggered,
	}
}

// Fallback is the no-op strategy.
func Fallback(snap model.MarketSnapshot) model.AllocationStrategy {
	return model.AllocationStrategy{
		Timestamp:  snap.Timestamp,
		SnapshotAt: snap.Timestamp,
		Pools:      []model.PoolAllocation{},
		Confidence: 0,
		TriggeredRules: []model.TriggeredRule{{
			Name:     "fallback",
			Action:   model.ActionMaintainCurrent,
			Priority: model.PriorityLow,
		}},
	}
}

// Confidence is monotone in the number of triggered rules and capped at 1.
func Confidence(triggered int, hasPools bool) float64 {
	c := baseConfidence + confidencePerRule*float64(triggered)
	if hasPools {
		c += confidenceWithPoolsData
	}
	// Round away float noise such as 0.7999999999999999.
	c = math.Round(c*1e9) / 1e9
	return math.Min(1, c)
}

// TotalBps is the exact sum every normalized allocation reaches.
const TotalBps = 10000

// normalize scales weights to TotalBps and fixes rounding with the largest
// remainder method so the result always sums to exactly TotalBps.
func normalize(weights []float64) ([]int64, bool) {
	if len(weights) == 0 {
		return nil, false
	}
	var sum float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, false
		}
		sum += w
	}
	if sum <= 0 || math.IsInf(sum, 0) {
		return nil, false
	}

	out := make([]int64, len(weights))
	fractions := make([]float64, len(weights))
	var assigned int64
	for i, w := range weights {
		scaled := w * TotalBps / sum
		floor := math.Floor(scaled)
		out[i] = int64(floor)
		fractions[i] = scaled - floor
		assigned += out[i]
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fractions[order[a]] > fractions[order[b]]
	})

	remaining := TotalBps - assigned
	for i := 0; remaining > 0; i = (i + 1) % len(order) {
		out[order[i]]++
		remaining--
	}
	for i := len(order) - 1; remaining < 0; i = (i - 1 + len(order)) % len(order) {
		if out[order[i]] > 0 {
			out[order[i]]--
			remaining++
		}
	}
	return out, true
}
