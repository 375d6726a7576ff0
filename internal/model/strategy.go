package model

// Action is the consequence a triggered rule asks for.
type Action string

const (
	ActionReduceRisk         Action = "reduce_risk"
	ActionOptimizeYield      Action = "optimize_yield"
	ActionDiversify          Action = "diversify"
	ActionIncreaseAllocation Action = "increase_allocation"
	ActionMaintainCurrent    Action = "maintain_current"
)

// Priority ranks a triggered rule.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// TriggeredRule references a rule that fired during a reasoning pass.
type TriggeredRule struct {
	Name     string   `json:"name"`
	Action   Action   `json:"action"`
	Priority Priority `json:"priority"`
}

// PoolAllocation is one pool's target share in basis points.
type PoolAllocation struct {
	PoolAddress   string `json:"pool_address"`
	AllocationBps int64  `json:"allocation_bps"`
	Rationale     string `json:"rationale"`
}

// AllocationStrategy is the output of one reasoning pass.
type AllocationStrategy struct {
	ID             string           `json:"id"`
	Timestamp      int64            `json:"timestamp"`
	SnapshotAt     int64            `json:"snapshot_at"`
	Pools          []PoolAllocation `json:"pools"`
	Confidence     float64          `json:"confidence"`
	TriggeredRules []TriggeredRule  `json:"triggered_rules"`
}

// TotalBps sums the allocation of every pool.
func (s AllocationStrategy) TotalBps() int64 {
	var total int64
	for _, p := range s.Pools {
		total += p.AllocationBps
	}
	return total
}

// Actions returns the action of every triggered rule in order.
func (s AllocationStrategy) Actions() []Action {
	out := make([]Action, 0, len(s.TriggeredRules))
	for _, r := range s.TriggeredRules {
		out = append(out, r.Action)
	}
	return out
}
