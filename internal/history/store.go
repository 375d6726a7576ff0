package history

import "liquidAgent/internal/model"

// DefaultCapacity bounds each log unless configured otherwise.
const DefaultCapacity = 100

// Store owns the in-process history of one orchestrator. Each log has a
// single writer: snapshots belong to the observer, strategies and cycles to
// the orchestrator, executions to the coordinator.
type Store struct {
	Snapshots  *Log[model.MarketSnapshot]
	Strategies *Log[model.AllocationStrategy]
	Executions *Log[model.ExecutionResult]
	Cycles     *Log[model.CycleOutcome]
}

// NewStore creates a store whose logs keep at most capacity entries each.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		Snapshots:  NewLog[model.MarketSnapshot](capacity),
		Strategies: NewLog[model.AllocationStrategy](capacity),
		Executions: NewLog[model.ExecutionResult](capacity),
		Cycles:     NewLog[model.CycleOutcome](capacity),
	}
}
