package model

import "time"

// CycleTrigger says what started an orchestration cycle.
type CycleTrigger string

const (
	TriggerScheduled CycleTrigger = "scheduled"
	TriggerManual    CycleTrigger = "manual"
)

// CycleStatus is the terminal state of one cycle.
type CycleStatus string

const (
	CycleExecuted CycleStatus = "executed"
	CycleSkipped  CycleStatus = "skipped"
	CycleAborted  CycleStatus = "aborted"
)

// CycleOutcome summarizes one orchestration cycle.
type CycleOutcome struct {
	ID         string       `json:"id"`
	Trigger    CycleTrigger `json:"trigger"`
	Status     CycleStatus  `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Confidence float64      `json:"confidence"`
	StrategyID string       `json:"strategy_id,omitempty"`
	ProposalID *uint64      `json:"proposal_id,omitempty"`
	Executed   bool         `json:"executed"`
	Fallback   bool         `json:"fallback"`
	Error      string       `json:"error,omitempty"`
}

// OrchestratorState is the lifecycle state of the orchestrator.
type OrchestratorState string

const (
	StateStopped OrchestratorState = "stopped"
	StateRunning OrchestratorState = "running"
)

// Status is the orchestrator status exposed to operators.
type Status struct {
	State         OrchestratorState `json:"state"`
	Busy          bool              `json:"busy"`
	Cycles        uint64            `json:"cycles"`
	LastCycle     *CycleOutcome     `json:"last_cycle,omitempty"`
	Interval      string            `json:"interval"`
	MinConfidence float64           `json:"min_confidence"`
}
