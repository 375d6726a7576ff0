package model

// Proposal is a rebalance proposal as recorded by the vault ledger.
type Proposal struct {
	ID         uint64   `json:"id"`
	Pools      []string `json:"pools"`
	Ratios     []uint64 `json:"ratios"`
	Reason     string   `json:"reason"`
	CreatedAt  int64    `json:"created_at"`
	Executed   bool     `json:"executed"`
	ExecutedAt int64    `json:"executed_at,omitempty"`
	Executor   string   `json:"executor,omitempty"`
}

// ExecutionResult reports one coordinator attempt. A proposal that was
// created but not executed has Success set, Executed unset and a valid
// ProposalID.
type ExecutionResult struct {
	StrategyID     string  `json:"strategy_id"`
	Success        bool    `json:"success"`
	ProposalID     *uint64 `json:"proposal_id,omitempty"`
	ProposalTx     string  `json:"proposal_tx,omitempty"`
	ExecutionTx    string  `json:"execution_tx,omitempty"`
	Executed       bool    `json:"executed"`
	Reason         string  `json:"reason"`
	Error          string  `json:"error,omitempty"`
	ExecutionError string  `json:"execution_error,omitempty"`
	SubmittedAt    int64   `json:"submitted_at"`
}
