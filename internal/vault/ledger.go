package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/model"
)

// TotalBps is the sum every proposal's ratios must reach.
const TotalBps = 10000

// Receipt describes a confirmed ledger transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	ProposalID  uint64 `json:"proposal_id"`
}

// Ledger is the proposal ledger. Write methods take the signer whose
// authority the call is made under.
type Ledger interface {
	Propose(ctx context.Context, signer *chain.Signer, pools []common.Address, ratios []uint64, reason string) (Receipt, error)
	Execute(ctx context.Context, signer *chain.Signer, proposalID uint64) (Receipt, error)
	UpdateAgentAuthority(ctx context.Context, signer *chain.Signer, authority common.Address) (Receipt, error)

	Proposal(ctx context.Context, proposalID uint64) (model.Proposal, error)
	ProposalCount(ctx context.Context) (uint64, error)
	PoolAllocation(ctx context.Context, pool common.Address) (uint64, error)
	Owner(ctx context.Context) (common.Address, error)
	AgentAuthority(ctx context.Context) (common.Address, error)
}

// EventSource yields vault events starting at block `from`. The channel stays
// open until ctx is cancelled.
type EventSource interface {
	Subscribe(ctx context.Context, from uint64) (<-chan model.VaultEvent, error)
}

// PendingProposals lists proposals that have not been executed, oldest first.
func PendingProposals(ctx context.Context, ledger Ledger) ([]model.Proposal, error) {
	count, err := ledger.ProposalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("proposal count: %w", err)
	}

	pending := make([]model.Proposal, 0)
	for id := uint64(0); id < count; id++ {
		p, err := ledger.Proposal(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("proposal %d: %w", id, err)
		}
		if !p.Executed {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// ValidateRatios applies the ledger's acceptance rules for a proposal.
func ValidateRatios(pools []common.Address, ratios []uint64) error {
	if len(pools) != len(ratios) {
		return ErrLengthMismatch
	}
	var sum uint64
	for _, r := range ratios {
		if r > TotalBps {
			return ErrInvalidTotalAllocation
		}
		sum += r
	}
	if sum != TotalBps {
		return ErrInvalidTotalAllocation
	}
	return nil
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out
}
