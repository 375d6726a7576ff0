package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/model"
)

// Contract binds the Ledger interface to a deployed liquidity vault.
type Contract struct {
	backend chain.Backend
	address common.Address
	abi     abi.ABI
	opts    chain.TxOptions
	logger  *zap.Logger
}

// NewContract builds a binding for the vault at address.
func NewContract(backend chain.Backend, address common.Address, opts chain.TxOptions, logger *zap.Logger) (*Contract, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is nil")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("vault address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	vaultABI, err := VaultABI()
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	return &Contract{
		backend: backend,
		address: address,
		abi:     vaultABI,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Address returns the vault contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// Propose submits proposeRebalance and reads the new id from the confirmed
// RebalanceProposed log.
func (c *Contract) Propose(ctx context.Context, signer *chain.Signer, pools []common.Address, ratios []uint64, reason string) (Receipt, error) {
	if err := ValidateRatios(pools, ratios); err != nil {
		return Receipt{}, err
	}
	bigRatios := make([]*big.Int, 0, len(ratios))
	for _, r := range ratios {
		bigRatios = append(bigRatios, new(big.Int).SetUint64(r))
	}

	receipt, err := c.transact(ctx, signer, "proposeRebalance", pools, bigRatios, reason)
	if err != nil {
		return receipt.Receipt, err
	}

	id, err := c.proposalIDFromLogs(receipt.logs)
	if err != nil {
		return receipt.Receipt, fmt.Errorf("tx %s: %w", receipt.TxHash, err)
	}
	receipt.ProposalID = id
	c.logger.Info("proposal confirmed", zap.Uint64("proposal_id", id), zap.String("tx", receipt.TxHash))
	return receipt.Receipt, nil
}

// Execute submits executeRebalance for proposalID.
func (c *Contract) Execute(ctx context.Context, signer *chain.Signer, proposalID uint64) (Receipt, error) {
	receipt, err := c.transact(ctx, signer, "executeRebalance", new(big.Int).SetUint64(proposalID))
	receipt.ProposalID = proposalID
	if err != nil {
		return receipt.Receipt, err
	}
	c.logger.Info("proposal executed", zap.Uint64("proposal_id", proposalID), zap.String("tx", receipt.TxHash))
	return receipt.Receipt, nil
}

// UpdateAgentAuthority submits updateAgentAuthority.
func (c *Contract) UpdateAgentAuthority(ctx context.Context, signer *chain.Signer, authority common.Address) (Receipt, error) {
	if authority == (common.Address{}) {
		return Receipt{}, ErrZeroAuthority
	}
	receipt, err := c.transact(ctx, signer, "updateAgentAuthority", authority)
	return receipt.Receipt, err
}

type proposalTuple struct {
	Pools     []common.Address
	Ratios    []*big.Int
	Timestamp *big.Int
	Executed  bool
	Reason    string
}

func (c *Contract) Proposal(ctx context.Context, proposalID uint64) (model.Proposal, error) {
	values, err := c.call(ctx, "getRebalanceProposal", new(big.Int).SetUint64(proposalID))
	if err != nil {
		return model.Proposal{}, err
	}
	if len(values) != 1 {
		return model.Proposal{}, fmt.Errorf("unexpected proposal values: %d", len(values))
	}
	tuple := *abi.ConvertType(values[0], new(proposalTuple)).(*proposalTuple)

	ratios := make([]uint64, 0, len(tuple.Ratios))
	for _, r := range tuple.Ratios {
		if !r.IsUint64() {
			return model.Proposal{}, fmt.Errorf("ratio does not fit in uint64: %s", r)
		}
		ratios = append(ratios, r.Uint64())
	}
	var createdAt int64
	if tuple.Timestamp != nil {
		createdAt = tuple.Timestamp.Int64()
	}
	return model.Proposal{
		ID:        proposalID,
		Pools:     addressStrings(tuple.Pools),
		Ratios:    ratios,
		Reason:    tuple.Reason,
		CreatedAt: createdAt,
		Executed:  tuple.Executed,
	}, nil
}

func (c *Contract) ProposalCount(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "getProposalCount")
}

func (c *Contract) PoolAllocation(ctx context.Context, pool common.Address) (uint64, error) {
	return c.callUint64(ctx, "getPoolAllocation", pool)
}

func (c *Contract) Owner(ctx context.Context) (common.Address, error) {
	return c.callAddress(ctx, "owner")
}

func (c *Contract) AgentAuthority(ctx context.Context) (common.Address, error) {
	return c.callAddress(ctx, "agentAuthority")
}

type txReceipt struct {
	Receipt
	logs []*types.Log
}

func (c *Contract) transact(ctx context.Context, signer *chain.Signer, method string, args ...interface{}) (txReceipt, error) {
	if signer == nil {
		return txReceipt{}, fmt.Errorf("%s: signer is nil", method)
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return txReceipt{}, fmt.Errorf("pack %s: %w", method, err)
	}

	c.logger.Debug("submit tx", zap.String("method", method), zap.String("from", signer.Address().Hex()))
	receipt, err := chain.Transact(ctx, c.backend, signer, c.address, data, c.opts)
	if receipt == nil {
		if err == nil {
			err = fmt.Errorf("no receipt")
		}
		// A send that timed out waiting for confirmation may still be mined.
		var out txReceipt
		var txErr *chain.TxError
		if errors.As(err, &txErr) && txErr.TxHash != (common.Hash{}) {
			out.TxHash = txErr.TxHash.Hex()
		}
		return out, fmt.Errorf("%s: %w", method, classifyRevert(err))
	}

	out := txReceipt{
		Receipt: Receipt{
			TxHash:  receipt.TxHash.Hex(),
			GasUsed: receipt.GasUsed,
		},
		logs: receipt.Logs,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w", method, classifyRevert(err))
	}
	return out, nil
}

func (c *Contract) proposalIDFromLogs(logs []*types.Log) (uint64, error) {
	topic := c.abi.Events["RebalanceProposed"].ID
	for _, log := range logs {
		if log == nil || log.Address != c.address || len(log.Topics) < 2 {
			continue
		}
		if log.Topics[0] != topic {
			continue
		}
		id := log.Topics[1].Big()
		if !id.IsUint64() {
			return 0, fmt.Errorf("proposal id does not fit in uint64: %s", id)
		}
		return id.Uint64(), nil
	}
	return 0, fmt.Errorf("RebalanceProposed log not found in receipt")
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &c.address, Data: data}
	resp, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, classifyRevert(&chain.TxError{Stage: chain.StageCall, Err: err}))
	}
	values, err := c.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (c *Contract) callUint64(ctx context.Context, method string, args ...interface{}) (uint64, error) {
	values, err := c.call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unexpected %s values: %d", method, len(values))
	}
	v, err := asBigInt(values[0])
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s does not fit in uint64: %s", method, v)
	}
	return v.Uint64(), nil
}

func (c *Contract) callAddress(ctx context.Context, method string) (common.Address, error) {
	values, err := c.call(ctx, method)
	if err != nil {
		return common.Address{}, err
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("unexpected %s values: %d", method, len(values))
	}
	return asAddress(values[0])
}
