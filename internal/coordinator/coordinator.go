// Package coordinator submits allocation strategies to the vault ledger.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/history"
	"liquidAgent/internal/metrics"
	"liquidAgent/internal/model"
	"liquidAgent/internal/vault"
)

// Validation errors. A strategy failing any of these is never submitted.
var (
	ErrEmptyStrategy        = errors.New("strategy has no pools")
	ErrInvalidAllocationSum = errors.New("allocation does not sum to 10000 bps")
	ErrInvalidPoolAddress   = errors.New("invalid pool address")
	ErrNoAgentSigner        = errors.New("agent signer is required to propose")
)

const defaultReason = "Automated rebalancing based on market conditions"

var actionPhrases = map[model.Action]string{
	model.ActionReduceRisk:         "Risk reduction due to high volatility",
	model.ActionOptimizeYield:      "Yield optimization for better returns",
	model.ActionDiversify:          "Portfolio diversification",
	model.ActionIncreaseAllocation: "Increased allocation to high-volume pools",
}

// Config holds coordinator settings.
type Config struct {
	AutoExecute bool
}

// Coordinator proposes strategies under the agent signer and, when
// AutoExecute is set, executes them under the owner signer.
type Coordinator struct {
	cfg        Config
	ledger     vault.Ledger
	agent      *chain.Signer
	owner      *chain.Signer
	executions *history.Log[model.ExecutionResult]
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a Coordinator. Proposing needs the agent signer; the owner signer
// is required up front only with AutoExecute.
func New(cfg Config, ledger vault.Ledger, agent, owner *chain.Signer, executions *history.Log[model.ExecutionResult], m *metrics.Metrics, logger *zap.Logger) (*Coordinator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	if cfg.AutoExecute && owner == nil {
		return nil, fmt.Errorf("owner signer is required for auto-execute")
	}
	if executions == nil {
		executions = history.NewLog[model.ExecutionResult](history.DefaultCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:        cfg,
		ledger:     ledger,
		agent:      agent,
		owner:      owner,
		executions: executions,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Validate checks a strategy before any ledger call.
func Validate(strategy model.AllocationStrategy) error {
	if len(strategy.Pools) == 0 {
		return ErrEmptyStrategy
	}
	var sum int64
	for _, p := range strategy.Pools {
		if p.AllocationBps < 0 || p.AllocationBps > vault.TotalBps {
			return fmt.Errorf("%w: pool %s has %d bps", ErrInvalidAllocationSum, p.PoolAddress, p.AllocationBps)
		}
		sum += p.AllocationBps
	}
	if sum != vault.TotalBps {
		return fmt.Errorf("%w: got %d", ErrInvalidAllocationSum, sum)
	}
	for _, p := range strategy.Pools {
		if !common.IsHexAddress(p.PoolAddress) {
			return fmt.Errorf("%w: %q", ErrInvalidPoolAddress, p.PoolAddress)
		}
	}
	return nil
}

// Reason builds the audit string for a proposal from the triggered rules.
func Reason(rules []model.TriggeredRule) string {
	seen := make(map[string]struct{}, len(rules))
	phrases := make([]string, 0, len(rules))
	for _, r := range rules {
		phrase, ok := actionPhrases[r.Action]
		if !ok {
			continue
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}
		phrases = append(phrases, phrase)
	}
	if len(phrases) == 0 {
		return defaultReason
	}
	return strings.Join(phrases, "; ")
}

// Execute validates and submits strategy. A validation or proposal failure is
// returned as an error. When the proposal is confirmed but execution fails the
// result is partial: Success is set, Executed is not, and err is nil.
// Nothing is retried.
func (c *Coordinator) Execute(ctx context.Context, strategy model.AllocationStrategy) (model.ExecutionResult, error) {
	result := model.ExecutionResult{
		StrategyID:  strategy.ID,
		SubmittedAt: c.now().UnixMilli(),
	}

	if err := Validate(strategy); err != nil {
		result.Error = err.Error()
		c.logger.Warn("strategy rejected", zap.String("strategy_id", strategy.ID), zap.Error(err))
		return result, err
	}

	pools := make([]common.Address, 0, len(strategy.Pools))
	ratios := make([]uint64, 0, len(strategy.Pools))
	for _, p := range strategy.Pools {
		pools = append(pools, common.HexToAddress(p.PoolAddress))
		ratios = append(ratios, uint64(p.AllocationBps))
	}
	result.Reason = Reason(strategy.TriggeredRules)
	if c.agent == nil {
		result.Error = ErrNoAgentSigner.Error()
		return result, ErrNoAgentSigner
	}

	proposed, err := c.ledger.Propose(ctx, c.agent, pools, ratios, result.Reason)
	result.ProposalTx = proposed.TxHash
	if err != nil {
		result.Error = err.Error()
		c.executions.Append(result)
		c.logger.Error("propose failed", zap.String("strategy_id", strategy.ID), zap.String("tx", proposed.TxHash), zap.Error(err))
		return result, fmt.Errorf("propose: %w", err)
	}

	id := proposed.ProposalID
	result.Success = true
	result.ProposalID = &id
	c.metrics.ProposalSubmitted()
	c.logger.Info("proposal created",
		zap.String("strategy_id", strategy.ID),
		zap.Uint64("proposal_id", id),
		zap.String("tx", proposed.TxHash),
		zap.String("reason", result.Reason),
	)

	if !c.cfg.AutoExecute {
		c.executions.Append(result)
		return result, nil
	}

	executed, err := c.ledger.Execute(ctx, c.owner, id)
	result.ExecutionTx = executed.TxHash
	if err != nil {
		result.ExecutionError = err.Error()
		c.metrics.ProposalExecuted(false)
		c.executions.Append(result)
		c.logger.Warn("execute failed, proposal left pending",
			zap.Uint64("proposal_id", id),
			zap.String("tx", executed.TxHash),
			zap.Error(err),
		)
		return result, nil
	}

	result.Executed = true
	c.metrics.ProposalExecuted(true)
	c.executions.Append(result)
	c.logger.Info("proposal executed", zap.Uint64("proposal_id", id), zap.String("tx", executed.TxHash))
	return result, nil
}

// ExecuteProposal executes an existing proposal under the owner signer.
func (c *Coordinator) ExecuteProposal(ctx context.Context, id uint64) (vault.Receipt, error) {
	if c.owner == nil {
		return vault.Receipt{}, fmt.Errorf("owner signer is required")
	}
	rc, err := c.ledger.Execute(ctx, c.owner, id)
	c.metrics.ProposalExecuted(err == nil)
	if err != nil {
		return rc, fmt.Errorf("execute proposal %d: %w", id, err)
	}
	return rc, nil
}
