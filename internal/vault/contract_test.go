package vault

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidAgent/internal/chain"
)

var vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeBackend answers eth_call from canned outputs keyed by method and
// mines every transaction with the configured logs.
type fakeBackend struct {
	t           *testing.T
	outputs     map[string][]interface{}
	callErr     error
	estimateErr error
	logs        []*types.Log
	sent        []*types.Transaction
	unmined     bool
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	vaultABI, _ := VaultABI()
	for name, out := range f.outputs {
		method := vaultABI.Methods[name]
		if bytes.Equal(msg.Data[:4], method.ID) {
			packed, err := method.Outputs.Pack(out...)
			if err != nil {
				f.t.Fatalf("pack %s outputs: %v", name, err)
			}
			return packed, nil
		}
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.unmined {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		TxHash:      hash,
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		GasUsed:     42_000,
		Logs:        f.logs,
	}, nil
}

func newTestContract(t *testing.T, backend *fakeBackend) *Contract {
	t.Helper()
	backend.t = t
	c, err := NewContract(backend, vaultAddr, chain.TxOptions{PollInterval: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	return c
}

func TestContractProposeReadsIDFromLogs(t *testing.T) {
	vaultABI, _ := VaultABI()
	backend := &fakeBackend{
		logs: []*types.Log{
			{Address: common.HexToAddress("0x01"), Topics: []common.Hash{vaultABI.Events["RebalanceProposed"].ID, common.BigToHash(big.NewInt(99))}},
			{Address: vaultAddr, Topics: []common.Hash{vaultABI.Events["RebalanceProposed"].ID, common.BigToHash(big.NewInt(5))}},
		},
	}
	c := newTestContract(t, backend)
	agent, _ := chain.GenerateSigner()

	rc, err := c.Propose(context.Background(), agent, []common.Address{poolA, poolB}, []uint64{6000, 4000}, "Portfolio diversification")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if rc.ProposalID != 5 {
		t.Fatalf("expected proposal id 5 from vault log, got %d", rc.ProposalID)
	}
	if rc.BlockNumber != 100 || rc.GasUsed != 42_000 {
		t.Fatalf("receipt fields mismatch: %+v", rc)
	}

	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}
	args, err := vaultABI.Methods["proposeRebalance"].Inputs.Unpack(backend.sent[0].Data()[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	if !reflect.DeepEqual(args[0], []common.Address{poolA, poolB}) {
		t.Fatalf("pools calldata mismatch: %v", args[0])
	}
}

func TestContractProposeMissingLog(t *testing.T) {
	c := newTestContract(t, &fakeBackend{})
	agent, _ := chain.GenerateSigner()

	rc, err := c.Propose(context.Background(), agent, []common.Address{poolA}, []uint64{10000}, "")
	if err == nil {
		t.Fatalf("expected error when log is missing")
	}
	if rc.TxHash == "" {
		t.Fatalf("tx hash should be reported even when id extraction fails")
	}
}

func TestContractProposeKeepsHashOnConfirmTimeout(t *testing.T) {
	backend := &fakeBackend{unmined: true}
	backend.t = t
	c, err := NewContract(backend, vaultAddr, chain.TxOptions{ConfirmTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	agent, _ := chain.GenerateSigner()

	rc, err := c.Propose(context.Background(), agent, []common.Address{poolA}, []uint64{10000}, "")
	if !errors.Is(err, chain.ErrConfirmTimeout) {
		t.Fatalf("expected ErrConfirmTimeout, got %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}
	if rc.TxHash != backend.sent[0].Hash().Hex() {
		t.Fatalf("tx hash = %q, want %s", rc.TxHash, backend.sent[0].Hash().Hex())
	}
}

func TestContractRevertClassification(t *testing.T) {
	backend := &fakeBackend{estimateErr: errors.New("execution reverted: LiquidityVault: Not authorized agent")}
	c := newTestContract(t, backend)
	stranger, _ := chain.GenerateSigner()

	_, err := c.Propose(context.Background(), stranger, []common.Address{poolA}, []uint64{10000}, "")
	if !errors.Is(err, ErrNotAgentAuthority) {
		t.Fatalf("expected ErrNotAgentAuthority, got %v", err)
	}
	var txErr *chain.TxError
	if !errors.As(err, &txErr) || txErr.Stage != chain.StageEstimate {
		t.Fatalf("expected estimate stage tx error, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("nothing should be sent on failed estimate")
	}
}

func TestContractProposeValidatesLocally(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestContract(t, backend)
	agent, _ := chain.GenerateSigner()

	if _, err := c.Propose(context.Background(), agent, []common.Address{poolA}, []uint64{9999}, ""); !errors.Is(err, ErrInvalidTotalAllocation) {
		t.Fatalf("expected ErrInvalidTotalAllocation, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("invalid proposal must not be submitted")
	}
}

func TestContractReads(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	backend := &fakeBackend{outputs: map[string][]interface{}{
		"getProposalCount":  {big.NewInt(2)},
		"getPoolAllocation": {big.NewInt(6000)},
		"owner":             {owner},
		"getRebalanceProposal": {proposalTuple{
			Pools:     []common.Address{poolA, poolB},
			Ratios:    []*big.Int{big.NewInt(6000), big.NewInt(4000)},
			Timestamp: big.NewInt(1700000000),
			Executed:  false,
			Reason:    "Yield optimization for better returns",
		}},
	}}
	c := newTestContract(t, backend)
	ctx := context.Background()

	count, err := c.ProposalCount(ctx)
	if err != nil || count != 2 {
		t.Fatalf("proposal count: %d, %v", count, err)
	}
	alloc, err := c.PoolAllocation(ctx, poolA)
	if err != nil || alloc != 6000 {
		t.Fatalf("pool allocation: %d, %v", alloc, err)
	}
	got, err := c.Owner(ctx)
	if err != nil || got != owner {
		t.Fatalf("owner: %s, %v", got.Hex(), err)
	}

	p, err := c.Proposal(ctx, 1)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.ID != 1 || p.CreatedAt != 1700000000 || p.Executed || !reflect.DeepEqual(p.Ratios, []uint64{6000, 4000}) {
		t.Fatalf("proposal mismatch: %+v", p)
	}
}

func TestContractCallRevert(t *testing.T) {
	c := newTestContract(t, &fakeBackend{callErr: errors.New("execution reverted: LiquidityVault: Invalid proposal ID")})
	if _, err := c.Proposal(context.Background(), 9); !errors.Is(err, ErrUnknownProposal) {
		t.Fatalf("expected ErrUnknownProposal, got %v", err)
	}
}
