package vault

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/model"
)

var (
	poolA = common.HexToAddress("0x1234567890123456789012345678901234567890")
	poolB = common.HexToAddress("0x2345678901234567890123456789012345678901")
)

func newTestLedger(t *testing.T) (*MemoryLedger, *chain.Signer, *chain.Signer) {
	t.Helper()
	owner, err := chain.GenerateSigner()
	if err != nil {
		t.Fatalf("generate owner: %v", err)
	}
	agent, err := chain.GenerateSigner()
	if err != nil {
		t.Fatalf("generate agent: %v", err)
	}
	return NewMemoryLedger(owner.Address(), agent.Address(), nil), owner, agent
}

func TestMemoryLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger, owner, agent := newTestLedger(t)

	rc, err := ledger.Propose(ctx, agent, []common.Address{poolA, poolB}, []uint64{6000, 4000}, "Risk reduction due to high volatility")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if rc.ProposalID != 0 {
		t.Fatalf("first proposal id should be 0, got %d", rc.ProposalID)
	}

	if _, err := ledger.Execute(ctx, owner, rc.ProposalID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	a, _ := ledger.PoolAllocation(ctx, poolA)
	b, _ := ledger.PoolAllocation(ctx, poolB)
	if a != 6000 || b != 4000 {
		t.Fatalf("allocation mismatch: %d/%d", a, b)
	}

	p, err := ledger.Proposal(ctx, 0)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if !p.Executed || p.Executor != owner.Address().Hex() {
		t.Fatalf("proposal not marked executed by owner: %+v", p)
	}
}

func TestMemoryLedgerProposeValidation(t *testing.T) {
	ctx := context.Background()
	ledger, _, agent := newTestLedger(t)

	cases := []struct {
		name   string
		pools  []common.Address
		ratios []uint64
		want   error
	}{
		{"length mismatch", []common.Address{poolA, poolB}, []uint64{10000}, ErrLengthMismatch},
		{"sum below", []common.Address{poolA, poolB}, []uint64{5000, 4999}, ErrInvalidTotalAllocation},
		{"sum above", []common.Address{poolA, poolB}, []uint64{5000, 5001}, ErrInvalidTotalAllocation},
		{"empty", nil, nil, ErrInvalidTotalAllocation},
		{"overflow", []common.Address{poolA, poolB}, []uint64{^uint64(0), 10001}, ErrInvalidTotalAllocation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ledger.Propose(ctx, agent, tc.pools, tc.ratios, ""); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	count, _ := ledger.ProposalCount(ctx)
	if count != 0 {
		t.Fatalf("rejected proposals should not be stored, count=%d", count)
	}
}

func TestMemoryLedgerAuthoritySeparation(t *testing.T) {
	ctx := context.Background()
	ledger, owner, agent := newTestLedger(t)
	stranger, _ := chain.GenerateSigner()

	if _, err := ledger.Propose(ctx, stranger, []common.Address{poolA}, []uint64{10000}, ""); !errors.Is(err, ErrNotAgentAuthority) {
		t.Fatalf("stranger propose: expected ErrNotAgentAuthority, got %v", err)
	}
	if _, err := ledger.Propose(ctx, owner, []common.Address{poolA}, []uint64{10000}, ""); !errors.Is(err, ErrNotAgentAuthority) {
		t.Fatalf("owner propose: expected ErrNotAgentAuthority, got %v", err)
	}

	if _, err := ledger.Propose(ctx, agent, []common.Address{poolA}, []uint64{10000}, ""); err != nil {
		t.Fatalf("agent propose: %v", err)
	}
	if _, err := ledger.Execute(ctx, agent, 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("agent execute: expected ErrNotOwner, got %v", err)
	}
	if _, err := ledger.UpdateAgentAuthority(ctx, agent, stranger.Address()); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("agent update authority: expected ErrNotOwner, got %v", err)
	}
	if _, err := ledger.UpdateAgentAuthority(ctx, owner, common.Address{}); !errors.Is(err, ErrZeroAuthority) {
		t.Fatalf("zero authority: expected ErrZeroAuthority, got %v", err)
	}

	if _, err := ledger.UpdateAgentAuthority(ctx, owner, stranger.Address()); err != nil {
		t.Fatalf("owner update authority: %v", err)
	}
	if _, err := ledger.Propose(ctx, agent, []common.Address{poolA}, []uint64{10000}, ""); !errors.Is(err, ErrNotAgentAuthority) {
		t.Fatalf("rotated-out agent should be rejected, got %v", err)
	}
	if _, err := ledger.Propose(ctx, stranger, []common.Address{poolA}, []uint64{10000}, ""); err != nil {
		t.Fatalf("new agent propose: %v", err)
	}
}

func TestMemoryLedgerDoubleExecute(t *testing.T) {
	ctx := context.Background()
	ledger, owner, agent := newTestLedger(t)

	if _, err := ledger.Propose(ctx, agent, []common.Address{poolA, poolB}, []uint64{6000, 4000}, ""); err != nil {
		t.Fatalf("propose first: %v", err)
	}
	if _, err := ledger.Propose(ctx, agent, []common.Address{poolA}, []uint64{10000}, ""); err != nil {
		t.Fatalf("propose second: %v", err)
	}
	if _, err := ledger.Execute(ctx, owner, 0); err != nil {
		t.Fatalf("execute first: %v", err)
	}
	if _, err := ledger.Execute(ctx, owner, 1); err != nil {
		t.Fatalf("execute second: %v", err)
	}
	if _, err := ledger.Execute(ctx, owner, 0); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}

	// The table must still reflect proposal 1 only.
	a, _ := ledger.PoolAllocation(ctx, poolA)
	b, _ := ledger.PoolAllocation(ctx, poolB)
	if a != 10000 || b != 0 {
		t.Fatalf("allocation table mutated by double execute: %d/%d", a, b)
	}

	if _, err := ledger.Execute(ctx, owner, 2); !errors.Is(err, ErrUnknownProposal) {
		t.Fatalf("expected ErrUnknownProposal, got %v", err)
	}
}

func TestPendingProposals(t *testing.T) {
	ctx := context.Background()
	ledger, owner, agent := newTestLedger(t)

	for i := 0; i < 3; i++ {
		if _, err := ledger.Propose(ctx, agent, []common.Address{poolA}, []uint64{10000}, ""); err != nil {
			t.Fatalf("propose: %v", err)
		}
	}
	if _, err := ledger.Execute(ctx, owner, 1); err != nil {
		t.Fatalf("execute: %v", err)
	}

	pending, err := PendingProposals(ctx, ledger)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	var ids []uint64
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	if !reflect.DeepEqual(ids, []uint64{0, 2}) {
		t.Fatalf("pending ids mismatch: %v", ids)
	}
}

func TestMemoryLedgerSubscribeReplaysAndFollows(t *testing.T) {
	ledger, owner, agent := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := ledger.Propose(ctx, agent, []common.Address{poolA}, []uint64{10000}, "first"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	events, err := ledger.Subscribe(ctx, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := receive(t, events)
	if first.Kind != model.EventRebalanceProposed || first.Reason != "first" {
		t.Fatalf("unexpected replayed event: %+v", first)
	}

	if _, err := ledger.Execute(ctx, owner, 0); err != nil {
		t.Fatalf("execute: %v", err)
	}
	second := receive(t, events)
	if second.Kind != model.EventRebalanceExecuted || second.ProposalID != 0 {
		t.Fatalf("unexpected followed event: %+v", second)
	}
	if second.BlockNumber <= first.BlockNumber {
		t.Fatalf("block numbers not increasing: %d <= %d", second.BlockNumber, first.BlockNumber)
	}

	// Restart from the second event's block skips the first.
	resumed, err := ledger.Subscribe(ctx, second.BlockNumber)
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if ev := receive(t, resumed); ev.TxHash != second.TxHash {
		t.Fatalf("resume cursor ignored: %+v", ev)
	}

	cancel()
	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not closed after cancel")
	}
}

func receive(t *testing.T, events <-chan model.VaultEvent) model.VaultEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("subscription closed early")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return model.VaultEvent{}
}
