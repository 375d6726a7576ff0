package vault

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/model"
)

var (
	_ Ledger      = (*MemoryLedger)(nil)
	_ EventSource = (*MemoryLedger)(nil)
	_ Ledger      = (*Contract)(nil)
)

type memoryProposal struct {
	pools      []common.Address
	ratios     []uint64
	reason     string
	createdAt  time.Time
	executed   bool
	executedAt time.Time
	executor   common.Address
}

// MemoryLedger is an in-process proposal ledger with the same acceptance
// rules as the on-chain vault. Every accepted write is one "block".
type MemoryLedger struct {
	mu             sync.Mutex
	owner          common.Address
	agentAuthority common.Address
	proposals      []memoryProposal
	allocations    map[common.Address]uint64
	events         []model.VaultEvent
	block          uint64
	notify         chan struct{}
	now            func() time.Time
	logger         *zap.Logger
}

// NewMemoryLedger creates a ledger owned by owner with agent as the initial
// proposer.
func NewMemoryLedger(owner, agent common.Address, logger *zap.Logger) *MemoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLedger{
		owner:          owner,
		agentAuthority: agent,
		allocations:    make(map[common.Address]uint64),
		notify:         make(chan struct{}),
		now:            time.Now,
		logger:         logger,
	}
}

// Propose records a new proposal. Only the agent authority may call it.
func (m *MemoryLedger) Propose(_ context.Context, signer *chain.Signer, pools []common.Address, ratios []uint64, reason string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if signer == nil || signer.Address() != m.agentAuthority {
		return Receipt{}, ErrNotAgentAuthority
	}
	if err := ValidateRatios(pools, ratios); err != nil {
		return Receipt{}, err
	}

	id := uint64(len(m.proposals))
	p := memoryProposal{
		pools:     append([]common.Address(nil), pools...),
		ratios:    append([]uint64(nil), ratios...),
		reason:    reason,
		createdAt: m.now(),
	}
	m.proposals = append(m.proposals, p)

	receipt := m.commit(model.VaultEvent{
		Kind:       model.EventRebalanceProposed,
		ProposalID: id,
		Pools:      addressStrings(p.pools),
		Ratios:     append([]uint64(nil), p.ratios...),
		Reason:     reason,
	})
	receipt.ProposalID = id

	m.logger.Debug("proposal recorded", zap.Uint64("proposal_id", id), zap.Int("pools", len(pools)))
	return receipt, nil
}

// Execute applies a proposal's ratios to the allocation table. Only the owner
// may call it, and each proposal executes at most once.
func (m *MemoryLedger) Execute(_ context.Context, signer *chain.Signer, proposalID uint64) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if signer == nil || signer.Address() != m.owner {
		return Receipt{}, ErrNotOwner
	}
	if proposalID >= uint64(len(m.proposals)) {
		return Receipt{}, ErrUnknownProposal
	}
	p := &m.proposals[proposalID]
	if p.executed {
		return Receipt{}, ErrAlreadyExecuted
	}

	m.allocations = make(map[common.Address]uint64, len(p.pools))
	for i, pool := range p.pools {
		m.allocations[pool] = p.ratios[i]
	}
	p.executed = true
	p.executedAt = m.now()
	p.executor = signer.Address()

	receipt := m.commit(model.VaultEvent{
		Kind:       model.EventRebalanceExecuted,
		ProposalID: proposalID,
		Pools:      addressStrings(p.pools),
		Ratios:     append([]uint64(nil), p.ratios...),
	})
	receipt.ProposalID = proposalID
	return receipt, nil
}

// UpdateAgentAuthority replaces the proposer identity. Owner only.
func (m *MemoryLedger) UpdateAgentAuthority(_ context.Context, signer *chain.Signer, authority common.Address) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if signer == nil || signer.Address() != m.owner {
		return Receipt{}, ErrNotOwner
	}
	if authority == (common.Address{}) {
		return Receipt{}, ErrZeroAuthority
	}

	old := m.agentAuthority
	m.agentAuthority = authority
	return m.commit(model.VaultEvent{
		Kind:         model.EventAgentAuthorityUpdated,
		OldAuthority: old.Hex(),
		NewAuthority: authority.Hex(),
	}), nil
}

func (m *MemoryLedger) Proposal(_ context.Context, proposalID uint64) (model.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if proposalID >= uint64(len(m.proposals)) {
		return model.Proposal{}, ErrUnknownProposal
	}
	p := m.proposals[proposalID]
	out := model.Proposal{
		ID:        proposalID,
		Pools:     addressStrings(p.pools),
		Ratios:    append([]uint64(nil), p.ratios...),
		Reason:    p.reason,
		CreatedAt: p.createdAt.Unix(),
		Executed:  p.executed,
	}
	if p.executed {
		out.ExecutedAt = p.executedAt.Unix()
		out.Executor = p.executor.Hex()
	}
	return out, nil
}

func (m *MemoryLedger) ProposalCount(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.proposals)), nil
}

func (m *MemoryLedger) PoolAllocation(_ context.Context, pool common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocations[pool], nil
}

func (m *MemoryLedger) Owner(context.Context) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, nil
}

func (m *MemoryLedger) AgentAuthority(context.Context) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agentAuthority, nil
}

// Subscribe replays events from block `from` and then follows new ones.
func (m *MemoryLedger) Subscribe(ctx context.Context, from uint64) (<-chan model.VaultEvent, error) {
	out := make(chan model.VaultEvent)
	go func() {
		defer close(out)
		next := 0
		for {
			m.mu.Lock()
			pending := make([]model.VaultEvent, 0, len(m.events)-next)
			for _, ev := range m.events[next:] {
				if ev.BlockNumber >= from {
					pending = append(pending, ev)
				}
			}
			next = len(m.events)
			wait := m.notify
			m.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// commit appends ev as a new block and wakes subscribers. Callers hold mu.
func (m *MemoryLedger) commit(ev model.VaultEvent) Receipt {
	m.block++
	ev.BlockNumber = m.block
	ev.Timestamp = uint64(m.now().Unix())
	ev.TxHash = memoryTxHash(m.block, ev.Kind).Hex()
	m.events = append(m.events, ev)

	close(m.notify)
	m.notify = make(chan struct{})

	return Receipt{TxHash: ev.TxHash, BlockNumber: ev.BlockNumber}
}

func memoryTxHash(block uint64, kind model.VaultEventKind) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], block)
	return crypto.Keccak256Hash(buf[:], []byte(kind))
}
