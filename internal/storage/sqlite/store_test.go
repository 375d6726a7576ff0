package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidAgent/internal/model"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func count(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestRecordSnapshotWritesPools(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	snap := model.NewMarketSnapshot(time.UnixMilli(1700000000000), map[string]model.PoolMetrics{
		"0x1234567890123456789012345678901234567890": {TVLUSD: 1e6, Volume24h: 5e4, FeeAPR: 0.05},
		"0x2345678901234567890123456789012345678901": {TVLUSD: 2e6, Volume24h: 1e5, FeeAPR: 0.03},
	}, 0.3, nil)

	require.NoError(t, s.RecordSnapshot(ctx, snap))
	require.NoError(t, s.RecordSnapshot(ctx, snap), "re-recording the same snapshot is idempotent")

	assert.Equal(t, 1, count(t, s, "market_snapshots"))
	assert.Equal(t, 2, count(t, s, "pool_observations"))

	var tvl float64
	require.NoError(t, s.db.QueryRow("SELECT total_tvl FROM market_snapshots").Scan(&tvl))
	assert.InDelta(t, 3e6, tvl, 1e-9)
}

func TestRecordExecutionUpsertsPartialResult(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	id := uint64(4)

	partial := model.ExecutionResult{StrategyID: "s-1", Success: true, ProposalID: &id, ProposalTx: "0xaa", ExecutionError: "not owner", SubmittedAt: 1}
	require.NoError(t, s.RecordExecution(ctx, partial))

	done := partial
	done.ProposalID = nil
	done.Executed = true
	done.ExecutionTx = "0xbb"
	done.ExecutionError = ""
	require.NoError(t, s.RecordExecution(ctx, done))

	assert.Equal(t, 1, count(t, s, "executions"))

	var (
		executed   bool
		proposalID sql.NullInt64
		execTx     string
	)
	require.NoError(t, s.db.QueryRow("SELECT executed, proposal_id, execution_tx FROM executions WHERE strategy_id='s-1'").Scan(&executed, &proposalID, &execTx))
	assert.True(t, executed)
	assert.Equal(t, sql.NullInt64{Int64: 4, Valid: true}, proposalID, "proposal id is kept")
	assert.Equal(t, "0xbb", execTx)
}

func TestRecordCycleAndStrategy(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	strategy := model.AllocationStrategy{
		ID:         "c-1",
		Timestamp:  1700000000000,
		Confidence: 0.9,
		Pools:      []model.PoolAllocation{{PoolAddress: "0x1", AllocationBps: 10000, Rationale: "Balanced allocation"}},
		TriggeredRules: []model.TriggeredRule{
			{Name: "high_volatility", Action: model.ActionReduceRisk, Priority: model.PriorityHigh},
		},
	}
	require.NoError(t, s.RecordStrategy(ctx, strategy))

	start := time.UnixMilli(1700000000000)
	require.NoError(t, s.RecordCycle(ctx, model.CycleOutcome{
		ID: "c-1", Trigger: model.TriggerScheduled, Status: model.CycleSkipped,
		StartedAt: start, FinishedAt: start.Add(time.Second), Confidence: 0.6,
	}))

	var status string
	var proposalID sql.NullInt64
	require.NoError(t, s.db.QueryRow("SELECT status, proposal_id FROM cycles WHERE id='c-1'").Scan(&status, &proposalID))
	assert.Equal(t, "skipped", status)
	assert.False(t, proposalID.Valid)

	var rules string
	require.NoError(t, s.db.QueryRow("SELECT triggered_rules FROM strategies WHERE id='c-1'").Scan(&rules))
	assert.JSONEq(t, `[{"name":"high_volatility","action":"reduce_risk","priority":"high"}]`, rules)
}

func TestPutEventsDeduplicates(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	events := []model.VaultEvent{
		{Kind: model.EventRebalanceProposed, ProposalID: 0, Pools: []string{"0x1"}, Ratios: []uint64{10000}, BlockNumber: 1, TxHash: "0xa", LogIndex: 0},
		{Kind: model.EventRebalanceExecuted, ProposalID: 0, BlockNumber: 2, TxHash: "0xb", LogIndex: 0},
	}
	require.NoError(t, s.PutEvents(ctx, events))
	require.NoError(t, s.PutEvents(ctx, events[1:]))
	require.NoError(t, s.PutEvents(ctx, nil))

	assert.Equal(t, 2, count(t, s, "vault_events"))
}
