package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidAgent/internal/model"
	"liquidAgent/internal/storage"
)

var (
	_ storage.Recorder  = (*Store)(nil)
	_ storage.EventSink = (*Store)(nil)
)

// Store records agent history and vault events in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// RecordSnapshot stores the aggregate row and one row per pool in a batch.
func (s *Store) RecordSnapshot(ctx context.Context, snap model.MarketSnapshot) error {
	feeds, err := json.Marshal(snap.PriceFeeds)
	if err != nil {
		return fmt.Errorf("marshal price feeds: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO market_snapshots (
			snapshot_ts, market_volatility, average_apr, total_tvl, pool_fallback, price_fallback, price_feeds
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (snapshot_ts) DO NOTHING
	`,
		snap.Timestamp,
		snap.MarketVolatility,
		snap.AverageAPR,
		snap.TotalTVL,
		snap.PoolFallback,
		snap.PriceFallback,
		feeds,
	)
	addrs := snap.PoolAddresses()
	for _, addr := range addrs {
		pool := snap.Pools[addr]
		batch.Queue(`
			INSERT INTO pool_observations (
				snapshot_ts, pool_address, tvl_usd, volume_24h, fee_apr, observed_at
			) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (snapshot_ts, pool_address)
			DO UPDATE SET
				tvl_usd = EXCLUDED.tvl_usd,
				volume_24h = EXCLUDED.volume_24h,
				fee_apr = EXCLUDED.fee_apr,
				observed_at = EXCLUDED.observed_at
		`,
			snap.Timestamp,
			addr,
			pool.TVLUSD,
			pool.Volume24h,
			pool.FeeAPR,
			pool.ObservedAt,
		)
	}

	return s.sendBatch(ctx, batch, 1+len(addrs))
}

func (s *Store) RecordStrategy(ctx context.Context, strategy model.AllocationStrategy) error {
	allocations, err := json.Marshal(strategy.Pools)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	rules, err := json.Marshal(strategy.TriggeredRules)
	if err != nil {
		return fmt.Errorf("marshal triggered rules: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategies (id, strategy_ts, confidence, allocations, triggered_rules)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, strategy.ID, strategy.Timestamp, strategy.Confidence, allocations, rules)
	return err
}

// RecordExecution upserts so an out-of-band execution can complete a
// partial result.
func (s *Store) RecordExecution(ctx context.Context, r model.ExecutionResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (
			strategy_id, success, proposal_id, proposal_tx, execution_tx, executed,
			reason, error, execution_error, submitted_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (strategy_id)
		DO UPDATE SET
			success = EXCLUDED.success,
			proposal_id = COALESCE(EXCLUDED.proposal_id, executions.proposal_id),
			proposal_tx = EXCLUDED.proposal_tx,
			execution_tx = EXCLUDED.execution_tx,
			executed = EXCLUDED.executed,
			reason = EXCLUDED.reason,
			error = EXCLUDED.error,
			execution_error = EXCLUDED.execution_error,
			updated_at = now()
	`,
		r.StrategyID,
		r.Success,
		optionalID(r.ProposalID),
		r.ProposalTx,
		r.ExecutionTx,
		r.Executed,
		r.Reason,
		r.Error,
		r.ExecutionError,
		r.SubmittedAt,
	)
	return err
}

func (s *Store) RecordCycle(ctx context.Context, c model.CycleOutcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cycles (
			id, cycle_trigger, status, started_at, finished_at, confidence,
			strategy_id, proposal_id, executed, fallback, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`,
		c.ID,
		string(c.Trigger),
		string(c.Status),
		c.StartedAt,
		c.FinishedAt,
		c.Confidence,
		c.StrategyID,
		optionalID(c.ProposalID),
		c.Executed,
		c.Fallback,
		c.Error,
	)
	return err
}

// PutEvents inserts vault events, ignoring ones already stored.
func (s *Store) PutEvents(ctx context.Context, events []model.VaultEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		pools, err := json.Marshal(e.Pools)
		if err != nil {
			return fmt.Errorf("marshal pools: %w", err)
		}
		ratios, err := json.Marshal(e.Ratios)
		if err != nil {
			return fmt.Errorf("marshal ratios: %w", err)
		}
		batch.Queue(`
			INSERT INTO vault_events (
				block_number, tx_hash, log_index, kind, proposal_id, pools, ratios,
				reason, old_authority, new_authority, block_ts
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (block_number, tx_hash, log_index) DO NOTHING
		`,
			int64(e.BlockNumber),
			e.TxHash,
			int64(e.LogIndex),
			string(e.Kind),
			int64(e.ProposalID),
			pools,
			ratios,
			e.Reason,
			e.OldAuthority,
			e.NewAuthority,
			int64(e.Timestamp),
		)
	}
	return s.sendBatch(ctx, batch, len(events))
}

// LoadState returns the last processed block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM agent_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts the last processed block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = EXCLUDED.updated_at
	`, name, int64(block), time.Now().UTC())
	return err
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func optionalID(id *uint64) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}
