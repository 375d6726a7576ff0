// Package sqlite records agent history in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"liquidAgent/internal/model"
	"liquidAgent/internal/storage"
)

var (
	_ storage.Recorder  = (*Store)(nil)
	_ storage.EventSink = (*Store)(nil)
)

// Store is a SQLite-backed recorder and event sink.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_snapshots (
			snapshot_ts       INTEGER PRIMARY KEY,
			market_volatility REAL NOT NULL,
			average_apr       REAL NOT NULL,
			total_tvl         REAL NOT NULL,
			pool_fallback     INTEGER NOT NULL,
			price_fallback    INTEGER NOT NULL,
			price_feeds       TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pool_observations (
			snapshot_ts  INTEGER NOT NULL,
			pool_address TEXT NOT NULL,
			tvl_usd      REAL NOT NULL,
			volume_24h   REAL NOT NULL,
			fee_apr      REAL NOT NULL,
			observed_at  INTEGER NOT NULL,
			PRIMARY KEY (snapshot_ts, pool_address)
		)`,
		`CREATE TABLE IF NOT EXISTS strategies (
			id              TEXT PRIMARY KEY,
			strategy_ts     INTEGER NOT NULL,
			confidence      REAL NOT NULL,
			allocations     TEXT NOT NULL,
			triggered_rules TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			strategy_id     TEXT PRIMARY KEY,
			success         INTEGER NOT NULL,
			proposal_id     INTEGER,
			proposal_tx     TEXT,
			execution_tx    TEXT,
			executed        INTEGER NOT NULL,
			reason          TEXT,
			error           TEXT,
			execution_error TEXT,
			submitted_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id            TEXT PRIMARY KEY,
			cycle_trigger TEXT NOT NULL,
			status        TEXT NOT NULL,
			started_at    INTEGER NOT NULL,
			finished_at   INTEGER NOT NULL,
			confidence    REAL NOT NULL,
			strategy_id   TEXT,
			proposal_id   INTEGER,
			executed      INTEGER NOT NULL,
			fallback      INTEGER NOT NULL,
			error         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at)`,
		`CREATE TABLE IF NOT EXISTS vault_events (
			block_number  INTEGER NOT NULL,
			tx_hash       TEXT NOT NULL,
			log_index     INTEGER NOT NULL,
			kind          TEXT NOT NULL,
			proposal_id   INTEGER NOT NULL,
			pools         TEXT,
			ratios        TEXT,
			reason        TEXT,
			old_authority TEXT,
			new_authority TEXT,
			block_ts      INTEGER NOT NULL,
			PRIMARY KEY (block_number, tx_hash, log_index)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordSnapshot(ctx context.Context, snap model.MarketSnapshot) error {
	feeds, err := json.Marshal(snap.PriceFeeds)
	if err != nil {
		return fmt.Errorf("marshal price feeds: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO market_snapshots
		(snapshot_ts, market_volatility, average_apr, total_tvl, pool_fallback, price_fallback, price_feeds)
		VALUES (?,?,?,?,?,?,?)`,
		snap.Timestamp, snap.MarketVolatility, snap.AverageAPR, snap.TotalTVL,
		snap.PoolFallback, snap.PriceFallback, string(feeds),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	for _, addr := range snap.PoolAddresses() {
		p := snap.Pools[addr]
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO pool_observations
			(snapshot_ts, pool_address, tvl_usd, volume_24h, fee_apr, observed_at)
			VALUES (?,?,?,?,?,?)`,
			snap.Timestamp, addr, p.TVLUSD, p.Volume24h, p.FeeAPR, p.ObservedAt,
		); err != nil {
			return fmt.Errorf("insert pool observation: %w", err)
		}
	}
	return tx.Commit()
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

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO strategies
		(id, strategy_ts, confidence, allocations, triggered_rules)
		VALUES (?,?,?,?,?)`,
		strategy.ID, strategy.Timestamp, strategy.Confidence, string(allocations), string(rules),
	)
	return err
}

// RecordExecution upserts by strategy id.
func (s *Store) RecordExecution(ctx context.Context, r model.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO executions
		(strategy_id, success, proposal_id, proposal_tx, execution_tx, executed,
		 reason, error, execution_error, submitted_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			success = excluded.success,
			proposal_id = COALESCE(excluded.proposal_id, executions.proposal_id),
			proposal_tx = excluded.proposal_tx,
			execution_tx = excluded.execution_tx,
			executed = excluded.executed,
			reason = excluded.reason,
			error = excluded.error,
			execution_error = excluded.execution_error`,
		r.StrategyID, r.Success, nullableID(r.ProposalID), r.ProposalTx, r.ExecutionTx, r.Executed,
		r.Reason, r.Error, r.ExecutionError, r.SubmittedAt,
	)
	return err
}

func (s *Store) RecordCycle(ctx context.Context, c model.CycleOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO cycles
		(id, cycle_trigger, status, started_at, finished_at, confidence,
		 strategy_id, proposal_id, executed, fallback, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, string(c.Trigger), string(c.Status), c.StartedAt.UnixMilli(), c.FinishedAt.UnixMilli(),
		c.Confidence, c.StrategyID, nullableID(c.ProposalID), c.Executed, c.Fallback, c.Error,
	)
	return err
}

// PutEvents inserts vault events, ignoring ones already stored.
func (s *Store) PutEvents(ctx context.Context, events []model.VaultEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		pools, err := json.Marshal(e.Pools)
		if err != nil {
			return fmt.Errorf("marshal pools: %w", err)
		}
		ratios, err := json.Marshal(e.Ratios)
		if err != nil {
			return fmt.Errorf("marshal ratios: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO vault_events
			(block_number, tx_hash, log_index, kind, proposal_id, pools, ratios,
			 reason, old_authority, new_authority, block_ts)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			int64(e.BlockNumber), e.TxHash, int64(e.LogIndex), string(e.Kind), int64(e.ProposalID),
			string(pools), string(ratios), e.Reason, e.OldAuthority, e.NewAuthority, int64(e.Timestamp),
		); err != nil {
			return fmt.Errorf("insert vault event: %w", err)
		}
	}
	return tx.Commit()
}

func nullableID(id *uint64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}
