package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		snapshot_ts       BIGINT PRIMARY KEY,
		market_volatility DOUBLE PRECISION NOT NULL,
		average_apr       DOUBLE PRECISION NOT NULL,
		total_tvl         DOUBLE PRECISION NOT NULL,
		pool_fallback     BOOLEAN NOT NULL,
		price_fallback    BOOLEAN NOT NULL,
		price_feeds       JSONB,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pool_observations (
		snapshot_ts  BIGINT NOT NULL,
		pool_address TEXT NOT NULL,
		tvl_usd      DOUBLE PRECISION NOT NULL,
		volume_24h   DOUBLE PRECISION NOT NULL,
		fee_apr      DOUBLE PRECISION NOT NULL,
		observed_at  BIGINT NOT NULL,
		PRIMARY KEY (snapshot_ts, pool_address)
	)`,
	`CREATE TABLE IF NOT EXISTS strategies (
		id              TEXT PRIMARY KEY,
		strategy_ts     BIGINT NOT NULL,
		confidence      DOUBLE PRECISION NOT NULL,
		allocations     JSONB NOT NULL,
		triggered_rules JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		strategy_id     TEXT PRIMARY KEY,
		success         BOOLEAN NOT NULL,
		proposal_id     BIGINT,
		proposal_tx     TEXT,
		execution_tx    TEXT,
		executed        BOOLEAN NOT NULL,
		reason          TEXT,
		error           TEXT,
		execution_error TEXT,
		submitted_at    BIGINT NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cycles (
		id          TEXT PRIMARY KEY,
		cycle_trigger TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		strategy_id TEXT,
		proposal_id BIGINT,
		executed    BOOLEAN NOT NULL,
		fallback    BOOLEAN NOT NULL,
		error       TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS vault_events (
		block_number  BIGINT NOT NULL,
		tx_hash       TEXT NOT NULL,
		log_index     BIGINT NOT NULL,
		kind          TEXT NOT NULL,
		proposal_id   BIGINT NOT NULL,
		pools         JSONB,
		ratios        JSONB,
		reason        TEXT,
		old_authority TEXT,
		new_authority TEXT,
		block_ts      BIGINT NOT NULL,
		PRIMARY KEY (block_number, tx_hash, log_index)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_state (
		name                 TEXT PRIMARY KEY,
		last_processed_block BIGINT NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the recorder tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
