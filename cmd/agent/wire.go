package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/config"
	"liquidAgent/internal/coordinator"
	"liquidAgent/internal/history"
	"liquidAgent/internal/metrics"
	"liquidAgent/internal/observer"
	"liquidAgent/internal/orchestrator"
	"liquidAgent/internal/reasoner"
	"liquidAgent/internal/storage"
	"liquidAgent/internal/storage/postgres"
	"liquidAgent/internal/storage/sqlite"
	"liquidAgent/internal/vault"
)

// agentDeps is the wired agent. Close releases the RPC client and recorder.
type agentDeps struct {
	client       *chain.Client
	ledger       vault.Ledger
	agent        *chain.Signer
	owner        *chain.Signer
	store        *history.Store
	metrics      *metrics.Metrics
	recorder     storage.Recorder
	observer     *observer.Observer
	coordinator  *coordinator.Coordinator
	orchestrator *orchestrator.Orchestrator
}

func (d *agentDeps) Close() {
	if d.recorder != nil {
		_ = d.recorder.Close()
	}
	if d.client != nil {
		d.client.Close()
	}
}

// buildLedger connects the vault binding, or an in-memory ledger for dry runs.
func buildLedger(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (*agentDeps, error) {
	deps := &agentDeps{}

	var err error
	if cfg.AgentKey != "" {
		if deps.agent, err = chain.NewSigner(cfg.AgentKey); err != nil {
			return nil, fmt.Errorf("agent key: %w", err)
		}
	}
	if cfg.OwnerKey != "" {
		if deps.owner, err = chain.NewSigner(cfg.OwnerKey); err != nil {
			return nil, fmt.Errorf("owner key: %w", err)
		}
	}

	if cfg.DryRun {
		if deps.agent == nil {
			if deps.agent, err = chain.GenerateSigner(); err != nil {
				return nil, err
			}
		}
		if deps.owner == nil {
			if deps.owner, err = chain.GenerateSigner(); err != nil {
				return nil, err
			}
		}
		deps.ledger = vault.NewMemoryLedger(deps.owner.Address(), deps.agent.Address(), logger.Named("ledger"))
		logger.Info("dry run: using in-memory ledger",
			zap.String("agent", deps.agent.Address().Hex()),
			zap.String("owner", deps.owner.Address().Hex()),
		)
		return deps, nil
	}

	if !common.IsHexAddress(cfg.Vault) {
		return nil, fmt.Errorf("invalid vault address %q", cfg.Vault)
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	contract, err := vault.NewContract(client, common.HexToAddress(cfg.Vault), chain.TxOptions{
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.PollInterval,
	}, logger.Named("vault"))
	if err != nil {
		client.Close()
		return nil, err
	}
	deps.client = client
	deps.ledger = contract
	return deps, nil
}

func buildAgent(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (*agentDeps, error) {
	deps, err := buildLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps.store = history.NewStore(cfg.HistorySize)
	deps.metrics = metrics.New()

	deps.recorder, err = openRecorder(ctx, cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	var pools observer.PoolSource
	if cfg.EnvioURL != "" {
		pools = observer.NewGraphQLPoolSource(cfg.EnvioURL, cfg.EnvioKey, 0, cfg.SourceTimeout)
	}
	var prices observer.PriceSource
	if cfg.HermesURL != "" {
		prices = observer.NewHermesPriceSource(cfg.HermesURL, cfg.FeedIDs, cfg.SourceTimeout)
	}
	deps.observer = observer.New(observer.Config{
		Pools:       cfg.Pools,
		Interval:    cfg.ObserveEvery,
		HistorySize: cfg.HistorySize,
	}, pools, prices, deps.store.Snapshots, deps.metrics, logger.Named("observer"))

	deps.coordinator, err = coordinator.New(coordinator.Config{AutoExecute: cfg.AutoExecute},
		deps.ledger, deps.agent, deps.owner, deps.store.Executions, deps.metrics, logger.Named("coordinator"))
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.orchestrator, err = orchestrator.New(orchestrator.Config{
		Interval:      cfg.Interval,
		InitialDelay:  cfg.InitialDelay,
		MinConfidence: cfg.MinConfidence,
	}, deps.observer, reasoner.New(nil), deps.coordinator, deps.store, deps.recorder, deps.metrics, logger.Named("orchestrator"))
	if err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

func openRecorder(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (storage.Recorder, error) {
	switch cfg.Record {
	case config.RecordJSONL:
		logger.Info("recording history to jsonl", zap.String("dir", cfg.RecordPath))
		return storage.NewJsonlRecorder(cfg.RecordPath), nil
	case config.RecordPostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("recording history to postgres")
		return store, nil
	case config.RecordSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("recording history to sqlite", zap.String("path", cfg.SQLitePath))
		return store, nil
	default:
		return storage.NewNoopRecorder(), nil
	}
}
