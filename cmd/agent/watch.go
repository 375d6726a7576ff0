package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/config"
	"liquidAgent/internal/storage"
	"liquidAgent/internal/storage/postgres"
	"liquidAgent/internal/storage/sqlite"
	"liquidAgent/internal/watcher"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Vault) {
		return fmt.Errorf("invalid vault address %q", cfg.Vault)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	var (
		sink       storage.EventSink
		checkpoint watcher.Checkpointer = watcher.NewFileCheckpoint(cfg.Checkpoint, common.HexToAddress(cfg.Vault))
	)
	switch cfg.Record {
	case config.RecordPostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = store
		checkpoint = watcher.NewStateCheckpoint(store, cfg.CheckpointName)
	case config.RecordSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		sink = store
	case config.RecordJSONL:
		sink = storage.NewJsonlRecorder(cfg.Out)
	default:
		return fmt.Errorf("unsupported event sink %q", cfg.Record)
	}

	w, err := watcher.New(watcher.Config{
		Vault:        common.HexToAddress(cfg.Vault),
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, checkpoint, logger.Named("watcher"))
	if err != nil {
		return err
	}

	logger.Info("watcher start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("vault", cfg.Vault),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("record", cfg.Record),
	)

	return w.Run(ctx, sink)
}
