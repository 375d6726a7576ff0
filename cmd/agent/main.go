package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"liquidAgent/internal/api"
	"liquidAgent/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	root := &cobra.Command{
		Use:          "agent",
		Short:        "Autonomous liquidity rebalancing agent",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled agent with its query API",
		RunE:  runAgent,
	}
	addAgentFlags(runCmd.Flags())
	root.AddCommand(runCmd)

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single observe-reason-execute cycle",
		RunE:  runCycle,
	}
	addAgentFlags(cycleCmd.Flags())
	root.AddCommand(cycleCmd)

	proposalsCmd := &cobra.Command{
		Use:   "proposals",
		Short: "List pending rebalance proposals",
		RunE:  runProposals,
	}
	addAgentFlags(proposalsCmd.Flags())
	proposalsCmd.Flags().Bool("all", false, "include executed proposals")
	root.AddCommand(proposalsCmd)

	executeCmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a proposal as the vault owner",
		RunE:  runExecute,
	}
	addAgentFlags(executeCmd.Flags())
	executeCmd.Flags().Uint64("id", 0, "proposal id")
	_ = executeCmd.MarkFlagRequired("id")
	root.AddCommand(executeCmd)

	authorityCmd := &cobra.Command{
		Use:   "authority",
		Short: "Rotate the vault's agent authority as the owner",
		RunE:  runAuthority,
	}
	addAgentFlags(authorityCmd.Flags())
	authorityCmd.Flags().String("address", "", "new agent authority address")
	_ = authorityCmd.MarkFlagRequired("address")
	root.AddCommand(authorityCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream vault events to storage with checkpointing",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("rpc", "", "RPC URL")
	watchCmd.Flags().String("vault", "", "vault contract address")
	watchCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	watchCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 follows the head")
	watchCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	watchCmd.Flags().Duration("poll-interval", 12*time.Second, "head polling interval")
	watchCmd.Flags().String("record", config.RecordJSONL, "event sink (jsonl, postgres, sqlite)")
	watchCmd.Flags().String("out", "./data", "JSONL output directory")
	watchCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	watchCmd.Flags().String("checkpoint-name", "vault-events", "checkpoint row name (postgres)")
	watchCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	watchCmd.Flags().String("sqlite-path", "./data/agent.db", "SQLite database path")
	watchCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	watchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(watchCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addAgentFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "RPC URL")
	flags.String("vault", "", "LiquidityVault contract address")
	flags.String("agent-key", "", "agent authority private key (hex)")
	flags.String("owner-key", "", "vault owner private key (hex)")
	flags.StringSlice("pools", nil, "pool addresses to manage (comma-separated)")
	flags.String("envio-url", "", "pool metrics GraphQL endpoint")
	flags.String("envio-key", "", "pool metrics API key")
	flags.String("hermes-url", "https://hermes.pyth.network", "Pyth Hermes base URL")
	flags.StringSlice("feed-ids", nil, "Pyth price feed ids (comma-separated)")
	flags.Duration("source-timeout", 10*time.Second, "market data request timeout")
	flags.Duration("interval", 5*time.Minute, "cycle interval")
	flags.Duration("initial-delay", 10*time.Second, "delay before the first cycle")
	flags.Duration("observe-interval", 30*time.Second, "market observation interval")
	flags.Float64("min-confidence", 0.7, "minimum strategy confidence to execute")
	flags.Bool("auto-execute", false, "execute proposals as the owner right after creation")
	flags.Duration("confirm-timeout", 2*time.Minute, "transaction confirmation timeout")
	flags.Duration("poll-interval", 3*time.Second, "receipt polling interval")
	flags.Int("history-size", 100, "in-memory history capacity per log")
	flags.String("listen", ":8080", "API listen address")
	flags.String("record", config.RecordNoop, "history recorder (noop, jsonl, postgres, sqlite)")
	flags.String("record-path", "./data", "JSONL recorder directory")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("sqlite-path", "./data/agent.db", "SQLite database path")
	flags.Bool("dry-run", false, "use an in-memory ledger instead of the vault contract")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadAgent(cmd, true, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		deps.observer.Run(ctx)
	}()

	if err := deps.orchestrator.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen, deps.store, deps.orchestrator, deps.ledger, deps.metrics, logger.Named("api"))
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	logger.Info("agent start",
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("vault", cfg.Vault),
		zap.String("agent", deps.agent.Address().Hex()),
		zap.Int("pools", len(cfg.Pools)),
		zap.Duration("interval", cfg.Interval),
		zap.Float64("min_confidence", cfg.MinConfidence),
		zap.Bool("auto_execute", cfg.AutoExecute),
		zap.String("listen", cfg.Listen),
		zap.String("record", cfg.Record),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		stop()
	}

	logger.Info("shutting down, waiting for in-flight cycle")
	<-deps.orchestrator.Stop().Done()
	wg.Wait()
	if runErr == nil {
		runErr = <-serverErr
	}
	return runErr
}

func loadAgent(cmd *cobra.Command, requireAgent, requireOwner bool) (config.AgentConfig, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAgent(cfgFile, cmd.Flags())
	if err != nil {
		return config.AgentConfig{}, nil, err
	}
	if err := cfg.Validate(requireAgent, requireOwner); err != nil {
		return config.AgentConfig{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.AgentConfig{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
