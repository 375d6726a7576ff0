// Package orchestrator runs the observe, reason, execute cycle on a schedule.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"liquidAgent/internal/history"
	"liquidAgent/internal/metrics"
	"liquidAgent/internal/model"
	"liquidAgent/internal/storage"
)

var (
	ErrCycleInProgress = errors.New("cycle already in progress")
	ErrAlreadyRunning  = errors.New("orchestrator is already running")
	ErrNotRunning      = errors.New("orchestrator is not running")
)

// Observer produces market snapshots.
type Observer interface {
	Observe(ctx context.Context) (model.MarketSnapshot, error)
}

// Reasoner turns a snapshot into an allocation strategy.
type Reasoner interface {
	Reason(snap model.MarketSnapshot) model.AllocationStrategy
}

// Executor submits a strategy to the ledger.
type Executor interface {
	Execute(ctx context.Context, strategy model.AllocationStrategy) (model.ExecutionResult, error)
}

// Config holds scheduling settings.
type Config struct {
	Interval      time.Duration
	InitialDelay  time.Duration
	MinConfidence float64
}

// Orchestrator owns the cycle schedule. At most one cycle runs at a time.
type Orchestrator struct {
	cfg      Config
	observer Observer
	reasoner Reasoner
	executor Executor
	store    *history.Store
	recorder storage.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	busy    atomic.Bool
	cycleMu sync.Mutex // held for the duration of a cycle

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	initial *time.Timer
}

// New builds an Orchestrator. A nil recorder records nothing.
func New(cfg Config, observer Observer, reasoner Reasoner, executor Executor, store *history.Store, recorder storage.Recorder, m *metrics.Metrics, logger *zap.Logger) (*Orchestrator, error) {
	if observer == nil || reasoner == nil || executor == nil {
		return nil, fmt.Errorf("observer, reasoner and executor are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be greater than zero")
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if store == nil {
		store = history.NewStore(history.DefaultCapacity)
	}
	if recorder == nil {
		recorder = storage.NewNoopRecorder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		observer: observer,
		reasoner: reasoner,
		executor: executor,
		store:    store,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start schedules a cycle every Interval and a first one after InitialDelay.
// ctx only bounds the schedule; cycles themselves are not cancelled by it.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	cl := cronLogger{logger: o.logger.Named("cron")}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	c.Schedule(cron.Every(o.cfg.Interval), cron.FuncJob(func() {
		o.scheduled(ctx)
	}))
	c.Start()

	o.cron = c
	o.initial = time.AfterFunc(o.cfg.InitialDelay, func() {
		o.scheduled(ctx)
	})
	o.running = true

	o.logger.Info("orchestrator started",
		zap.Duration("interval", o.cfg.Interval),
		zap.Duration("initial_delay", o.cfg.InitialDelay),
		zap.Float64("min_confidence", o.cfg.MinConfidence),
	)
	return nil
}

// Stop halts the schedule. The returned context is done once any in-flight
// cycle has finished.
func (o *Orchestrator) Stop() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	if !o.running {
		cancel()
		return ctx
	}
	o.running = false
	if o.initial != nil {
		o.initial.Stop()
	}
	cronDone := o.cron.Stop()

	go func() {
		<-cronDone.Done()
		o.cycleMu.Lock()
		o.cycleMu.Unlock()
		cancel()
	}()

	o.logger.Info("orchestrator stopping")
	return ctx
}

// Running reports whether the schedule is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Trigger runs a manual cycle. It fails with ErrCycleInProgress when a cycle
// is already running.
func (o *Orchestrator) Trigger(ctx context.Context) (model.CycleOutcome, error) {
	return o.RunCycle(ctx, model.TriggerManual)
}

// Status reports the scheduler state and the most recent cycle.
func (o *Orchestrator) Status() model.Status {
	st := model.Status{
		State:         model.StateStopped,
		Busy:          o.busy.Load(),
		Cycles:        o.store.Cycles.Total(),
		Interval:      o.cfg.Interval.String(),
		MinConfidence: o.cfg.MinConfidence,
	}
	if o.Running() {
		st.State = model.StateRunning
	}
	if last, ok := o.store.Cycles.Last(); ok {
		st.LastCycle = &last
	}
	return st
}

func (o *Orchestrator) scheduled(ctx context.Context) {
	if ctx.Err() != nil || !o.Running() {
		return
	}
	if _, err := o.RunCycle(ctx, model.TriggerScheduled); err != nil {
		if errors.Is(err, ErrCycleInProgress) || errors.Is(err, ErrNotRunning) {
			o.logger.Debug("tick dropped", zap.Error(err))
			return
		}
		o.logger.Warn("scheduled cycle failed", zap.Error(err))
	}
}

// RunCycle runs observe, reason, gate and execute once. The cycle continues
// on a context detached from ctx's cancellation so a pending transaction wait
// is not cut short by shutdown.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger model.CycleTrigger) (model.CycleOutcome, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return model.CycleOutcome{}, ErrCycleInProgress
	}
	o.cycleMu.Lock()
	defer func() {
		o.cycleMu.Unlock()
		o.busy.Store(false)
	}()
	// Stop clears running before it waits on cycleMu, so a scheduled cycle
	// that gets the lock after a Stop sees it here.
	if trigger == model.TriggerScheduled && !o.Running() {
		return model.CycleOutcome{}, ErrNotRunning
	}

	ctx = context.WithoutCancel(ctx)
	outcome := model.CycleOutcome{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: o.now().UTC(),
	}
	logger := o.logger.With(zap.String("cycle_id", outcome.ID), zap.String("trigger", string(trigger)))
	logger.Info("cycle started")

	err := o.runCycle(ctx, logger, &outcome)
	outcome.FinishedAt = o.now().UTC()
	if err != nil {
		outcome.Status = model.CycleAborted
		outcome.Error = err.Error()
	}
	o.finish(ctx, logger, outcome)
	return outcome, err
}

func (o *Orchestrator) runCycle(ctx context.Context, logger *zap.Logger, outcome *model.CycleOutcome) error {
	snap, err := o.observer.Observe(ctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	outcome.Fallback = snap.Fallback()
	if err := o.recorder.RecordSnapshot(ctx, snap); err != nil {
		logger.Warn("record snapshot failed", zap.Error(err))
	}

	strategy := o.reasoner.Reason(snap)
	strategy.ID = outcome.ID
	outcome.StrategyID = strategy.ID
	outcome.Confidence = strategy.Confidence
	o.store.Strategies.Append(strategy)
	o.metrics.StrategyConfidence(strategy.Confidence)
	if err := o.recorder.RecordStrategy(ctx, strategy); err != nil {
		logger.Warn("record strategy failed", zap.Error(err))
	}

	logger.Info("strategy generated",
		zap.Int("pools", len(strategy.Pools)),
		zap.Float64("confidence", strategy.Confidence),
		zap.Any("actions", strategy.Actions()),
	)

	if strategy.Confidence < o.cfg.MinConfidence {
		outcome.Status = model.CycleSkipped
		logger.Info("confidence below threshold, skipping execution",
			zap.Float64("confidence", strategy.Confidence),
			zap.Float64("min_confidence", o.cfg.MinConfidence),
		)
		return nil
	}

	result, err := o.executor.Execute(ctx, strategy)
	outcome.ProposalID = result.ProposalID
	outcome.Executed = result.Executed
	if rerr := o.recorder.RecordExecution(ctx, result); rerr != nil {
		logger.Warn("record execution failed", zap.Error(rerr))
	}
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	outcome.Status = model.CycleExecuted
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, outcome model.CycleOutcome) {
	o.store.Cycles.Append(outcome)
	o.metrics.CycleFinished(string(outcome.Status))
	if err := o.recorder.RecordCycle(ctx, outcome); err != nil {
		logger.Warn("record cycle failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("status", string(outcome.Status)),
		zap.Float64("confidence", outcome.Confidence),
		zap.Bool("executed", outcome.Executed),
		zap.Bool("fallback", outcome.Fallback),
		zap.Duration("elapsed", outcome.FinishedAt.Sub(outcome.StartedAt)),
	}
	if outcome.ProposalID != nil {
		fields = append(fields, zap.Uint64("proposal_id", *outcome.ProposalID))
	}
	if outcome.Status == model.CycleAborted {
		logger.Error("cycle aborted", append(fields, zap.String("error", outcome.Error))...)
		return
	}
	logger.Info("cycle finished", fields...)
}
