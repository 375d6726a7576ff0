// Package watcher follows vault events on chain by polling block ranges.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/model"
	"liquidAgent/internal/storage"
	"liquidAgent/internal/vault"
)

// Config holds watcher settings.
type Config struct {
	Vault     common.Address
	FromBlock uint64
	// ToBlock stops Run once reached. Zero follows the chain head.
	ToBlock      uint64
	BatchSize    uint64
	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

var _ vault.EventSource = (*Watcher)(nil)

// Watcher streams decoded vault events.
type Watcher struct {
	cfg        Config
	chain      chain.LogReader
	topics     []common.Hash
	checkpoint Checkpointer
	logger     *zap.Logger
}

// New builds a Watcher. checkpoint may be nil.
func New(cfg Config, reader chain.LogReader, checkpoint Checkpointer, logger *zap.Logger) (*Watcher, error) {
	if reader == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if cfg.Vault == (common.Address{}) {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topics, err := vault.EventTopics()
	if err != nil {
		return nil, fmt.Errorf("vault topics: %w", err)
	}
	return &Watcher{
		cfg:        cfg,
		chain:      reader,
		topics:     topics,
		checkpoint: checkpoint,
		logger:     logger,
	}, nil
}

// Subscribe delivers events from block from onwards until ctx is done, then
// closes the channel. Restarting from a later cursor never re-delivers
// earlier blocks.
func (w *Watcher) Subscribe(ctx context.Context, from uint64) (<-chan model.VaultEvent, error) {
	out := make(chan model.VaultEvent)
	go func() {
		defer close(out)
		_ = w.follow(ctx, from, func(ctx context.Context, r span, events []model.VaultEvent) error {
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}()
	return out, nil
}

// Run writes events to sink batch by batch, saving the checkpoint after each
// batch. It resumes after the stored checkpoint and returns nil when ctx is
// cancelled or ToBlock is reached.
func (w *Watcher) Run(ctx context.Context, sink storage.EventSink) error {
	if sink == nil {
		return fmt.Errorf("event sink is nil")
	}

	from := w.cfg.FromBlock
	if w.checkpoint != nil {
		last, ok, err := w.checkpoint.Load(ctx)
		if err != nil {
			return err
		}
		if ok && last >= from {
			from = last + 1
			w.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}

	err := w.follow(ctx, from, func(ctx context.Context, r span, events []model.VaultEvent) error {
		if err := sink.PutEvents(ctx, events); err != nil {
			return fmt.Errorf("store events: %w", err)
		}
		if w.checkpoint != nil {
			if err := w.checkpoint.Save(ctx, r.to); err != nil {
				return err
			}
		}
		w.logger.Info("batch complete", zap.Int("events", len(events)), zap.Uint64("from", r.from), zap.Uint64("to", r.to))
		return nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, errReachedEnd) {
		return nil
	}
	return err
}

var errReachedEnd = errors.New("reached end block")

type batchFunc func(ctx context.Context, r span, events []model.VaultEvent) error

// follow polls the chain head and hands every batch to fn in block order.
// Fetch failures are retried on the next poll; fn failures stop the loop.
func (w *Watcher) follow(ctx context.Context, from uint64, fn batchFunc) error {
	cursor := from

	for {
		to, err := w.head(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("get latest block failed", zap.Error(err))
		} else if cursor <= to {
			next, err := w.sync(ctx, cursor, to, fn)
			cursor = next
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var fetchErr *fetchError
				if !errors.As(err, &fetchErr) {
					return err
				}
				w.logger.Warn("fetch failed, retrying next poll", zap.Uint64("from", cursor), zap.Error(err))
			}
		}

		if w.cfg.ToBlock > 0 && cursor > w.cfg.ToBlock {
			return errReachedEnd
		}

		timer := time.NewTimer(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *Watcher) head(ctx context.Context) (uint64, error) {
	var latest uint64
	err := w.retry(ctx, "block number", func(ctx context.Context) error {
		var err error
		latest, err = w.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if w.cfg.ToBlock > 0 && latest > w.cfg.ToBlock {
		latest = w.cfg.ToBlock
	}
	return latest, nil
}

type fetchError struct{ err error }

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// sync processes [from, to] and returns the next unprocessed block.
func (w *Watcher) sync(ctx context.Context, from, to uint64, fn batchFunc) (uint64, error) {
	batches, err := spans(from, to, w.cfg.BatchSize)
	if err != nil {
		return from, err
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return b.from, err
		}

		w.logger.Debug("fetch logs", zap.Uint64("from", b.from), zap.Uint64("to", b.to))
		events, err := w.fetch(ctx, b)
		if err != nil {
			return b.from, &fetchError{err: err}
		}
		if err := fn(ctx, b, events); err != nil {
			return b.from, err
		}
	}
	return to + 1, nil
}

// fetch decodes the vault events in b. Dedup state is local to the call, so a
// span that fails partway is fetched again in full on the next poll.
func (w *Watcher) fetch(ctx context.Context, b span) ([]model.VaultEvent, error) {
	var logs []types.Log
	err := w.retry(ctx, "filter logs", func(ctx context.Context) error {
		var err error
		logs, err = w.chain.FilterLogs(ctx, b.from, b.to, []common.Address{w.cfg.Vault}, w.topics)
		return err
	}, zap.Uint64("from", b.from), zap.Uint64("to", b.to))
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	seen := make(map[logKey]struct{}, len(logs))
	events := make([]model.VaultEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed || log.BlockNumber < b.from || log.BlockNumber > b.to || isDuplicate(seen, log) {
			continue
		}
		ev, err := vault.DecodeLog(log)
		if err != nil {
			w.logger.Warn("skip undecodable log", zap.String("tx", log.TxHash.Hex()), zap.Uint("index", log.Index), zap.Error(err))
			continue
		}
		var ts uint64
		err = w.retry(ctx, "block timestamp", func(ctx context.Context) error {
			var err error
			ts, err = w.chain.BlockTimestamp(ctx, log.BlockNumber)
			return err
		}, zap.Uint64("block_number", log.BlockNumber))
		if err != nil {
			return nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		ev.Timestamp = ts
		events = append(events, ev)
	}
	return events, nil
}

// retry wraps fn with the configured backoff and logs each retried failure.
func (w *Watcher) retry(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) error {
	return withBackoff(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(attempt int, err error) {
		w.logger.Warn(op+" failed, retrying", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
	}, fn)
}

type logKey struct {
	block uint64
	tx    common.Hash
	index uint
}

func isDuplicate(seen map[logKey]struct{}, log types.Log) bool {
	key := logKey{block: log.BlockNumber, tx: log.TxHash, index: log.Index}
	if _, ok := seen[key]; ok {
		return true
	}
	seen[key] = struct{}{}
	return false
}
