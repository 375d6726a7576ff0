package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultRetryDelay = 100 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// span is an inclusive block range fetched with one FilterLogs call.
type span struct {
	from, to uint64
}

// spans cuts [from, to] into spans of at most size blocks.
func spans(from, to, size uint64) ([]span, error) {
	if size == 0 {
		return nil, errors.New("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}

	out := make([]span, 0, (to-from)/size+1)
	for start := from; ; start += size {
		end := start + size - 1
		// end < start only when start+size overflows.
		if end >= to || end < start {
			return append(out, span{from: start, to: to}), nil
		}
		out = append(out, span{from: start, to: end})
	}
}

// withBackoff runs fn up to retries+1 times, doubling the delay after each failure
// up to maxRetryDelay. onRetry, when set, sees every failure that is retried.
func withBackoff(ctx context.Context, retries int, delay time.Duration, onRetry func(attempt int, err error), fn func(context.Context) error) error {
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt > retries {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(2*delay, maxRetryDelay)
	}
}
