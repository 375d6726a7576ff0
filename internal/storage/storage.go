// Package storage persists agent history. In-process history stays in
// memory; recorders are write-only audit trails.
package storage

import (
	"context"

	"liquidAgent/internal/model"
)

// Recorder persists cycle artifacts.
type Recorder interface {
	RecordSnapshot(ctx context.Context, snap model.MarketSnapshot) error
	RecordStrategy(ctx context.Context, strategy model.AllocationStrategy) error
	RecordExecution(ctx context.Context, result model.ExecutionResult) error
	RecordCycle(ctx context.Context, outcome model.CycleOutcome) error
	Close() error
}

// EventSink receives decoded vault events.
type EventSink interface {
	PutEvents(ctx context.Context, events []model.VaultEvent) error
}
