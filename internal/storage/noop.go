package storage

import (
	"context"

	"liquidAgent/internal/model"
)

// NoopRecorder discards everything. Used when no recorder is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (NoopRecorder) RecordSnapshot(context.Context, model.MarketSnapshot) error     { return nil }
func (NoopRecorder) RecordStrategy(context.Context, model.AllocationStrategy) error { return nil }
func (NoopRecorder) RecordExecution(context.Context, model.ExecutionResult) error   { return nil }
func (NoopRecorder) RecordCycle(context.Context, model.CycleOutcome) error          { return nil }
func (NoopRecorder) PutEvents(context.Context, []model.VaultEvent) error            { return nil }
func (NoopRecorder) Close() error                                                   { return nil }
