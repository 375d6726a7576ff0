package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"liquidAgent/internal/model"
)

// JSONL file names inside a JsonlRecorder directory.
const (
	SnapshotsFile  = "snapshots.jsonl"
	StrategiesFile = "strategies.jsonl"
	ExecutionsFile = "executions.jsonl"
	CyclesFile     = "cycles.jsonl"
	EventsFile     = "events.jsonl"
)

// JsonlRecorder appends each record kind to its own JSONL file in dir.
type JsonlRecorder struct {
	dir string
	mu  sync.Mutex
}

func NewJsonlRecorder(dir string) *JsonlRecorder {
	if dir == "" {
		dir = "."
	}
	return &JsonlRecorder{dir: dir}
}

func (s *JsonlRecorder) RecordSnapshot(_ context.Context, snap model.MarketSnapshot) error {
	return s.append(SnapshotsFile, snap)
}

func (s *JsonlRecorder) RecordStrategy(_ context.Context, strategy model.AllocationStrategy) error {
	return s.append(StrategiesFile, strategy)
}

func (s *JsonlRecorder) RecordExecution(_ context.Context, result model.ExecutionResult) error {
	return s.append(ExecutionsFile, result)
}

func (s *JsonlRecorder) RecordCycle(_ context.Context, outcome model.CycleOutcome) error {
	return s.append(CyclesFile, outcome)
}

// PutEvents appends a batch of vault events as JSON lines.
func (s *JsonlRecorder) PutEvents(_ context.Context, events []model.VaultEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]any, 0, len(events))
	for _, e := range events {
		records = append(records, e)
	}
	return s.append(EventsFile, records...)
}

func (s *JsonlRecorder) Close() error { return nil }

func (s *JsonlRecorder) append(name string, records ...any) error {
	if s.dir != "." {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
