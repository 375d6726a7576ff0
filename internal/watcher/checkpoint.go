package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpointer persists the last block whose events were delivered.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, lastProcessed uint64) error
}

// Checkpoint is the on-disk checkpoint format.
type Checkpoint struct {
	Vault              string `json:"vault"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// FileCheckpoint stores the checkpoint as a JSON file replaced atomically.
// A file written for a different vault fails to load.
type FileCheckpoint struct {
	path  string
	vault common.Address
}

func NewFileCheckpoint(path string, vault common.Address) *FileCheckpoint {
	return &FileCheckpoint{path: path, vault: vault}
}

func (c *FileCheckpoint) Load(context.Context) (uint64, bool, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Vault != "" && common.HexToAddress(cp.Vault) != c.vault {
		return 0, false, fmt.Errorf("checkpoint %s belongs to vault %s", c.path, cp.Vault)
	}
	return cp.LastProcessedBlock, true, nil
}

func (c *FileCheckpoint) Save(_ context.Context, lastProcessed uint64) error {
	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		Vault:              c.vault.Hex(),
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// StateStore is a named checkpoint table, such as postgres.Store.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

// StateCheckpoint adapts a StateStore row to a Checkpointer.
type StateCheckpoint struct {
	store StateStore
	name  string
}

func NewStateCheckpoint(store StateStore, name string) *StateCheckpoint {
	return &StateCheckpoint{store: store, name: name}
}

func (c *StateCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, c.name)
}

func (c *StateCheckpoint) Save(ctx context.Context, lastProcessed uint64) error {
	return c.store.SaveState(ctx, c.name, lastProcessed)
}
