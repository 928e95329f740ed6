package rebalance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
)

// FileCheckpointStore persists rebalance checkpoints to a JSON file with a
// tmp-file-and-rename write so a crash never leaves a torn checkpoint.
type FileCheckpointStore struct {
	path string
}

func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

func (s *FileCheckpointStore) Load(_ context.Context) (model.RebalanceCheckpoint, bool, error) {
	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RebalanceCheckpoint{}, false, nil
		}
		return model.RebalanceCheckpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return model.RebalanceCheckpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return model.RebalanceCheckpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp model.RebalanceCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.RebalanceCheckpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *FileCheckpointStore) Save(_ context.Context, cp model.RebalanceCheckpoint) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
