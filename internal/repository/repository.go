// Package repository persists playlist snapshots. The store treats saves as
// fire-and-forget; both implementations here honor the same opaque
// load/save document contract.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mcdev12/watchparty/internal/playlist"
)

// FileRepository keeps the playlist as a single JSON document on disk.
type FileRepository struct {
	path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Load reads the persisted snapshot. A missing file is not an error; it
// yields an empty playlist.
func (r *FileRepository) Load(ctx context.Context) (playlist.State, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return playlist.State{}, nil
	}
	if err != nil {
		return playlist.State{}, fmt.Errorf("read %s: %w", r.path, err)
	}

	var state playlist.State
	if err := json.Unmarshal(data, &state); err != nil {
		return playlist.State{}, fmt.Errorf("parse %s: %w", r.path, err)
	}
	return state, nil
}

// Save writes the snapshot atomically via a temp file and rename.
func (r *FileRepository) Save(ctx context.Context, snapshot playlist.State) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
