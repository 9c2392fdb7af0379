package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotBackend persists the store as a single JSON document on disk.
// Saves go through a temp file and rename, so a crashed flush leaves the
// previous snapshot intact.
type SnapshotBackend struct {
	path string
}

// NewSnapshotBackend creates a JSON snapshot backend at path, creating
// the parent directory if needed.
func NewSnapshotBackend(path string) (*SnapshotBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotBackend{path: path}, nil
}

// Save writes the snapshot atomically.
func (b *SnapshotBackend) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the last snapshot; a missing file yields an empty snapshot.
func (b *SnapshotBackend) Load() (*Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptySnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snap := emptySnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Messages == nil {
		snap.Messages = make(map[string][]*Message)
	}
	if snap.LastReads == nil {
		snap.LastReads = make(map[string]string)
	}
	return snap, nil
}

// Close is a no-op for the snapshot backend.
func (b *SnapshotBackend) Close() error { return nil }
