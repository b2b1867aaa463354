// Package status persists the controller's last known state so any process
// can answer a status query, and carries the cross-process stop flag. Both
// live in the per-machine state directory; the snapshot is written atomically
// so a concurrent reader never sees a partial record.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Hosting mode labels reported in status queries.
const (
	ModeEphemeral = "ephemeral"
	ModeService   = "service"
)

// Snapshot is the durable service status record. Overwritten after every
// controller state transition; left on disk after stop as last known state.
type Snapshot struct {
	IsRunning      bool      `json:"is_running"`
	FilesCreated   int64     `json:"files_created"`
	FilesRolled    int64     `json:"files_rolled"`
	CurrentFile    string    `json:"current_file"`
	Mode           string    `json:"mode"`
	Path           string    `json:"path"`
	MaxFiles       int       `json:"max_files"`
	MaxSizeMB      int       `json:"max_size_mb"`
	Persistent     bool      `json:"persistent"`
	LoggingEnabled bool      `json:"logging_enabled"`
	PID            int       `json:"pid"`
	LastUpdate     time.Time `json:"last_update"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Store reads and writes the snapshot under a state directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, "status.json")
}

// Save atomically persists the snapshot, stamping LastUpdate.
func (s *Store) Save(snap Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	snap.LastUpdate = time.Now().UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := renameio.WriteFile(s.Path(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

// Load retrieves the last saved snapshot. A missing file yields a zero
// snapshot and no error: no session has ever run.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("status file at %s is corrupt: %w", s.Path(), err)
	}
	return snap, nil
}
