package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/renameio/v2"

	"github.com/tracering/tracering/internal/errdefs"
)

// MinFileSizeMB is the smallest per-file size limit accepted. netsh trace
// silently substitutes a 250MB default for anything below 10MB, so values
// under the floor are rejected rather than passed through. A different
// capture backend must re-derive this constant.
const MinFileSizeMB = 10

// Config represents a single rotation session's configuration. It is built
// once at session start and never mutated.
type Config struct {
	// Path is the directory receiving capture files. Created if missing.
	Path string `json:"path"`
	// MaxFiles is the capacity of the circular file set.
	MaxFiles int `json:"max_files"`
	// MaxSizeMB is the per-file size limit triggering rotation.
	MaxSizeMB int `json:"max_size_mb"`
	// RawLogging persists the capture utility's raw stdout/stderr.
	RawLogging bool `json:"raw_logging"`
	// ActivityLogging persists a human-readable session timeline.
	ActivityLogging bool `json:"activity_logging"`
	// Persistent selects the OS-service hosting strategy.
	Persistent bool `json:"persistent"`
}

// Validate rejects bad parameters before any file-system or process side
// effect. All failures are ValidationErrors.
func (c Config) Validate() error {
	if c.Path == "" {
		return errdefs.Validationf("capture path must not be empty")
	}
	if c.MaxFiles < 1 {
		return errdefs.Validationf("max files must be at least 1, got %d", c.MaxFiles)
	}
	if c.MaxSizeMB < MinFileSizeMB {
		return errdefs.Validationf(
			"max file size must be at least %dMB (the native capture utility substitutes a much larger default below that), got %d",
			MinFileSizeMB, c.MaxSizeMB)
	}
	return nil
}

// EnsurePath creates the capture directory if it does not exist.
func (c Config) EnsurePath() error {
	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}
	return nil
}

// StateDir returns the per-machine directory holding the status snapshot,
// persisted service configuration, stop flag, and agent logs.
func StateDir() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\TraceRing`
	}
	return "/var/lib/tracering"
}

// Well-known file names inside the state directory. The status snapshot and
// stop flag names live with their owners in internal/status.
const (
	ServiceConfigFile = "service-config.json"
	PIDFile           = "tracering.pid"
	AgentLogFile      = "tracering-agent.log"
	RawLogFile        = "capture-raw.log"
)

// Persisted is the durable service configuration consumed once by the agent
// entry point at start. A copy of Config plus provenance fields.
type Persisted struct {
	Config
	StartTime time.Time `json:"start_time"`
	Version   string    `json:"version"`
}

// ValidatePersisted refuses empty/zero required fields. An empty persisted
// configuration reaching the hosted agent fails silently, so both the writer
// and the reader check.
func (p Persisted) ValidatePersisted() error {
	if p.Path == "" || p.MaxFiles == 0 || p.MaxSizeMB == 0 {
		return errdefs.Corruptionf(
			"persisted service configuration has empty required fields (path=%q max_files=%d max_size_mb=%d)",
			p.Path, p.MaxFiles, p.MaxSizeMB)
	}
	if p.Version == "" || p.StartTime.IsZero() {
		return errdefs.Corruptionf("persisted service configuration is missing provenance fields")
	}
	return nil
}

// SavePersisted atomically writes the service configuration into dir.
func SavePersisted(dir string, p Persisted) error {
	if err := p.ValidatePersisted(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal service configuration: %w", err)
	}
	path := filepath.Join(dir, ServiceConfigFile)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write service configuration: %w", err)
	}
	return nil
}

// LoadPersisted reads and validates the service configuration from dir.
func LoadPersisted(dir string) (Persisted, error) {
	path := filepath.Join(dir, ServiceConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Persisted{}, fmt.Errorf("failed to read service configuration: %w", err)
	}
	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return Persisted{}, errdefs.Corruptionf("service configuration at %s is not valid JSON: %v", path, err)
	}
	if err := p.ValidatePersisted(); err != nil {
		return Persisted{}, err
	}
	return p, nil
}
