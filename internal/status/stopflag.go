package status

import (
	"os"
	"path/filepath"
)

// StopFlag is the out-of-band stop signal shared by every hosting mode: a
// flag file the controller checks at each poll tick. Signal-then-wait, never
// force-kill; the controller clears the flag as its final act.
type StopFlag struct {
	path string
}

func NewStopFlag(dir string) *StopFlag {
	return &StopFlag{path: filepath.Join(dir, "tracering.stop")}
}

// Set raises the stop signal. Idempotent.
func (f *StopFlag) Set() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

// IsSet reports whether the stop signal is raised.
func (f *StopFlag) IsSet() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Clear releases the stop signal. Missing flag is fine.
func (f *StopFlag) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
