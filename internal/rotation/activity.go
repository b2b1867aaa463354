package rotation

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tracering/tracering/config"
)

// ActivityLog writes the human-readable session timeline: one file per
// session, line format "HH:mm:ss - <event>", with the effective configuration
// as a header. All methods are nil-safe so callers log unconditionally.
type ActivityLog struct {
	f *os.File
}

// OpenActivityLog creates the session's activity log in dir. The file name
// carries the session start time: <prefix>_<yyyy-MM-dd_HHmmss>.log.
func OpenActivityLog(dir, prefix string, cfg config.Config, start time.Time) (*ActivityLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create activity log directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", prefix, start.Format("2006-01-02_150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}
	a := &ActivityLog{f: f}
	a.writeHeader(cfg, start)
	return a, nil
}

func (a *ActivityLog) writeHeader(cfg config.Config, start time.Time) {
	fmt.Fprintf(a.f, "# capture session started %s\n", start.Format(time.RFC3339))
	fmt.Fprintf(a.f, "# path=%s maxFiles=%d maxSizeMB=%d persistent=%t rawLogging=%t\n",
		cfg.Path, cfg.MaxFiles, cfg.MaxSizeMB, cfg.Persistent, cfg.RawLogging)
}

// Event appends one timeline entry.
func (a *ActivityLog) Event(msg string) {
	if a == nil || a.f == nil {
		return
	}
	fmt.Fprintf(a.f, "%s - %s\n", time.Now().Format("15:04:05"), msg)
}

// Eventf appends one formatted timeline entry.
func (a *ActivityLog) Eventf(format string, args ...interface{}) {
	if a == nil || a.f == nil {
		return
	}
	a.Event(fmt.Sprintf(format, args...))
}

// Close flushes and closes the session log.
func (a *ActivityLog) Close() error {
	if a == nil || a.f == nil {
		return nil
	}
	return a.f.Close()
}

// Path returns the log file path, or "" for a nil log.
func (a *ActivityLog) Path() string {
	if a == nil || a.f == nil {
		return ""
	}
	return a.f.Name()
}
