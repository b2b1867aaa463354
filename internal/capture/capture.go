// Package capture adapts the native packet-capture utility behind a small
// start/stop/query interface. The utility is a black box: this package builds
// its command lines, runs it synchronously, and normalizes its exit codes.
// It keeps no rotation state of its own.
package capture

import (
	"context"
	"io"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// commandTimeout bounds every call into the external utility so an
// unresponsive binary becomes a reported error instead of a hang.
const commandTimeout = 30 * time.Second

// Runner drives one external capture session at a time.
//
// Stop is idempotent: stopping when nothing is running returns success, not
// an error, because native utilities report "no session" rather than success
// and callers must not have to care.
type Runner interface {
	// Start begins capturing into filePath. The utility's raw combined
	// output is returned; non-zero exits surface as ExternalProcessError.
	Start(ctx context.Context, filePath string, maxSizeMB int, persistent bool) (string, error)
	// Stop ends the current capture session, if any.
	Stop(ctx context.Context) (string, error)
	// Running reports whether a capture session is in progress.
	Running(ctx context.Context) (bool, error)
	// Ext is the capture file extension for this backend, with dot.
	Ext() string
}

// NewRunner returns the Runner for the current platform.
func NewRunner(log zerolog.Logger, raw io.Writer) Runner {
	switch runtime.GOOS {
	case "windows":
		return NewNetshRunner(log, raw)
	default:
		return NewTcpdumpRunner(log, raw)
	}
}

// execFunc runs an external command and returns its combined output.
// Injected in tests.
type execFunc func(ctx context.Context, name string, args ...string) (string, error)

func runCombined(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, commandTimeout)
}
