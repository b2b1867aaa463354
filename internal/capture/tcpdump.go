package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracering/tracering/internal/errdefs"
)

// TcpdumpRunner wraps tcpdump on Linux and macOS. Unlike netsh, tcpdump is a
// long-running child process, so the runner holds on to it and stop means
// interrupt-and-wait.
type TcpdumpRunner struct {
	log zerolog.Logger
	raw io.Writer

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan error
}

func NewTcpdumpRunner(log zerolog.Logger, raw io.Writer) *TcpdumpRunner {
	return &TcpdumpRunner{log: log, raw: raw}
}

func (r *TcpdumpRunner) Ext() string { return ".pcap" }

func tcpdumpArgs(filePath string) []string {
	// All interfaces, packet-buffered writes so size polling sees growth,
	// no address resolution, full packets.
	return []string{
		"-i", "any",
		"-U",
		"-n",
		"-s", "0",
		"-w", filePath,
	}
}

func (r *TcpdumpRunner) Start(ctx context.Context, filePath string, maxSizeMB int, persistent bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return "", &errdefs.ExternalProcessError{Op: "start", Err: errors.New("capture already in progress")}
	}

	// maxSizeMB and persistent are netsh concepts; the controller enforces
	// the size limit itself and tcpdump has no boot-persistent mode.
	args := tcpdumpArgs(filePath)
	r.log.Debug().Strs("args", args).Msg("starting tcpdump")

	cmd := exec.Command("tcpdump", args...)
	if r.raw != nil {
		cmd.Stdout = r.raw
		cmd.Stderr = r.raw
	}
	if err := cmd.Start(); err != nil {
		return "", &errdefs.ExternalProcessError{Op: "start", Err: fmt.Errorf("failed to start tcpdump: %w", err)}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	r.cmd = cmd
	r.done = done
	return "", nil
}

func (r *TcpdumpRunner) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		// Nothing running; normalized to success.
		return "no capture in progress", nil
	}

	cmd, done := r.cmd, r.done
	r.cmd, r.done = nil, nil

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		// Process already gone counts as stopped.
		if errors.Is(err, os.ErrProcessDone) {
			return "", nil
		}
		return "", &errdefs.ExternalProcessError{Op: "stop", Err: fmt.Errorf("failed to signal tcpdump: %w", err)}
	}

	select {
	case err := <-done:
		if err != nil && !exitedBySignal(err) {
			return "", &errdefs.ExternalProcessError{Op: "stop", Err: err}
		}
		return "", nil
	case <-time.After(commandTimeout):
		_ = cmd.Process.Kill()
		return "", &errdefs.ExternalProcessError{Op: "stop", Err: errors.New("tcpdump did not exit after interrupt")}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return "", ctx.Err()
	}
}

func (r *TcpdumpRunner) Running(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return false, nil
	}
	select {
	case err := <-r.done:
		// Child exited on its own; forget it.
		r.log.Warn().Err(err).Msg("tcpdump exited unexpectedly")
		r.cmd, r.done = nil, nil
		return false, nil
	default:
		return true, nil
	}
}

// exitedBySignal reports whether err is an exit caused by the interrupt we
// just sent, which is the normal tcpdump shutdown path.
func exitedBySignal(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && !exitErr.Exited()
}
