package capture

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tracering/tracering/internal/errdefs"
)

// noSessionMarker appears in netsh output when stop or status is issued with
// no trace in progress. Treated as success on stop, per the adapter contract.
const noSessionMarker = "there is no trace session currently in progress"

// NetshRunner wraps `netsh trace` on Windows. The trace session runs inside
// the OS once started, so both start and stop are short synchronous calls.
type NetshRunner struct {
	log zerolog.Logger
	raw io.Writer
	run execFunc
}

func NewNetshRunner(log zerolog.Logger, raw io.Writer) *NetshRunner {
	return &NetshRunner{log: log, raw: raw, run: runCombined}
}

func (r *NetshRunner) Ext() string { return ".etl" }

func netshStartArgs(filePath string, maxSizeMB int, persistent bool) []string {
	return []string{
		"trace", "start", "capture=yes",
		fmt.Sprintf("tracefile=%s", filePath),
		fmt.Sprintf("maxsize=%d", maxSizeMB),
		"filemode=single",
		"overwrite=yes",
		fmt.Sprintf("persistent=%s", yesNo(persistent)),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (r *NetshRunner) Start(ctx context.Context, filePath string, maxSizeMB int, persistent bool) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	args := netshStartArgs(filePath, maxSizeMB, persistent)
	r.log.Debug().Strs("args", args).Msg("starting netsh trace")
	out, err := r.run(ctx, "netsh", args...)
	r.logRaw(out)
	if err != nil {
		return out, &errdefs.ExternalProcessError{Op: "start", Output: strings.TrimSpace(out), Err: err}
	}
	return out, nil
}

func (r *NetshRunner) Stop(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	out, err := r.run(ctx, "netsh", "trace", "stop")
	r.logRaw(out)
	if err != nil {
		// netsh reports "no session" as a failure; the contract says
		// stopping an idle capturer is success.
		if strings.Contains(strings.ToLower(out), noSessionMarker) {
			r.log.Debug().Msg("netsh trace stop: no session in progress")
			return out, nil
		}
		return out, &errdefs.ExternalProcessError{Op: "stop", Output: strings.TrimSpace(out), Err: err}
	}
	return out, nil
}

func (r *NetshRunner) Running(ctx context.Context) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	out, err := r.run(ctx, "netsh", "trace", "show", "status")
	if strings.Contains(strings.ToLower(out), noSessionMarker) {
		return false, nil
	}
	if err != nil {
		return false, &errdefs.ExternalProcessError{Op: "show status", Output: strings.TrimSpace(out), Err: err}
	}
	return true, nil
}

func (r *NetshRunner) logRaw(out string) {
	if r.raw != nil && out != "" {
		_, _ = io.WriteString(r.raw, out)
	}
}
