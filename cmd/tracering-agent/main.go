// tracering-agent is the wrapper executable hosting the rotation controller.
// It is launched either by the OS service manager (persistent mode) or
// detached by the CLI (ephemeral mode); in both cases it reads the persisted
// service configuration once and runs the same loop.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/tracering/tracering/config"
	"github.com/tracering/tracering/internal/capture"
	"github.com/tracering/tracering/internal/logger"
	"github.com/tracering/tracering/internal/rotation"
	"github.com/tracering/tracering/internal/status"
	"github.com/tracering/tracering/internal/svcmgr"
)

func main() {
	var (
		asService = flag.Bool("service", false, "run under OS service control")
		ephemeral = flag.Bool("ephemeral", false, "run detached from a caller's session")
	)
	flag.Parse()

	stateDir := config.StateDir()
	log, closer, err := logger.NewAgent(stateDir, config.AgentLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open agent log: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(log, stateDir, *asService, *ephemeral); err != nil {
		log.Error().Err(err).Msg("agent exiting with error")
		os.Exit(1)
	}
}

func run(log zerolog.Logger, stateDir string, asService, ephemeral bool) error {
	persisted, err := config.LoadPersisted(stateDir)
	if err != nil {
		// Empty or corrupt configuration must fail loudly at the entry point,
		// never reach the controller.
		return err
	}
	log.Info().
		Str("path", persisted.Path).
		Int("max_files", persisted.MaxFiles).
		Int("max_size_mb", persisted.MaxSizeMB).
		Bool("persistent", persisted.Persistent).
		Str("configured_at", persisted.StartTime.String()).
		Msg("loaded session configuration")

	var raw io.WriteCloser
	if persisted.RawLogging {
		raw = logger.NewRawSink(stateDir, config.RawLogFile)
		defer raw.Close()
	}

	modeLabel := status.ModeEphemeral
	if asService {
		modeLabel = status.ModeService
	}

	runner := capture.NewRunner(log, raw)
	ctrl := rotation.New(persisted.Config, runner, status.NewStore(stateDir), status.NewStopFlag(stateDir), modeLabel, log)
	ctrl.ActivityDir = stateDir

	if asService {
		return svcmgr.RunHosted(log, ctrl.Run)
	}

	if !ephemeral {
		log.Info().Msg("no hosting flag given, running attached")
	}
	// SIGINT/SIGTERM act as a stop signal alongside the flag file.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return ctrl.Run(ctx)
}
