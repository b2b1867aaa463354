// Package rotation implements the controller at the heart of the
// orchestrator: a single polling loop that starts the native capture utility
// into a fresh file, watches the file grow, rolls it at the size threshold,
// and keeps the on-disk set bounded through the ledger.
package rotation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracering/tracering/config"
	"github.com/tracering/tracering/internal/capture"
	"github.com/tracering/tracering/internal/errdefs"
	"github.com/tracering/tracering/internal/ledger"
	"github.com/tracering/tracering/internal/status"
)

// DefaultInterval is the size polling period. Tighter intervals track the
// size limit more closely at the cost of more stat calls.
const DefaultInterval = time.Second

// shutdownTimeout bounds the unconditional capture stop during shutdown.
const shutdownTimeout = 45 * time.Second

// Controller runs one rotation session. Exactly one instance is active per
// machine, whichever hosting mode carries it.
type Controller struct {
	cfg    config.Config
	runner capture.Runner
	store  *status.Store
	stop   *status.StopFlag
	log    zerolog.Logger
	mode   string

	// Interval is the size polling period, DefaultInterval unless changed
	// before Run.
	Interval time.Duration
	// ActivityDir receives the session activity log when enabled.
	ActivityDir string

	namer    *Namer
	ledger   *ledger.Ledger
	activity *ActivityLog

	state        State
	seq          int
	filesCreated int64
	filesRolled  int64
	currentFile  string
	errMsg       string
}

// New builds a controller for one session. mode is the hosting mode label
// published in status snapshots.
func New(cfg config.Config, runner capture.Runner, store *status.Store, stopFlag *status.StopFlag, mode string, log zerolog.Logger) *Controller {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "capture"
	}
	return &Controller{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		stop:     stopFlag,
		log:      log,
		mode:     mode,
		Interval: DefaultInterval,
		namer:    NewNamer(host, runner.Ext()),
		ledger:   ledger.New(cfg.MaxFiles),
		state:    StateIdle,
	}
}

// Run drives the session until a stop signal, context cancellation, or a
// fatal error. It always leaves the external utility stopped, publishes a
// final status snapshot, and releases the stop signal.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.ActivityLogging {
		a, err := OpenActivityLog(c.ActivityDir, "tracering", c.cfg, time.Now())
		if err != nil {
			c.log.Warn().Err(err).Msg("activity logging disabled for this session")
		} else {
			c.activity = a
		}
	}
	defer c.shutdown()

	c.activity.Event("session starting")
	for {
		if err := c.startNext(ctx); err != nil {
			return err
		}
		stopNow, err := c.monitor(ctx)
		if err != nil {
			return err
		}
		if stopNow {
			return nil
		}
		if err := c.rotate(ctx); err != nil {
			return err
		}
		// A stop signal raised mid-rotation is honored here, after the
		// rotation fully drained, so the file set is never left half-rotated.
		if c.stopRequested(ctx) {
			return nil
		}
	}
}

// startNext transitions Starting -> Monitoring: new file name, capture start,
// ledger push, counter bump, status publish.
func (c *Controller) startNext(ctx context.Context) error {
	c.setState(StateStarting)
	name := c.namer.Next(time.Now())
	full := filepath.Join(c.cfg.Path, name)

	if _, err := c.runner.Start(ctx, full, c.cfg.MaxSizeMB, c.cfg.Persistent); err != nil {
		// Start failures terminate the session; retrying indefinitely would
		// hide the problem.
		c.fail(err)
		return err
	}

	c.seq++
	c.ledger.Push(ledger.FileRecord{
		Seq:       c.seq,
		FullPath:  full,
		FileName:  name,
		CreatedAt: time.Now(),
	})
	c.filesCreated++
	c.currentFile = name
	c.log.Info().Str("file", name).Int64("files_created", c.filesCreated).Msg("capture started")
	c.activity.Eventf("capture started into %s", name)

	// Capacity is enforced only after a successful push, so the file that
	// just opened can never be the one evicted.
	evicted, err := c.ledger.EvictOldestIfOver(c.cfg.MaxFiles)
	if err != nil {
		// A failed delete does not abort the session.
		c.log.Warn().Err(err).Msg("failed to delete evicted capture file")
	}
	if evicted != nil {
		c.log.Info().Str("file", evicted.FileName).Msg("evicted oldest capture file")
		c.activity.Eventf("evicted oldest capture file %s", evicted.FileName)
	}
	c.setState(StateMonitoring)
	return nil
}

// monitor polls the current file's size every Interval. Returns stopNow=true
// when a stop signal or cancellation was observed, or a fatal error.
func (c *Controller) monitor(ctx context.Context) (bool, error) {
	threshold := int64(c.cfg.MaxSizeMB) << 20
	full := filepath.Join(c.cfg.Path, c.currentFile)

	for {
		select {
		case <-ctx.Done():
			c.activity.Event("cancellation observed")
			return true, nil
		case <-time.After(c.Interval):
		}

		if c.stop.IsSet() {
			c.activity.Event("stop signal observed")
			return true, nil
		}

		fi, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				cerr := errdefs.Corruptionf("capture file %s disappeared mid-session", full)
				c.fail(cerr)
				return false, cerr
			}
			werr := fmt.Errorf("failed to stat capture file %s: %w", full, err)
			c.fail(werr)
			return false, werr
		}
		if fi.Size() >= threshold {
			return false, nil
		}
	}
}

// rotate transitions Rotating: stop the capture and count the roll. The
// eviction that keeps the set bounded runs when the next file has been
// pushed, in startNext.
func (c *Controller) rotate(ctx context.Context) error {
	c.setState(StateRotating)
	rolled := c.currentFile

	if _, err := c.runner.Stop(ctx); err != nil {
		c.fail(err)
		return err
	}
	c.filesRolled++
	c.log.Info().Str("file", rolled).Int64("files_rolled", c.filesRolled).Msg("capture file rolled")
	c.activity.Eventf("capture file %s reached size limit and was rolled", rolled)
	c.publish()
	return nil
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		c.activity.Event("cancellation observed")
		return true
	}
	if c.stop.IsSet() {
		c.activity.Event("stop signal observed")
		return true
	}
	return false
}

// shutdown is the Stopped state: stop the capture unconditionally so no
// external process is orphaned, publish the final snapshot, release the stop
// signal.
func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if _, err := c.runner.Stop(ctx); err != nil {
		c.log.Error().Err(err).Msg("failed to stop capture during shutdown")
		if c.errMsg == "" {
			c.errMsg = err.Error()
		}
	}
	c.state = StateStopped
	c.activity.Event("session stopped")
	c.publish()

	if err := c.stop.Clear(); err != nil {
		c.log.Error().Err(err).Msg("failed to release stop signal")
	}
	if err := c.activity.Close(); err != nil {
		c.log.Warn().Err(err).Msg("failed to close activity log")
	}
}

func (c *Controller) fail(err error) {
	c.errMsg = err.Error()
	c.log.Error().Err(err).Msg("session terminating")
	c.activity.Eventf("error: %v", err)
}

func (c *Controller) setState(s State) {
	if s != c.state {
		c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("state transition")
	}
	c.state = s
	c.publish()
}

// publish writes the durable status snapshot. Called after every state
// transition so a concurrent status query is never stale by more than one
// transition.
func (c *Controller) publish() {
	snap := status.Snapshot{
		IsRunning:      c.state != StateIdle && c.state != StateStopped,
		FilesCreated:   c.filesCreated,
		FilesRolled:    c.filesRolled,
		CurrentFile:    c.currentFile,
		Mode:           c.mode,
		Path:           c.cfg.Path,
		MaxFiles:       c.cfg.MaxFiles,
		MaxSizeMB:      c.cfg.MaxSizeMB,
		Persistent:     c.cfg.Persistent,
		LoggingEnabled: c.cfg.ActivityLogging,
		PID:            os.Getpid(),
		ErrorMessage:   c.errMsg,
	}
	if err := c.store.Save(snap); err != nil {
		c.log.Error().Err(err).Msg("failed to publish status")
	}
}

// Ledger exposes the session ledger for tests and diagnostics.
func (c *Controller) Ledger() *ledger.Ledger { return c.ledger }
