// Package mode chooses and drives the hosting strategy for the rotation
// controller: an ephemeral detached agent process, or the OS service. The
// caller-visible start/stop/status contract is identical across both.
package mode

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracering/tracering/config"
	"github.com/tracering/tracering/internal/errdefs"
	"github.com/tracering/tracering/internal/status"
	"github.com/tracering/tracering/internal/svcmgr"
	"github.com/tracering/tracering/internal/version"
)

const (
	// startWait bounds how long Start waits for the spawned controller to
	// publish its first running snapshot.
	startWait = 10 * time.Second
	// stopWait bounds how long Stop waits for the controller to drain. Kept
	// generous: an in-flight rotation must complete first.
	stopWait = 60 * time.Second
)

// serviceManager is the slice of svcmgr.Manager the dispatcher needs.
type serviceManager interface {
	QueryState() (svcmgr.State, error)
	ConfigureAndStart(config.Persisted) error
	Stop() error
}

// Manager dispatches between the two hosting strategies and answers stop and
// status requests from any session, not just the one that started the
// capture: which mode is active is always detected live, never remembered.
type Manager struct {
	log      zerolog.Logger
	stateDir string
	svc      serviceManager
	store    *status.Store
	flag     *status.StopFlag

	agentPath string
	spawn     func(agentPath string) (int, error)
	alive     func(pid int) bool
	startWait time.Duration
	stopWait  time.Duration
}

// New builds the manager. The ephemeral agent binary is expected next to the
// current executable.
func New(log zerolog.Logger, stateDir string, svc serviceManager) (*Manager, error) {
	agentPath, err := AgentExecutable()
	if err != nil {
		return nil, err
	}
	return &Manager{
		log:       log,
		stateDir:  stateDir,
		svc:       svc,
		store:     status.NewStore(stateDir),
		flag:      status.NewStopFlag(stateDir),
		agentPath: agentPath,
		spawn:     spawnDetached,
		alive:     processAlive,
		startWait: startWait,
		stopWait:  stopWait,
	}, nil
}

// AgentExecutable resolves the agent wrapper binary shipped next to the
// current executable.
func AgentExecutable() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate own executable: %w", err)
	}
	name := "tracering-agent"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(self), name), nil
}

// Active detects the currently running hosting mode, if any. The OS service
// manager is consulted first; a live PID in the ephemeral PID file means an
// ephemeral session.
func (m *Manager) Active() (string, error) {
	state, err := m.svc.QueryState()
	if err != nil {
		return "", fmt.Errorf("failed to query service state: %w", err)
	}
	if state == svcmgr.StateRunning {
		return status.ModeService, nil
	}
	if pid, ok := m.readPID(); ok && m.alive(pid) {
		return status.ModeEphemeral, nil
	}
	return "", nil
}

// Start launches a new rotation session in the mode selected by
// cfg.Persistent. Rejected without side effects when a session is already
// active in either mode.
func (m *Manager) Start(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	active, err := m.Active()
	if err != nil {
		return err
	}
	if active != "" {
		return errdefs.Validationf("a capture session is already running in %s mode; stop it first", active)
	}
	if err := cfg.EnsurePath(); err != nil {
		return err
	}
	// A stale stop flag from an earlier crash would stop the new session on
	// its first tick.
	if err := m.flag.Clear(); err != nil {
		return err
	}

	persisted := config.Persisted{
		Config:    cfg,
		StartTime: time.Now().UTC(),
		Version:   version.Version,
	}
	if cfg.Persistent {
		return m.svc.ConfigureAndStart(persisted)
	}
	return m.startEphemeral(persisted)
}

func (m *Manager) startEphemeral(p config.Persisted) error {
	if err := config.SavePersisted(m.stateDir, p); err != nil {
		return err
	}
	pid, err := m.spawn(m.agentPath)
	if err != nil {
		return fmt.Errorf("failed to launch capture agent: %w", err)
	}
	if err := m.writePID(pid); err != nil {
		m.log.Warn().Err(err).Msg("failed to record agent pid")
	}
	m.log.Info().Int("pid", pid).Msg("ephemeral capture agent launched")

	// Wait until the controller publishes its first running snapshot, so a
	// status query issued right after start already sees the session.
	deadline := time.Now().Add(m.startWait)
	for time.Now().Before(deadline) {
		snap, err := m.store.Load()
		if err == nil && snap.IsRunning && snap.LastUpdate.After(p.StartTime.Add(-time.Second)) {
			return nil
		}
		if !m.alive(pid) {
			msg := "capture agent exited during startup"
			if err == nil && snap.ErrorMessage != "" {
				msg = fmt.Sprintf("%s: %s", msg, snap.ErrorMessage)
			}
			m.clearPID()
			return fmt.Errorf("%s", msg)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("capture agent did not report running within %s", m.startWait)
}

// Stop signals the active session, waits for the controller to drain, and in
// service mode stops the OS service afterwards. Stopping when nothing is
// active is a no-op success.
func (m *Manager) Stop() error {
	active, err := m.Active()
	if err != nil {
		return err
	}
	if active == "" {
		return nil
	}

	if err := m.flag.Set(); err != nil {
		return fmt.Errorf("failed to raise stop signal: %w", err)
	}

	deadline := time.Now().Add(m.stopWait)
	drained := false
	for time.Now().Before(deadline) {
		snap, lerr := m.store.Load()
		if lerr == nil && !snap.IsRunning {
			drained = true
			break
		}
		if active == status.ModeEphemeral {
			if pid, ok := m.readPID(); !ok || !m.alive(pid) {
				drained = true
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
	}

	if active == status.ModeService {
		if err := m.svc.Stop(); err != nil {
			return err
		}
	}
	m.clearPID()

	if !drained {
		return fmt.Errorf("capture session did not stop within %s", m.stopWait)
	}
	m.log.Info().Str("mode", active).Msg("capture session stopped")
	return nil
}

// Status reports the last known session state. Liveness comes from detection,
// not from the snapshot: a stale running snapshot left by a crashed agent is
// reported as not running.
func (m *Manager) Status() (status.Snapshot, error) {
	snap, err := m.store.Load()
	if err != nil {
		return status.Snapshot{}, err
	}
	active, err := m.Active()
	if err != nil {
		return status.Snapshot{}, err
	}
	if active == "" {
		snap.IsRunning = false
	} else {
		snap.Mode = active
	}
	return snap, nil
}

func (m *Manager) pidPath() string {
	return filepath.Join(m.stateDir, config.PIDFile)
}

func (m *Manager) writePID(pid int) error {
	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.pidPath(), []byte(fmt.Sprintf("%d\n", pid)), 0o644)
}

func (m *Manager) readPID() (int, bool) {
	data, err := os.ReadFile(m.pidPath())
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func (m *Manager) clearPID() {
	_ = os.Remove(m.pidPath())
}
