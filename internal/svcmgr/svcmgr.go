// Package svcmgr installs and drives the persistent hosting mode: the agent
// wrapper registered as an OS service (systemd, launchd, or Windows SCM)
// through kardianos/service.
package svcmgr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"

	"github.com/tracering/tracering/config"
	"github.com/tracering/tracering/internal/errdefs"
)

// ServiceName identifies the registration with the OS service manager.
const ServiceName = "tracering"

const (
	startTimeout = 20 * time.Second
	pollInterval = 500 * time.Millisecond
	// crashGrace is how long a Stopped reading after a start request is still
	// treated as "not up yet" rather than "crashed immediately".
	crashGrace = 3 * time.Second
)

// State is the queried OS service state.
type State int

const (
	StateNotInstalled State = iota
	StateStopped
	StateRunning
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateNotInstalled:
		return "NotInstalled"
	case StateStopped:
		return "Stopped"
	case StateRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// osService is the slice of kardianos/service.Service the manager needs.
type osService interface {
	Install() error
	Uninstall() error
	Start() error
	Stop() error
	Status() (service.Status, error)
}

// noopProgram satisfies service.Interface for control-only handles; the real
// program logic lives in the agent wrapper executable.
type noopProgram struct{}

func (noopProgram) Start(service.Service) error { return nil }
func (noopProgram) Stop(service.Service) error  { return nil }

// Manager is the service lifecycle manager for the persistent mode.
type Manager struct {
	log      zerolog.Logger
	stateDir string
	svc      osService

	startTimeout time.Duration
	pollInterval time.Duration
	crashGrace   time.Duration
}

// New builds a manager controlling the service registration that runs
// wrapperPath. The service auto-starts at boot, restarts on failure, and runs
// under the most privileged local account (LocalSystem / root), independent
// of any user session.
func New(log zerolog.Logger, stateDir, wrapperPath string) (*Manager, error) {
	svcConfig := &service.Config{
		Name:        ServiceName,
		DisplayName: "TraceRing Rotating Capture",
		Description: "Maintains a bounded, continuously rotating set of network trace files.",
		Executable:  wrapperPath,
		Arguments:   []string{"--service"},
		Option: service.KeyValue{
			"StartType": "automatic",
			"OnFailure": "restart",
			"Restart":   "always",
		},
	}
	svc, err := service.New(noopProgram{}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open service manager: %w", err)
	}
	return &Manager{
		log:          log,
		stateDir:     stateDir,
		svc:          svc,
		startTimeout: startTimeout,
		pollInterval: pollInterval,
		crashGrace:   crashGrace,
	}, nil
}

// QueryState asks the OS service manager for the current state.
func (m *Manager) QueryState() (State, error) {
	st, err := m.svc.Status()
	if err != nil {
		if errors.Is(err, service.ErrNotInstalled) {
			return StateNotInstalled, nil
		}
		return StateUnknown, err
	}
	switch st {
	case service.StatusRunning:
		return StateRunning, nil
	case service.StatusStopped:
		return StateStopped, nil
	default:
		return StateUnknown, nil
	}
}

// Install registers the wrapper as a service. An existing registration with
// the same name is fully removed first rather than patched in place, so a
// stale registration can never keep pointing at an old installation path.
func (m *Manager) Install() error {
	state, err := m.QueryState()
	if err != nil {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to query service state: %v", err), Err: err}
	}
	if state != StateNotInstalled {
		m.log.Info().Str("state", state.String()).Msg("removing existing service registration")
		if state == StateRunning || state == StateUnknown {
			_ = m.svc.Stop()
		}
		if err := m.svc.Uninstall(); err != nil && !errors.Is(err, service.ErrNotInstalled) {
			return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to remove existing service registration: %v", err), Err: err}
		}
	}
	if err := m.svc.Install(); err != nil {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to install service: %v", err), Err: err}
	}
	m.log.Info().Str("service", ServiceName).Msg("service installed")
	return nil
}

// Uninstall stops and removes the service registration. Not-installed is a
// no-op success.
func (m *Manager) Uninstall() error {
	state, err := m.QueryState()
	if err != nil {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to query service state: %v", err), Err: err}
	}
	if state == StateNotInstalled {
		return nil
	}
	if state == StateRunning || state == StateUnknown {
		_ = m.svc.Stop()
	}
	if err := m.svc.Uninstall(); err != nil && !errors.Is(err, service.ErrNotInstalled) {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to uninstall service: %v", err), Err: err}
	}
	return nil
}

// ConfigureAndStart validates and persists the service configuration, makes
// sure the registration exists and is in a startable state, starts it, and
// waits until the service is confirmed running.
func (m *Manager) ConfigureAndStart(p config.Persisted) error {
	// An empty configuration reaching the hosted agent fails silently there,
	// so it is rejected here, before anything is written or started.
	if err := p.ValidatePersisted(); err != nil {
		return err
	}
	if err := config.SavePersisted(m.stateDir, p); err != nil {
		return err
	}

	state, err := m.QueryState()
	if err != nil {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to query service state: %v", err), Err: err}
	}
	if state == StateNotInstalled {
		if err := m.Install(); err != nil {
			return err
		}
		state = StateStopped
	}
	if state == StateUnknown || state == StateRunning {
		// Abnormal or leftover state before a start attempt: stop, settle,
		// and retry once before giving up.
		m.log.Warn().Str("state", state.String()).Msg("service not startable, attempting recovery stop")
		_ = m.svc.Stop()
		time.Sleep(m.pollInterval)
		if recovered, rerr := m.QueryState(); rerr != nil || recovered == StateUnknown {
			return &errdefs.ServiceHostError{
				Msg:     fmt.Sprintf("service is in state %s and did not recover after a stop", state),
				LogTail: m.agentLogTail(),
				Err:     rerr,
			}
		}
	}

	if err := m.svc.Start(); err != nil {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to start service: %v", err), LogTail: m.agentLogTail(), Err: err}
	}
	return m.awaitRunning()
}

// awaitRunning polls the service state until Running, a terminal failure, or
// the start timeout.
func (m *Manager) awaitRunning() error {
	deadline := time.Now().Add(m.startTimeout)
	started := time.Now()
	for time.Now().Before(deadline) {
		time.Sleep(m.pollInterval)
		state, err := m.QueryState()
		if err != nil {
			continue
		}
		switch state {
		case StateRunning:
			m.log.Info().Str("service", ServiceName).Msg("service running")
			return nil
		case StateUnknown:
			// Paused or errored: the wrapper typically failed to launch the
			// controller.
			return &errdefs.ServiceHostError{
				Msg:     "service entered an abnormal state instead of running",
				LogTail: m.agentLogTail(),
			}
		case StateStopped:
			if time.Since(started) > m.crashGrace {
				return &errdefs.ServiceHostError{
					Msg:     "service stopped immediately after starting",
					LogTail: m.agentLogTail(),
				}
			}
		}
	}
	return &errdefs.ServiceHostError{
		Msg:     fmt.Sprintf("service did not reach running state within %s", m.startTimeout),
		LogTail: m.agentLogTail(),
	}
}

// Stop stops the OS service. Not-installed or already stopped is success.
func (m *Manager) Stop() error {
	state, err := m.QueryState()
	if err != nil {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to query service state: %v", err), Err: err}
	}
	if state == StateNotInstalled || state == StateStopped {
		return nil
	}
	if err := m.svc.Stop(); err != nil {
		return &errdefs.ServiceHostError{Msg: fmt.Sprintf("failed to stop service: %v", err), Err: err}
	}
	return nil
}

// agentLogTail returns the last lines of the agent log to attach to service
// host failures.
func (m *Manager) agentLogTail() string {
	return tailFile(filepath.Join(m.stateDir, config.AgentLogFile), 20)
}

// tailFile reads up to n trailing lines of path; best effort.
func tailFile(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
