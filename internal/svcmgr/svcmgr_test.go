package svcmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracering/tracering/config"
	"github.com/tracering/tracering/internal/errdefs"
)

// fakeService scripts the OS service manager. statuses is consumed one entry
// per Status call; the last entry repeats.
type fakeService struct {
	installed bool

	installCalls   int
	uninstallCalls int
	startCalls     int
	stopCalls      int

	statuses []service.Status
	statusIx int
	startErr error
}

func (f *fakeService) Install() error {
	f.installCalls++
	f.installed = true
	return nil
}

func (f *fakeService) Uninstall() error {
	f.uninstallCalls++
	f.installed = false
	return nil
}

func (f *fakeService) Start() error {
	f.startCalls++
	return f.startErr
}

func (f *fakeService) Stop() error {
	f.stopCalls++
	return nil
}

func (f *fakeService) Status() (service.Status, error) {
	if !f.installed {
		return service.StatusUnknown, service.ErrNotInstalled
	}
	if len(f.statuses) == 0 {
		return service.StatusStopped, nil
	}
	st := f.statuses[f.statusIx]
	if f.statusIx < len(f.statuses)-1 {
		f.statusIx++
	}
	return st, nil
}

func newTestManager(t *testing.T, fake *fakeService) *Manager {
	t.Helper()
	return &Manager{
		log:          zerolog.Nop(),
		stateDir:     t.TempDir(),
		svc:          fake,
		startTimeout: 2 * time.Second,
		pollInterval: 10 * time.Millisecond,
		crashGrace:   50 * time.Millisecond,
	}
}

func validPersisted(t *testing.T) config.Persisted {
	t.Helper()
	return config.Persisted{
		Config:    config.Config{Path: t.TempDir(), MaxFiles: 2, MaxSizeMB: 10, Persistent: true},
		StartTime: time.Now(),
		Version:   "1.0.0",
	}
}

func TestInstallFresh(t *testing.T) {
	fake := &fakeService{}
	m := newTestManager(t, fake)

	require.NoError(t, m.Install())
	assert.Equal(t, 1, fake.installCalls)
	assert.Equal(t, 0, fake.uninstallCalls)
}

func TestInstallReplacesExistingRegistration(t *testing.T) {
	fake := &fakeService{installed: true, statuses: []service.Status{service.StatusRunning}}
	m := newTestManager(t, fake)

	require.NoError(t, m.Install())
	assert.Equal(t, 1, fake.stopCalls, "running registration is stopped first")
	assert.Equal(t, 1, fake.uninstallCalls, "existing registration is removed, not patched")
	assert.Equal(t, 1, fake.installCalls)
}

func TestConfigureAndStartHappyPath(t *testing.T) {
	fake := &fakeService{installed: true, statuses: []service.Status{
		service.StatusStopped, // pre-start check
		service.StatusStopped, // first poll
		service.StatusRunning,
	}}
	m := newTestManager(t, fake)

	require.NoError(t, m.ConfigureAndStart(validPersisted(t)))
	assert.Equal(t, 1, fake.startCalls)

	// Configuration must have been persisted before the start.
	p, err := config.LoadPersisted(m.stateDir)
	require.NoError(t, err)
	assert.Equal(t, 2, p.MaxFiles)
}

func TestConfigureAndStartRejectsEmptyConfig(t *testing.T) {
	fake := &fakeService{installed: true}
	m := newTestManager(t, fake)

	err := m.ConfigureAndStart(config.Persisted{Version: "1.0.0", StartTime: time.Now()})
	require.Error(t, err)
	var cerr *errdefs.StateCorruptionError
	assert.ErrorAs(t, err, &cerr)
	assert.Zero(t, fake.startCalls, "nothing may start on invalid configuration")
	assert.NoFileExists(t, filepath.Join(m.stateDir, config.ServiceConfigFile))
}

func TestConfigureAndStartInstallsIfAbsent(t *testing.T) {
	fake := &fakeService{statuses: []service.Status{service.StatusRunning}}
	m := newTestManager(t, fake)

	require.NoError(t, m.ConfigureAndStart(validPersisted(t)))
	assert.Equal(t, 1, fake.installCalls)
	assert.Equal(t, 1, fake.startCalls)
}

func TestConfigureAndStartCrashedImmediately(t *testing.T) {
	fake := &fakeService{installed: true, statuses: []service.Status{
		service.StatusStopped,
	}}
	m := newTestManager(t, fake)
	// Leave an agent log so the failure carries context.
	require.NoError(t, os.WriteFile(filepath.Join(m.stateDir, config.AgentLogFile),
		[]byte("line1\nfatal: no configuration\n"), 0o644))

	err := m.ConfigureAndStart(validPersisted(t))
	require.Error(t, err)
	var serr *errdefs.ServiceHostError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Msg, "stopped immediately")
	assert.Contains(t, serr.LogTail, "fatal: no configuration")
}

func TestConfigureAndStartRecoversAbnormalState(t *testing.T) {
	fake := &fakeService{installed: true, statuses: []service.Status{
		service.StatusUnknown, // pre-start check: abnormal
		service.StatusStopped, // post-recovery check
		service.StatusRunning,
	}}
	m := newTestManager(t, fake)

	require.NoError(t, m.ConfigureAndStart(validPersisted(t)))
	assert.Equal(t, 1, fake.stopCalls, "abnormal state is stopped before retrying")
	assert.Equal(t, 1, fake.startCalls)
}

func TestStopIdempotent(t *testing.T) {
	fake := &fakeService{} // not installed
	m := newTestManager(t, fake)
	assert.NoError(t, m.Stop(), "stop of a missing service is success")

	fake.installed = true
	fake.statuses = []service.Status{service.StatusStopped}
	assert.NoError(t, m.Stop(), "stop of a stopped service is success")
	assert.Zero(t, fake.stopCalls)
}

func TestQueryState(t *testing.T) {
	fake := &fakeService{}
	m := newTestManager(t, fake)

	state, err := m.QueryState()
	require.NoError(t, err)
	assert.Equal(t, StateNotInstalled, state)

	fake.installed = true
	fake.statuses = []service.Status{service.StatusRunning}
	state, err = m.QueryState()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
}

func TestTailFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o644))

	assert.Equal(t, "c\nd", tailFile(path, 2))
	assert.Equal(t, "a\nb\nc\nd", tailFile(path, 10))
	assert.Empty(t, tailFile(filepath.Join(dir, "missing.log"), 2))
}
