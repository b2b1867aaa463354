package mode

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracering/tracering/config"
	"github.com/tracering/tracering/internal/errdefs"
	"github.com/tracering/tracering/internal/status"
	"github.com/tracering/tracering/internal/svcmgr"
)

type fakeSvc struct {
	state              svcmgr.State
	configureAndStarts int
	stops              int
	startErr           error
}

func (f *fakeSvc) QueryState() (svcmgr.State, error) { return f.state, nil }

func (f *fakeSvc) ConfigureAndStart(p config.Persisted) error {
	f.configureAndStarts++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = svcmgr.StateRunning
	return nil
}

func (f *fakeSvc) Stop() error {
	f.stops++
	f.state = svcmgr.StateStopped
	return nil
}

type harness struct {
	m      *Manager
	svc    *fakeSvc
	store  *status.Store
	flag   *status.StopFlag
	spawns *int
	alive  *bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stateDir := t.TempDir()
	svc := &fakeSvc{state: svcmgr.StateNotInstalled}
	store := status.NewStore(stateDir)
	flag := status.NewStopFlag(stateDir)

	spawns := 0
	alive := false
	m := &Manager{
		log:       zerolog.Nop(),
		stateDir:  stateDir,
		svc:       svc,
		store:     store,
		flag:      flag,
		agentPath: "/nonexistent/tracering-agent",
		startWait: 2 * time.Second,
		stopWait:  2 * time.Second,
	}
	m.spawn = func(agentPath string) (int, error) {
		spawns++
		alive = true
		// Stand in for the agent's first status publish.
		return 4242, store.Save(status.Snapshot{IsRunning: true, FilesCreated: 1, Mode: status.ModeEphemeral})
	}
	m.alive = func(pid int) bool { return alive }

	return &harness{m: m, svc: svc, store: store, flag: flag, spawns: &spawns, alive: &alive}
}

func validConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{Path: t.TempDir(), MaxFiles: 2, MaxSizeMB: 10}
}

func TestStartValidationRejectsBeforeSideEffects(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"zero max files", config.Config{Path: "/tmp/t", MaxFiles: 0, MaxSizeMB: 10}},
		{"below size floor", config.Config{Path: "/tmp/t", MaxFiles: 2, MaxSizeMB: 5}},
		{"empty path", config.Config{Path: "", MaxFiles: 2, MaxSizeMB: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.m.Start(tt.cfg)
			require.Error(t, err)
			var verr *errdefs.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
	assert.Zero(t, *h.spawns, "validation failures must not spawn anything")
	assert.Zero(t, h.svc.configureAndStarts)
}

func TestStartEphemeral(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(validConfig(t)))
	assert.Equal(t, 1, *h.spawns)

	// The persisted configuration must be in place for the agent.
	p, err := config.LoadPersisted(h.m.stateDir)
	require.NoError(t, err)
	assert.Equal(t, 2, p.MaxFiles)

	active, err := h.m.Active()
	require.NoError(t, err)
	assert.Equal(t, status.ModeEphemeral, active)
}

func TestStartPersistentDelegatesToService(t *testing.T) {
	h := newHarness(t)
	cfg := validConfig(t)
	cfg.Persistent = true

	require.NoError(t, h.m.Start(cfg))
	assert.Equal(t, 1, h.svc.configureAndStarts)
	assert.Zero(t, *h.spawns)

	active, err := h.m.Active()
	require.NoError(t, err)
	assert.Equal(t, status.ModeService, active)
}

func TestStartWhileServiceActiveRejected(t *testing.T) {
	h := newHarness(t)
	h.svc.state = svcmgr.StateRunning

	err := h.m.Start(validConfig(t))
	require.Error(t, err)
	var verr *errdefs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "already running")
	assert.Zero(t, *h.spawns, "no second loop may start")
}

func TestStartWhileEphemeralActiveRejected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(validConfig(t)))

	err := h.m.Start(validConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	assert.Equal(t, 1, *h.spawns)
}

func TestStartFailsWhenAgentDiesDuringStartup(t *testing.T) {
	h := newHarness(t)
	h.m.spawn = func(agentPath string) (int, error) {
		*h.spawns++
		// Agent exits before ever publishing a running snapshot.
		return 4242, h.store.Save(status.Snapshot{IsRunning: false, ErrorMessage: "capture utility start failed"})
	}
	err := h.m.Start(validConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture utility start failed")
}

func TestStopNoActiveSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.m.Stop())
	assert.NoError(t, h.m.Stop(), "stop twice in a row stays success")
	assert.False(t, h.flag.IsSet(), "no signal raised when nothing is active")
}

func TestStopEphemeralSignalsAndWaits(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(validConfig(t)))

	// Simulate the controller draining: snapshot flips to not running and
	// the agent process exits.
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = h.store.Save(status.Snapshot{IsRunning: false, FilesCreated: 1})
		*h.alive = false
	}()

	require.NoError(t, h.m.Stop())

	if _, err := os.Stat(h.m.pidPath()); !os.IsNotExist(err) {
		t.Error("pid file must be cleared after stop")
	}
	assert.NoError(t, h.m.Stop(), "second stop is a no-op success")
}

func TestStopServiceModeStopsService(t *testing.T) {
	h := newHarness(t)
	cfg := validConfig(t)
	cfg.Persistent = true
	require.NoError(t, h.m.Start(cfg))

	// The hosted controller drains once signaled.
	_ = h.store.Save(status.Snapshot{IsRunning: false, Mode: status.ModeService})

	require.NoError(t, h.m.Stop())
	assert.Equal(t, 1, h.svc.stops)
}

func TestStatusCorrectsStaleRunningSnapshot(t *testing.T) {
	h := newHarness(t)
	// Crashed agent left a running snapshot behind, but nothing is active.
	require.NoError(t, h.store.Save(status.Snapshot{IsRunning: true, FilesCreated: 7, Mode: status.ModeEphemeral}))

	snap, err := h.m.Status()
	require.NoError(t, err)
	assert.False(t, snap.IsRunning, "detection, not the snapshot, decides liveness")
	assert.Equal(t, int64(7), snap.FilesCreated, "last known counters are still reported")
}

func TestStatusStartFailurePropagatesServiceError(t *testing.T) {
	h := newHarness(t)
	h.svc.startErr = errors.New("service did not reach running state")
	cfg := validConfig(t)
	cfg.Persistent = true

	err := h.m.Start(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running state")
}
