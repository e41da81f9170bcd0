package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/models"
)

func newTestServer(t *testing.T) (*Server, *orchestratorFixture) {
	t.Helper()
	f := newFixture(t)
	cfg := f.orch.Config()
	cfg.Targets = []config.TargetConfig{
		{Name: f.target.Name, Transport: models.TransportLocal, Root: f.target.Root},
	}
	f.orch.SetConfig(cfg)
	return NewServer(f.orch, nil, NewLogService("")), f
}

func TestServerTargetAndState(t *testing.T) {
	s, f := newTestServer(t)

	target, err := s.Target("web-1")
	require.NoError(t, err)
	assert.Equal(t, f.target.BackupRoot, target.BackupRoot)
	_, err = s.Target("nope")
	assert.ErrorIs(t, err, config.ErrTargetNotFound)

	state := s.GetState()
	require.Len(t, state.Targets, 1)
	assert.Equal(t, "web-1", state.Targets[0].Name)
	assert.False(t, state.Targets[0].Locked)
	assert.Empty(t, state.Targets[0].Services)

	release, err := f.orch.Locks().Acquire(context.Background(), f.target, newLockOwner("r1", models.OperationDeploy))
	require.NoError(t, err)
	state = s.GetState()
	assert.True(t, state.Targets[0].Locked)
	assert.Contains(t, state.Targets[0].LockOwner, "r1")
	assert.Equal(t, 1, s.GetHealthz().Metrics.ActiveRuns)
	release()
}

func TestServerHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.GetHealthz()
	assert.Equal(t, "UP", h.Status)
	assert.Equal(t, 1, h.Metrics.Targets)
	assert.Equal(t, 0, h.Metrics.ActiveRuns)
}

func TestServerRefreshServices(t *testing.T) {
	s, f := newTestServer(t)
	s.refreshServices(context.Background())
	assert.Equal(t, models.StateStopped, f.orch.Services().State(f.target, "backend"))
	require.Len(t, s.GetState().Targets[0].Services, 1)
}

func TestServerHistoryDisabled(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.History(context.Background(), "", 10)
	assert.Error(t, err)
	_, err = s.Run(context.Background(), "x")
	assert.Error(t, err)
}
