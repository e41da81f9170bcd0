package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/models"
)

func TestServiceRestartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	target := newLocalTarget(t, "svc")
	spec := serviceSpec(target, "api")
	sc := NewServiceController(executor.NewLocalExecutor())

	assert.Equal(t, models.StateUnknown, sc.State(target, "api"))
	assert.Equal(t, models.StateStopped, sc.Status(ctx, target, spec))

	// 服务未运行时重启: 停止命令失败但状态为stopped，视为成功
	require.NoError(t, sc.Restart(ctx, target, spec))
	assert.Equal(t, models.StateRunning, sc.State(target, "api"))

	require.NoError(t, sc.Restart(ctx, target, spec))
	assert.Equal(t, models.StateRunning, sc.Status(ctx, target, spec))
	assert.FileExists(t, filepath.Join(filepath.Dir(target.Root), target.Name+"-api.pid"))

	require.NoError(t, sc.Stop(ctx, target, spec))
	require.NoError(t, sc.Stop(ctx, target, spec))
	assert.Equal(t, models.StateStopped, sc.Status(ctx, target, spec))

	details := sc.Details(target.Name)
	require.Len(t, details, 1)
	assert.Equal(t, "api", details[0].Name)
}

func TestServiceStartFailureCrashes(t *testing.T) {
	ctx := context.Background()
	target := newLocalTarget(t, "svc-crash")
	spec := serviceSpec(target, "api")
	spec.Start = "echo port in use >&2; exit 1"
	sc := NewServiceController(executor.NewLocalExecutor())

	err := sc.Start(ctx, target, spec)
	var se *models.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "start", se.Op)
	assert.Equal(t, models.StateCrashed, se.State)
	assert.Contains(t, err.Error(), "port in use")
	assert.Equal(t, models.StateCrashed, sc.State(target, "api"))

	// 状态命令失败时仍保持crashed
	assert.Equal(t, models.StateCrashed, sc.Status(ctx, target, spec))
	assert.Equal(t, "ServiceError", models.KindOf(err))
}

func TestServiceStatusUnknownOnTransportFailure(t *testing.T) {
	ctx := context.Background()
	target := newLocalTarget(t, "svc-down")
	spec := serviceSpec(target, "api")
	exec := newFaultExecutor()
	exec.FailOn("test -f", transportError())
	sc := NewServiceController(exec)

	assert.Equal(t, models.StateUnknown, sc.Status(ctx, target, spec))
}

func TestServiceStopFailsWhileRunning(t *testing.T) {
	ctx := context.Background()
	target := newLocalTarget(t, "svc-stuck")
	spec := serviceSpec(target, "api")
	spec.Stop = "exit 1"
	sc := NewServiceController(executor.NewLocalExecutor())

	require.NoError(t, sc.Start(ctx, target, spec))
	err := sc.Stop(ctx, target, spec)
	var se *models.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "stop", se.Op)
	assert.Equal(t, models.StateRunning, se.State)
}

func TestServiceMissingCommands(t *testing.T) {
	target := newLocalTarget(t, "svc-empty")
	sc := NewServiceController(executor.NewLocalExecutor())

	var se *models.ServiceError
	assert.ErrorAs(t, sc.Start(context.Background(), target, models.ServiceSpec{Name: "x"}), &se)
	assert.ErrorAs(t, sc.Stop(context.Background(), target, models.ServiceSpec{Name: "x"}), &se)
}

func TestObserveFoldsVerdicts(t *testing.T) {
	target := &models.Target{Name: "observe"}
	sc := NewServiceController(executor.NewLocalExecutor())

	sc.Observe(target, "api", models.HealthVerdict{Status: models.Healthy})
	assert.Equal(t, models.StateRunning, sc.State(target, "api"))
	sc.Observe(target, "api", models.HealthVerdict{Status: models.Unreachable})
	assert.Equal(t, models.StateCrashed, sc.State(target, "api"))
}
