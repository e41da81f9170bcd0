package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/models"
)

func TestTargetLockerIsExclusive(t *testing.T) {
	l := NewTargetLocker()
	first := newLockOwner("run-1", models.OperationDeploy)

	_, ok := l.TryLock("prod", first)
	require.True(t, ok)

	holder, ok := l.TryLock("prod", newLockOwner("run-2", models.OperationDeploy))
	assert.False(t, ok)
	assert.Equal(t, "run-1", holder.RunID)

	// 不同目标互不影响
	_, ok = l.TryLock("staging", newLockOwner("run-3", models.OperationDeploy))
	assert.True(t, ok)
	assert.Len(t, l.Holders(), 2)

	l.Unlock("prod")
	_, ok = l.TryLock("prod", newLockOwner("run-4", models.OperationRollback))
	assert.True(t, ok)
}

func TestLockManagerAcquireRelease(t *testing.T) {
	ctx := context.Background()
	target := newLocalTarget(t, "lock")
	m := NewLockManager(executor.NewLocalExecutor(), nil)

	release, err := m.Acquire(ctx, target, newLockOwner("run-1", models.OperationDeploy))
	require.NoError(t, err)
	assert.DirExists(t, target.LockPath)

	owner, err := m.Inspect(ctx, target)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, "run-1", owner.RunID)
	assert.Equal(t, models.OperationDeploy, owner.Operation)

	_, err = m.Acquire(ctx, target, newLockOwner("run-2", models.OperationDeploy))
	assert.ErrorIs(t, err, models.ErrAlreadyInProgress)
	assert.Equal(t, "AlreadyInProgress", models.KindOf(err))

	release()
	release()
	assert.NoDirExists(t, target.LockPath)
	owner, err = m.Inspect(ctx, target)
	require.NoError(t, err)
	assert.Nil(t, owner)

	release, err = m.Acquire(ctx, target, newLockOwner("run-3", models.OperationDeploy))
	require.NoError(t, err)
	release()
}

func TestLockManagerSeesOtherHosts(t *testing.T) {
	ctx := context.Background()
	target := newLocalTarget(t, "shared")
	// 两个LockManager模拟两台机器，只共享目标上的锁目录
	hostA := NewLockManager(executor.NewLocalExecutor(), nil)
	hostB := NewLockManager(executor.NewLocalExecutor(), nil)

	release, err := hostA.Acquire(ctx, target, newLockOwner("run-a", models.OperationDeploy))
	require.NoError(t, err)
	defer release()

	_, err = hostB.Acquire(ctx, target, newLockOwner("run-b", models.OperationDeploy))
	require.ErrorIs(t, err, models.ErrAlreadyInProgress)
	assert.Contains(t, err.Error(), "run-a")
	assert.Empty(t, hostB.Locker().Holders(), "a failed acquire releases the in-process lock")
}

func TestForceUnlock(t *testing.T) {
	ctx := context.Background()
	target := newLocalTarget(t, "stale")
	crashed := NewLockManager(executor.NewLocalExecutor(), nil)
	_, err := crashed.Acquire(ctx, target, newLockOwner("run-crashed", models.OperationDeploy))
	require.NoError(t, err)

	m := NewLockManager(executor.NewLocalExecutor(), nil)
	require.NoError(t, m.ForceUnlock(ctx, target))
	assert.NoDirExists(t, target.LockPath)

	release, err := m.Acquire(ctx, target, newLockOwner("run-new", models.OperationDeploy))
	require.NoError(t, err)
	assert.ErrorIs(t, m.ForceUnlock(ctx, target), models.ErrAlreadyInProgress)
	release()
}
