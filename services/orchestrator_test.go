package services

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/models"
)

type memoryRecorder struct {
	mu   sync.Mutex
	runs []*models.DeploymentOutcome
}

func (r *memoryRecorder) Record(ctx context.Context, outcome *models.DeploymentOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, outcome)
	return nil
}

type orchestratorFixture struct {
	target   *models.Target
	exec     *faultExecutor
	checker  *scriptedChecker
	recorder *memoryRecorder
	orch     *Orchestrator
}

// newFixture deploys "v2" over an installed "v1" unless the root is removed by the test.
func newFixture(t *testing.T, statuses ...models.HealthStatus) *orchestratorFixture {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []models.HealthStatus{models.Healthy}
	}
	f := &orchestratorFixture{
		target:   newLocalTarget(t, "web-1"),
		exec:     newFaultExecutor(),
		checker:  &scriptedChecker{statuses: statuses},
		recorder: &memoryRecorder{},
	}
	writeFile(t, filepath.Join(f.target.Root, "version"), "v1\n")
	f.orch = NewOrchestrator(Options{
		Config:   testConfig(f.target, "v2"),
		Executor: f.exec,
		Probe:    f.checker,
		Recorder: f.recorder,
	})
	return f
}

func (f *orchestratorFixture) version(t *testing.T) string {
	return readFile(t, filepath.Join(f.target.Root, "version"))
}

func TestDeploySucceeds(t *testing.T) {
	f := newFixture(t)
	out := f.orch.Deploy(context.Background(), f.target, testPlan())

	require.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)
	assert.Equal(t, 0, out.ExitCode())
	assert.Equal(t, models.ModeUpdate, out.Mode)
	assert.Equal(t, []models.Stage{
		models.StageInit,
		models.StageDetectMode,
		models.StageBackup,
		models.StageSyncArtifacts,
		models.StageRestartServices,
		models.StageVerify,
	}, stageNames(out))
	assert.Equal(t, "v2\n", f.version(t))
	assert.NotEmpty(t, out.BackupSnapshot)
	assert.Equal(t, "v1\n", readFile(t, filepath.Join(f.target.BackupRoot, out.BackupSnapshot, "data", "version")))
	require.Len(t, out.Verdicts, 1)
	assert.Equal(t, models.Healthy, out.Verdicts[0].Status)
	assert.Equal(t, models.StateRunning, f.orch.Services().State(f.target, "backend"))

	// 锁已释放，结果已记录
	assert.NoDirExists(t, f.target.LockPath)
	assert.Empty(t, f.orch.Locks().Locker().Holders())
	require.Len(t, f.recorder.runs, 1)
	assert.Equal(t, out.RunID, f.recorder.runs[0].RunID)
	assert.False(t, out.FinishedAt.IsZero())
}

func TestDeployRollsBackAfterUnreachableHealth(t *testing.T) {
	f := newFixture(t, models.Unreachable, models.Unreachable, models.Unreachable, models.Healthy)
	out := f.orch.Deploy(context.Background(), f.target, testPlan())

	require.Equal(t, models.OutcomeRolledBack, out.Status, out.Error)
	assert.Equal(t, 1, out.ExitCode())
	assert.Equal(t, models.StageVerify, out.FailedStage)
	assert.Equal(t, "HealthCheckError", out.ErrorKind)
	assert.Equal(t, 4, f.checker.Calls())

	// 回滚恢复的是本次运行的备份
	assert.Equal(t, out.BackupSnapshot, out.RollbackSnapshot)
	assert.NotEmpty(t, out.SafetySnapshot)
	assert.Equal(t, "v1\n", f.version(t))
	assert.Equal(t, "v2\n", readFile(t, filepath.Join(f.target.BackupRoot, out.SafetySnapshot, "data", "version")))
	assert.Equal(t, models.StageOK, stageStatus(out, models.StageRollback))
	assert.Equal(t, models.StateRunning, f.orch.Services().State(f.target, "backend"))
	assert.NoDirExists(t, f.target.LockPath)
}

func TestDeployRollbackThatStaysUnhealthy(t *testing.T) {
	f := newFixture(t, models.Unhealthy)
	out := f.orch.Deploy(context.Background(), f.target, testPlan())

	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, models.StageVerify, out.FailedStage)
	assert.Equal(t, models.StageFailed, stageStatus(out, models.StageRollback))
	// 数据已经恢复，只是健康检查仍未通过
	assert.Equal(t, "v1\n", f.version(t))
}

func TestDeployRollsBackAfterRestartFailure(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig(f.target, "v2")
	backend := cfg.Components["backend"]
	backend.Service.Start = "grep -q v1 " + filepath.Join(f.target.Root, "version")
	cfg.Components["backend"] = backend
	f.orch.SetConfig(cfg)

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	require.Equal(t, models.OutcomeRolledBack, out.Status, out.Error)
	assert.Equal(t, models.StageRestartServices, out.FailedStage)
	assert.Equal(t, "ServiceError", out.ErrorKind)
	assert.Equal(t, "v1\n", f.version(t))
}

func TestDeployFreshTarget(t *testing.T) {
	f := newFixture(t)
	f.target.Root = filepath.Join(filepath.Dir(f.target.Root), "fresh")
	marker := filepath.Join(filepath.Dir(f.target.Root), "runtime-installed")
	cfg := testConfig(f.target, "v1")
	cfg.Prerequisites = []config.PrerequisiteConfig{
		{Name: "runtime", Check: "test -f " + marker, Install: "touch " + marker},
	}
	f.orch.SetConfig(cfg)

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	require.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)
	assert.Equal(t, models.ModeFresh, out.Mode)
	assert.Equal(t, models.StageOK, stageStatus(out, models.StageInstallPrerequisites))
	assert.Equal(t, models.StageSkipped, stageStatus(out, models.StageBackup))
	assert.Empty(t, out.BackupSnapshot)
	assert.FileExists(t, marker)
	assert.Equal(t, "v1\n", f.version(t))
	assert.Empty(t, snapshotIDs(t, f.orch.Store(), f.target))
}

func TestDeployFreshTargetCannotRollBack(t *testing.T) {
	f := newFixture(t, models.Unreachable)
	f.target.Root = filepath.Join(filepath.Dir(f.target.Root), "fresh")
	f.orch.SetConfig(testConfig(f.target, "v1"))

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, models.StageVerify, out.FailedStage)
	assert.Equal(t, models.StageSkipped, stageStatus(out, models.StageRollback))
}

func TestDeployBackupFailureStopsEarly(t *testing.T) {
	f := newFixture(t)
	f.exec.FailOn("cp -a", exitError(1))

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, models.StageBackup, out.FailedStage)
	assert.Equal(t, "SnapshotError.CopyFailed", out.ErrorKind)
	assert.NotContains(t, stageNames(out), models.StageSyncArtifacts)
	assert.Equal(t, "v1\n", f.version(t))
	assert.NoDirExists(t, f.target.LockPath)
}

func TestDeploySyncFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig(f.target, "v2")
	backend := cfg.Components["backend"]
	backend.Sync = append(backend.Sync, "exit 9")
	cfg.Components["backend"] = backend
	f.orch.SetConfig(cfg)

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, models.StageSyncArtifacts, out.FailedStage)
	assert.Equal(t, "ExecutionError.NonZeroExit", out.ErrorKind)
	assert.NotContains(t, stageNames(out), models.StageRollback)
	assert.NotEmpty(t, out.BackupSnapshot, "the backup stays available for a manual rollback")
}

func TestDeployRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	release, err := f.orch.Locks().Acquire(context.Background(), f.target, newLockOwner("other-run", models.OperationDeploy))
	require.NoError(t, err)
	defer release()

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, models.StageInit, out.FailedStage)
	assert.Equal(t, "AlreadyInProgress", out.ErrorKind)
	assert.Equal(t, "v1\n", f.version(t))
	assert.Empty(t, snapshotIDs(t, f.orch.Store(), f.target))
}

func TestDeployRejectsInvalidPlan(t *testing.T) {
	f := newFixture(t)
	plan := testPlan()
	plan.BackendOnly = true
	plan.FrontendOnly = true

	out := f.orch.Deploy(context.Background(), f.target, plan)
	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, "PlanError", out.ErrorKind)

	plan = testPlan()
	plan.Components = models.ComponentFrontend
	out = f.orch.Deploy(context.Background(), f.target, plan)
	assert.Equal(t, "PlanError", out.ErrorKind, "frontend is not configured")
	assert.NoDirExists(t, f.target.LockPath)
}

func TestDeployKeepsRetentionBound(t *testing.T) {
	f := newFixture(t)
	store := f.orch.Store()
	var old []string
	for i := 0; i < 5; i++ {
		snap, err := store.Create(context.Background(), f.target, f.target.Root, "")
		require.NoError(t, err)
		old = append(old, snap.ID)
	}

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	require.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)

	ids := snapshotIDs(t, store, f.target)
	assert.Len(t, ids, 5)
	assert.Equal(t, out.BackupSnapshot, ids[0])
	assert.NotContains(t, ids, old[0])
}

func TestDeploySkipFlags(t *testing.T) {
	f := newFixture(t, models.Unreachable)
	plan := testPlan()
	plan.SkipBackup = true
	plan.SkipHealthCheck = true

	out := f.orch.Deploy(context.Background(), f.target, plan)
	require.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)
	assert.Equal(t, models.StageSkipped, stageStatus(out, models.StageBackup))
	assert.Equal(t, models.StageSkipped, stageStatus(out, models.StageVerify))
	assert.Equal(t, 0, f.checker.Calls())
	assert.Empty(t, out.BackupSnapshot)
}

func TestDeployRunsMigrations(t *testing.T) {
	f := newFixture(t)
	applied := filepath.Join(filepath.Dir(f.target.Root), "applied.log")
	writeFile(t, filepath.Join(f.target.Root, "migrations", "1_init.sh"), "echo 1_init.sh >> "+applied+"\n")
	cfg := testConfig(f.target, "v2")
	backend := cfg.Components["backend"]
	backend.Migrations = true
	cfg.Components["backend"] = backend
	cfg.Migrations = config.MigrationConfig{Dir: "{{.Root}}/migrations", Command: "sh {{quote .Script}}"}
	f.orch.SetConfig(cfg)

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	require.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)
	assert.Equal(t, models.StageOK, stageStatus(out, models.StageMigrations))
	assert.Equal(t, "1_init.sh\n", readFile(t, applied))
}

func TestDeployCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.orch.Deploy(ctx, f.target, testPlan())
	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, "Cancelled", out.ErrorKind)
	assert.Equal(t, "v1\n", f.version(t))
	assert.NoDirExists(t, f.target.LockPath)
	require.Len(t, f.recorder.runs, 1)
}

func TestDeployCancelledAfterSync(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.exec.AfterCommand(func(command string) {
		if strings.Contains(command, "echo v2 >") {
			cancel()
		}
	})

	out := f.orch.Deploy(ctx, f.target, testPlan())
	require.Equal(t, models.OutcomeRolledBack, out.Status, out.Error)
	assert.Equal(t, "Cancelled", out.ErrorKind)
	assert.Equal(t, models.StageRestartServices, out.FailedStage)
	assert.Equal(t, models.StageOK, stageStatus(out, models.StageSyncArtifacts))
	assert.NotEmpty(t, out.BackupSnapshot)
	assert.Equal(t, out.BackupSnapshot, out.RollbackSnapshot)
	assert.Equal(t, models.StageOK, stageStatus(out, models.StageRollback))
	assert.Equal(t, "v1\n", f.version(t))

	// 取消的运行同样释放两层锁
	assert.NoDirExists(t, f.target.LockPath)
	assert.Empty(t, f.orch.Locks().Locker().Holders())
	release, err := f.orch.Locks().Acquire(context.Background(), f.target, newLockOwner("next-run", models.OperationDeploy))
	require.NoError(t, err)
	release()
	require.Len(t, f.recorder.runs, 1)
}

func TestSetConfigDuringDeploy(t *testing.T) {
	f := newFixture(t)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				f.orch.SetConfig(testConfig(f.target, "v2"))
			}
		}
	}()

	out := f.orch.Deploy(context.Background(), f.target, testPlan())
	close(stop)
	<-done
	require.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)
	assert.Equal(t, "v2\n", f.version(t))
	assert.Equal(t, 2, f.orch.Store().Settings().PageSize)
	assert.Equal(t, 10*time.Second, f.orch.Locks().Timeout())
}

func TestDeployMany(t *testing.T) {
	healthy := newFixture(t)
	other := newLocalTarget(t, "web-2")
	// web-2 没有部署目录，按全新部署处理
	out := healthy.orch.DeployMany(context.Background(), []*models.Target{healthy.target, other}, testPlan())

	require.Len(t, out, 2)
	assert.Equal(t, "web-1", out[0].Target)
	assert.Equal(t, "web-2", out[1].Target)
	assert.Equal(t, models.ModeUpdate, out[0].Mode)
	assert.Equal(t, models.ModeFresh, out[1].Mode)
	assert.Equal(t, models.OutcomeSucceeded, out[0].Status, out[0].Error)
	assert.Equal(t, models.OutcomeSucceeded, out[1].Status, out[1].Error)
}

func TestManualRollback(t *testing.T) {
	f := newFixture(t)
	first := f.orch.Deploy(context.Background(), f.target, testPlan())
	require.Equal(t, models.OutcomeSucceeded, first.Status, first.Error)
	assert.Equal(t, "v2\n", f.version(t))

	out := f.orch.RollbackTo(context.Background(), f.target, LatestSnapshot, nil)
	require.Equal(t, models.OutcomeRolledBack, out.Status, out.Error)
	assert.Equal(t, 0, out.ExitCode())
	assert.Equal(t, models.OperationRollback, out.Operation)
	assert.Equal(t, first.BackupSnapshot, out.RollbackSnapshot)
	assert.Equal(t, "v1\n", f.version(t))
	assert.Equal(t, []models.Stage{
		models.StageInit,
		models.StageResolveSnapshot,
		models.StageSafetySnapshot,
		models.StageStopServices,
		models.StageRestore,
		models.StageStartServices,
		models.StageVerify,
	}, stageNames(out))

	// 回滚本身也可以撤销
	undo := f.orch.RollbackTo(context.Background(), f.target, out.SafetySnapshot, []string{"backend"})
	require.Equal(t, models.OutcomeRolledBack, undo.Status, undo.Error)
	assert.Equal(t, "v2\n", f.version(t))
	assert.Len(t, f.recorder.runs, 3)
}

func TestManualRollbackUnknownSnapshot(t *testing.T) {
	f := newFixture(t)
	out := f.orch.RollbackTo(context.Background(), f.target, "20000101T000000.000000Z", nil)
	assert.Equal(t, models.OutcomeFailedNoRollback, out.Status)
	assert.Equal(t, models.StageResolveSnapshot, out.FailedStage)
	assert.Equal(t, "SnapshotError.NotFound", out.ErrorKind)
	assert.Equal(t, 1, out.ExitCode())
	assert.Equal(t, "v1\n", f.version(t))
}

func TestSnapshotOperationsTakeTheLock(t *testing.T) {
	f := newFixture(t)
	snap, err := f.orch.CreateSnapshot(context.Background(), f.target, "manual")
	require.NoError(t, err)
	assert.Equal(t, "manual", snap.Label)

	release, err := f.orch.Locks().Acquire(context.Background(), f.target, newLockOwner("", models.OperationDeploy))
	require.NoError(t, err)
	_, err = f.orch.CreateSnapshot(context.Background(), f.target, "blocked")
	assert.ErrorIs(t, err, models.ErrAlreadyInProgress)
	_, err = f.orch.PruneSnapshots(context.Background(), f.target, 1)
	assert.ErrorIs(t, err, models.ErrAlreadyInProgress)
	release()

	report, err := f.orch.PruneSnapshots(context.Background(), f.target, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{snap.ID}, report.Kept)
}

func TestNewOrchestratorDefaults(t *testing.T) {
	o := NewOrchestrator(Options{Config: &config.AppConfig{}, Executor: executor.NewLocalExecutor()})
	assert.IsType(t, &HealthProbe{}, o.Probe())
	assert.NotNil(t, o.RollbackManager())
	assert.Equal(t, defaultPageSize, o.Store().Settings().PageSize)
	assert.Equal(t, 30*time.Second, o.Locks().Timeout())
}
