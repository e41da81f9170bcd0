package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

// Recorder persists terminal outcomes. Recording failures are logged, never fatal.
type Recorder interface {
	Record(ctx context.Context, outcome *models.DeploymentOutcome) error
}

/**
 * Orchestrator options
 * @property {*config.AppConfig} config - Components, prerequisites, migrations and defaults
 * @property {executor.Executor} executor - Remote command transport
 * @property {HealthChecker} probe - Optional, defaults to a HealthProbe over executor
 * @property {Recorder} recorder - Optional history sink
 * @property {int} parallelism - DeployMany concurrency, 0 means one goroutine per target
 */
type Options struct {
	Config      *config.AppConfig
	Executor    executor.Executor
	Probe       HealthChecker
	Recorder    Recorder
	Parallelism int
}

/**
 * Orchestrator runs the deployment state machine against targets
 * @description
 * - Init -> DetectMode -> (fresh: InstallPrerequisites) -> Backup -> SyncArtifacts
 *   -> RestartServices -> Verify -> Success | Rollback
 * - Every stage failure ends up in the returned DeploymentOutcome, nothing is panicked or returned bare
 * - The target lock is held from Init until the outcome is final
 */
type Orchestrator struct {
	exec        executor.Executor
	locks       *LockManager
	store       *SnapshotStore
	services    *ServiceController
	probe       HealthChecker
	rollback    *RollbackManager
	recorder    Recorder
	parallelism int

	mu  sync.RWMutex
	cfg *config.AppConfig
}

func NewOrchestrator(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Get()
	}
	probe := opts.Probe
	if probe == nil {
		probe = NewHealthProbe(opts.Executor)
	}
	o := &Orchestrator{
		exec:        opts.Executor,
		locks:       NewLockManager(opts.Executor, nil),
		store:       NewSnapshotStore(opts.Executor),
		services:    NewServiceController(opts.Executor),
		probe:       probe,
		recorder:    opts.Recorder,
		parallelism: opts.Parallelism,
	}
	o.rollback = &RollbackManager{
		locks:    o.locks,
		store:    o.store,
		services: o.services,
		probe:    o.probe,
		config:   o.Config,
		finish:   o.finish,
	}
	o.SetConfig(cfg)
	return o
}

func (o *Orchestrator) Config() *config.AppConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// SetConfig swaps the configuration used by runs started afterwards.
func (o *Orchestrator) SetConfig(cfg *config.AppConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	d := cfg.Defaults
	// 未配置的项保留当前值
	settings := o.store.Settings()
	if d.PageSize > 0 {
		settings.PageSize = d.PageSize
	}
	if d.CommandTimeout > 0 {
		settings.CommandTimeout = d.CommandTimeout
	}
	if d.SnapshotTimeout > 0 {
		settings.CopyTimeout = d.SnapshotTimeout
	}
	o.store.Configure(settings)
	o.locks.SetTimeout(d.CommandTimeout)
}

func (o *Orchestrator) Store() *SnapshotStore { return o.store }

func (o *Orchestrator) Services() *ServiceController { return o.services }

func (o *Orchestrator) Locks() *LockManager { return o.locks }

func (o *Orchestrator) Probe() HealthChecker { return o.probe }

func (o *Orchestrator) RollbackManager() *RollbackManager { return o.rollback }

func newOutcome(target *models.Target, operation string) *models.DeploymentOutcome {
	return &models.DeploymentOutcome{
		RunID:     uuid.NewString(),
		Target:    target.Name,
		Operation: operation,
		Stages:    []models.StageResult{},
		StartedAt: time.Now().UTC(),
	}
}

// runStage times fn and appends its StageResult to the outcome.
func runStage(out *models.DeploymentOutcome, stage models.Stage, fn func() (string, error)) error {
	start := time.Now()
	logger.Infof("[%s] run %s: %s started", out.Target, out.RunID, stage)
	msg, err := fn()
	d := time.Since(start)
	res := models.StageResult{
		Stage:    stage,
		Status:   models.StageOK,
		Message:  msg,
		Started:  start.UTC(),
		Duration: d,
	}
	if err != nil {
		res.Status = models.StageFailed
		res.ErrorKind = models.KindOf(err)
		res.Message = err.Error()
		logger.Errorf("[%s] run %s: %s failed: %v", out.Target, out.RunID, stage, err)
	} else {
		logger.Infof("[%s] run %s: %s ok %s", out.Target, out.RunID, stage, msg)
	}
	out.Stages = append(out.Stages, res)
	observeStage(stage, d)
	return err
}

func skipStage(out *models.DeploymentOutcome, stage models.Stage, reason string) {
	logger.Infof("[%s] run %s: %s skipped (%s)", out.Target, out.RunID, stage, reason)
	out.Stages = append(out.Stages, models.StageResult{
		Stage:   stage,
		Status:  models.StageSkipped,
		Message: reason,
		Started: time.Now().UTC(),
	})
}

// checkpoint is the cooperative cancellation check made before every transition.
func checkpoint(ctx context.Context, next models.Stage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s: %v", models.ErrCancelled, next, err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, out *models.DeploymentOutcome) {
	out.FinishedAt = time.Now().UTC()
	if out.ExitCode() == 0 {
		logger.Infof("[%s] %s run %s finished: %s", out.Target, out.Operation, out.RunID, out.Status)
	} else {
		logger.Errorf("[%s] %s run %s finished: %s (stage %s, %s)", out.Target, out.Operation, out.RunID, out.Status, out.FailedStage, out.ErrorKind)
	}
	observeOutcome(out)
	if o.recorder != nil {
		if err := o.recorder.Record(context.WithoutCancel(ctx), out); err != nil {
			logger.Warnf("[%s] record run %s failed: %v", out.Target, out.RunID, err)
		}
	}
}

// selectComponents keeps the configured components among those the plan selects.
func selectComponents(cfg *config.AppConfig, plan *models.DeploymentPlan) ([]string, error) {
	var out []string
	for _, name := range plan.SelectedComponents() {
		if _, err := cfg.Component(name); err != nil {
			if plan.Components != models.ComponentsBoth {
				return nil, &models.PlanError{Field: "components", Reason: fmt.Sprintf("component '%s' is not configured", name)}
			}
			continue
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, &models.PlanError{Field: "components", Reason: "no components configured"}
	}
	return out, nil
}

func commandData(target *models.Target, component, label string) utils.CommandData {
	return utils.CommandData{
		Root:       target.Root,
		BackupRoot: target.BackupRoot,
		Target:     target.Name,
		Component:  component,
		Label:      label,
	}
}

/**
 * Deploy runs the full state machine against one target
 * @param {context.Context} ctx - Cancellation is honoured between stages only
 * @param {*models.Target} target - Normalized target
 * @param {models.DeploymentPlan} plan - Validated here, before anything touches the target
 * @returns {*models.DeploymentOutcome} Always non-nil
 */
func (o *Orchestrator) Deploy(ctx context.Context, target *models.Target, plan models.DeploymentPlan) *models.DeploymentOutcome {
	cfg := o.Config()
	out := newOutcome(target, models.OperationDeploy)
	defer o.finish(ctx, out)

	failNoRollback := func(stage models.Stage, err error) *models.DeploymentOutcome {
		out.Fail(stage, err)
		out.Status = models.OutcomeFailedNoRollback
		return out
	}

	var components []string
	var release func()
	err := runStage(out, models.StageInit, func() (string, error) {
		if err := plan.Validate(); err != nil {
			return "", err
		}
		out.Plan = &plan
		var err error
		if components, err = selectComponents(cfg, &plan); err != nil {
			return "", err
		}
		if release, err = o.locks.Acquire(ctx, target, newLockOwner(out.RunID, models.OperationDeploy)); err != nil {
			return "", err
		}
		return fmt.Sprintf("components %v", components), nil
	})
	if err != nil {
		return failNoRollback(models.StageInit, err)
	}
	defer release()

	if err := checkpoint(ctx, models.StageDetectMode); err != nil {
		return failNoRollback(models.StageDetectMode, err)
	}
	err = runStage(out, models.StageDetectMode, func() (string, error) {
		_, err := o.exec.Execute(ctx, target, "test -d "+utils.ShellQuote(target.Root), cfg.Defaults.CommandTimeout)
		switch {
		case err == nil:
			out.Mode = models.ModeUpdate
		case models.IsNonZeroExit(err):
			out.Mode = models.ModeFresh
		default:
			return "", err
		}
		return string(out.Mode), nil
	})
	if err != nil {
		return failNoRollback(models.StageDetectMode, err)
	}

	if out.Mode == models.ModeFresh {
		if err := checkpoint(ctx, models.StageInstallPrerequisites); err != nil {
			return failNoRollback(models.StageInstallPrerequisites, err)
		}
		err = runStage(out, models.StageInstallPrerequisites, func() (string, error) {
			if err := installPrerequisites(ctx, o.exec, target, cfg.Prerequisites, plan.PrereqAttempts); err != nil {
				return "", err
			}
			return fmt.Sprintf("%d prerequisite(s) verified", len(cfg.Prerequisites)), nil
		})
		if err != nil {
			return failNoRollback(models.StageInstallPrerequisites, err)
		}
	}

	if err := checkpoint(ctx, models.StageBackup); err != nil {
		return failNoRollback(models.StageBackup, err)
	}
	var backup *models.Snapshot
	switch {
	case out.Mode == models.ModeFresh:
		skipStage(out, models.StageBackup, "fresh target, nothing to back up")
	case plan.SkipBackup:
		logger.Warnf("[%s] backup skipped by plan, a failed deploy cannot be rolled back", target.Name)
		skipStage(out, models.StageBackup, "skipped by plan")
	default:
		err = runStage(out, models.StageBackup, func() (string, error) {
			snap, err := o.store.Create(ctx, target, target.Root, plan.Label)
			if err != nil {
				return "", err
			}
			backup = snap
			out.BackupSnapshot = snap.ID
			return snap.ID, nil
		})
		if err != nil {
			return failNoRollback(models.StageBackup, err)
		}
		o.store.Pin(target, backup.ID)
		defer o.store.Unpin(target, backup.ID)

		if report, err := o.store.Prune(ctx, target, models.RetentionPolicy{Keep: plan.Retention}); err != nil {
			logger.Warnf("[%s] retention skipped: %v", target.Name, err)
		} else if len(report.Deleted) > 0 || len(report.Failed) > 0 {
			logger.Infof("[%s] retention: deleted %v, failed %d", target.Name, report.Deleted, len(report.Failed))
		}
	}

	// 从这里开始失败都要尝试回滚
	rollback := func(stage models.Stage, err error) *models.DeploymentOutcome {
		out.Fail(stage, err)
		o.rollbackRun(ctx, target, out, backup, components, &plan)
		return out
	}

	if err := checkpoint(ctx, models.StageSyncArtifacts); err != nil {
		return rollback(models.StageSyncArtifacts, err)
	}
	err = runStage(out, models.StageSyncArtifacts, func() (string, error) {
		count := 0
		for _, name := range components {
			comp, _ := cfg.Component(name)
			for _, tmpl := range comp.Sync {
				command, err := utils.RenderCommand(tmpl, commandData(target, name, plan.Label))
				if err != nil {
					return "", fmt.Errorf("%s sync: %w", name, err)
				}
				if _, err := o.exec.Execute(ctx, target, command, comp.SyncTimeout); err != nil {
					return "", fmt.Errorf("%s sync: %w", name, err)
				}
				count++
			}
		}
		return fmt.Sprintf("%d command(s)", count), nil
	})
	if err != nil {
		// 同步失败直接终止，不自动回滚
		return failNoRollback(models.StageSyncArtifacts, err)
	}

	if o.wantsMigrations(cfg, components) {
		if err := checkpoint(ctx, models.StageMigrations); err != nil {
			return rollback(models.StageMigrations, err)
		}
		err = runStage(out, models.StageMigrations, func() (string, error) {
			runner := NewMigrationRunner(o.exec, cfg.Migrations)
			applied, err := runner.Apply(ctx, target, commandData(target, "", plan.Label))
			if err != nil {
				return "", fmt.Errorf("applied %v before failure: %w", applied, err)
			}
			return fmt.Sprintf("applied %v", applied), nil
		})
		if err != nil {
			return failNoRollback(models.StageMigrations, err)
		}
	}

	if err := checkpoint(ctx, models.StageRestartServices); err != nil {
		return rollback(models.StageRestartServices, err)
	}
	err = runStage(out, models.StageRestartServices, func() (string, error) {
		for _, name := range components {
			comp, _ := cfg.Component(name)
			if err := o.services.Restart(ctx, target, comp.Service); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("restarted %v", components), nil
	})
	if err != nil {
		return rollback(models.StageRestartServices, err)
	}

	if err := checkpoint(ctx, models.StageVerify); err != nil {
		return rollback(models.StageVerify, err)
	}
	if plan.SkipHealthCheck {
		logger.Warnf("[%s] health check skipped by plan, run assumed healthy", target.Name)
		skipStage(out, models.StageVerify, "skipped by plan")
		out.Status = models.OutcomeSucceeded
		return out
	}
	err = runStage(out, models.StageVerify, func() (string, error) {
		return o.verify(ctx, target, cfg, components, PolicyFromPlan(&plan), out)
	})
	if err != nil {
		return rollback(models.StageVerify, err)
	}
	out.Status = models.OutcomeSucceeded
	return out
}

func (o *Orchestrator) wantsMigrations(cfg *config.AppConfig, components []string) bool {
	if cfg.Migrations.Dir == "" || cfg.Migrations.Command == "" {
		return false
	}
	for _, name := range components {
		if comp, err := cfg.Component(name); err == nil && comp.Migrations {
			return true
		}
	}
	return false
}

// verify probes every component and fails on the first one that stays unhealthy.
func (o *Orchestrator) verify(ctx context.Context, target *models.Target, cfg *config.AppConfig, components []string, policy RetryPolicy, out *models.DeploymentOutcome) (string, error) {
	return verifyComponents(ctx, o.probe, o.services, target, cfg, components, policy, out)
}

func verifyComponents(ctx context.Context, probe HealthChecker, services *ServiceController, target *models.Target, cfg *config.AppConfig, components []string, policy RetryPolicy, out *models.DeploymentOutcome) (string, error) {
	for _, name := range components {
		comp, _ := cfg.Component(name)
		v := probe.CheckWithRetry(ctx, target, name, comp.Health, policy)
		out.Verdicts = append(out.Verdicts, v)
		services.Observe(target, comp.Service.Name, v)
		if !v.IsHealthy() {
			return "", &models.HealthCheckError{Component: name, Verdict: v}
		}
	}
	return fmt.Sprintf("%v healthy", components), nil
}

// rollbackRun restores the backup this run took and runs to completion even when ctx is cancelled.
func (o *Orchestrator) rollbackRun(ctx context.Context, target *models.Target, out *models.DeploymentOutcome, backup *models.Snapshot, components []string, plan *models.DeploymentPlan) {
	if backup == nil {
		skipStage(out, models.StageRollback, "no backup taken by this run")
		out.Status = models.OutcomeFailedNoRollback
		return
	}
	rctx := context.WithoutCancel(ctx)
	err := runStage(out, models.StageRollback, func() (string, error) {
		stage, err := o.rollback.restore(rctx, target, backup.ID, components, PolicyFromPlan(plan), plan.SkipHealthCheck, out)
		if err != nil {
			return "", fmt.Errorf("%s: %w", stage, err)
		}
		return "restored " + backup.ID, nil
	})
	if err != nil {
		out.Fail(models.StageRollback, err)
		out.Status = models.OutcomeFailedNoRollback
		return
	}
	out.Status = models.OutcomeRolledBack
}

/**
 * Deploy the same plan to several independent targets concurrently
 * @returns {[]*models.DeploymentOutcome} One outcome per target, in the order given
 * @description
 * - A failing target never cancels the others
 */
func (o *Orchestrator) DeployMany(ctx context.Context, targets []*models.Target, plan models.DeploymentPlan) []*models.DeploymentOutcome {
	outcomes := make([]*models.DeploymentOutcome, len(targets))
	var g errgroup.Group
	if o.parallelism > 0 {
		g.SetLimit(o.parallelism)
	}
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			outcomes[i] = o.Deploy(ctx, t, plan)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// RollbackTo is the standalone rollback, see RollbackManager.RollbackTo.
func (o *Orchestrator) RollbackTo(ctx context.Context, target *models.Target, ref string, components []string) *models.DeploymentOutcome {
	return o.rollback.RollbackTo(ctx, target, ref, components)
}

/**
 * Take a manual backup snapshot under the target lock
 * @param {string} label - Label stored with the snapshot
 */
func (o *Orchestrator) CreateSnapshot(ctx context.Context, target *models.Target, label string) (*models.Snapshot, error) {
	release, err := o.locks.Acquire(ctx, target, newLockOwner("", "snapshot"))
	if err != nil {
		return nil, err
	}
	defer release()
	return o.store.Create(ctx, target, target.Root, label)
}

// PruneSnapshots applies retention under the target lock, keep <= 0 uses the configured default.
func (o *Orchestrator) PruneSnapshots(ctx context.Context, target *models.Target, keep int) (*models.PruneReport, error) {
	if keep <= 0 {
		keep = o.Config().Defaults.Retention
	}
	release, err := o.locks.Acquire(ctx, target, newLockOwner("", "prune"))
	if err != nil {
		return nil, err
	}
	defer release()
	return o.store.Prune(ctx, target, models.RetentionPolicy{Keep: keep})
}

/**
 * Read one page of snapshots, newest first
 * @param {string} after - Continue after this snapshot id, empty starts at the newest
 * @param {int} limit - Page length, <= 0 uses the store page size
 * @returns {models.SnapshotPage} The page and the position of the next one
 */
func (o *Orchestrator) SnapshotPage(ctx context.Context, target *models.Target, after string, limit int) (models.SnapshotPage, error) {
	if limit <= 0 {
		limit = o.store.Settings().PageSize
	}
	page := models.SnapshotPage{Snapshots: []models.Snapshot{}}
	cur := o.store.ListFrom(target, after)
	for len(page.Snapshots) < limit && cur.Next(ctx) {
		page.Snapshots = append(page.Snapshots, cur.Snapshot())
	}
	if err := cur.Err(); err != nil {
		return page, err
	}
	// 多读一个判断是否还有下一页
	if len(page.Snapshots) == limit && cur.Next(ctx) {
		page.Next = page.Snapshots[len(page.Snapshots)-1].ID
	}
	return page, cur.Err()
}
