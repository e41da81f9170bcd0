package services

import (
	"context"
	"fmt"
	"sort"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
)

/**
 * RollbackManager restores a target to a previous snapshot
 * @description
 * - resolve_snapshot -> safety_snapshot -> stop_services -> restore -> start_services -> verify
 * - The state being replaced is always snapshotted first, so a rollback can itself be undone
 * - Used by Deploy after a failed verification and standalone by RollbackTo
 */
type RollbackManager struct {
	locks    *LockManager
	store    *SnapshotStore
	services *ServiceController
	probe    HealthChecker
	config   func() *config.AppConfig
	finish   func(context.Context, *models.DeploymentOutcome)
}

// configuredComponents returns every configured component, backend 先于 frontend
func configuredComponents(cfg *config.AppConfig) []string {
	names := make([]string, 0, len(cfg.Components))
	for name := range cfg.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

/**
 * Roll a target back to a snapshot, outside of any deployment
 * @param {string} ref - Snapshot id, "latest" or empty for the newest backup
 * @param {[]string} components - Components to restart, empty means every configured component
 * @returns {*models.DeploymentOutcome} rolled_back on success, failed_no_rollback otherwise
 */
func (rm *RollbackManager) RollbackTo(ctx context.Context, target *models.Target, ref string, components []string) *models.DeploymentOutcome {
	cfg := rm.config()
	out := newOutcome(target, models.OperationRollback)
	defer rm.finish(ctx, out)

	var release func()
	var policy RetryPolicy
	err := runStage(out, models.StageInit, func() (string, error) {
		plan := cfg.Plan()
		if err := plan.Validate(); err != nil {
			return "", err
		}
		policy = PolicyFromPlan(plan)
		if len(components) == 0 {
			components = configuredComponents(cfg)
		}
		for _, name := range components {
			if _, err := cfg.Component(name); err != nil {
				return "", &models.PlanError{Field: "components", Reason: fmt.Sprintf("component '%s' is not configured", name)}
			}
		}
		var err error
		if release, err = rm.locks.Acquire(ctx, target, newLockOwner(out.RunID, models.OperationRollback)); err != nil {
			return "", err
		}
		return fmt.Sprintf("components %v", components), nil
	})
	if err != nil {
		out.Fail(models.StageInit, err)
		out.Status = models.OutcomeFailedNoRollback
		return out
	}
	defer release()

	if stage, err := rm.restore(ctx, target, ref, components, policy, false, out); err != nil {
		out.Fail(stage, err)
		out.Status = models.OutcomeFailedNoRollback
		return out
	}
	out.Status = models.OutcomeRolledBack
	return out
}

/**
 * Run the rollback stages against a locked target
 * @param {string} ref - Snapshot to restore
 * @param {bool} skipVerify - Do not probe health after starting the services
 * @returns {models.Stage} The stage that failed
 * @returns {error} nil when the target was restored (and verified unless skipVerify)
 * @description
 * - The caller holds the target lock
 * - Cancellation is only honoured before services are stopped, afterwards the restore runs to the end
 */
func (rm *RollbackManager) restore(ctx context.Context, target *models.Target, ref string, components []string, policy RetryPolicy, skipVerify bool, out *models.DeploymentOutcome) (models.Stage, error) {
	cfg := rm.config()

	var snap *models.Snapshot
	err := runStage(out, models.StageResolveSnapshot, func() (string, error) {
		s, err := rm.store.Resolve(ctx, target, ref)
		if err != nil {
			return "", err
		}
		snap = s
		out.RollbackSnapshot = s.ID
		return s.ID, nil
	})
	if err != nil {
		return models.StageResolveSnapshot, err
	}
	// 回滚期间不能被保留策略删除
	rm.store.Pin(target, snap.ID)
	defer rm.store.Unpin(target, snap.ID)

	err = runStage(out, models.StageSafetySnapshot, func() (string, error) {
		safety, err := rm.store.CreateSafety(ctx, target, target.Root, snap.ID)
		if err != nil {
			return "", err
		}
		if safety == nil {
			return "nothing to protect, " + target.Root + " is missing", nil
		}
		out.SafetySnapshot = safety.ID
		return safety.ID, nil
	})
	if err != nil {
		return models.StageSafetySnapshot, err
	}

	if err := checkpoint(ctx, models.StageStopServices); err != nil {
		return models.StageStopServices, err
	}
	ctx = context.WithoutCancel(ctx)

	err = runStage(out, models.StageStopServices, func() (string, error) {
		for _, name := range components {
			comp, _ := cfg.Component(name)
			if err := rm.services.Stop(ctx, target, comp.Service); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("stopped %v", components), nil
	})
	if err != nil {
		return models.StageStopServices, err
	}

	err = runStage(out, models.StageRestore, func() (string, error) {
		if err := rm.store.CompleteRestore(ctx, target, snap, target.Root); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s restored into %s", snap.ID, target.Root), nil
	})
	if err != nil {
		return models.StageRestore, err
	}

	err = runStage(out, models.StageStartServices, func() (string, error) {
		for _, name := range components {
			comp, _ := cfg.Component(name)
			if err := rm.services.Start(ctx, target, comp.Service); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("started %v", components), nil
	})
	if err != nil {
		return models.StageStartServices, err
	}

	if skipVerify {
		skipStage(out, models.StageVerify, "skipped by plan")
		return "", nil
	}
	err = runStage(out, models.StageVerify, func() (string, error) {
		return verifyComponents(ctx, rm.probe, rm.services, target, cfg, components, policy, out)
	})
	if err != nil {
		logger.Errorf("[%s] snapshot %s restored but still unhealthy, safety snapshot %s keeps the replaced state",
			target.Name, snap.ID, out.SafetySnapshot)
		return models.StageVerify, err
	}
	return "", nil
}
