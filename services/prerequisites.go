package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

// prereqRetryDelay separates install attempts of one prerequisite.
var prereqRetryDelay = 2 * time.Second

/**
 * Install missing prerequisites on a fresh target
 * @param {[]config.PrerequisiteConfig} prereqs - Checklist in configured order
 * @param {int} attempts - Install attempts per prerequisite, from the plan
 * @returns {error} First prerequisite that is still missing after its attempts
 * @description
 * - check exit 0 means present, install is skipped
 * - After installing, check must pass, otherwise the prerequisite counts as failed
 * - A transport failure is not retried
 */
func installPrerequisites(ctx context.Context, exec executor.Executor, target *models.Target, prereqs []config.PrerequisiteConfig, attempts int) error {
	data := utils.CommandData{Root: target.Root, BackupRoot: target.BackupRoot, Target: target.Name}
	for _, p := range prereqs {
		check, err := utils.RenderCommand(p.Check, data)
		if err != nil {
			return fmt.Errorf("prerequisite '%s': %w", p.Name, err)
		}
		install, err := utils.RenderCommand(p.Install, data)
		if err != nil {
			return fmt.Errorf("prerequisite '%s': %w", p.Name, err)
		}

		present := func() (bool, error) {
			if check == "" {
				return false, nil
			}
			_, err := exec.Execute(ctx, target, check, p.Timeout)
			if err == nil {
				return true, nil
			}
			if models.IsNonZeroExit(err) {
				return false, nil
			}
			return false, err
		}

		ok, err := present()
		if err != nil {
			return fmt.Errorf("prerequisite '%s' check: %w", p.Name, err)
		}
		if ok {
			logger.Infof("[%s] prerequisite '%s' already present", target.Name, p.Name)
			continue
		}

		attempt := 0
		op := func() error {
			attempt++
			logger.Infof("[%s] installing prerequisite '%s' (attempt %d/%d)", target.Name, p.Name, attempt, attempts)
			if _, err := exec.Execute(ctx, target, install, p.Timeout); err != nil {
				if models.IsTransportError(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			if check == "" {
				return nil
			}
			ok, err := present()
			if err != nil {
				return backoff.Permanent(err)
			}
			if !ok {
				return fmt.Errorf("check still failing after install")
			}
			return nil
		}
		var policy backoff.BackOff = backoff.WithMaxRetries(backoff.NewConstantBackOff(prereqRetryDelay), uint64(attempts-1))
		if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
			return fmt.Errorf("prerequisite '%s': %w", p.Name, err)
		}
		logger.Infof("[%s] prerequisite '%s' installed", target.Name, p.Name)
	}
	return nil
}
