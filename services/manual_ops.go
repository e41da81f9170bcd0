package services

import (
	"context"
	"fmt"

	"deploy-keeper/internal/models"
)

const (
	ServiceOpStart   = "start"
	ServiceOpStop    = "stop"
	ServiceOpRestart = "restart"
	ServiceOpStatus  = "status"
)

/**
 * Drive one component's service by hand
 * @param {*models.Target} target - Target the service runs on
 * @param {string} component - backend/frontend
 * @param {string} op - start/stop/restart/status
 * @returns {models.ServiceDetail} State after the operation
 * @description
 * - start/stop/restart take the target lock so they never interleave with a deploy
 * - status is read-only and runs without the lock
 */
func (o *Orchestrator) ControlService(ctx context.Context, target *models.Target, component, op string) (models.ServiceDetail, error) {
	detail := models.ServiceDetail{Target: target.Name, Name: component}
	comp, err := o.Config().Component(component)
	if err != nil {
		return detail, &models.PlanError{Field: "component", Reason: fmt.Sprintf("component '%s' is not configured", component)}
	}
	spec := comp.Service
	detail.Name = spec.Name

	if op != ServiceOpStatus {
		release, err := o.locks.Acquire(ctx, target, newLockOwner("", "service-"+op))
		if err != nil {
			return detail, err
		}
		defer release()
	}

	switch op {
	case ServiceOpStart:
		err = o.services.Start(ctx, target, spec)
	case ServiceOpStop:
		err = o.services.Stop(ctx, target, spec)
	case ServiceOpRestart:
		err = o.services.Restart(ctx, target, spec)
	case ServiceOpStatus:
		o.services.Status(ctx, target, spec)
	default:
		return detail, &models.PlanError{Field: "operation", Reason: fmt.Sprintf("unknown service operation '%s'", op)}
	}
	for _, d := range o.services.Details(target.Name) {
		if d.Name == spec.Name {
			detail = d
		}
	}
	return detail, err
}

/**
 * Probe components once per configured attempt policy, without touching services
 * @param {[]string} components - Components to probe, empty probes every configured one
 * @returns {[]models.HealthVerdict} One verdict per component
 */
func (o *Orchestrator) CheckHealth(ctx context.Context, target *models.Target, components []string) ([]models.HealthVerdict, error) {
	cfg := o.Config()
	if len(components) == 0 {
		components = configuredComponents(cfg)
	}
	policy := PolicyFromPlan(cfg.Plan())
	var verdicts []models.HealthVerdict
	for _, name := range components {
		comp, err := cfg.Component(name)
		if err != nil {
			return verdicts, &models.PlanError{Field: "component", Reason: fmt.Sprintf("component '%s' is not configured", name)}
		}
		v := o.probe.CheckWithRetry(ctx, target, name, comp.Health, policy)
		o.services.Observe(target, comp.Service.Name, v)
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

// Unlock clears a stale on-target lock, see LockManager.ForceUnlock.
func (o *Orchestrator) Unlock(ctx context.Context, target *models.Target) error {
	return o.locks.ForceUnlock(ctx, target)
}
