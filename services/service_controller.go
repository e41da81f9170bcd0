package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

/**
 * ServiceController drives long-running processes on targets through their configured commands
 * @description
 * - The last known state of every target/service pair is kept here and nowhere else
 * - No retries, retry policy belongs to callers
 */
type ServiceController struct {
	exec   executor.Executor
	mu     sync.RWMutex
	states map[string]*models.ServiceDetail
}

func NewServiceController(exec executor.Executor) *ServiceController {
	return &ServiceController{
		exec:   exec,
		states: make(map[string]*models.ServiceDetail),
	}
}

func stateKey(target, service string) string {
	return target + "/" + service
}

func (sc *ServiceController) setState(target *models.Target, name string, state models.ServiceState) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.states[stateKey(target.Name, name)] = &models.ServiceDetail{
		Target:    target.Name,
		Name:      name,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
}

// State returns the last known state, StateUnknown when the service was never observed.
func (sc *ServiceController) State(target *models.Target, name string) models.ServiceState {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if d, ok := sc.states[stateKey(target.Name, name)]; ok {
		return d.State
	}
	return models.StateUnknown
}

// Details lists known service states of a target, sorted by name.
func (sc *ServiceController) Details(target string) []models.ServiceDetail {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	var out []models.ServiceDetail
	for _, d := range sc.states {
		if d.Target == target {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (sc *ServiceController) run(ctx context.Context, target *models.Target, spec models.ServiceSpec, tmpl string) (*executor.Result, error) {
	command, err := utils.RenderCommand(tmpl, utils.CommandData{
		Root:       target.Root,
		BackupRoot: target.BackupRoot,
		Target:     target.Name,
		Component:  spec.Name,
	})
	if err != nil {
		return nil, err
	}
	return sc.exec.Execute(ctx, target, command, spec.Timeout)
}

/**
 * Start a service
 * @returns {error} *models.ServiceError when the start command fails, the state is then crashed
 */
func (sc *ServiceController) Start(ctx context.Context, target *models.Target, spec models.ServiceSpec) error {
	if spec.Start == "" {
		return &models.ServiceError{Service: spec.Name, Op: "start", State: sc.State(target, spec.Name), Err: fmt.Errorf("no start command configured")}
	}
	sc.setState(target, spec.Name, models.StateStarting)
	logger.Infof("[%s] starting service '%s'", target.Name, spec.Name)
	if _, err := sc.run(ctx, target, spec, spec.Start); err != nil {
		sc.setState(target, spec.Name, models.StateCrashed)
		logger.Errorf("[%s] start service '%s' failed: %v", target.Name, spec.Name, err)
		return &models.ServiceError{Service: spec.Name, Op: "start", State: models.StateCrashed, Err: err}
	}
	sc.setState(target, spec.Name, models.StateRunning)
	return nil
}

/**
 * Stop a service
 * @description
 * - A failing stop command is tolerated when the status command then reports the service stopped
 */
func (sc *ServiceController) Stop(ctx context.Context, target *models.Target, spec models.ServiceSpec) error {
	if spec.Stop == "" {
		return &models.ServiceError{Service: spec.Name, Op: "stop", State: sc.State(target, spec.Name), Err: fmt.Errorf("no stop command configured")}
	}
	logger.Infof("[%s] stopping service '%s'", target.Name, spec.Name)
	_, err := sc.run(ctx, target, spec, spec.Stop)
	if err == nil {
		sc.setState(target, spec.Name, models.StateStopped)
		return nil
	}
	if models.IsNonZeroExit(err) {
		// 服务本来就没在运行
		if state := sc.Status(ctx, target, spec); state == models.StateStopped || state == models.StateCrashed {
			logger.Debugf("[%s] service '%s' was already stopped", target.Name, spec.Name)
			sc.setState(target, spec.Name, models.StateStopped)
			return nil
		}
	}
	state := sc.State(target, spec.Name)
	logger.Errorf("[%s] stop service '%s' failed: %v", target.Name, spec.Name, err)
	return &models.ServiceError{Service: spec.Name, Op: "stop", State: state, Err: err}
}

// Restart is Stop followed by Start.
func (sc *ServiceController) Restart(ctx context.Context, target *models.Target, spec models.ServiceSpec) error {
	if err := sc.Stop(ctx, target, spec); err != nil {
		return err
	}
	return sc.Start(ctx, target, spec)
}

/**
 * Query the state of a service with its status command
 * @returns {models.ServiceState} running on exit 0, stopped on non-zero exit, unknown on transport failure
 */
func (sc *ServiceController) Status(ctx context.Context, target *models.Target, spec models.ServiceSpec) models.ServiceState {
	if spec.Status == "" {
		return sc.State(target, spec.Name)
	}
	_, err := sc.run(ctx, target, spec, spec.Status)
	state := models.StateRunning
	switch {
	case err == nil:
	case models.IsNonZeroExit(err):
		state = models.StateStopped
		// 启动失败的服务保持crashed，直到再次成功启动
		if sc.State(target, spec.Name) == models.StateCrashed {
			state = models.StateCrashed
		}
	default:
		logger.Warnf("[%s] status of service '%s' unknown: %v", target.Name, spec.Name, err)
		state = models.StateUnknown
	}
	sc.setState(target, spec.Name, state)
	return state
}

// Observe folds a health verdict into the tracked state of a service.
func (sc *ServiceController) Observe(target *models.Target, name string, v models.HealthVerdict) {
	switch v.Status {
	case models.Healthy:
		sc.setState(target, name, models.StateRunning)
	case models.Unhealthy, models.Unreachable:
		if sc.State(target, name) == models.StateRunning {
			sc.setState(target, name, models.StateCrashed)
		}
	}
}
