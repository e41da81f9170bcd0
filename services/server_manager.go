package services

import (
	"context"
	"fmt"
	"time"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/env"
	"deploy-keeper/internal/history"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
)

// RunHistory is the read side of the history store.
type RunHistory interface {
	List(ctx context.Context, target string, limit int) ([]models.DeploymentOutcome, error)
	Get(ctx context.Context, runID string) (*models.DeploymentOutcome, error)
}

type Server struct {
	orch      *Orchestrator
	history   RunHistory
	logs      *LogService
	startTime time.Time
}

/**
 * Create new server instance
 * @param {*Orchestrator} orch - Orchestrator shared by every request
 * @param {RunHistory} hist - Run history, nil when history is disabled
 * @param {*LogService} logs - Keeper log reader
 * @returns {Server} Returns new server instance
 * @description
 * - The HTTP controllers and the background monitor all go through this instance
 */
func NewServer(orch *Orchestrator, hist RunHistory, logs *LogService) *Server {
	return &Server{
		orch:      orch,
		history:   hist,
		logs:      logs,
		startTime: time.Now(),
	}
}

func (s *Server) Orchestrator() *Orchestrator {
	return s.orch
}

func (s *Server) Logs() *LogService {
	return s.logs
}

/**
 * Resolve a configured target by name
 * @param {string} name - Target name
 * @returns {*models.Target} Returns the target, config.ErrTargetNotFound when unknown
 */
func (s *Server) Target(name string) (*models.Target, error) {
	return s.orch.Config().Target(name)
}

/**
 * Reload configuration and credentials
 * @returns {error} Returns error if the file cannot be read, the old configuration stays active
 * @description
 * - Runs already in progress keep the configuration they started with
 */
func (s *Server) Reload() error {
	cfg, err := config.Reload()
	if err != nil {
		return err
	}
	if err := config.LoadCredentials(); err != nil {
		logger.Warnf("reload credentials failed: %v", err)
	}
	s.orch.SetConfig(cfg)
	logger.Infof("configuration reloaded from %s, %d targets", config.ConfigFile(), len(cfg.Targets))
	return nil
}

/**
 * List recorded runs
 * @param {string} target - Filter by target, empty for all
 * @param {int} limit - Maximum runs
 */
func (s *Server) History(ctx context.Context, target string, limit int) ([]models.DeploymentOutcome, error) {
	if s.history == nil {
		return nil, fmt.Errorf("history is disabled")
	}
	return s.history.List(ctx, target, limit)
}

func (s *Server) Run(ctx context.Context, runID string) (*models.DeploymentOutcome, error) {
	if s.history == nil {
		return nil, fmt.Errorf("%w: history is disabled", history.ErrRunNotFound)
	}
	return s.history.Get(ctx, runID)
}

/**
 * Start periodic refresh of service states
 * @param {context.Context} ctx - Cancel to stop monitoring
 * @description
 * - Queries the status command of every configured component on every target
 * - Interval comes from server.monitor_interval, 0 disables monitoring
 * - Targets that fail to resolve are logged and skipped
 * @example
 * go server.StartMonitoring(ctx)
 */
func (s *Server) StartMonitoring(ctx context.Context) {
	interval := s.orch.Config().Server.MonitorInterval
	if interval <= 0 {
		logger.Info("Service monitoring is disabled (interval <= 0)")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshServices(ctx)
		}
	}
}

func (s *Server) refreshServices(ctx context.Context) {
	cfg := s.orch.Config()
	for _, name := range cfg.TargetNames() {
		target, err := cfg.Target(name)
		if err != nil {
			logger.Warnf("monitor: %v", err)
			continue
		}
		for _, component := range configuredComponents(cfg) {
			comp, _ := cfg.Component(component)
			state := s.orch.Services().Status(ctx, target, comp.Service)
			logger.Debugf("[%s] monitor: %s is %s", name, comp.Service.Name, state)
		}
	}
}

/**
 * Collect the server state
 * @returns {models.ServerState} Environment and per-target lock/service state
 * @description
 * - Lock state reflects runs of this process only, `deploy-keeper unlock` inspects the target itself
 * - Service states are the last observed ones, nothing is queried here
 */
func (s *Server) GetState() models.ServerState {
	cfg := s.orch.Config()
	holders := s.orch.Locks().Locker().Holders()
	state := models.ServerState{
		StartTime:  s.startTime,
		Version:    env.Version,
		KeeperDir:  env.KeeperDir,
		ConfigFile: config.ConfigFile(),
		Targets:    []models.TargetState{},
	}
	for _, name := range cfg.TargetNames() {
		ts := models.TargetState{Name: name, Services: s.orch.Services().Details(name)}
		if target, err := cfg.Target(name); err == nil {
			ts.Transport = target.Transport
			ts.Root = target.Root
		}
		if owner, ok := holders[name]; ok {
			ts.Locked = true
			ts.LockOwner = fmt.Sprintf("%s run %s", owner.Operation, owner.RunID)
		}
		if ts.Services == nil {
			ts.Services = []models.ServiceDetail{}
		}
		state.Targets = append(state.Targets, ts)
	}
	return state
}

/**
* Get health check response for the server
* @returns {models.HealthResponse} Returns health check response with server status and metrics
* @description
* - Calculates server uptime from start time
* - Counts configured targets and runs holding a target lock
* - Used for health check endpoint and monitoring
 */
func (s *Server) GetHealthz() models.HealthResponse {
	uptime := time.Since(s.startTime)

	return models.HealthResponse{
		Version:   env.Version,
		StartTime: s.startTime.Format(time.RFC3339),
		Status:    "UP",
		Uptime:    uptime.String(),
		Metrics: models.Metrics{
			TotalRequests: GetTotalRequestCount(),
			ErrorRequests: GetTotalErrorCount(),
			Targets:       len(s.orch.Config().Targets),
			ActiveRuns:    len(s.orch.Locks().Locker().Holders()),
		},
	}
}
