package config

import (
	"time"

	"deploy-keeper/internal/models"
)

/**
 * Component configuration (backend or frontend)
 * @property {ServiceSpec} service - Commands driving the long-running process
 * @property {[]string} sync - Commands that bring new artifacts onto the target, run in order
 * @property {HealthSpec} health - How the component is probed after a restart
 * @property {time.Duration} syncTimeout - Timeout of each sync command
 * @property {bool} migrations - Run pending migrations after this component is synced
 */
type ComponentConfig struct {
	Service     models.ServiceSpec `mapstructure:"service" json:"service"`
	Sync        []string           `mapstructure:"sync" json:"sync"`
	SyncTimeout time.Duration      `mapstructure:"sync_timeout" json:"syncTimeout"`
	Health      models.HealthSpec  `mapstructure:"health" json:"health"`
	Migrations  bool               `mapstructure:"migrations" json:"migrations"`
}

/**
 * Prerequisite installed on fresh targets
 * @property {string} name - Display name, e.g. "nodejs"
 * @property {string} check - Exit 0 means already present
 * @property {string} install - Installation command
 */
type PrerequisiteConfig struct {
	Name    string        `mapstructure:"name" json:"name"`
	Check   string        `mapstructure:"check" json:"check"`
	Install string        `mapstructure:"install" json:"install"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

/**
 * Migration scripts applied during artifact sync
 * @property {string} dir - Directory on the target holding NNN_name scripts (template)
 * @property {string} command - Command applying one script, {{.Script}} is its full path
 * @property {time.Duration} timeout - Timeout of one script
 */
type MigrationConfig struct {
	Dir     string        `mapstructure:"dir" json:"dir"`
	Command string        `mapstructure:"command" json:"command"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

/**
 * Look up a component by name
 * @param {string} name - backend/frontend
 * @returns {ComponentConfig} Component configuration
 * @returns {error} ErrComponentNotFound when it is not configured
 */
func (cfg *AppConfig) Component(name string) (ComponentConfig, error) {
	c, ok := cfg.Components[name]
	if !ok {
		return ComponentConfig{}, ErrComponentNotFound
	}
	return c, nil
}

// Plan builds a plan prefilled from the configured defaults; flags then override fields.
func (cfg *AppConfig) Plan() *models.DeploymentPlan {
	d := cfg.Defaults
	return &models.DeploymentPlan{
		MaxHealthAttempts: d.HealthAttempts,
		HealthTimeout:     d.HealthTimeout,
		Backoff: models.BackoffSpec{
			Kind:  d.Backoff,
			Delay: d.HealthDelay,
			Max:   d.HealthMaxDelay,
		},
		PrereqAttempts: d.PrereqAttempts,
		Retention:      d.Retention,
	}
}
