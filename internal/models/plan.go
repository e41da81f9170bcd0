package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	ComponentBackend  = "backend"
	ComponentFrontend = "frontend"
	ComponentsBoth    = "both"
)

const (
	DefaultRetention         = 5
	DefaultMaxHealthAttempts = 5
	DefaultHealthTimeout     = 5 * time.Second
	DefaultHealthDelay       = 10 * time.Second
)

// BackoffSpec selects the delay function used between health attempts.
type BackoffSpec struct {
	Kind  string        `json:"kind" mapstructure:"kind"` // fixed/linear/exponential
	Delay time.Duration `json:"delay" mapstructure:"delay"`
	Max   time.Duration `json:"max" mapstructure:"max"`
}

/**
 * DeploymentPlan describes one orchestration run
 * @property {string} components - backend/frontend/both
 * @property {bool} skipBackup - Do not snapshot before syncing (caller accepted risk)
 * @property {bool} skipHealthCheck - Treat the run as verified without probing
 * @property {int} maxHealthAttempts - Retry budget for each health check
 * @property {time.Duration} healthTimeout - Per attempt timeout
 * @property {BackoffSpec} backoff - Delay between attempts
 * @property {string} label - Free text attached to the backup snapshot (e.g. git revision)
 * @property {int} prereqAttempts - Install attempts per prerequisite on a fresh target
 * @property {int} retention - Snapshots kept after a new backup
 */
type DeploymentPlan struct {
	Components        string        `json:"components"`
	BackendOnly       bool          `json:"backendOnly,omitempty"`
	FrontendOnly      bool          `json:"frontendOnly,omitempty"`
	SkipBackup        bool          `json:"skipBackup"`
	SkipHealthCheck   bool          `json:"skipHealthCheck"`
	MaxHealthAttempts int           `json:"maxHealthAttempts"`
	HealthTimeout     time.Duration `json:"healthTimeout"`
	Backoff           BackoffSpec   `json:"backoff"`
	Label             string        `json:"label,omitempty"`
	PrereqAttempts    int           `json:"prereqAttempts"`
	Retention         int           `json:"retention"`
}

// Validate rejects contradictory or out of range flags and resolves Components.
func (p *DeploymentPlan) Validate() error {
	if p.BackendOnly && p.FrontendOnly {
		return &PlanError{Field: "components", Reason: "backend-only and frontend-only are mutually exclusive"}
	}
	comp := strings.ToLower(strings.TrimSpace(p.Components))
	switch {
	case p.BackendOnly:
		if comp != "" && comp != ComponentBackend {
			return &PlanError{Field: "components", Reason: fmt.Sprintf("backend-only conflicts with '%s'", comp)}
		}
		comp = ComponentBackend
	case p.FrontendOnly:
		if comp != "" && comp != ComponentFrontend {
			return &PlanError{Field: "components", Reason: fmt.Sprintf("frontend-only conflicts with '%s'", comp)}
		}
		comp = ComponentFrontend
	case comp == "":
		comp = ComponentsBoth
	}
	switch comp {
	case ComponentBackend, ComponentFrontend, ComponentsBoth:
	default:
		return &PlanError{Field: "components", Reason: fmt.Sprintf("unknown component selection '%s'", comp)}
	}
	p.Components = comp

	if p.MaxHealthAttempts < 0 {
		return &PlanError{Field: "maxHealthAttempts", Reason: "must be positive"}
	}
	if p.MaxHealthAttempts == 0 {
		p.MaxHealthAttempts = DefaultMaxHealthAttempts
	}
	if p.HealthTimeout < 0 {
		return &PlanError{Field: "healthTimeout", Reason: "must be positive"}
	}
	if p.HealthTimeout == 0 {
		p.HealthTimeout = DefaultHealthTimeout
	}
	if p.Backoff.Delay < 0 || p.Backoff.Max < 0 {
		return &PlanError{Field: "backoff", Reason: "delays must not be negative"}
	}
	if p.Backoff.Delay == 0 {
		p.Backoff.Delay = DefaultHealthDelay
	}
	switch p.Backoff.Kind {
	case "":
		p.Backoff.Kind = "fixed"
	case "fixed", "linear", "exponential":
	default:
		return &PlanError{Field: "backoff", Reason: fmt.Sprintf("unknown kind '%s'", p.Backoff.Kind)}
	}
	if p.PrereqAttempts < 0 {
		return &PlanError{Field: "prereqAttempts", Reason: "must be positive"}
	}
	if p.PrereqAttempts == 0 {
		p.PrereqAttempts = 1
	}
	if p.Retention < 0 {
		return &PlanError{Field: "retention", Reason: "must be positive"}
	}
	if p.Retention == 0 {
		p.Retention = DefaultRetention
	}
	return nil
}

// SelectedComponents lists the components the plan touches, backend first.
func (p *DeploymentPlan) SelectedComponents() []string {
	switch p.Components {
	case ComponentBackend:
		return []string{ComponentBackend}
	case ComponentFrontend:
		return []string{ComponentFrontend}
	default:
		return []string{ComponentBackend, ComponentFrontend}
	}
}
