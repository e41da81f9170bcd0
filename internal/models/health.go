package models

import "time"

type HealthStatus string

const (
	Healthy     HealthStatus = "healthy"
	Unhealthy   HealthStatus = "unhealthy"
	Unreachable HealthStatus = "unreachable"
)

const (
	ProbeHTTP       = "http"
	ProbeRemoteHTTP = "remote-http"
	ProbeTCP        = "tcp"
	ProbeProcess    = "process"
	ProbeCommand    = "command"
)

/**
 * HealthSpec describes how a component is probed
 * @property {string} type - http/remote-http/tcp/process/command
 * @property {string} url - URL for http and remote-http probes
 * @property {string} address - host:port for tcp probes
 * @property {string} command - Shell command for command probes, exit 0 means healthy
 */
type HealthSpec struct {
	Type    string `json:"type" mapstructure:"type"`
	URL     string `json:"url,omitempty" mapstructure:"url"`
	Address string `json:"address,omitempty" mapstructure:"address"`
	Command string `json:"command,omitempty" mapstructure:"command"`
}

// HealthVerdict is the classified result of a probe. Never cached across runs.
type HealthVerdict struct {
	Target    string       `json:"target"`
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	Raw       string       `json:"raw,omitempty"`
	Attempts  int          `json:"attempts"`
	CheckedAt time.Time    `json:"checkedAt"`
}

func (v HealthVerdict) IsHealthy() bool {
	return v.Status == Healthy
}

// HealthResponse 健康检查响应结构
// @Description /healthz 响应数据结构
type HealthResponse struct {
	Version   string  `json:"version" example:"1.0.0"`
	StartTime string  `json:"startTime" example:"2024-01-01T10:00:00Z"`
	Status    string  `json:"status" example:"UP"`
	Uptime    string  `json:"uptime" example:"1h30m45s"`
	Metrics   Metrics `json:"metrics"`
}

// Metrics 关键指标结构
type Metrics struct {
	TotalRequests int64 `json:"totalRequests" example:"1000"`
	ErrorRequests int64 `json:"errorRequests" example:"5"`
	Targets       int   `json:"targets" example:"2"`
	ActiveRuns    int   `json:"activeRuns" example:"1"`
}
