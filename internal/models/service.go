package models

import "time"

type ServiceState string

const (
	// 尚未观测过，或者状态查询本身失败(连接/认证/超时)
	StateUnknown ServiceState = "unknown"
	// 状态命令返回非0，服务未运行
	StateStopped ServiceState = "stopped"
	// 启动命令已下发，尚未确认
	StateStarting ServiceState = "starting"
	// 状态命令返回0
	StateRunning ServiceState = "running"
	// 启动失败，或健康检查判定进程已不可用
	StateCrashed ServiceState = "crashed"
)

/**
 * ServiceSpec describes how to drive one long-running process on a target
 * @property {string} name - Service name as the process manager knows it
 * @property {string} start - Start command template
 * @property {string} stop - Stop command template
 * @property {string} status - Status command template, exit 0 means running
 * @property {time.Duration} timeout - Per command timeout
 */
type ServiceSpec struct {
	Name    string        `json:"name" mapstructure:"name"`
	Start   string        `json:"start" mapstructure:"start"`
	Stop    string        `json:"stop" mapstructure:"stop"`
	Status  string        `json:"status" mapstructure:"status"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

type ServiceDetail struct {
	Target    string       `json:"target"`
	Name      string       `json:"name"`
	State     ServiceState `json:"state"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// TargetState is the server's view of one configured target
type TargetState struct {
	Name      string          `json:"name"`
	Transport string          `json:"transport"`
	Root      string          `json:"root"`
	Locked    bool            `json:"locked"`
	LockOwner string          `json:"lockOwner,omitempty"`
	Services  []ServiceDetail `json:"services"`
}

// ServerState 服务器运行状态
type ServerState struct {
	StartTime  time.Time     `json:"startTime"`
	Version    string        `json:"version"`
	KeeperDir  string        `json:"keeperDir"`
	ConfigFile string        `json:"configFile"`
	Targets    []TargetState `json:"targets"`
}
