package models

// ErrorResponse API错误响应，code是机器可读的错误类别，如target.busy
type ErrorResponse struct {
	Code  string `json:"code" example:"target.busy"`
	Error string `json:"error"`
}

// RollbackRequest 回滚请求
type RollbackRequest struct {
	Snapshot   string   `json:"snapshot" example:"latest"`
	Components []string `json:"components,omitempty"`
}

// SnapshotRequest 手动创建快照请求
type SnapshotRequest struct {
	Label string `json:"label" example:"before-hotfix"`
}

// PruneRequest 清理快照请求，keep<=0使用配置的保留数
type PruneRequest struct {
	Keep int `json:"keep" example:"5"`
}

// SnapshotPage is one page of a newest-first snapshot listing.
// Next is the id to pass as `after` for the following page, empty on the last page.
type SnapshotPage struct {
	Snapshots []Snapshot `json:"snapshots"`
	Next      string     `json:"next,omitempty"`
}
