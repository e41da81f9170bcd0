package models

import "time"

type SnapshotKind string

const (
	// 部署前的备份
	SnapshotBackup SnapshotKind = "backup"
	// 恢复前对当前状态的备份，使回滚本身可撤销
	SnapshotSafety SnapshotKind = "safety"
)

/**
 * Snapshot is one immutable point-in-time copy of a directory on a target
 * @property {string} id - Timestamp derived identifier, lexical order equals creation order
 * @property {string} source - Path the snapshot was copied from
 * @property {int64} size - Size of the copied data in bytes
 * @property {string} label - Free text such as a git revision
 * @property {SnapshotKind} kind - backup/safety
 * @property {time.Time} createdAt - Creation time (UTC)
 */
type Snapshot struct {
	ID        string       `json:"id"`
	Source    string       `json:"source"`
	Size      int64        `json:"size"`
	Label     string       `json:"label,omitempty"`
	Kind      SnapshotKind `json:"kind"`
	CreatedAt time.Time    `json:"createdAt"`
}

// RetentionPolicy bounds how many snapshots a target keeps.
type RetentionPolicy struct {
	Keep int `json:"keep"`
}

type PruneReport struct {
	Kept    []string          `json:"kept"`
	Deleted []string          `json:"deleted"`
	Skipped []string          `json:"skipped,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}
