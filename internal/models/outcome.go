package models

import "time"

type OutcomeStatus string

const (
	OutcomeSucceeded        OutcomeStatus = "succeeded"
	OutcomeRolledBack       OutcomeStatus = "rolled_back"
	OutcomeFailedNoRollback OutcomeStatus = "failed_no_rollback"
)

const (
	OperationDeploy   = "deploy"
	OperationRollback = "rollback"
)

type DeployMode string

const (
	ModeFresh  DeployMode = "fresh"
	ModeUpdate DeployMode = "update"
)

type Stage string

const (
	StageInit                 Stage = "init"
	StageDetectMode           Stage = "detect_mode"
	StageInstallPrerequisites Stage = "install_prerequisites"
	StageBackup               Stage = "backup"
	StageSyncArtifacts        Stage = "sync_artifacts"
	StageMigrations           Stage = "migrations"
	StageRestartServices      Stage = "restart_services"
	StageVerify               Stage = "verify"
	StageRollback             Stage = "rollback"
	StageResolveSnapshot      Stage = "resolve_snapshot"
	StageSafetySnapshot       Stage = "safety_snapshot"
	StageStopServices         Stage = "stop_services"
	StageRestore              Stage = "restore"
	StageStartServices        Stage = "start_services"
)

type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
)

type StageResult struct {
	Stage     Stage         `json:"stage"`
	Status    StageStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
}

/**
 * DeploymentOutcome is the terminal record of one orchestration run
 * @property {OutcomeStatus} status - succeeded/rolled_back/failed_no_rollback
 * @property {string} backupSnapshot - Snapshot created by this run before syncing
 * @property {string} rollbackSnapshot - Snapshot restored by a rollback
 * @property {string} safetySnapshot - Snapshot of the broken state taken before restoring
 * @property {[]StageResult} stages - Every stage in the order it ran
 * @property {Stage} failedStage - First stage that failed
 * @property {string} errorKind - Machine readable error class, see KindOf
 */
type DeploymentOutcome struct {
	RunID            string          `json:"runId"`
	Target           string          `json:"target"`
	Operation        string          `json:"operation"`
	Status           OutcomeStatus   `json:"status"`
	Mode             DeployMode      `json:"mode,omitempty"`
	Plan             *DeploymentPlan `json:"plan,omitempty"`
	BackupSnapshot   string          `json:"backupSnapshot,omitempty"`
	RollbackSnapshot string          `json:"rollbackSnapshot,omitempty"`
	SafetySnapshot   string          `json:"safetySnapshot,omitempty"`
	Verdicts         []HealthVerdict `json:"verdicts,omitempty"`
	Stages           []StageResult   `json:"stages"`
	FailedStage      Stage           `json:"failedStage,omitempty"`
	ErrorKind        string          `json:"errorKind,omitempty"`
	Error            string          `json:"error,omitempty"`
	StartedAt        time.Time       `json:"startedAt"`
	FinishedAt       time.Time       `json:"finishedAt"`
	Err              error           `json:"-"`
}

func (o *DeploymentOutcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

// ExitCode follows the CI convention: 0 succeeded, 1 anything else.
// A manual rollback that restored a healthy snapshot did what was asked and also exits 0.
func (o *DeploymentOutcome) ExitCode() int {
	if o.Status == OutcomeSucceeded {
		return 0
	}
	if o.Operation == OperationRollback && o.Status == OutcomeRolledBack {
		return 0
	}
	return 1
}

// Fail records the first failing stage and its error; later calls only append to Error.
func (o *DeploymentOutcome) Fail(stage Stage, err error) {
	if o.Err == nil {
		o.Err = err
		o.FailedStage = stage
		o.ErrorKind = KindOf(err)
		o.Error = err.Error()
		return
	}
	o.Error += "; " + err.Error()
}
