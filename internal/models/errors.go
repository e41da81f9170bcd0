package models

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInProgress = errors.New("another run is already in progress for this target")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrCancelled         = errors.New("run cancelled")
)

// ExecKind classifies transport level failures of a remote command.
type ExecKind string

const (
	ExecTimeout           ExecKind = "Timeout"
	ExecConnectionRefused ExecKind = "ConnectionRefused"
	ExecAuthFailure       ExecKind = "AuthFailure"
	ExecNonZeroExit       ExecKind = "NonZeroExit"
)

/**
 * ExecutionError is returned by executors
 * @property {ExecKind} kind - Failure class
 * @property {int} code - Exit code, only meaningful for NonZeroExit
 * @property {string} command - The command that failed
 * @property {string} stderr - Captured stderr (may be truncated)
 * @property {error} err - Underlying error
 */
type ExecutionError struct {
	Kind    ExecKind
	Code    int
	Command string
	Stderr  string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Kind == ExecNonZeroExit {
		if e.Stderr != "" {
			return fmt.Sprintf("command exited with code %d: %s", e.Code, e.Stderr)
		}
		return fmt.Sprintf("command exited with code %d", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether the failure happened before the command could report an exit code.
func (e *ExecutionError) IsTransport() bool {
	return e.Kind != ExecNonZeroExit
}

// IsNonZeroExit reports whether err is a command that ran and exited with a non-zero code.
func IsNonZeroExit(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Kind == ExecNonZeroExit
}

// IsTransportError reports whether err is a connection/auth/timeout failure.
func IsTransportError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.IsTransport()
}

type SnapshotErrorKind string

const (
	SnapshotInsufficientSpace SnapshotErrorKind = "InsufficientSpace"
	SnapshotSourceMissing     SnapshotErrorKind = "SourceMissing"
	SnapshotCopyFailed        SnapshotErrorKind = "CopyFailed"
	SnapshotNotFound          SnapshotErrorKind = "NotFound"
	SnapshotDeleteFailed      SnapshotErrorKind = "DeleteFailed"
)

type SnapshotError struct {
	Kind SnapshotErrorKind
	ID   string
	Path string
	Err  error
}

func (e *SnapshotError) Error() string {
	msg := fmt.Sprintf("snapshot %s", e.Kind)
	if e.ID != "" {
		msg += fmt.Sprintf(" [%s]", e.ID)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

func (e *SnapshotError) Is(target error) bool {
	return e.Kind == SnapshotNotFound && target == ErrSnapshotNotFound
}

type ServiceError struct {
	Service string
	Op      string
	State   ServiceState
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service '%s' %s failed (state %s): %v", e.Service, e.Op, e.State, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

type HealthCheckError struct {
	Component string
	Verdict   HealthVerdict
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check of '%s' failed after %d attempts: %s",
		e.Component, e.Verdict.Attempts, e.Verdict.Status)
}

type PlanError struct {
	Field  string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("invalid plan: %s: %s", e.Field, e.Reason)
}

/**
 * KindOf maps an error to the machine readable kind placed in outcomes
 * @param {error} err - Any error produced by a stage
 * @returns {string} One of the taxonomy names, or "Error" for unclassified errors
 */
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var (
		ee *ExecutionError
		se *SnapshotError
		sv *ServiceError
		he *HealthCheckError
		pe *PlanError
	)
	switch {
	case errors.Is(err, ErrAlreadyInProgress):
		return "AlreadyInProgress"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.As(err, &pe):
		return "PlanError"
	case errors.As(err, &he):
		return "HealthCheckError"
	case errors.As(err, &sv):
		return "ServiceError"
	case errors.As(err, &se):
		return "SnapshotError." + string(se.Kind)
	case errors.As(err, &ee):
		if ee.Kind == ExecNonZeroExit {
			return "ExecutionError.NonZeroExit"
		}
		return "TransportError." + string(ee.Kind)
	}
	return "Error"
}
