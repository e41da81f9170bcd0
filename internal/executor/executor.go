package executor

import (
	"context"
	"time"

	"deploy-keeper/internal/models"
)

// DefaultTimeout bounds commands issued without an explicit timeout.
const DefaultTimeout = 60 * time.Second

// maxStderr caps how much stderr is copied into an ExecutionError.
const maxStderr = 2048

// Result is what a finished remote command reported.
type Result struct {
	ExitCode int           `json:"exitCode"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

/**
 * Executor runs one shell command on a target
 * @description
 * - A command that ran and exited non-zero returns both the Result and an
 *   ExecutionError of kind NonZeroExit
 * - Transport failures (timeout, refused, auth) return a nil Result
 * - Implementations never retry; callers own retry policy
 * - Cancellation of ctx does not interrupt a command that is already running,
 *   only the timeout does
 */
type Executor interface {
	Execute(ctx context.Context, target *models.Target, command string, timeout time.Duration) (*Result, error)
}

// Dispatcher routes each target to the executor matching its transport.
type Dispatcher struct {
	SSH   Executor
	Local Executor
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		SSH:   NewSSHExecutor(),
		Local: NewLocalExecutor(),
	}
}

func (d *Dispatcher) Execute(ctx context.Context, target *models.Target, command string, timeout time.Duration) (*Result, error) {
	if target.Transport == models.TransportLocal {
		return d.Local.Execute(ctx, target, command, timeout)
	}
	return d.SSH.Execute(ctx, target, command, timeout)
}

// Close releases pooled connections held by the underlying executors.
func (d *Dispatcher) Close() error {
	if c, ok := d.SSH.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func normalizeTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

func truncate(s string) string {
	if len(s) <= maxStderr {
		return s
	}
	return s[len(s)-maxStderr:]
}

func nonZeroExit(command string, res *Result) error {
	return &models.ExecutionError{
		Kind:    models.ExecNonZeroExit,
		Code:    res.ExitCode,
		Command: command,
		Stderr:  truncate(res.Stderr),
	}
}
