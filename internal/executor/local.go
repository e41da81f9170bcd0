package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

// LocalExecutor runs commands on this machine through `sh -c`.
type LocalExecutor struct {
	Shell string
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{Shell: "sh"}
}

func (e *LocalExecutor) Execute(ctx context.Context, target *models.Target, command string, timeout time.Duration) (*Result, error) {
	timeout = normalizeTimeout(timeout)
	// 调用方取消不打断正在执行的命令，只由超时结束
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	logger.Debugf("[%s] local exec: %s", target.Name, command)

	cmd := exec.CommandContext(runCtx, e.Shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// 超时时结束整个进程组，后台子进程可能继续占用输出管道
	utils.SetNewPG(cmd)
	cmd.Cancel = func() error {
		return utils.KillProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &models.ExecutionError{
			Kind:    models.ExecTimeout,
			Command: command,
			Stderr:  truncate(res.Stderr),
			Err:     fmt.Errorf("command did not finish within %v", timeout),
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nonZeroExit(command, res)
		}
		// 进程都没能启动，按连接失败处理
		return nil, &models.ExecutionError{
			Kind:    models.ExecConnectionRefused,
			Command: command,
			Err:     err,
		}
	}
	return res, nil
}
