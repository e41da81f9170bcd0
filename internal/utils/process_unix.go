//go:build unix

package utils

import (
	"os/exec"
	"syscall"
	"time"
)

// SetNewPG 让子进程成为新进程组的组长，超时时可以连同其子进程一起结束
func SetNewPG(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

/**
 * Kill a process group started with SetNewPG
 * @param {int} pid - Group leader PID
 * @returns {error} Returns error if the group could not be signalled
 * @description
 * - Sends SIGTERM to the whole group first
 * - Polls 10 times at 100ms for the leader to exit, then sends SIGKILL
 */
func KillProcessGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err == nil {
		for i := 0; i < 10; i++ {
			if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
				// 进程已退出
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}
