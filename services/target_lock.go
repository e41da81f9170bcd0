package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

// lockHeldExit is returned by the acquire script when the lock directory already exists.
const lockHeldExit = 75

// TargetLocker is the in-process half of the per-target lock.
type TargetLocker struct {
	mu   sync.Mutex
	held map[string]LockOwner
}

/**
 * LockOwner identifies the run holding a target
 * @property {string} runId - Run identifier
 * @property {string} operation - deploy/rollback
 * @property {string} host - Machine the run started on
 * @property {int} pid - Process the run lives in
 * @property {time.Time} since - Acquisition time
 */
type LockOwner struct {
	RunID     string    `json:"runId"`
	Operation string    `json:"operation"`
	Host      string    `json:"host"`
	Pid       int       `json:"pid"`
	Since     time.Time `json:"since"`
}

func NewTargetLocker() *TargetLocker {
	return &TargetLocker{held: make(map[string]LockOwner)}
}

// TryLock never blocks: it either takes the target or reports who has it.
func (l *TargetLocker) TryLock(name string, owner LockOwner) (LockOwner, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[name]; ok {
		return cur, false
	}
	l.held[name] = owner
	activeRuns.Inc()
	return owner, true
}

func (l *TargetLocker) Unlock(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		delete(l.held, name)
		activeRuns.Dec()
	}
}

// Holders returns a copy of the current holders keyed by target name.
func (l *TargetLocker) Holders() map[string]LockOwner {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]LockOwner, len(l.held))
	for k, v := range l.held {
		out[k] = v
	}
	return out
}

/**
 * LockManager combines the in-process lock with an advisory lock directory on the target
 * @description
 * - mkdir is atomic on POSIX filesystems, so two hosts racing for the same target
 *   cannot both create the lock directory
 * - The lock directory holds an `owner` file naming the run that created it
 * - A second run fails fast with ErrAlreadyInProgress, it never waits
 */
type LockManager struct {
	exec    executor.Executor
	local   *TargetLocker
	timeout atomic.Int64
}

func NewLockManager(exec executor.Executor, local *TargetLocker) *LockManager {
	if local == nil {
		local = NewTargetLocker()
	}
	m := &LockManager{exec: exec, local: local}
	m.SetTimeout(30 * time.Second)
	return m
}

// SetTimeout 设置锁命令超时，<=0 时忽略
func (m *LockManager) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout.Store(int64(d))
	}
}

func (m *LockManager) Timeout() time.Duration {
	return time.Duration(m.timeout.Load())
}

func (m *LockManager) Locker() *TargetLocker {
	return m.local
}

func newLockOwner(runID, operation string) LockOwner {
	if runID == "" {
		runID = uuid.NewString()
	}
	host, _ := os.Hostname()
	return LockOwner{
		RunID:     runID,
		Operation: operation,
		Host:      host,
		Pid:       os.Getpid(),
		Since:     time.Now().UTC(),
	}
}

/**
 * Acquire both lock layers for target
 * @param {context.Context} ctx - Context of the run
 * @param {*models.Target} target - Target to lock
 * @param {LockOwner} owner - Identity written into the lock
 * @returns {func()} Release function, safe to call more than once
 * @returns {error} ErrAlreadyInProgress when another run holds either layer
 */
func (m *LockManager) Acquire(ctx context.Context, target *models.Target, owner LockOwner) (func(), error) {
	if holder, ok := m.local.TryLock(target.Name, owner); !ok {
		return nil, fmt.Errorf("%w: target '%s' held by run %s (%s)",
			models.ErrAlreadyInProgress, target.Name, holder.RunID, holder.Operation)
	}

	data, _ := json.Marshal(owner)
	lockDir := utils.ShellQuote(target.LockPath)
	script := fmt.Sprintf(
		"mkdir -p %s && if mkdir %s 2>/dev/null; then printf '%%s\\n' %s > %s/owner; else cat %s/owner 2>/dev/null; exit %d; fi",
		utils.ShellQuote(path.Dir(target.LockPath)), lockDir,
		utils.ShellQuote(string(data)), lockDir, lockDir, lockHeldExit)

	res, err := m.exec.Execute(ctx, target, script, m.Timeout())
	if err != nil {
		m.local.Unlock(target.Name)
		if models.IsNonZeroExit(err) && res != nil && res.ExitCode == lockHeldExit {
			return nil, fmt.Errorf("%w: target '%s' is locked on the host: %s",
				models.ErrAlreadyInProgress, target.Name, strings.TrimSpace(res.Stdout))
		}
		return nil, fmt.Errorf("acquire lock %s: %w", target.LockPath, err)
	}
	logger.Debugf("[%s] lock acquired by run %s", target.Name, owner.RunID)

	var once sync.Once
	return func() {
		once.Do(func() {
			// 运行被取消时仍然要释放远端锁
			rctx := context.WithoutCancel(ctx)
			if _, err := m.exec.Execute(rctx, target, "rm -rf "+lockDir, m.Timeout()); err != nil {
				logger.Errorf("[%s] release lock %s failed: %v", target.Name, target.LockPath, err)
			}
			m.local.Unlock(target.Name)
			logger.Debugf("[%s] lock released by run %s", target.Name, owner.RunID)
		})
	}, nil
}

/**
 * Inspect the on-target lock
 * @returns {*LockOwner} Owner recorded in the lock, nil when the target is unlocked
 */
func (m *LockManager) Inspect(ctx context.Context, target *models.Target) (*LockOwner, error) {
	lockDir := utils.ShellQuote(target.LockPath)
	script := fmt.Sprintf("if [ -d %s ]; then cat %s/owner 2>/dev/null || echo '{}'; fi", lockDir, lockDir)
	res, err := m.exec.Execute(ctx, target, script, m.Timeout())
	if err != nil {
		return nil, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return nil, nil
	}
	var owner LockOwner
	if err := json.Unmarshal([]byte(out), &owner); err != nil {
		return nil, fmt.Errorf("decode lock owner: %w", err)
	}
	return &owner, nil
}

/**
 * Remove a stale on-target lock left behind by a crashed run
 * @description
 * - Refuses when this process itself holds the target
 */
func (m *LockManager) ForceUnlock(ctx context.Context, target *models.Target) error {
	if holder, ok := m.local.Holders()[target.Name]; ok {
		return fmt.Errorf("%w: run %s is still active in this process", models.ErrAlreadyInProgress, holder.RunID)
	}
	if _, err := m.exec.Execute(ctx, target, "rm -rf "+utils.ShellQuote(target.LockPath), m.Timeout()); err != nil {
		return fmt.Errorf("remove lock %s: %w", target.LockPath, err)
	}
	logger.Warnf("[%s] lock %s removed by operator", target.Name, target.LockPath)
	return nil
}
