package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
)

func init() {
	logger.InitWriter(os.Stderr, "error")
	prereqRetryDelay = 0
}

// newLocalTarget lays out a local target under a temp dir: <dir>/app is the root, <dir>/app-backups holds snapshots.
func newLocalTarget(t *testing.T, name string) *models.Target {
	t.Helper()
	dir := t.TempDir()
	target := &models.Target{
		Name:      name,
		Transport: models.TransportLocal,
		Root:      filepath.Join(dir, "app"),
	}
	target.Normalize()
	require.NoError(t, target.Validate())
	return target
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// faultExecutor runs commands locally but fails those containing one of the given fragments.
type faultExecutor struct {
	local *executor.LocalExecutor

	mu       sync.Mutex
	failOn   map[string]error
	after    func(command string)
	commands []string
}

func newFaultExecutor() *faultExecutor {
	return &faultExecutor{local: executor.NewLocalExecutor(), failOn: make(map[string]error)}
}

func (f *faultExecutor) FailOn(fragment string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[fragment] = err
}

// AfterCommand registers fn to run once each command has finished.
func (f *faultExecutor) AfterCommand(fn func(command string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = fn
}

func (f *faultExecutor) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *faultExecutor) Execute(ctx context.Context, target *models.Target, command string, timeout time.Duration) (*executor.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	var injected error
	for fragment, err := range f.failOn {
		if strings.Contains(command, fragment) {
			injected = err
		}
	}
	after := f.after
	f.mu.Unlock()
	if after != nil {
		defer after(command)
	}
	if injected != nil {
		if models.IsNonZeroExit(injected) {
			return &executor.Result{ExitCode: 1}, injected
		}
		return nil, injected
	}
	return f.local.Execute(ctx, target, command, timeout)
}

func exitError(code int) error {
	return &models.ExecutionError{Kind: models.ExecNonZeroExit, Code: code}
}

func transportError() error {
	return &models.ExecutionError{Kind: models.ExecConnectionRefused, Err: os.ErrDeadlineExceeded}
}

// scriptedChecker answers health checks from a fixed list of statuses, the last one repeats.
type scriptedChecker struct {
	mu       sync.Mutex
	statuses []models.HealthStatus
	calls    int
}

func (s *scriptedChecker) next() models.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	return s.statuses[i]
}

func (s *scriptedChecker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedChecker) Check(ctx context.Context, target *models.Target, component string, spec models.HealthSpec, timeout time.Duration) models.HealthVerdict {
	return models.HealthVerdict{
		Target:    target.Name,
		Component: component,
		Status:    s.next(),
		Attempts:  1,
		CheckedAt: time.Now().UTC(),
	}
}

func (s *scriptedChecker) CheckWithRetry(ctx context.Context, target *models.Target, component string, spec models.HealthSpec, policy RetryPolicy) models.HealthVerdict {
	var v models.HealthVerdict
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		v = s.Check(ctx, target, component, spec, policy.Timeout)
		v.Attempts = attempt
		if v.IsHealthy() {
			return v
		}
	}
	return v
}

// serviceSpec manages a fake service through a per-target pid file next to the target root.
func serviceSpec(target *models.Target, name string) models.ServiceSpec {
	pid := filepath.Join(filepath.Dir(target.Root), "{{.Target}}-"+name+".pid")
	return models.ServiceSpec{
		Name:    name,
		Start:   "touch " + pid,
		Stop:    "rm " + pid,
		Status:  "test -f " + pid,
		Timeout: 5 * time.Second,
	}
}

// testConfig configures a backend that writes its version into <Root>/version.
func testConfig(target *models.Target, version string) *config.AppConfig {
	cfg := &config.AppConfig{
		Defaults: config.DefaultsConfig{
			CommandTimeout:  10 * time.Second,
			SnapshotTimeout: 30 * time.Second,
			HealthTimeout:   time.Second,
			HealthAttempts:  3,
			HealthDelay:     time.Millisecond,
			Backoff:         "fixed",
			Retention:       5,
			PageSize:        2,
			PrereqAttempts:  1,
		},
		Components: map[string]config.ComponentConfig{
			"backend": {
				Service:     serviceSpec(target, "backend"),
				Sync:        []string{"mkdir -p {{quote .Root}} && echo " + version + " > {{quote .Root}}/version"},
				SyncTimeout: 10 * time.Second,
				Health:      models.HealthSpec{Type: models.ProbeHTTP, URL: "http://127.0.0.1:1/health"},
			},
		},
	}
	return cfg
}

func testPlan() models.DeploymentPlan {
	return models.DeploymentPlan{
		MaxHealthAttempts: 3,
		HealthTimeout:     time.Second,
		Backoff:           models.BackoffSpec{Kind: "fixed", Delay: time.Millisecond},
		Retention:         5,
	}
}

func stageNames(out *models.DeploymentOutcome) []models.Stage {
	var names []models.Stage
	for _, s := range out.Stages {
		names = append(names, s.Stage)
	}
	return names
}

func stageStatus(out *models.DeploymentOutcome, stage models.Stage) models.StageStatus {
	for _, s := range out.Stages {
		if s.Stage == stage {
			return s.Status
		}
	}
	return ""
}

func snapshotIDs(t *testing.T, store *SnapshotStore, target *models.Target) []string {
	t.Helper()
	all, err := store.ListAll(context.Background(), target)
	require.NoError(t, err)
	var ids []string
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	return ids
}
