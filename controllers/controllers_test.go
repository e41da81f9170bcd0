package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/history"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/middleware"
	"deploy-keeper/internal/models"
	"deploy-keeper/services"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.InitWriter(os.Stderr, "error")
}

type apiFixture struct {
	router  *gin.Engine
	server  *services.Server
	root    string
	logPath string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "app")
	pid := filepath.Join(dir, "backend.pid")
	cfg := &config.AppConfig{
		Defaults: config.DefaultsConfig{
			CommandTimeout:  10 * time.Second,
			SnapshotTimeout: 30 * time.Second,
			HealthTimeout:   time.Second,
			HealthAttempts:  2,
			HealthDelay:     time.Millisecond,
			Backoff:         "fixed",
			Retention:       5,
			PageSize:        10,
			PrereqAttempts:  1,
		},
		Targets: []config.TargetConfig{
			{Name: "web-1", Transport: models.TransportLocal, Root: root},
		},
		Components: map[string]config.ComponentConfig{
			"backend": {
				Service: models.ServiceSpec{
					Name:    "backend",
					Start:   "touch " + pid,
					Stop:    "rm -f " + pid,
					Status:  "test -f " + pid,
					Timeout: 5 * time.Second,
				},
				Sync:        []string{"mkdir -p {{quote .Root}} && echo {{.Label}} > {{quote .Root}}/version"},
				SyncTimeout: 10 * time.Second,
				Health:      models.HealthSpec{Type: models.ProbeCommand, Command: "test -f " + pid},
			},
		},
	}

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orch := services.NewOrchestrator(services.Options{
		Config:   cfg,
		Executor: executor.NewLocalExecutor(),
		Recorder: store,
	})
	logPath := filepath.Join(dir, "deploy-keeper.log")
	server := services.NewServer(orch, store, services.NewLogService(logPath))

	r := gin.New()
	r.Use(middleware.MetricsMiddleware())
	NewAPIController(server).RegisterRoutes(r)
	NewDeployController(server).RegisterRoutes(r)
	NewServiceController(server).RegisterRoutes(r)
	return &apiFixture{router: r, server: server, root: root, logPath: logPath}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (f *apiFixture) deploy(t *testing.T, label string) models.DeploymentOutcome {
	t.Helper()
	w := f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/deploy", map[string]interface{}{"label": label})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[models.DeploymentOutcome](t, w)
}

func TestHealthzCountsRequests(t *testing.T) {
	f := newAPIFixture(t)
	before := services.GetTotalRequestCount()

	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[models.HealthResponse](t, w)
	assert.Equal(t, "UP", h.Status)
	assert.Equal(t, 1, h.Metrics.Targets)
	assert.GreaterOrEqual(t, services.GetTotalRequestCount(), before+1)
}

func TestDeployAndHistory(t *testing.T) {
	f := newAPIFixture(t)

	out := f.deploy(t, "v1")
	assert.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)
	assert.Equal(t, models.ModeFresh, out.Mode)

	out = f.deploy(t, "v2")
	assert.Equal(t, models.OutcomeSucceeded, out.Status, out.Error)
	assert.Equal(t, models.ModeUpdate, out.Mode)
	assert.NotEmpty(t, out.BackupSnapshot)
	data, err := os.ReadFile(filepath.Join(f.root, "version"))
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(data))

	w := f.do(t, http.MethodGet, "/deploy-keeper/api/v1/history?target=web-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[[]models.DeploymentOutcome](t, w)
	require.Len(t, runs, 2)
	assert.Equal(t, out.RunID, runs[0].RunID)

	w = f.do(t, http.MethodGet, "/deploy-keeper/api/v1/history/"+out.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, out.BackupSnapshot, decode[models.DeploymentOutcome](t, w).BackupSnapshot)

	w = f.do(t, http.MethodGet, "/deploy-keeper/api/v1/history/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "run.notexist", decode[models.ErrorResponse](t, w).Code)
}

func TestDeployRejections(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/deploy",
		map[string]interface{}{"backendOnly": true, "frontendOnly": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PlanError", decode[models.DeploymentOutcome](t, w).ErrorKind)

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/ghost/deploy", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "target.notexist", decode[models.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/deploy", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 目标被占用
	target, err := f.server.Target("web-1")
	require.NoError(t, err)
	release, err := f.server.Orchestrator().Locks().Acquire(context.Background(), target, services.LockOwner{RunID: "busy"})
	require.NoError(t, err)
	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/deploy", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyInProgress", decode[models.DeploymentOutcome](t, w).ErrorKind)

	w = f.do(t, http.MethodDelete, "/deploy-keeper/api/v1/targets/web-1/lock", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	release()

	w = f.do(t, http.MethodDelete, "/deploy-keeper/api/v1/targets/web-1/lock", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSnapshotsAndRollback(t *testing.T) {
	f := newAPIFixture(t)
	f.deploy(t, "v1")
	deployed := f.deploy(t, "v2")

	w := f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/snapshots", models.SnapshotRequest{Label: "manual"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	manual := decode[models.Snapshot](t, w)
	assert.Equal(t, "manual", manual.Label)

	w = f.do(t, http.MethodGet, "/deploy-keeper/api/v1/targets/web-1/snapshots?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.SnapshotPage](t, w)
	require.Len(t, page.Snapshots, 1)
	assert.Equal(t, manual.ID, page.Snapshots[0].ID)
	assert.Equal(t, manual.ID, page.Next)

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/rollback",
		models.RollbackRequest{Snapshot: deployed.BackupSnapshot})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[models.DeploymentOutcome](t, w)
	assert.Equal(t, models.OutcomeRolledBack, out.Status, out.Error)
	assert.NotEmpty(t, out.SafetySnapshot)
	data, err := os.ReadFile(filepath.Join(f.root, "version"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/rollback", models.RollbackRequest{Snapshot: "19990101T000000.000000Z"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OutcomeFailedNoRollback, decode[models.DeploymentOutcome](t, w).Status)

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/snapshots/prune", models.PruneRequest{Keep: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[models.PruneReport](t, w)
	assert.Len(t, report.Kept, 1)
	assert.NotEmpty(t, report.Deleted)
}

func TestServiceRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.deploy(t, "v1")

	w := f.do(t, http.MethodGet, "/deploy-keeper/api/v1/targets/web-1/services/backend", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StateRunning, decode[models.ServiceDetail](t, w).State)

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/services/backend/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StateStopped, decode[models.ServiceDetail](t, w).State)

	w = f.do(t, http.MethodGet, "/deploy-keeper/api/v1/targets/web-1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	verdicts := decode[[]models.HealthVerdict](t, w)
	require.Len(t, verdicts, 1)
	assert.Equal(t, models.Unhealthy, verdicts[0].Status)

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/services/backend/restart", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/deploy-keeper/api/v1/targets/web-1/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[[]models.ServiceDetail](t, w)
	require.Len(t, details, 1)
	assert.Equal(t, models.StateRunning, details[0].State)

	w = f.do(t, http.MethodPost, "/deploy-keeper/api/v1/targets/web-1/services/frontend/start", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStateTargetsAndLogs(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, os.WriteFile(f.logPath, []byte(
		"INFO: 2024/01/01 10:00:00 a.go:1: [web-1] deploy started\n"+
			"ERROR: 2024/01/01 10:00:01 a.go:2: [web-1] verify failed\n"), 0o644))

	w := f.do(t, http.MethodGet, "/deploy-keeper/api/v1/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[models.ServerState](t, w)
	require.Len(t, state.Targets, 1)
	assert.Equal(t, models.TransportLocal, state.Targets[0].Transport)

	w = f.do(t, http.MethodGet, "/deploy-keeper/api/v1/targets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	targets := decode[[]models.Target](t, w)
	require.Len(t, targets, 1)
	assert.True(t, strings.HasSuffix(targets[0].BackupRoot, "app-backups"))

	w = f.do(t, http.MethodGet, "/deploy-keeper/api/v1/logs?level=error", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lines := decode[[]string](t, w)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "verify failed")
}
