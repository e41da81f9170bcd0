package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

const maxHealthBody = 4096

// RetryPolicy bounds CheckWithRetry.
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     Backoff
}

// PolicyFromPlan derives the retry policy a plan asks for.
func PolicyFromPlan(plan *models.DeploymentPlan) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: plan.MaxHealthAttempts,
		Timeout:     plan.HealthTimeout,
		Backoff:     NewBackoff(plan.Backoff),
	}
}

// HealthChecker is what the orchestrator and rollback manager need from a probe.
type HealthChecker interface {
	Check(ctx context.Context, target *models.Target, component string, spec models.HealthSpec, timeout time.Duration) models.HealthVerdict
	CheckWithRetry(ctx context.Context, target *models.Target, component string, spec models.HealthSpec, policy RetryPolicy) models.HealthVerdict
}

/**
 * HealthProbe classifies the health of a component
 * @description
 * - healthy: 2xx (and an ok-ish JSON "status" when present), exit 0, or an accepted connection
 * - unhealthy: reachable but erroring (non-2xx, bad status field, non-zero exit)
 * - unreachable: the probe could not reach the component at all
 */
type HealthProbe struct {
	exec   executor.Executor
	client *http.Client
	// Sleep waits between attempts; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewHealthProbe(exec executor.Executor) *HealthProbe {
	return &HealthProbe{
		exec:   exec,
		client: &http.Client{},
		Sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

/**
 * Probe a component once
 * @param {string} component - Component name recorded in the verdict
 * @param {models.HealthSpec} spec - Probe definition
 * @param {time.Duration} timeout - Per attempt timeout
 * @returns {models.HealthVerdict} Verdict with Attempts == 1
 */
func (hp *HealthProbe) Check(ctx context.Context, target *models.Target, component string, spec models.HealthSpec, timeout time.Duration) models.HealthVerdict {
	if timeout <= 0 {
		timeout = models.DefaultHealthTimeout
	}
	var status models.HealthStatus
	var raw string
	switch spec.Type {
	case models.ProbeHTTP, "":
		status, raw = hp.checkHTTP(ctx, spec.URL, timeout)
	case models.ProbeRemoteHTTP:
		status, raw = hp.checkRemoteHTTP(ctx, target, spec.URL, timeout)
	case models.ProbeTCP:
		status, raw = hp.checkTCP(ctx, spec.Address, timeout)
	case models.ProbeProcess, models.ProbeCommand:
		status, raw = hp.checkCommand(ctx, target, spec.Command, timeout)
	default:
		status, raw = models.Unreachable, fmt.Sprintf("unknown probe type '%s'", spec.Type)
	}
	v := models.HealthVerdict{
		Target:    target.Name,
		Component: component,
		Status:    status,
		Raw:       raw,
		Attempts:  1,
		CheckedAt: time.Now().UTC(),
	}
	observeHealth(v)
	return v
}

/**
 * Probe until healthy or MaxAttempts is reached
 * @returns {models.HealthVerdict} First healthy verdict, otherwise the last one
 * @description
 * - Sleeps Backoff.Delay(attempt) between attempts, never after the last one
 * - Stops early, returning the last verdict, when ctx is cancelled during a sleep
 */
func (hp *HealthProbe) CheckWithRetry(ctx context.Context, target *models.Target, component string, spec models.HealthSpec, policy RetryPolicy) models.HealthVerdict {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = models.DefaultMaxHealthAttempts
	}
	bo := policy.Backoff
	if bo == nil {
		bo = FixedBackoff{Interval: models.DefaultHealthDelay}
	}

	var v models.HealthVerdict
	for attempt := 1; attempt <= attempts; attempt++ {
		v = hp.Check(ctx, target, component, spec, policy.Timeout)
		v.Attempts = attempt
		if v.IsHealthy() {
			logger.Infof("[%s] %s healthy after %d attempt(s)", target.Name, component, attempt)
			return v
		}
		logger.Warnf("[%s] %s health attempt %d/%d: %s %s", target.Name, component, attempt, attempts, v.Status, v.Raw)
		if attempt == attempts {
			break
		}
		if err := hp.Sleep(ctx, bo.Delay(attempt)); err != nil {
			break
		}
	}
	return v
}

func (hp *HealthProbe) checkHTTP(ctx context.Context, url string, timeout time.Duration) (models.HealthStatus, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Unreachable, err.Error()
	}
	resp, err := hp.client.Do(req)
	if err != nil {
		return models.Unreachable, err.Error()
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	return classifyHTTP(resp.StatusCode, body)
}

// checkRemoteHTTP runs curl on the target, for endpoints only bound to the target's loopback.
func (hp *HealthProbe) checkRemoteHTTP(ctx context.Context, target *models.Target, url string, timeout time.Duration) (models.HealthStatus, string) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	command := fmt.Sprintf("curl -sS -m %d -w '\\n%%{http_code}' %s", secs, utils.ShellQuote(url))
	res, err := hp.exec.Execute(ctx, target, command, timeout+5*time.Second)
	if err != nil {
		// curl 连接失败/超时都以非0退出
		if res != nil {
			return models.Unreachable, strings.TrimSpace(res.Stderr)
		}
		return models.Unreachable, err.Error()
	}
	out := strings.TrimRight(res.Stdout, "\n")
	idx := strings.LastIndex(out, "\n")
	code, err := strconv.Atoi(strings.TrimSpace(out[idx+1:]))
	if err != nil {
		return models.Unhealthy, fmt.Sprintf("unexpected curl output: %q", out)
	}
	body := ""
	if idx >= 0 {
		body = out[:idx]
	}
	return classifyHTTP(code, []byte(body))
}

func (hp *HealthProbe) checkTCP(ctx context.Context, address string, timeout time.Duration) (models.HealthStatus, string) {
	if err := utils.DialTCP(ctx, address, timeout); err != nil {
		return models.Unreachable, err.Error()
	}
	return models.Healthy, "connected to " + address
}

func (hp *HealthProbe) checkCommand(ctx context.Context, target *models.Target, tmpl string, timeout time.Duration) (models.HealthStatus, string) {
	if tmpl == "" {
		return models.Unreachable, "no health command configured"
	}
	command, err := utils.RenderCommand(tmpl, utils.CommandData{Root: target.Root, BackupRoot: target.BackupRoot, Target: target.Name})
	if err != nil {
		return models.Unreachable, err.Error()
	}
	res, err := hp.exec.Execute(ctx, target, command, timeout)
	switch {
	case err == nil:
		return models.Healthy, truncateRaw(res.Stdout)
	case models.IsNonZeroExit(err):
		return models.Unhealthy, truncateRaw(res.Stdout + res.Stderr)
	default:
		return models.Unreachable, err.Error()
	}
}

var healthyWords = map[string]bool{"ok": true, "healthy": true, "up": true, "pass": true, "online": true}

// classifyHTTP treats 2xx as healthy unless a JSON body carries a status field that says otherwise.
func classifyHTTP(code int, body []byte) (models.HealthStatus, string) {
	raw := fmt.Sprintf("HTTP %d %s", code, truncateRaw(string(body)))
	if code < 200 || code >= 300 {
		return models.Unhealthy, raw
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.Healthy, raw
	}
	status, ok := doc["status"].(string)
	if !ok {
		return models.Healthy, raw
	}
	if healthyWords[strings.ToLower(status)] {
		return models.Healthy, raw
	}
	return models.Unhealthy, raw
}

func truncateRaw(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}
