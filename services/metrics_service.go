package services

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_keeper_runs_total",
			Help: "Finished deploy and rollback runs by terminal status",
		},
		[]string{"operation", "status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deploy_keeper_stage_duration_seconds",
			Help:    "Duration of orchestration stages",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		},
		[]string{"stage"},
	)

	healthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_keeper_health_attempts_total",
			Help: "Health probe attempts by verdict",
		},
		[]string{"verdict"},
	)

	pruneFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deploy_keeper_snapshot_prune_failures_total",
			Help: "Snapshots that could not be deleted during pruning",
		},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deploy_keeper_active_runs",
			Help: "Runs currently holding a target lock",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(healthAttempts)
	prometheus.MustRegister(pruneFailures)
	prometheus.MustRegister(activeRuns)
}

func observeOutcome(o *models.DeploymentOutcome) {
	runsTotal.WithLabelValues(o.Operation, string(o.Status)).Inc()
}

func observeStage(stage models.Stage, d time.Duration) {
	stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func observeHealth(v models.HealthVerdict) {
	healthAttempts.WithLabelValues(string(v.Status)).Inc()
}

/**
 * Push the collected metrics to a Prometheus pushgateway
 * @param {string} gateway - Pushgateway address, empty disables pushing
 * @param {string} job - Job label, normally "deploy-keeper"
 * @returns {error} Returns error if pushing fails
 * @description
 * - CLI runs are too short-lived to be scraped, so they push once before exiting
 * - Server mode exposes /metrics instead and never pushes
 */
func PushMetrics(gateway, job string) error {
	if gateway == "" {
		return nil
	}
	err := push.New(gateway, job).
		Gatherer(prometheus.DefaultGatherer).
		Push()
	if err != nil {
		logger.Warnf("push metrics to %s failed: %v", gateway, err)
		return fmt.Errorf("push metrics: %w", err)
	}
	logger.Debugf("metrics pushed to %s", gateway)
	return nil
}

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_keeper_http_requests_total",
			Help: "HTTP requests handled by the keeper API",
		},
		[]string{"path"},
	)

	httpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_keeper_http_errors_total",
			Help: "HTTP requests answered with status >= 400",
		},
		[]string{"path"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deploy_keeper_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// prometheus的Counter不便读取，/healthz使用本地计数
	totalRequests atomic.Int64
	totalErrors   atomic.Int64
)

func init() {
	prometheus.MustRegister(httpRequests)
	prometheus.MustRegister(httpErrors)
	prometheus.MustRegister(httpDuration)
}

func IncrementRequestCount(path string) {
	httpRequests.WithLabelValues(path).Inc()
	totalRequests.Add(1)
}

func IncrementErrorCount(path string) {
	httpErrors.WithLabelValues(path).Inc()
	totalErrors.Add(1)
}

func RecordRequestDuration(path string, seconds float64) {
	httpDuration.WithLabelValues(path).Observe(seconds)
}

func GetTotalRequestCount() int64 {
	return totalRequests.Load()
}

func GetTotalErrorCount() int64 {
	return totalErrors.Load()
}
