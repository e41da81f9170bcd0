package services

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/models"
)

func newTestProbe(sleeps *[]time.Duration) *HealthProbe {
	hp := NewHealthProbe(executor.NewLocalExecutor())
	hp.Sleep = func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return ctx.Err()
	}
	return hp
}

// closedAddress returns an address nothing listens on.
func closedAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestHTTPProbeClassification(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		body   string
		expect models.HealthStatus
	}{
		{"plain 200", http.StatusOK, "fine", models.Healthy},
		{"status ok", http.StatusOK, `{"status":"ok"}`, models.Healthy},
		{"status UP", http.StatusOK, `{"status":"UP","uptime":3}`, models.Healthy},
		{"status down", http.StatusOK, `{"status":"down"}`, models.Unhealthy},
		{"no status field", http.StatusNoContent, ``, models.Healthy},
		{"server error", http.StatusServiceUnavailable, `{"status":"ok"}`, models.Unhealthy},
		{"not found", http.StatusNotFound, "", models.Unhealthy},
	}
	target := &models.Target{Name: "http"}
	hp := newTestProbe(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			v := hp.Check(context.Background(), target, "backend", models.HealthSpec{Type: models.ProbeHTTP, URL: srv.URL}, time.Second)
			assert.Equal(t, tt.expect, v.Status, v.Raw)
			assert.Equal(t, 1, v.Attempts)
			assert.Equal(t, "backend", v.Component)
		})
	}
}

func TestHTTPProbeUnreachable(t *testing.T) {
	hp := newTestProbe(nil)
	v := hp.Check(context.Background(), &models.Target{Name: "http"}, "backend",
		models.HealthSpec{Type: models.ProbeHTTP, URL: "http://" + closedAddress(t) + "/health"}, time.Second)
	assert.Equal(t, models.Unreachable, v.Status)
}

func TestHTTPProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	hp := newTestProbe(nil)
	v := hp.Check(context.Background(), &models.Target{Name: "http"}, "backend",
		models.HealthSpec{Type: models.ProbeHTTP, URL: srv.URL}, 100*time.Millisecond)
	assert.Equal(t, models.Unreachable, v.Status)
}

func TestTCPProbe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	hp := newTestProbe(nil)
	target := &models.Target{Name: "tcp"}
	v := hp.Check(context.Background(), target, "frontend", models.HealthSpec{Type: models.ProbeTCP, Address: l.Addr().String()}, time.Second)
	assert.Equal(t, models.Healthy, v.Status)

	v = hp.Check(context.Background(), target, "frontend", models.HealthSpec{Type: models.ProbeTCP, Address: closedAddress(t)}, time.Second)
	assert.Equal(t, models.Unreachable, v.Status)
}

func TestCommandProbe(t *testing.T) {
	target := newLocalTarget(t, "cmd")
	hp := newTestProbe(nil)

	v := hp.Check(context.Background(), target, "backend", models.HealthSpec{Type: models.ProbeCommand, Command: "echo alive"}, time.Second)
	assert.Equal(t, models.Healthy, v.Status)
	assert.Equal(t, "alive", v.Raw)

	v = hp.Check(context.Background(), target, "backend", models.HealthSpec{Type: models.ProbeProcess, Command: "test -d {{.Root}}"}, time.Second)
	assert.Equal(t, models.Unhealthy, v.Status)

	v = hp.Check(context.Background(), target, "backend", models.HealthSpec{Type: models.ProbeProcess}, time.Second)
	assert.Equal(t, models.Unreachable, v.Status)

	v = hp.Check(context.Background(), target, "backend", models.HealthSpec{Type: "carrier-pigeon"}, time.Second)
	assert.Equal(t, models.Unreachable, v.Status)
}

func TestRemoteHTTPProbeUsesCurl(t *testing.T) {
	if _, err := executor.NewLocalExecutor().Execute(context.Background(), &models.Target{Name: "l"}, "command -v curl", time.Second); err != nil {
		t.Skip("curl not available")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	target := newLocalTarget(t, "curl")
	hp := newTestProbe(nil)
	v := hp.Check(context.Background(), target, "backend", models.HealthSpec{Type: models.ProbeRemoteHTTP, URL: srv.URL}, 2*time.Second)
	assert.Equal(t, models.Healthy, v.Status, v.Raw)

	v = hp.Check(context.Background(), target, "backend", models.HealthSpec{Type: models.ProbeRemoteHTTP, URL: "http://" + closedAddress(t)}, 2*time.Second)
	assert.Equal(t, models.Unreachable, v.Status)
}

func TestCheckWithRetryStopsWhenHealthy(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	hp := newTestProbe(&sleeps)
	policy := RetryPolicy{MaxAttempts: 5, Timeout: time.Second, Backoff: LinearBackoff{Step: time.Second}}
	v := hp.CheckWithRetry(context.Background(), &models.Target{Name: "retry"}, "backend",
		models.HealthSpec{Type: models.ProbeHTTP, URL: srv.URL}, policy)

	assert.Equal(t, models.Healthy, v.Status)
	assert.Equal(t, 3, v.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

func TestCheckWithRetryNeverSleepsAfterLastAttempt(t *testing.T) {
	var sleeps []time.Duration
	hp := newTestProbe(&sleeps)
	policy := RetryPolicy{MaxAttempts: 3, Timeout: time.Second, Backoff: FixedBackoff{Interval: 10 * time.Second}}
	v := hp.CheckWithRetry(context.Background(), &models.Target{Name: "retry"}, "backend",
		models.HealthSpec{Type: models.ProbeTCP, Address: closedAddress(t)}, policy)

	assert.Equal(t, models.Unreachable, v.Status)
	assert.Equal(t, 3, v.Attempts)
	assert.Len(t, sleeps, 2)
}

func TestCheckWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hp := newTestProbe(nil)
	policy := RetryPolicy{MaxAttempts: 5, Timeout: time.Second, Backoff: FixedBackoff{Interval: time.Second}}
	v := hp.CheckWithRetry(ctx, &models.Target{Name: "retry"}, "backend",
		models.HealthSpec{Type: models.ProbeTCP, Address: closedAddress(t)}, policy)
	assert.Equal(t, 1, v.Attempts)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
