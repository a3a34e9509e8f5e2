package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// HealthService is the gRPC health service name of the battle engine.
	HealthService = "quizbattle.Battle"

	healthCheckTimeout    = 3 * time.Second
	defaultHealthInterval = 10 * time.Second
)

// Checker verifies that an infrastructure dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

type CheckResult struct {
	Status string `json:"status"`
}

// Healthz reports the status of every dependency, with 503 if any of them is failing.
func (a *API) Healthz(c *gin.Context) {
	results, ok := a.runChecks(c.Request.Context())

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, results)
}

// WatchHealth refreshes the gRPC health status every interval until ctx is done.
func (a *API) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	a.runChecks(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.runChecks(ctx)
		}
	}
}

// ShutdownHealth marks the service as not serving, so that it stops receiving new players.
func (a *API) ShutdownHealth() {
	a.health.Shutdown()
}

func (a *API) runChecks(ctx context.Context) (map[string]CheckResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make(map[string]CheckResult, len(a.checks))
	ok := true

	for name, c := range a.checks {
		if err := c.Check(ctx); err != nil {
			slog.ErrorContext(ctx, "api: health check failed", "name", name, "error", err)
			results[name] = CheckResult{Status: "error"}
			ok = false
			continue
		}
		results[name] = CheckResult{Status: "ok"}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(HealthService, status)

	return results, ok
}
