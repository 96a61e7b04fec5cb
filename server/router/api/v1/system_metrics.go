package v1

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cfipros/acstracker/server/internal/observability"
)

var serverStartTime = time.Now()

// HealthResponse is the response of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StepMetricsView represents per-step metrics in the overview response.
type StepMetricsView struct {
	Executions   int64 `json:"executions"`
	Errors       int64 `json:"errors"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
}

// MetricsOverviewResponse represents the overview response of system metrics.
type MetricsOverviewResponse struct {
	SessionsTotal     int64                      `json:"sessions_total"`
	SessionsFailed    int64                      `json:"sessions_failed"`
	SessionsCancelled int64                      `json:"sessions_cancelled"`
	SuccessRate       float64                    `json:"success_rate"`
	Steps             map[string]StepMetricsView `json:"steps"`
	Goroutines        int                        `json:"goroutines"`
	HeapAllocBytes    uint64                     `json:"heap_alloc_bytes"`
	UptimeSeconds     int64                      `json:"uptime_seconds"`
}

// GetHealth returns liveness information.
// GET /healthz
func (s *APIV1Service) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       s.Profile.Version,
		UptimeSeconds: int64(time.Since(serverStartTime).Seconds()),
	})
}

// GetMetricsOverview returns the system metrics overview.
// GET /api/v1/system/metrics/overview
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	snapshot := observability.GlobalMetrics().Snapshot()

	steps := make(map[string]StepMetricsView, len(snapshot.StepMetrics))
	for name, sm := range snapshot.StepMetrics {
		steps[name] = StepMetricsView{
			Executions:   sm.ExecutionCount,
			Errors:       sm.ErrorCount,
			AvgLatencyMs: sm.AverageDuration,
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return c.JSON(http.StatusOK, MetricsOverviewResponse{
		SessionsTotal:     snapshot.SessionTotal,
		SessionsFailed:    snapshot.SessionFailed,
		SessionsCancelled: snapshot.SessionCancelled,
		SuccessRate:       snapshot.SuccessRate(),
		Steps:             steps,
		Goroutines:        runtime.NumGoroutine(),
		HeapAllocBytes:    memStats.HeapAlloc,
		UptimeSeconds:     int64(time.Since(serverStartTime).Seconds()),
	})
}
