// Package endpoint holds the probe and build-info handlers every imgflow
// process serves next to its API.
package endpoint

import (
	"context"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/imgflow/component"
	"github.com/kbukum/imgflow/version"
)

// HealthChecker reports the health of the process's components.
type HealthChecker func(ctx context.Context) []component.Health

var systemPaths = []string{"/health", "/alive", "/ready", "/info", "/version", "/metrics"}

// IsSystemPath reports whether path is one of the endpoints mounted by
// Register.
func IsSystemPath(path string) bool { return slices.Contains(systemPaths, path) }

var started = time.Now()

// Register mounts every endpoint on r.
func Register(r gin.IRoutes, service string, checker HealthChecker) {
	r.GET("/health", Health(service, checker))
	r.GET("/alive", Liveness(service))
	r.GET("/ready", Readiness(service, checker))
	r.GET("/info", Info(service))
	r.GET("/version", Version())
	r.GET("/metrics", Runtime())
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func check(c *gin.Context, checker HealthChecker) ([]component.Health, component.HealthStatus) {
	if checker == nil {
		return nil, component.StatusHealthy
	}
	reports := checker(c.Request.Context())
	return reports, component.Worst(reports)
}

// Health reports the worst component status and every report. Degraded, for
// example a worker with stalled runs, still answers 200.
func Health(service string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		reports, status := check(c, checker)
		code := http.StatusOK
		if status == component.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":     status,
			"service":    service,
			"timestamp":  now(),
			"components": reports,
		})
	}
}

// Liveness answers as long as the process serves HTTP.
func Liveness(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "service": service, "timestamp": now()})
	}
}

// Readiness is 503 while any component is unhealthy.
func Readiness(service string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, status := check(c, checker)
		code, state := http.StatusOK, "ready"
		if status == component.StatusUnhealthy {
			code, state = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(code, gin.H{"status": state, "service": service, "timestamp": now()})
	}
}

// Info is the build identity plus uptime.
func Info(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": service,
			"build":   version.Get(),
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	}
}

func Version() gin.HandlerFunc {
	return func(c *gin.Context) { c.JSON(http.StatusOK, version.Get()) }
}

// Runtime reports goroutine and heap figures. Pipeline counters go to the
// OpenTelemetry exporter instead.
func Runtime() gin.HandlerFunc {
	return func(c *gin.Context) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		c.JSON(http.StatusOK, gin.H{
			"timestamp":  now(),
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb": m.Alloc >> 20,
				"sys_mb":   m.Sys >> 20,
				"gc_runs":  m.NumGC,
			},
		})
	}
}
