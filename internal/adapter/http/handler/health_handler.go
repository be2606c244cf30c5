package handler

import (
	"net/http"
	"time"

	"metered-messaging/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// HealthCheck returns a handler for GET /healthz. It pings every
// registered dependency and reports per-dependency status; any failure
// makes the whole check 503.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		healthy := true
		deps := make(map[string]string, len(checkers))
		for _, checker := range checkers {
			if err := checker.Ping(ctx); err != nil {
				healthy = false
				deps[checker.Name()] = "down: " + err.Error()
			} else {
				deps[checker.Name()] = "up"
			}
		}

		status := http.StatusOK
		overall := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"status":       overall,
			"dependencies": deps,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}
