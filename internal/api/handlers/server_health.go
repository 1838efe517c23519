package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// Health status values.
const (
	HealthStatusOk       = "ok"
	HealthStatusDegraded = "degraded"
)

// Health is the probe response body.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`

	// Workers reports pool occupancy. A full pool does not fail readiness.
	Workers map[string]interface{} `json:"workers,omitempty"`
}

// GetLiveness handles GET /health/live, the liveness probe.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, Health{Status: HealthStatusOk})
}

// GetReadiness handles GET /health/ready, the readiness probe.
func (s *Server) GetReadiness(c *gin.Context) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		if err := s.checks[name](c.Request.Context()); err != nil {
			logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "error"
			allHealthy = false
			continue
		}
		checks[name] = HealthStatusOk
	}

	status := HealthStatusOk
	httpStatus := http.StatusOK
	if !allHealthy {
		status = HealthStatusDegraded
		httpStatus = http.StatusServiceUnavailable
	}

	body := Health{
		Status: status,
		Checks: checks,
	}
	if s.pools != nil {
		body.Workers = s.pools.Metrics()
	}
	c.JSON(httpStatus, body)
}
