package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tycostream/tycostream/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz.
// The gateway is healthy only when every source holds a complete snapshot
// and a live upstream session. Anything less returns 503 so orchestrators
// keep traffic away until the caches are trustworthy.
func (s *Server) healthHandler(c *echo.Context) error {
	status := healthStatusHealthy
	httpStatus := http.StatusOK
	if !s.gateway.Live() {
		status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Sources: s.gateway.Health(),
	})
}
