package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/nearby/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second
)

const (
	statusReady     = "ready"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	checkOK         = "ok"
)

// HealthCheck is a named dependency check. A failing Optional check only
// degrades readiness: discovery keeps working without it, less promptly.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
}

// handleStartup only waits for the required dependencies.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupCheckTimeout)
	defer cancel()

	return s.writeHealth(c, s.runHealthChecks(ctx, false))
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":  checkOK,
		"uptime":  s.clock.Since(s.startTime).Seconds(),
		"session": s.presence.Snapshot().Status.String(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessCheckTimeout)
	defer cancel()

	return s.writeHealth(c, s.runHealthChecks(ctx, true))
}

// runHealthChecks runs every check so the report names all failing
// dependencies, not just the first.
func (s *Server) runHealthChecks(ctx context.Context, withOptional bool) healthReport {
	report := healthReport{Status: statusReady}
	for _, hc := range s.healthChecks {
		if hc.Optional && !withOptional {
			continue
		}
		if report.Checks == nil {
			report.Checks = make(map[string]string, len(s.healthChecks))
		}

		err := hc.Check(ctx)
		if err == nil {
			report.Checks[hc.Name] = checkOK
			continue
		}
		report.Checks[hc.Name] = err.Error()
		switch {
		case !hc.Optional:
			report.Status = statusUnhealthy
		case report.Status == statusReady:
			report.Status = statusDegraded
		}
	}
	return report
}

func (s *Server) writeHealth(c echo.Context, report healthReport) error {
	code := http.StatusOK
	if report.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	if err := c.JSON(code, report); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
