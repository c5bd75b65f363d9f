package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/nearby/internal/domain"
)

type presenceResponse struct {
	Status     string         `json:"status"`
	Permission string         `json:"permission"`
	Session    domain.Session `json:"session"`
	Nearby     int            `json:"nearbyCount"`
}

type startResponse struct {
	Started bool `json:"started"`
	presenceResponse
}

type nearbyResponse struct {
	Users []domain.NearbyUser `json:"users"`
}

func (s *Server) registerPresenceRoutes() {
	api := s.echo.Group("/api")
	api.GET("/presence", s.handleGetPresence)
	api.POST("/presence/start", s.handleStartPresence, s.requireSameOrigin, s.actionLimit)
	api.POST("/presence/stop", s.handleStopPresence, s.requireSameOrigin)
	api.GET("/nearby", s.handleGetNearby)
	api.POST("/nearby/refresh", s.handleRefreshNearby, s.requireSameOrigin, s.actionLimit)
}

func (s *Server) presenceState() presenceResponse {
	session := s.presence.Snapshot()
	return presenceResponse{
		Status:     session.Status.String(),
		Permission: s.presence.Permission().String(),
		Session:    session,
		Nearby:     len(s.presence.Nearby()),
	}
}

func (s *Server) handleGetPresence(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.presenceState()); err != nil {
		return fmt.Errorf("failed to write presence response: %w", err)
	}
	return nil
}

// handleStartPresence blocks until the session is active or the start failed.
// A client that hangs up cancels the start.
func (s *Server) handleStartPresence(c echo.Context) error {
	started, err := s.presence.Start(c.Request().Context())
	if err != nil {
		return err
	}

	status := http.StatusOK
	if !started {
		status = http.StatusAccepted
	}
	if err := c.JSON(status, startResponse{Started: started, presenceResponse: s.presenceState()}); err != nil {
		return fmt.Errorf("failed to write start response: %w", err)
	}
	return nil
}

func (s *Server) handleStopPresence(c echo.Context) error {
	if err := s.presence.Stop(c.Request().Context()); err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, s.presenceState()); err != nil {
		return fmt.Errorf("failed to write stop response: %w", err)
	}
	return nil
}

func (s *Server) handleGetNearby(c echo.Context) error {
	if raw := c.QueryParam("refresh"); raw != "" {
		refresh, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "refresh must be a boolean")
		}
		if refresh {
			return s.handleRefreshNearby(c)
		}
	}
	return writeNearby(c, s.presence.Nearby())
}

func (s *Server) handleRefreshNearby(c echo.Context) error {
	users, err := s.presence.Refresh(c.Request().Context())
	if err != nil {
		return err
	}
	return writeNearby(c, users)
}

func writeNearby(c echo.Context, users []domain.NearbyUser) error {
	if users == nil {
		users = []domain.NearbyUser{}
	}
	if err := c.JSON(http.StatusOK, nearbyResponse{Users: users}); err != nil {
		return fmt.Errorf("failed to write nearby response: %w", err)
	}
	return nil
}
