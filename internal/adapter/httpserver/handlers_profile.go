package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/nearby/internal/domain"
	apperrors "github.com/pscheid92/nearby/internal/platform/errors"
)

// settingsRequest is a partial update; absent fields keep their value.
type settingsRequest struct {
	RadiusMeters *float64 `json:"radiusMeters"`
	AutoHide     *bool    `json:"autoHide"`
}

func (s *Server) registerProfileRoutes() {
	api := s.echo.Group("/api")
	api.GET("/profile", s.handleGetProfile)
	api.PUT("/profile", s.handleUpdateProfile, s.requireSameOrigin, s.actionLimit)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handleUpdateSettings, s.requireSameOrigin)
}

func (s *Server) handleGetProfile(c echo.Context) error {
	profile, err := s.profiles.Get(c.Request().Context())
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, profile); err != nil {
		return fmt.Errorf("failed to write profile response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateProfile(c echo.Context) error {
	var req domain.ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	profile, err := s.profiles.Update(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, profile); err != nil {
		return fmt.Errorf("failed to write profile response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSettings(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.settings.Settings()); err != nil {
		return fmt.Errorf("failed to write settings response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	settings := s.settings.Settings()
	if req.RadiusMeters != nil {
		settings.RadiusMeters = *req.RadiusMeters
	}
	if req.AutoHide != nil {
		settings.AutoHide = *req.AutoHide
	}
	if err := s.settings.UpdateSettings(settings); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, s.settings.Settings()); err != nil {
		return fmt.Errorf("failed to write settings response: %w", err)
	}
	return nil
}
