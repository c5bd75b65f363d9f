package httpserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/nearby/internal/platform/errors"
)

func (s *Server) registerInterestRoutes() {
	s.echo.POST("/api/interest/:id", s.handleShowInterest, s.requireSameOrigin, s.actionLimit)
}

func (s *Server) handleShowInterest(c echo.Context) error {
	target, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.ValidationError("invalid user id").WithContext("id", c.Param("id"))
	}

	result, err := s.relay.ShowInterest(c.Request().Context(), target)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to write interest response: %w", err)
	}
	return nil
}
