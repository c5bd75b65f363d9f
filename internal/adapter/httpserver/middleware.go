package httpserver

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/platform/correlation"
	apperrors "github.com/pscheid92/nearby/internal/platform/errors"
)

const correlationHeader = "X-Request-ID"

// correlationMiddleware adopts the caller's request ID or mints one, and
// echoes it back on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.Adopt(c.Request().Context(), c.Request().Header.Get(correlationHeader))
		id, _ := correlation.ID(ctx)
		c.Response().Header().Set(correlationHeader, id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// translateDomainError maps coordinator errors onto HTTP-facing errors.
func translateDomainError(err error) *apperrors.Error {
	switch {
	case errors.Is(err, domain.ErrInvalidTarget):
		return apperrors.ValidationError("invalid interest target")
	case errors.Is(err, domain.ErrInvalidProfile), errors.Is(err, domain.ErrInvalidSettings):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		return apperrors.ForbiddenError("location permission denied", err)
	case errors.Is(err, domain.ErrProfileNotFound):
		return apperrors.NotFoundError("profile not found")
	case errors.Is(err, domain.ErrSignedOut):
		return apperrors.ConflictError("signed out", err)
	case errors.Is(err, domain.ErrNoLocation):
		return apperrors.ConflictError("presence is not active", err)
	case errors.Is(err, domain.ErrStartAborted):
		return apperrors.ConflictError("start was aborted", err)
	case errors.Is(err, domain.ErrProviderUnsupported):
		return apperrors.UnavailableError("geolocation is not supported", err)
	case errors.Is(err, domain.ErrLocationUnavailable):
		return apperrors.UnavailableError("location unavailable", err)
	case errors.Is(err, domain.ErrRemoteWriteFailed):
		return apperrors.ExternalError("failed to update profile", err)
	case errors.Is(err, domain.ErrRescanFailed):
		return apperrors.ExternalError("failed to search nearby users", err)
	case errors.Is(err, domain.ErrRelayFailed):
		return apperrors.ExternalError("failed to send interest", err)
	}
	return nil
}
