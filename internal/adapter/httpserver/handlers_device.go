package httpserver

import (
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/nearby/internal/domain"
	apperrors "github.com/pscheid92/nearby/internal/platform/errors"
)

type locationRequest struct {
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters"`
	CapturedAt     time.Time `json:"capturedAt"`
}

type permissionRequest struct {
	State string `json:"state"`
}

// registerDeviceRoutes exposes the inputs of the geolocation provider. The
// device posts fixes here the way a browser would feed watchPosition.
func (s *Server) registerDeviceRoutes() {
	s.echo.POST("/api/location", s.handleReportLocation, s.requireSameOrigin)
	s.echo.PUT("/api/permission", s.handleSetPermission, s.requireSameOrigin)
}

func (s *Server) handleReportLocation(c echo.Context) error {
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	sample, err := req.sample()
	if err != nil {
		return err
	}

	s.device.Report(sample)
	return c.NoContent(http.StatusNoContent)
}

func (r locationRequest) sample() (domain.LocationSample, error) {
	if r.Latitude == nil || r.Longitude == nil {
		return domain.LocationSample{}, apperrors.ValidationError("latitude and longitude are required")
	}
	lat, lng := *r.Latitude, *r.Longitude
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return domain.LocationSample{}, apperrors.ValidationError("latitude must be between -90 and 90").WithContext("latitude", lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return domain.LocationSample{}, apperrors.ValidationError("longitude must be between -180 and 180").WithContext("longitude", lng)
	}
	if r.AccuracyMeters < 0 {
		return domain.LocationSample{}, apperrors.ValidationError("accuracyMeters must not be negative")
	}
	return domain.LocationSample{
		Latitude:       lat,
		Longitude:      lng,
		AccuracyMeters: r.AccuracyMeters,
		CapturedAt:     r.CapturedAt,
	}, nil
}

func (s *Server) handleSetPermission(c echo.Context) error {
	var req permissionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	state := domain.ParsePermissionState(req.State)
	if state == domain.PermissionUnknown {
		return apperrors.ValidationError("state must be granted, denied or prompt").WithContext("state", req.State)
	}

	s.device.SetPermission(state)
	return c.NoContent(http.StatusNoContent)
}
