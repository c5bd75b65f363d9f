package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/nearby/internal/adapter/metrics"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/platform/config"
)

type presenceService interface {
	Start(ctx context.Context) (bool, error)
	Stop(ctx context.Context) error
	Snapshot() domain.Session
	Permission() domain.PermissionState
	Nearby() []domain.NearbyUser
	Refresh(ctx context.Context) ([]domain.NearbyUser, error)
}

type interestRelay interface {
	ShowInterest(ctx context.Context, target uuid.UUID) (domain.InterestResult, error)
}

// deviceReporter receives position fixes and permission changes from the
// client device.
type deviceReporter interface {
	Report(sample domain.LocationSample)
	SetPermission(state domain.PermissionState)
}

type profileService interface {
	Get(ctx context.Context) (domain.Profile, error)
	Update(ctx context.Context, update domain.ProfileUpdate) (domain.Profile, error)
}

type settingsService interface {
	Settings() domain.Settings
	UpdateSettings(settings domain.Settings) error
}

type wsHub interface {
	Serve(conn *websocket.Conn) error
}

// Dependencies are the collaborators the HTTP surface drives.
type Dependencies struct {
	Presence       presenceService
	Relay          interestRelay
	Device         deviceReporter
	Profiles       profileService
	Settings       settingsService
	Hub            wsHub
	CheckOrigin    func(r *http.Request) bool
	MetricsHandler http.Handler
	HTTPMetrics    *metrics.HTTPMetrics
	HealthChecks   []HealthCheck
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	presence presenceService
	relay    interestRelay
	device   deviceReporter
	profiles profileService
	settings settingsService
	hub      wsHub

	upgrader       websocket.Upgrader
	checkOrigin    func(r *http.Request) bool
	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics
	healthChecks   []HealthCheck
	actionLimit    echo.MiddlewareFunc
	startTime      time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	checkOrigin := deps.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clock,
		presence:       deps.Presence,
		relay:          deps.Relay,
		device:         deps.Device,
		profiles:       deps.Profiles,
		settings:       deps.Settings,
		hub:            deps.Hub,
		checkOrigin:    checkOrigin,
		metricsHandler: deps.MetricsHandler,
		httpMetrics:    deps.HTTPMetrics,
		healthChecks:   deps.HealthChecks,
		startTime:      clock.Now(),
	}
	srv.upgrader = newUpgrader(checkOrigin)

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
