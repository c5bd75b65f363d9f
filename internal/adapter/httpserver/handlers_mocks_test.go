package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/platform/config"
)

// --- Mock implementations ---

type mockPresence struct {
	startFn      func(ctx context.Context) (bool, error)
	stopFn       func(ctx context.Context) error
	snapshotFn   func() domain.Session
	permissionFn func() domain.PermissionState
	nearbyFn     func() []domain.NearbyUser
	refreshFn    func(ctx context.Context) ([]domain.NearbyUser, error)
}

func (m *mockPresence) Start(ctx context.Context) (bool, error) {
	if m.startFn != nil {
		return m.startFn(ctx)
	}
	return true, nil
}

func (m *mockPresence) Stop(ctx context.Context) error {
	if m.stopFn != nil {
		return m.stopFn(ctx)
	}
	return nil
}

func (m *mockPresence) Snapshot() domain.Session {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return domain.Session{}
}

func (m *mockPresence) Permission() domain.PermissionState {
	if m.permissionFn != nil {
		return m.permissionFn()
	}
	return domain.PermissionUnknown
}

func (m *mockPresence) Nearby() []domain.NearbyUser {
	if m.nearbyFn != nil {
		return m.nearbyFn()
	}
	return nil
}

func (m *mockPresence) Refresh(ctx context.Context) ([]domain.NearbyUser, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil, nil
}

type mockRelay struct {
	showInterestFn func(ctx context.Context, target uuid.UUID) (domain.InterestResult, error)
}

func (m *mockRelay) ShowInterest(ctx context.Context, target uuid.UUID) (domain.InterestResult, error) {
	if m.showInterestFn != nil {
		return m.showInterestFn(ctx, target)
	}
	return domain.InterestResult{Outcome: domain.InterestSent, Message: "Interest sent"}, nil
}

type mockDevice struct {
	mu          sync.Mutex
	samples     []domain.LocationSample
	permissions []domain.PermissionState
}

func (m *mockDevice) Report(sample domain.LocationSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
}

func (m *mockDevice) SetPermission(state domain.PermissionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions = append(m.permissions, state)
}

type mockProfiles struct {
	getFn    func(ctx context.Context) (domain.Profile, error)
	updateFn func(ctx context.Context, update domain.ProfileUpdate) (domain.Profile, error)
}

func (m *mockProfiles) Get(ctx context.Context) (domain.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx)
	}
	return domain.Profile{Interests: []string{}}, nil
}

func (m *mockProfiles) Update(ctx context.Context, update domain.ProfileUpdate) (domain.Profile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, update)
	}
	return domain.Profile{DisplayName: update.DisplayName, Bio: update.Bio, Interests: update.Interests}, nil
}

type mockSettings struct {
	mu       sync.Mutex
	current  domain.Settings
	updateFn func(settings domain.Settings) error
}

func newMockSettings() *mockSettings {
	return &mockSettings{current: domain.Settings{RadiusMeters: 100, AutoHide: true}}
}

func (m *mockSettings) Settings() domain.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *mockSettings) UpdateSettings(settings domain.Settings) error {
	if m.updateFn != nil {
		if err := m.updateFn(settings); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = settings
	return nil
}

type mockHub struct {
	serveFn func(conn *websocket.Conn) error
}

func (m *mockHub) Serve(conn *websocket.Conn) error {
	if m.serveFn != nil {
		return m.serveFn(conn)
	}
	return conn.Close()
}

// --- Test helpers ---

const testAppURL = "http://localhost:8080"

func testConfig() *config.Config {
	return &config.Config{
		AppEnv: "test",
		Port:   "8080",
		AppURL: testAppURL,
	}
}

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()

	srv := &Server{
		echo:        echo.New(),
		config:      testConfig(),
		clock:       clockwork.NewFakeClock(),
		presence:    &mockPresence{},
		relay:       &mockRelay{},
		device:      &mockDevice{},
		profiles:    &mockProfiles{},
		settings:    newMockSettings(),
		hub:         &mockHub{},
		checkOrigin: func(*http.Request) bool { return true },
	}
	srv.startTime = srv.clock.Now()
	for _, opt := range opts {
		opt(srv)
	}
	srv.upgrader = newUpgrader(srv.checkOrigin)
	srv.registerRoutes()

	return srv
}

func withPresence(p presenceService) func(*Server) {
	return func(s *Server) { s.presence = p }
}

func withRelay(r interestRelay) func(*Server) {
	return func(s *Server) { s.relay = r }
}

func withDevice(d deviceReporter) func(*Server) {
	return func(s *Server) { s.device = d }
}

func withProfiles(p profileService) func(*Server) {
	return func(s *Server) { s.profiles = p }
}

func withSettings(st settingsService) func(*Server) {
	return func(s *Server) { s.settings = st }
}

func withHub(h wsHub) func(*Server) {
	return func(s *Server) { s.hub = h }
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) { s.healthChecks = checks }
}

func withCheckOrigin(fn func(*http.Request) bool) func(*Server) {
	return func(s *Server) { s.checkOrigin = fn }
}

func withClock(clock clockwork.Clock) func(*Server) {
	return func(s *Server) {
		s.clock = clock
		s.startTime = clock.Now()
	}
}

func withMetricsHandler(h http.Handler) func(*Server) {
	return func(s *Server) { s.metricsHandler = h }
}

func newRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// do runs a request through the full middleware chain.
func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(srv, newRequest(method, target, body))
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
