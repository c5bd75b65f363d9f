package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/nearby/internal/domain"
	apperrors "github.com/pscheid92/nearby/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activePresence() *mockPresence {
	return &mockPresence{
		snapshotFn: func() domain.Session {
			return domain.Session{
				Status:       domain.SessionActive,
				StartedAt:    testTime,
				ExpiresAt:    testTime.Add(15 * time.Minute),
				LastLocation: &domain.LocationSample{Latitude: 45, Longitude: 9, AccuracyMeters: 10, CapturedAt: testTime},
			}
		},
		permissionFn: func() domain.PermissionState { return domain.PermissionGranted },
		nearbyFn: func() []domain.NearbyUser {
			return []domain.NearbyUser{{ID: uuid.New(), DisplayName: "ada", DistanceMeters: 12}}
		},
	}
}

func decodeError(t *testing.T, body []byte) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestGetPresence(t *testing.T) {
	srv := newTestServer(t, withPresence(activePresence()))

	rec := do(t, srv, http.MethodGet, "/api/presence", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp presenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, "granted", resp.Permission)
	assert.Equal(t, 1, resp.Nearby)
	assert.True(t, resp.Session.StartedAt.Equal(testTime))
	require.NotNil(t, resp.Session.LastLocation)
	assert.InDelta(t, 45.0, resp.Session.LastLocation.Latitude, 1e-9)
}

func TestGetPresence_Idle(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/api/presence", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "idle", body["status"])
	assert.Equal(t, "unknown", body["permission"])
	assert.NotContains(t, body["session"], "lastLocation")
}

func TestStartPresence(t *testing.T) {
	presence := activePresence()
	called := false
	presence.startFn = func(context.Context) (bool, error) {
		called = true
		return true, nil
	}
	srv := newTestServer(t, withPresence(presence))

	rec := do(t, srv, http.MethodPost, "/api/presence/start", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Started)
	assert.Equal(t, "active", resp.Status)
}

func TestStartPresence_AlreadyRunning(t *testing.T) {
	presence := activePresence()
	presence.startFn = func(context.Context) (bool, error) { return false, nil }
	srv := newTestServer(t, withPresence(presence))

	rec := do(t, srv, http.MethodPost, "/api/presence/start", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Started)
}

func TestStartPresence_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		errType  apperrors.ErrorType
		contains string
	}{
		{"permission denied", domain.ErrPermissionDenied, http.StatusForbidden, apperrors.TypeForbidden, "permission"},
		{"location unavailable", fmt.Errorf("%w: timeout", domain.ErrLocationUnavailable), http.StatusServiceUnavailable, apperrors.TypeUnavailable, "location"},
		{"unsupported", domain.ErrProviderUnsupported, http.StatusServiceUnavailable, apperrors.TypeUnavailable, "geolocation"},
		{"remote write", fmt.Errorf("%w: set visibility: boom", domain.ErrRemoteWriteFailed), http.StatusBadGateway, apperrors.TypeExternal, "profile"},
		{"signed out", domain.ErrSignedOut, http.StatusConflict, apperrors.TypeConflict, "signed out"},
		{"aborted", domain.ErrStartAborted, http.StatusConflict, apperrors.TypeConflict, "aborted"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, apperrors.TypeInternal, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			presence := &mockPresence{startFn: func(context.Context) (bool, error) { return false, tt.err }}
			srv := newTestServer(t, withPresence(presence))

			rec := do(t, srv, http.MethodPost, "/api/presence/start", "")

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec.Body.Bytes())
			assert.Equal(t, tt.errType, resp.Type)
			assert.Contains(t, resp.Error, tt.contains)
		})
	}
}

func TestStartPresence_ForeignOriginRejected(t *testing.T) {
	called := false
	presence := &mockPresence{startFn: func(context.Context) (bool, error) {
		called = true
		return true, nil
	}}
	srv := newTestServer(t,
		withPresence(presence),
		withCheckOrigin(func(r *http.Request) bool { return r.Header.Get("Origin") == "" }),
	)

	req := newRequest(http.MethodPost, "/api/presence/start", "")
	req.Header.Set("Origin", "https://evil.example")
	rec := serve(srv, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}

func TestStopPresence(t *testing.T) {
	stopped := false
	presence := &mockPresence{stopFn: func(context.Context) error {
		stopped = true
		return nil
	}}
	srv := newTestServer(t, withPresence(presence))

	rec := do(t, srv, http.MethodPost, "/api/presence/stop", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, stopped)
	assert.Contains(t, rec.Body.String(), `"status":"idle"`)
}

func TestStopPresence_RemoteWriteFailed(t *testing.T) {
	presence := &mockPresence{stopFn: func(context.Context) error {
		return fmt.Errorf("%w: clear visibility: timeout", domain.ErrRemoteWriteFailed)
	}}
	srv := newTestServer(t, withPresence(presence))

	rec := do(t, srv, http.MethodPost, "/api/presence/stop", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetNearby(t *testing.T) {
	srv := newTestServer(t, withPresence(activePresence()))

	rec := do(t, srv, http.MethodGet, "/api/nearby", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp nearbyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "ada", resp.Users[0].DisplayName)
}

func TestGetNearby_EmptyIsList(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/api/nearby", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":[]}`, rec.Body.String())
}

func TestGetNearby_Refresh(t *testing.T) {
	refreshed := []domain.NearbyUser{{ID: uuid.New(), DisplayName: "grace"}}
	presence := activePresence()
	presence.refreshFn = func(context.Context) ([]domain.NearbyUser, error) { return refreshed, nil }
	srv := newTestServer(t, withPresence(presence))

	rec := do(t, srv, http.MethodGet, "/api/nearby?refresh=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grace")
	assert.NotContains(t, rec.Body.String(), "ada")
}

func TestGetNearby_InvalidRefreshFlag(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/api/nearby?refresh=maybe", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshNearby_NotActive(t *testing.T) {
	presence := &mockPresence{refreshFn: func(context.Context) ([]domain.NearbyUser, error) {
		return nil, domain.ErrNoLocation
	}}
	srv := newTestServer(t, withPresence(presence))

	rec := do(t, srv, http.MethodPost, "/api/nearby/refresh", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.TypeConflict, decodeError(t, rec.Body.Bytes()).Type)
}

func TestRefreshNearby_RescanFailed(t *testing.T) {
	presence := &mockPresence{refreshFn: func(context.Context) ([]domain.NearbyUser, error) {
		return nil, fmt.Errorf("%w: rpc error", domain.ErrRescanFailed)
	}}
	srv := newTestServer(t, withPresence(presence))

	rec := do(t, srv, http.MethodPost, "/api/nearby/refresh", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
