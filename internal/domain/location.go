package domain

import (
	"context"
	"time"
)

// LocationSample is an immutable position reading. Newer samples supersede older
// ones; they are never mutated.
type LocationSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// CapturedAtEpochMs returns the capture time in milliseconds since the Unix epoch.
func (s LocationSample) CapturedAtEpochMs() int64 {
	return s.CapturedAt.UnixMilli()
}

type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionGranted
	PermissionDenied
	PermissionPrompt
)

func (p PermissionState) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// ParsePermissionState maps the provider's textual state to a PermissionState.
func ParsePermissionState(s string) PermissionState {
	switch s {
	case "granted":
		return PermissionGranted
	case "denied":
		return PermissionDenied
	case "prompt":
		return PermissionPrompt
	default:
		return PermissionUnknown
	}
}

// PositionOptions tune a single position read or a continuous watch.
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// Watch is a cancellable continuous-position subscription. Stop is idempotent.
type Watch interface {
	Stop()
}

// GeolocationProvider is the platform's location capability. Implementations
// return ErrProviderUnsupported when the platform has no geolocation at all.
type GeolocationProvider interface {
	CheckPermission(ctx context.Context) (PermissionState, error)
	RequestPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context, opts PositionOptions) (LocationSample, error)
	WatchPosition(ctx context.Context, opts PositionOptions, onSample func(LocationSample), onError func(error)) (Watch, error)
}
