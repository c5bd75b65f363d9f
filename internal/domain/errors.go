package domain

import "errors"

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrProviderUnsupported = errors.New("geolocation provider unsupported")
	ErrRemoteWriteFailed   = errors.New("remote write failed")
	ErrRescanFailed        = errors.New("rescan failed")
	ErrRelayFailed         = errors.New("interest relay failed")
	ErrSignedOut           = errors.New("signed out")
	ErrStartAborted        = errors.New("presence start aborted")
	ErrInvalidTarget       = errors.New("invalid interest target")
	ErrNoLocation          = errors.New("no location known")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrInvalidProfile      = errors.New("invalid profile")
	ErrInvalidSettings     = errors.New("invalid settings")
)
