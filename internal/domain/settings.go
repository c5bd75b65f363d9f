package domain

import "fmt"

const (
	MinSearchRadius = 10.0
	MaxSearchRadius = 1000.0
)

// Settings are the user's discovery preferences. AutoHide bounds every
// session by the visibility TTL; without it a session stays visible until the
// user stops it.
type Settings struct {
	RadiusMeters float64 `json:"radiusMeters"`
	AutoHide     bool    `json:"autoHide"`
}

func (s Settings) Validate() error {
	if s.RadiusMeters < MinSearchRadius || s.RadiusMeters > MaxSearchRadius {
		return fmt.Errorf("%w: radius must be between %g and %g metres, got %g",
			ErrInvalidSettings, MinSearchRadius, MaxSearchRadius, s.RadiusMeters)
	}
	return nil
}
