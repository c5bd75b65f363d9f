package domain

import "time"

type SessionStatus int

const (
	SessionIdle SessionStatus = iota
	SessionStarting
	SessionActive
	SessionStopping
)

func (s SessionStatus) String() string {
	switch s {
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Session is a point-in-time copy of the discoverable period of a user.
type Session struct {
	Status       SessionStatus   `json:"-"`
	StartedAt    time.Time       `json:"startedAt,omitzero"`
	ExpiresAt    time.Time       `json:"expiresAt,omitzero"`
	LastLocation *LocationSample `json:"lastLocation,omitempty"`
}

// StopReason records why a session left Active or Starting.
type StopReason string

const (
	StopUser     StopReason = "user"
	StopAuto     StopReason = "auto"
	StopSignOut  StopReason = "signout"
	StopFailSafe StopReason = "failsafe"
)
