package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NearbyUser is one entry of the radius-search result. The client never
// computes distances itself.
type NearbyUser struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"displayName"`
	Bio            string    `json:"bio"`
	PhotoRef       string    `json:"photoRef"`
	Interests      []string  `json:"interests"`
	DistanceMeters float64   `json:"distanceMeters"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

type NearbyQuery struct {
	UserID       uuid.UUID
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// ProfileStore persists the parts of a profile the coordinator owns.
type ProfileStore interface {
	UpdateLocation(ctx context.Context, userID uuid.UUID, sample LocationSample) error
	// SetVisibility writes is_visible and visibility_expires_at. A nil expiresAt clears it.
	SetVisibility(ctx context.Context, userID uuid.UUID, visible bool, expiresAt *time.Time) error
}

// NearbyFinder is the remote radius-search procedure. The returned list is an
// already-filtered snapshot with no ordering guarantee.
type NearbyFinder interface {
	FindNearby(ctx context.Context, q NearbyQuery) ([]NearbyUser, error)
}

// ProfileChange is a row-level change notification for a profile.
type ProfileChange struct {
	ProfileID uuid.UUID `json:"profileId"`
	IsVisible bool      `json:"isVisible"`
	At        time.Time `json:"at"`
	// Resync is set by a feed that may have missed changes, for example after
	// it re-established a dropped connection. It names no single profile.
	Resync bool `json:"resync,omitempty"`
}

// ChangeFilter selects which profile changes a subscription receives.
type ChangeFilter struct {
	Table       string
	VisibleOnly bool
}

// Matches reports whether a change passes the filter.
func (f ChangeFilter) Matches(c ProfileChange) bool {
	return c.Resync || !f.VisibleOnly || c.IsVisible
}

type Subscription interface {
	// Done is closed once the subscription stops delivering, either because
	// it was closed or because the feed lost it for good.
	Done() <-chan struct{}
	// Err reports why delivery stopped. It is nil while the subscription is
	// live and after a regular Close.
	Err() error
	Close() error
}

// ChangeFeed delivers profile change notifications. onEvent may be called from
// any goroutine and must not block.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter ChangeFilter, onEvent func(ProfileChange)) (Subscription, error)
}
