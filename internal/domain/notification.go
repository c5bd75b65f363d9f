package domain

import (
	"context"
	"time"
)

type NotificationKind string

const (
	NotifyVisible             NotificationKind = "visible"
	NotifyUserHidden          NotificationKind = "user_hidden"
	NotifyAutoHidden          NotificationKind = "auto_hidden"
	NotifyPermissionDenied    NotificationKind = "permission_denied"
	NotifyLocationUnavailable NotificationKind = "location_unavailable"
	NotifyStartTimedOut       NotificationKind = "start_timed_out"
	NotifyMatched             NotificationKind = "matched"
	NotifyInterestSent        NotificationKind = "interest_sent"
	NotifyRelayFailed         NotificationKind = "relay_failed"
)

type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

// Notifier delivers user-facing notifications to the presentation layer.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NearbyListener receives every replacement of the nearby-user snapshot.
type NearbyListener interface {
	NearbyUpdated(users []NearbyUser)
}
