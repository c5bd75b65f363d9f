package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

var _ domain.ProfileStore = (*PublishingStore)(nil)

// PublishingStore decorates a ProfileStore and publishes a change event after
// every successful write. Publishing is best effort: a failed publish is
// logged and the write still succeeds.
type PublishingStore struct {
	next  domain.ProfileStore
	rdb   *goredis.Client
	clock clockwork.Clock

	mu      sync.Mutex
	visible map[uuid.UUID]bool
}

func NewPublishingStore(next domain.ProfileStore, rdb *goredis.Client, clock clockwork.Clock) *PublishingStore {
	return &PublishingStore{
		next:    next,
		rdb:     rdb,
		clock:   clock,
		visible: make(map[uuid.UUID]bool),
	}
}

func (s *PublishingStore) UpdateLocation(ctx context.Context, userID uuid.UUID, sample domain.LocationSample) error {
	if err := s.next.UpdateLocation(ctx, userID, sample); err != nil {
		return err
	}

	s.mu.Lock()
	visible := s.visible[userID]
	s.mu.Unlock()

	s.publish(ctx, domain.ProfileChange{ProfileID: userID, IsVisible: visible, At: s.clock.Now()})
	return nil
}

func (s *PublishingStore) SetVisibility(ctx context.Context, userID uuid.UUID, visible bool, expiresAt *time.Time) error {
	if err := s.next.SetVisibility(ctx, userID, visible, expiresAt); err != nil {
		return err
	}

	s.mu.Lock()
	if visible {
		s.visible[userID] = true
	} else {
		delete(s.visible, userID)
	}
	s.mu.Unlock()

	s.publish(ctx, domain.ProfileChange{ProfileID: userID, IsVisible: visible, At: s.clock.Now()})
	return nil
}

func (s *PublishingStore) publish(ctx context.Context, change domain.ProfileChange) {
	payload, err := encodeChange(change)
	if err != nil {
		slog.WarnContext(ctx, "Failed to encode profile change", "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, ChangesChannel, payload).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to publish profile change", "profile_id", change.ProfileID, "error", err)
	}
}
