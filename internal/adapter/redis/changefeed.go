package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/nearby/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

var _ domain.ChangeFeed = (*ChangeFeed)(nil)

type ChangeFeed struct {
	rdb *goredis.Client
}

func NewChangeFeed(rdb *goredis.Client) *ChangeFeed {
	return &ChangeFeed{rdb: rdb}
}

// Subscribe confirms the subscription with Redis before returning, so events
// published after a successful call are not missed.
func (f *ChangeFeed) Subscribe(ctx context.Context, filter domain.ChangeFilter, onEvent func(domain.ProfileChange)) (domain.Subscription, error) {
	if filter.Table != "" && filter.Table != "profiles" {
		return nil, fmt.Errorf("unsupported change table %q", filter.Table)
	}

	pubsub := f.rdb.Subscribe(ctx, ChangesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ChangesChannel, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &pubsubSubscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	sub.wg.Add(1)
	go sub.receive(subCtx, filter, onEvent)

	slog.Debug("Subscribed to profile changes", "channel", ChangesChannel)
	return sub, nil
}

type pubsubSubscription struct {
	pubsub *goredis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	err    error
	done   chan struct{}

	mu   sync.Mutex
	lost error
}

func (s *pubsubSubscription) Done() <-chan struct{} { return s.done }

func (s *pubsubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

func (s *pubsubSubscription) receive(ctx context.Context, filter domain.ChangeFilter, onEvent func(domain.ProfileChange)) {
	defer s.wg.Done()
	defer close(s.done)

	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					s.mu.Lock()
					s.lost = errors.New("profile change channel closed")
					s.mu.Unlock()
				}
				return
			}
			change, err := decodeChange(msg.Payload)
			if err != nil {
				slog.Warn("Dropping malformed profile change", "payload", msg.Payload, "error", err)
				continue
			}
			if filter.Matches(change) {
				onEvent(change)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *pubsubSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.pubsub.Close()
		s.wg.Wait()
	})
	return s.err
}
