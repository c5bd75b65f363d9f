package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/platform/retry"
)

// ChangeChannel is the LISTEN/NOTIFY channel fed by the profiles trigger.
const ChangeChannel = "profile_changes"

var _ domain.ChangeFeed = (*ChangeFeed)(nil)

// ChangeFeed turns NOTIFY payloads from the profiles trigger into change
// events. Every subscription holds its own dedicated connection, because a
// LISTEN must not leak back into the shared pool.
type ChangeFeed struct {
	connCfg *pgx.ConnConfig

	// ReconnectPolicy bounds reconnect attempts after the listening
	// connection drops. When exhausted the subscription stops delivering.
	ReconnectPolicy retry.Policy
}

func NewChangeFeed(pool *pgxpool.Pool, clock clockwork.Clock) *ChangeFeed {
	return &ChangeFeed{
		connCfg: pool.Config().ConnConfig.Copy(),
		ReconnectPolicy: retry.Policy{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			Clock:          clock,
		},
	}
}

type changePayload struct {
	ProfileID uuid.UUID `json:"profile_id"`
	IsVisible bool      `json:"is_visible"`
	At        time.Time `json:"at"`
}

func decodeChange(payload string) (domain.ProfileChange, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.ProfileChange{}, fmt.Errorf("failed to decode profile change: %w", err)
	}
	if p.ProfileID == uuid.Nil {
		return domain.ProfileChange{}, errors.New("profile change without profile_id")
	}
	return domain.ProfileChange{ProfileID: p.ProfileID, IsVisible: p.IsVisible, At: p.At}, nil
}

func (f *ChangeFeed) Subscribe(ctx context.Context, filter domain.ChangeFilter, onEvent func(domain.ProfileChange)) (domain.Subscription, error) {
	if filter.Table != "" && filter.Table != "profiles" {
		return nil, fmt.Errorf("unsupported change table %q", filter.Table)
	}

	conn, err := f.listen(ctx)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &listenSubscription{cancel: cancel, done: make(chan struct{})}
	sub.wg.Add(1)
	go f.receive(subCtx, sub, conn, filter, onEvent)

	slog.Debug("Subscribed to profile changes", "channel", ChangeChannel)
	return sub, nil
}

func (f *ChangeFeed) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, f.connCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}
	return conn, nil
}

func (f *ChangeFeed) receive(ctx context.Context, sub *listenSubscription, conn *pgx.Conn, filter domain.ChangeFilter, onEvent func(domain.ProfileChange)) {
	defer sub.wg.Done()
	defer close(sub.done)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			slog.Warn("Profile change listener lost its connection, reconnecting", "error", err)
			_ = conn.Close(context.Background())
			conn, err = retry.Do(ctx, f.ReconnectPolicy, func(error) retry.Action { return retry.Retry }, func() (*pgx.Conn, error) {
				return f.listen(ctx)
			})
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("Profile change listener gave up", "error", err)
					sub.fail(fmt.Errorf("profile change listener lost: %w", err))
				}
				return
			}

			// notifications sent while disconnected are gone
			slog.Info("Profile change listener reconnected")
			onEvent(domain.ProfileChange{Resync: true, At: time.Now().UTC()})
			continue
		}

		change, err := decodeChange(n.Payload)
		if err != nil {
			slog.Warn("Dropping malformed profile change", "payload", n.Payload, "error", err)
			continue
		}
		if filter.Matches(change) {
			onEvent(change)
		}
	}
}

type listenSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *listenSubscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *listenSubscription) Done() <-chan struct{} { return s.done }

func (s *listenSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *listenSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}
