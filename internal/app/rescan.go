package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/metrics"
	"github.com/pscheid92/nearby/internal/platform/correlation"
	"github.com/pscheid92/nearby/internal/platform/retry"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRescanInterval = 30 * time.Second
	defaultSearchRadius   = 100.0
	rescanTimeout         = 10 * time.Second

	profilesTable = "profiles"
	rescanKey     = "nearby"
)

const (
	TriggerInitial = "initial"
	TriggerTimer   = "timer"
	TriggerChange  = "change"
	TriggerManual  = "manual"
)

type RescannerConfig struct {
	UserID       uuid.UUID
	Interval     time.Duration
	RadiusMeters float64
	// SubscribePolicy bounds the attempts to open the change-feed subscription.
	SubscribePolicy retry.Policy
	// OnUpdate receives every replacement of the snapshot. It must not call back into the Rescanner.
	OnUpdate func([]domain.NearbyUser)
}

func DefaultSubscribePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      5,
		InitialBackoff:   time.Second,
		RateLimitBackoff: 5 * time.Second,
	}
}

// Rescanner keeps the nearby-user snapshot fresh while a session is active. It
// owns at most one interval ticker and one change-feed subscription.
type Rescanner struct {
	finder domain.NearbyFinder
	feed   domain.ChangeFeed
	clock  clockwork.Clock
	cfg    RescannerConfig
	group  singleflight.Group

	feedUp atomic.Bool

	// pubMu orders snapshot deliveries against the clearing done by Deactivate.
	pubMu sync.Mutex

	mu       sync.Mutex
	current  *activation
	epoch    uint64
	radius   float64
	location *domain.LocationSample
	snapshot []domain.NearbyUser
}

type activation struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRescanner creates a coordinator. feed may be nil, in which case only the
// interval timer triggers rescans.
func NewRescanner(finder domain.NearbyFinder, feed domain.ChangeFeed, clock clockwork.Clock, cfg RescannerConfig) *Rescanner {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRescanInterval
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = defaultSearchRadius
	}
	if cfg.SubscribePolicy.MaxAttempts < 1 {
		cfg.SubscribePolicy = DefaultSubscribePolicy()
	}
	if cfg.SubscribePolicy.Clock == nil {
		cfg.SubscribePolicy.Clock = clock
	}
	return &Rescanner{
		finder: finder,
		feed:   feed,
		clock:  clock,
		cfg:    cfg,
		radius: cfg.RadiusMeters,
	}
}

// Radius returns the search radius in metres.
func (r *Rescanner) Radius() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.radius
}

// SetRadius changes the search radius used by subsequent rescans.
func (r *Rescanner) SetRadius(meters float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meters > 0 {
		r.radius = meters
	}
}

// FeedConnected reports whether a change-feed subscription is currently open.
func (r *Rescanner) FeedConnected() bool {
	return r.feedUp.Load()
}

// Activate starts the interval timer and the change-feed subscription for the
// given position. Calling it while active only updates the position.
func (r *Rescanner) Activate(loc domain.LocationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.location = &loc
	if r.current != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	act := &activation{cancel: cancel}
	ticker := r.clock.NewTicker(r.cfg.Interval)
	kick := make(chan struct{}, 1)

	act.wg.Add(1)
	go r.loop(ctx, act, ticker, kick)

	if r.feed != nil {
		act.wg.Add(1)
		go r.watchChanges(ctx, act, kick)
	}

	r.current = act
	slog.Debug("Rescans activated", "user_id", r.cfg.UserID, "interval", r.cfg.Interval)
}

// Deactivate releases the timer and the subscription, waits for in-flight
// loop work to finish and clears the snapshot. Safe to call when inactive.
// Must not be called from OnUpdate.
func (r *Rescanner) Deactivate() {
	r.mu.Lock()
	act := r.current
	r.current = nil
	r.epoch++
	r.location = nil
	hadSnapshot := r.snapshot != nil
	r.snapshot = nil
	r.mu.Unlock()

	if act != nil {
		act.cancel()
		act.wg.Wait()
		slog.Debug("Rescans deactivated", "user_id", r.cfg.UserID)
	}

	if act != nil || hadSnapshot {
		metrics.NearbyUsers.Set(0)
		r.pubMu.Lock()
		r.publish(nil)
		r.pubMu.Unlock()
	}
}

// Active reports whether the timer and subscription are running.
func (r *Rescanner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// UpdateLocation moves the search centre for subsequent rescans.
func (r *Rescanner) UpdateLocation(loc domain.LocationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.location = &loc
	}
}

// Snapshot returns a copy of the current nearby-user list.
func (r *Rescanner) Snapshot() []domain.NearbyUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.snapshot)
}

// Rescan searches around target and replaces the snapshot. Concurrent calls
// are collapsed. On failure the previous snapshot is kept.
func (r *Rescanner) Rescan(ctx context.Context, target domain.LocationSample) ([]domain.NearbyUser, error) {
	return r.rescan(ctx, TriggerInitial, target)
}

// Refresh rescans around the last known position.
func (r *Rescanner) Refresh(ctx context.Context) ([]domain.NearbyUser, error) {
	r.mu.Lock()
	loc := r.location
	r.mu.Unlock()

	if loc == nil {
		return nil, domain.ErrNoLocation
	}
	return r.rescan(ctx, TriggerManual, *loc)
}

func (r *Rescanner) rescan(ctx context.Context, trigger string, target domain.LocationSample) ([]domain.NearbyUser, error) {
	r.mu.Lock()
	epoch := r.epoch
	radius := r.radius
	r.mu.Unlock()

	// Calls only collapse within one session; a query still running for a
	// deactivated session must not answer for the next one.
	key := rescanKey + ":" + strconv.FormatUint(epoch, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		start := r.clock.Now()
		users, err := r.finder.FindNearby(ctx, domain.NearbyQuery{
			UserID:       r.cfg.UserID,
			Latitude:     target.Latitude,
			Longitude:    target.Longitude,
			RadiusMeters: radius,
		})
		metrics.RescanDuration.Observe(r.clock.Since(start).Seconds())

		if err != nil {
			metrics.RescansTotal.WithLabelValues(trigger, "error").Inc()
			slog.WarnContext(ctx, "Rescan failed, keeping previous snapshot", "trigger", trigger, "error", err)
			return nil, fmt.Errorf("%w: %w", domain.ErrRescanFailed, err)
		}

		if users == nil {
			users = []domain.NearbyUser{}
		}

		r.mu.Lock()
		if r.epoch != epoch {
			r.mu.Unlock()
			metrics.RescansTotal.WithLabelValues(trigger, "discarded").Inc()
			slog.DebugContext(ctx, "Discarding rescan result from a previous session", "trigger", trigger)
			return slices.Clone(users), nil
		}
		r.snapshot = users
		r.mu.Unlock()

		metrics.RescansTotal.WithLabelValues(trigger, "success").Inc()
		metrics.NearbyUsers.Set(float64(len(users)))
		slog.DebugContext(ctx, "Rescan completed", "trigger", trigger, "count", len(users))

		r.pubMu.Lock()
		r.mu.Lock()
		current := r.epoch == epoch
		r.mu.Unlock()
		if current {
			r.publish(slices.Clone(users))
		}
		r.pubMu.Unlock()

		return slices.Clone(users), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.NearbyUser), nil
}

func (r *Rescanner) publish(users []domain.NearbyUser) {
	if r.cfg.OnUpdate != nil {
		r.cfg.OnUpdate(users)
	}
}

func (r *Rescanner) loop(ctx context.Context, act *activation, ticker clockwork.Ticker, kick <-chan struct{}) {
	defer act.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.scanLatest(ctx, TriggerTimer)
		case <-kick:
			r.scanLatest(ctx, TriggerChange)
		}
	}
}

func (r *Rescanner) scanLatest(ctx context.Context, trigger string) {
	r.mu.Lock()
	loc := r.location
	r.mu.Unlock()
	if loc == nil {
		return
	}

	scanCtx, cancel := context.WithTimeout(correlation.WithID(ctx, correlation.NewID()), rescanTimeout)
	defer cancel()

	// failures are logged inside rescan
	_, _ = r.rescan(scanCtx, trigger, *loc)
}

func (r *Rescanner) watchChanges(ctx context.Context, act *activation, kick chan<- struct{}) {
	defer act.wg.Done()

	filter := domain.ChangeFilter{Table: profilesTable, VisibleOnly: true}
	onEvent := func(change domain.ProfileChange) {
		if !filter.Matches(change) {
			return
		}
		metrics.ChangeFeedEventsTotal.Inc()
		select {
		case kick <- struct{}{}:
		default:
		}
	}

	classify := func(error) retry.Action {
		if ctx.Err() != nil {
			return retry.Stop
		}
		return retry.Retry
	}

	for {
		sub, err := retry.Do(ctx, r.cfg.SubscribePolicy, classify, func() (domain.Subscription, error) {
			sub, err := r.feed.Subscribe(ctx, filter, onEvent)
			if err != nil {
				metrics.ChangeFeedSubscribeFailuresTotal.Inc()
			}
			return sub, err
		})
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Change feed unavailable, falling back to timer-only rescans", "user_id", r.cfg.UserID, "error", err)
			}
			return
		}

		r.feedUp.Store(true)
		metrics.ChangeFeedSubscriptionActive.Set(1)
		var lost bool
		select {
		case <-ctx.Done():
		case <-sub.Done():
			lost = true
		}
		r.feedUp.Store(false)
		metrics.ChangeFeedSubscriptionActive.Set(0)

		if lost {
			metrics.ChangeFeedLostTotal.Inc()
			slog.Warn("Change feed subscription lost, resubscribing", "user_id", r.cfg.UserID, "error", sub.Err())
		}
		if err := sub.Close(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Failed to close change feed subscription", "error", err)
		}
		if !lost {
			return
		}

		// changes may have been missed while the feed was down
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}
