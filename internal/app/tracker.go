package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/metrics"
	"github.com/pscheid92/nearby/internal/platform/correlation"
)

const (
	defaultWatchMaxAge   = 1 * time.Minute
	samplePersistTimeout = 10 * time.Second
)

// Tracker runs the provider's continuous watch for one user and persists every
// sample it delivers.
type Tracker struct {
	provider domain.GeolocationProvider
	store    domain.ProfileStore
	userID   uuid.UUID
	opts     domain.PositionOptions
}

func NewTracker(provider domain.GeolocationProvider, store domain.ProfileStore, userID uuid.UUID, opts domain.PositionOptions) *Tracker {
	if opts.MaxAge == 0 {
		opts.MaxAge = defaultWatchMaxAge
	}
	return &Tracker{
		provider: provider,
		store:    store,
		userID:   userID,
		opts:     opts,
	}
}

// Track starts a watch. onSample runs before the sample is persisted. Watch
// errors are logged and never surfaced. Stopping the returned handle waits for
// an in-flight persist to finish.
func (t *Tracker) Track(ctx context.Context, onSample func(domain.LocationSample)) (domain.Watch, error) {
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &trackHandle{cancel: cancel}

	watch, err := t.provider.WatchPosition(watchCtx, t.opts,
		func(sample domain.LocationSample) {
			if !h.enter() {
				return
			}
			defer h.wg.Done()

			if onSample != nil {
				onSample(sample)
			}

			sampleCtx, sampleCancel := context.WithTimeout(correlation.WithID(watchCtx, correlation.NewID()), samplePersistTimeout)
			defer sampleCancel()
			if err := t.store.UpdateLocation(sampleCtx, t.userID, sample); err != nil {
				metrics.TrackedSamplesTotal.WithLabelValues("error").Inc()
				slog.WarnContext(sampleCtx, "Failed to persist tracked location", "user_id", t.userID, "error", err)
				return
			}
			metrics.TrackedSamplesTotal.WithLabelValues("success").Inc()
		},
		func(err error) {
			slog.WarnContext(watchCtx, "Location watch error", "user_id", t.userID, "error", err)
		},
	)
	if err != nil {
		cancel()
		return nil, err
	}

	h.watch = watch
	return h, nil
}

type trackHandle struct {
	watch  domain.Watch
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func (h *trackHandle) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *trackHandle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	if h.watch != nil {
		h.watch.Stop()
	}
	h.wg.Wait()
}
