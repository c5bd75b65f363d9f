package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/metrics"
	"github.com/pscheid92/nearby/internal/platform/retry"
)

const (
	defaultLocationAttempts = 3
	defaultAttemptTimeout   = 15 * time.Second
	defaultRetryDelay       = 1 * time.Second
	defaultPositionMaxAge   = 5 * time.Minute
)

type LocatorConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	MaxAge         time.Duration
	HighAccuracy   bool
}

func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		MaxAttempts:    defaultLocationAttempts,
		AttemptTimeout: defaultAttemptTimeout,
		RetryDelay:     defaultRetryDelay,
		MaxAge:         defaultPositionMaxAge,
		HighAccuracy:   true,
	}
}

// Locator obtains a single position from the geolocation provider with a
// per-attempt timeout and a bounded flat retry. It performs no writes.
type Locator struct {
	provider domain.GeolocationProvider
	cfg      LocatorConfig
	clock    clockwork.Clock

	mu         sync.RWMutex
	permission domain.PermissionState
}

func NewLocator(provider domain.GeolocationProvider, cfg LocatorConfig, clock clockwork.Clock) *Locator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Locator{
		provider: provider,
		cfg:      cfg,
		clock:    clock,
	}
}

// Permission returns the last observed permission state.
func (l *Locator) Permission() domain.PermissionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.permission
}

func (l *Locator) setPermission(state domain.PermissionState) {
	if state == domain.PermissionUnknown {
		return
	}
	l.mu.Lock()
	l.permission = state
	l.mu.Unlock()
}

// EnsurePermission checks the permission and requests it once when it is not
// granted. A denial is terminal for this call; it is re-checked on the next one.
func (l *Locator) EnsurePermission(ctx context.Context) error {
	state, err := l.provider.CheckPermission(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrProviderUnsupported) {
			return err
		}
		slog.WarnContext(ctx, "Permission check failed, requesting instead", "error", err)
		state = domain.PermissionUnknown
	}
	l.setPermission(state)

	if state == domain.PermissionGranted {
		return nil
	}

	granted, err := l.provider.RequestPermission(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrProviderUnsupported) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	if !granted {
		l.setPermission(domain.PermissionDenied)
		return domain.ErrPermissionDenied
	}

	l.setPermission(domain.PermissionGranted)
	return nil
}

// Acquire ensures permission and returns a fresh position.
func (l *Locator) Acquire(ctx context.Context) (domain.LocationSample, error) {
	if err := l.EnsurePermission(ctx); err != nil {
		return domain.LocationSample{}, err
	}
	return l.Position(ctx)
}

// Position reads the current position, retrying failed or timed-out attempts
// with a constant delay. It assumes permission was already granted.
func (l *Locator) Position(ctx context.Context) (domain.LocationSample, error) {
	start := l.clock.Now()
	defer func() { metrics.LocationAcquireDuration.Observe(l.clock.Since(start).Seconds()) }()

	policy := retry.Policy{
		MaxAttempts:    l.cfg.MaxAttempts,
		InitialBackoff: l.cfg.RetryDelay,
		Constant:       true,
		Clock:          l.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.DebugContext(ctx, "Location attempt failed, retrying", "attempt", attempt, "error", err, "backoff", backoff)
		},
	}

	classify := func(err error) retry.Action {
		if ctx.Err() != nil {
			return retry.Stop
		}
		if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrProviderUnsupported) {
			return retry.Stop
		}
		return retry.Retry
	}

	sample, err := retry.Do(ctx, policy, classify, func() (domain.LocationSample, error) {
		return l.attempt(ctx)
	})
	if err == nil {
		return sample, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.LocationSample{}, fmt.Errorf("acquire location: %w", ctxErr)
	}
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		if errors.Is(perm.Err, domain.ErrPermissionDenied) {
			l.setPermission(domain.PermissionDenied)
		}
		return domain.LocationSample{}, perm.Err
	}
	return domain.LocationSample{}, fmt.Errorf("%w: %w", domain.ErrLocationUnavailable, err)
}

type positionResult struct {
	sample domain.LocationSample
	err    error
}

func (l *Locator) attempt(ctx context.Context) (domain.LocationSample, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	deadline := l.clock.AfterFunc(l.cfg.AttemptTimeout, func() { cancel(context.DeadlineExceeded) })
	defer deadline.Stop()

	opts := domain.PositionOptions{
		HighAccuracy: l.cfg.HighAccuracy,
		Timeout:      l.cfg.AttemptTimeout,
		MaxAge:       l.cfg.MaxAge,
	}

	// The provider may not honour cancellation, so the deadline is enforced here.
	resultCh := make(chan positionResult, 1)
	go func() {
		sample, err := l.provider.CurrentPosition(attemptCtx, opts)
		resultCh <- positionResult{sample: sample, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			metrics.LocationAttemptsTotal.WithLabelValues(attemptResult(res.err)).Inc()
			return domain.LocationSample{}, res.err
		}
		metrics.LocationAttemptsTotal.WithLabelValues("success").Inc()
		return res.sample, nil
	case <-attemptCtx.Done():
		cause := context.Cause(attemptCtx)
		if !errors.Is(cause, context.DeadlineExceeded) {
			return domain.LocationSample{}, cause
		}
		metrics.LocationAttemptsTotal.WithLabelValues("timeout").Inc()
		return domain.LocationSample{}, fmt.Errorf("position attempt timed out after %s: %w", l.cfg.AttemptTimeout, cause)
	}
}

func attemptResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, domain.ErrProviderUnsupported):
		return "unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unavailable"
	}
}
