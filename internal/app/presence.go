package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/pscheid92/nearby/internal/metrics"
	"github.com/pscheid92/nearby/internal/platform/correlation"
)

const (
	defaultVisibilityTTL = 15 * time.Minute
	defaultStartTimeout  = 15 * time.Second
	teardownTimeout      = 10 * time.Second
)

const (
	msgVisible             = "Looking for people nearby. You'll be notified when someone is found."
	msgUserHidden          = "You're no longer visible to others nearby."
	msgAutoHidden          = "Your visibility expired. Start scanning again to stay discoverable."
	msgPermissionDenied    = "Please enable location services to find people nearby."
	msgLocationUnavailable = "Unable to get your current location. Please check your settings."
	msgStartTimedOut       = "Starting took too long. Please try again."
)

type PresenceConfig struct {
	UserID        uuid.UUID
	VisibilityTTL time.Duration
	StartTimeout  time.Duration
	// DisableAutoHide starts with sessions that last until stopped.
	DisableAutoHide bool
}

// Presence is the session controller for one signed-in user. It drives the
// Idle -> Starting -> Active -> Stopping -> Idle lifecycle and owns every
// timer, watch and remote flag a session creates.
type Presence struct {
	cfg      PresenceConfig
	locator  *Locator
	tracker  *Tracker
	store    domain.ProfileStore
	rescans  *Rescanner
	notifier domain.Notifier
	clock    clockwork.Clock

	mu           sync.Mutex
	status       domain.SessionStatus
	autoHide     bool
	gen          uint64
	signedOut    bool
	startedAt    time.Time
	expiresAt    time.Time
	lastLocation *domain.LocationSample
	watch        domain.Watch
	failsafe     clockwork.Timer
	expiry       clockwork.Timer
	cancelStart  context.CancelFunc
}

// NewPresence wires the controller. notifier may be nil.
func NewPresence(cfg PresenceConfig, locator *Locator, tracker *Tracker, store domain.ProfileStore, rescans *Rescanner, notifier domain.Notifier, clock clockwork.Clock) *Presence {
	if cfg.VisibilityTTL <= 0 {
		cfg.VisibilityTTL = defaultVisibilityTTL
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	return &Presence{
		cfg:      cfg,
		locator:  locator,
		tracker:  tracker,
		store:    store,
		rescans:  rescans,
		notifier: notifier,
		clock:    clock,
		autoHide: !cfg.DisableAutoHide,
	}
}

// Settings returns the discovery preferences in effect.
func (p *Presence) Settings() domain.Settings {
	p.mu.Lock()
	autoHide := p.autoHide
	p.mu.Unlock()
	return domain.Settings{RadiusMeters: p.rescans.Radius(), AutoHide: autoHide}
}

// UpdateSettings applies new preferences. The radius takes effect with the
// next rescan; AutoHide with the next session.
func (p *Presence) UpdateSettings(s domain.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.autoHide = s.AutoHide
	p.mu.Unlock()
	p.rescans.SetRadius(s.RadiusMeters)
	slog.Info("Settings updated", "user_id", p.cfg.UserID, "radius_meters", s.RadiusMeters, "auto_hide", s.AutoHide)
	return nil
}

// Resume reconciles the stored visibility flag with a controller that has
// just come up. A profile that is still discoverable gets a fresh session;
// a lapsed flag is cleared.
func (p *Presence) Resume(ctx context.Context, profile domain.Profile) (bool, error) {
	if !profile.IsVisible {
		return false, nil
	}
	if !profile.VisibleAt(p.clock.Now()) {
		slog.InfoContext(ctx, "Clearing lapsed visibility flag", "user_id", p.cfg.UserID)
		if err := p.store.SetVisibility(ctx, p.cfg.UserID, false, nil); err != nil {
			return false, fmt.Errorf("%w: clear visibility: %w", domain.ErrRemoteWriteFailed, err)
		}
		return false, nil
	}
	slog.InfoContext(ctx, "Resuming visible session", "user_id", p.cfg.UserID)
	return p.Start(ctx)
}

// Snapshot returns a copy of the current session.
func (p *Presence) Snapshot() domain.Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := domain.Session{
		Status:    p.status,
		StartedAt: p.startedAt,
		ExpiresAt: p.expiresAt,
	}
	if p.lastLocation != nil {
		loc := *p.lastLocation
		s.LastLocation = &loc
	}
	return s
}

func (p *Presence) Permission() domain.PermissionState {
	return p.locator.Permission()
}

func (p *Presence) Nearby() []domain.NearbyUser {
	return p.rescans.Snapshot()
}

// Refresh triggers an explicit rescan of the active session.
func (p *Presence) Refresh(ctx context.Context) ([]domain.NearbyUser, error) {
	p.mu.Lock()
	active := p.status == domain.SessionActive
	p.mu.Unlock()
	if !active {
		return nil, domain.ErrNoLocation
	}
	return p.rescans.Refresh(ctx)
}

// Start makes the user discoverable. It returns false without side effects
// when a session is already starting, active or stopping. Any failure unwinds
// what was done so far and leaves the controller Idle.
func (p *Presence) Start(ctx context.Context) (bool, error) {
	ctx = correlation.Ensure(ctx)

	p.mu.Lock()
	if p.signedOut {
		p.mu.Unlock()
		return false, domain.ErrSignedOut
	}
	if p.status != domain.SessionIdle {
		status := p.status
		p.mu.Unlock()
		metrics.SessionStartsTotal.WithLabelValues("rejected").Inc()
		slog.DebugContext(ctx, "Start ignored, session not idle", "user_id", p.cfg.UserID, "status", status)
		return false, nil
	}

	p.status = domain.SessionStarting
	p.gen++
	gen := p.gen
	autoHide := p.autoHide
	startCtx, cancel := context.WithCancel(ctx)
	p.cancelStart = cancel
	p.armFailsafeLocked(ctx, gen)
	p.mu.Unlock()
	defer cancel()

	slog.InfoContext(ctx, "Starting presence session", "user_id", p.cfg.UserID)

	if err := p.locator.EnsurePermission(startCtx); err != nil {
		return false, p.acquireFailed(ctx, gen, err)
	}

	// The location read is bounded by the locator's own attempt budget, which
	// outlasts the start timeout, so the fail-safe is paused around it.
	if !p.pauseFailsafe(gen) {
		return false, p.abortStart(ctx, gen, nil, false, domain.ErrStartAborted)
	}
	sample, err := p.locator.Position(startCtx)
	if err != nil {
		return false, p.acquireFailed(ctx, gen, err)
	}
	if !p.armFailsafe(ctx, gen) {
		return false, p.abortStart(ctx, gen, nil, false, domain.ErrStartAborted)
	}
	p.recordSample(gen, sample)

	if err := p.store.UpdateLocation(startCtx, p.cfg.UserID, sample); err != nil {
		return false, p.abortStart(ctx, gen, nil, false, fmt.Errorf("%w: update location: %w", domain.ErrRemoteWriteFailed, err))
	}

	startedAt := p.clock.Now()
	var (
		expiresAt time.Time
		expiry    *time.Time
	)
	if autoHide {
		expiresAt = startedAt.Add(p.cfg.VisibilityTTL)
		expiry = &expiresAt
	}
	if err := p.store.SetVisibility(startCtx, p.cfg.UserID, true, expiry); err != nil {
		return false, p.abortStart(ctx, gen, nil, true, fmt.Errorf("%w: set visibility: %w", domain.ErrRemoteWriteFailed, err))
	}
	if !p.owns(gen) {
		return false, p.abortStart(ctx, gen, nil, true, domain.ErrStartAborted)
	}

	watch, err := p.tracker.Track(startCtx, func(s domain.LocationSample) { p.recordSample(gen, s) })
	if err != nil {
		return false, p.abortStart(ctx, gen, nil, true, fmt.Errorf("start tracking: %w", err))
	}

	// failures are logged by the rescanner and do not abort the start
	_, _ = p.rescans.Rescan(startCtx, sample)

	p.mu.Lock()
	if p.gen != gen || p.status != domain.SessionStarting {
		p.mu.Unlock()
		return false, p.abortStart(ctx, gen, watch, true, domain.ErrStartAborted)
	}
	p.status = domain.SessionActive
	if p.failsafe != nil {
		p.failsafe.Stop()
		p.failsafe = nil
	}
	p.cancelStart = nil
	p.startedAt = startedAt
	p.expiresAt = expiresAt
	p.watch = watch
	if autoHide {
		p.expiry = p.clock.AfterFunc(expiresAt.Sub(p.clock.Now()), func() { p.expire(gen) })
	}
	latest := sample
	if p.lastLocation != nil {
		latest = *p.lastLocation
	}
	p.rescans.Activate(latest)
	p.mu.Unlock()

	metrics.SessionStartsTotal.WithLabelValues("started").Inc()
	metrics.SessionActive.Set(1)
	slog.InfoContext(ctx, "Presence session active", "user_id", p.cfg.UserID, "auto_hide", autoHide, "expires_at", expiresAt)
	p.notify(ctx, domain.NotifyVisible, msgVisible)
	return true, nil
}

// Stop ends the session on user request. It is a no-op when Idle or already
// Stopping. Teardown errors are joined and returned; the controller reaches
// Idle regardless.
func (p *Presence) Stop(ctx context.Context) error {
	return p.stop(correlation.Ensure(ctx), domain.StopUser, 0)
}

// SignOut stops any session without a user-facing notification and rejects
// every later Start.
func (p *Presence) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signedOut = true
	p.mu.Unlock()
	return p.stop(correlation.Ensure(ctx), domain.StopSignOut, 0)
}

// stop tears the session down. A non-zero gen restricts it to that session.
func (p *Presence) stop(ctx context.Context, reason domain.StopReason, gen uint64) error {
	p.mu.Lock()
	if p.status == domain.SessionIdle || p.status == domain.SessionStopping {
		p.mu.Unlock()
		return nil
	}
	if gen != 0 && p.gen != gen {
		p.mu.Unlock()
		return nil
	}

	p.status = domain.SessionStopping
	p.gen++
	if p.failsafe != nil {
		p.failsafe.Stop()
		p.failsafe = nil
	}
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
	cancelStart := p.cancelStart
	p.cancelStart = nil
	watch := p.watch
	p.watch = nil
	p.mu.Unlock()

	slog.InfoContext(ctx, "Stopping presence session", "user_id", p.cfg.UserID, "reason", reason)

	if cancelStart != nil {
		cancelStart()
	}

	p.rescans.Deactivate()
	if watch != nil {
		watch.Stop()
	}

	var errs []error
	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := p.store.SetVisibility(teardownCtx, p.cfg.UserID, false, nil); err != nil {
		metrics.RollbackFailuresTotal.Inc()
		slog.ErrorContext(ctx, "Failed to clear visibility", "user_id", p.cfg.UserID, "error", err)
		errs = append(errs, fmt.Errorf("%w: clear visibility: %w", domain.ErrRemoteWriteFailed, err))
	}

	p.mu.Lock()
	p.status = domain.SessionIdle
	p.lastLocation = nil
	p.startedAt = time.Time{}
	p.expiresAt = time.Time{}
	p.mu.Unlock()

	metrics.SessionStopsTotal.WithLabelValues(string(reason)).Inc()
	metrics.SessionActive.Set(0)

	switch reason {
	case domain.StopUser:
		p.notify(ctx, domain.NotifyUserHidden, msgUserHidden)
	case domain.StopAuto:
		p.notify(ctx, domain.NotifyAutoHidden, msgAutoHidden)
	}

	return errors.Join(errs...)
}

func (p *Presence) expire(gen uint64) {
	ctx := correlation.WithID(context.Background(), correlation.NewID())

	p.mu.Lock()
	due := p.gen == gen && p.status == domain.SessionActive
	p.mu.Unlock()
	if !due {
		return
	}

	slog.InfoContext(ctx, "Visibility expired", "user_id", p.cfg.UserID)
	if err := p.stop(ctx, domain.StopAuto, gen); err != nil {
		slog.WarnContext(ctx, "Auto-expiry teardown incomplete", "user_id", p.cfg.UserID, "error", err)
	}
}

// startTimedOut forces a stalled start back to Idle. The start goroutine
// notices the generation change and unwinds its own side effects.
func (p *Presence) startTimedOut(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if p.gen != gen || p.status != domain.SessionStarting {
		p.mu.Unlock()
		return
	}
	p.status = domain.SessionIdle
	p.gen++
	p.failsafe = nil
	cancel := p.cancelStart
	p.cancelStart = nil
	p.lastLocation = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	metrics.SessionStopsTotal.WithLabelValues(string(domain.StopFailSafe)).Inc()
	slog.WarnContext(ctx, "Presence start timed out", "user_id", p.cfg.UserID, "timeout", p.cfg.StartTimeout)
	p.notify(ctx, domain.NotifyStartTimedOut, msgStartTimedOut)
}

// abortStart unwinds a start that failed or was superseded. The watch it
// created is always stopped; the rescans and the visibility flag are left
// alone when a newer session already owns them.
func (p *Presence) abortStart(ctx context.Context, gen uint64, watch domain.Watch, visibilityWritten bool, cause error) error {
	if watch != nil {
		watch.Stop()
	}

	p.mu.Lock()
	ownCurrent := p.gen == gen && p.status == domain.SessionStarting
	if !ownCurrent && !errors.Is(cause, domain.ErrStartAborted) {
		cause = fmt.Errorf("%w: %w", domain.ErrStartAborted, cause)
	}
	superseded := p.gen != gen && (p.status == domain.SessionStarting || p.status == domain.SessionActive)
	if ownCurrent && p.failsafe != nil {
		p.failsafe.Stop()
		p.failsafe = nil
	}
	p.mu.Unlock()

	if !superseded {
		p.rescans.Deactivate()
		if visibilityWritten {
			unwindCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
			if err := p.store.SetVisibility(unwindCtx, p.cfg.UserID, false, nil); err != nil {
				metrics.RollbackFailuresTotal.Inc()
				slog.ErrorContext(ctx, "Failed to roll back visibility", "user_id", p.cfg.UserID, "error", err)
			}
			cancel()
		}
	}

	if ownCurrent {
		p.mu.Lock()
		if p.gen == gen && p.status == domain.SessionStarting {
			p.status = domain.SessionIdle
			p.cancelStart = nil
			p.lastLocation = nil
		}
		p.mu.Unlock()
	}

	if errors.Is(cause, domain.ErrStartAborted) {
		metrics.SessionStartsTotal.WithLabelValues("aborted").Inc()
	} else if !errors.Is(cause, domain.ErrPermissionDenied) && !errors.Is(cause, domain.ErrLocationUnavailable) && !errors.Is(cause, domain.ErrProviderUnsupported) {
		metrics.SessionStartsTotal.WithLabelValues("failed").Inc()
	}

	slog.WarnContext(ctx, "Presence start failed", "user_id", p.cfg.UserID, "error", cause)
	return cause
}

// acquireFailed reports a failed permission or location read and unwinds.
func (p *Presence) acquireFailed(ctx context.Context, gen uint64, err error) error {
	if !p.owns(gen) {
		return p.abortStart(ctx, gen, nil, false, err)
	}
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		p.notify(ctx, domain.NotifyPermissionDenied, msgPermissionDenied)
		metrics.SessionStartsTotal.WithLabelValues("denied").Inc()
	case errors.Is(err, domain.ErrLocationUnavailable), errors.Is(err, domain.ErrProviderUnsupported):
		p.notify(ctx, domain.NotifyLocationUnavailable, msgLocationUnavailable)
		metrics.SessionStartsTotal.WithLabelValues("unavailable").Inc()
	}
	return p.abortStart(ctx, gen, nil, false, err)
}

// armFailsafeLocked starts a fresh fail-safe window for gen. p.mu must be held.
func (p *Presence) armFailsafeLocked(ctx context.Context, gen uint64) {
	if p.failsafe != nil {
		p.failsafe.Stop()
	}
	failCtx := context.WithoutCancel(ctx)
	p.failsafe = p.clock.AfterFunc(p.cfg.StartTimeout, func() { p.startTimedOut(failCtx, gen) })
}

func (p *Presence) armFailsafe(ctx context.Context, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.status != domain.SessionStarting {
		return false
	}
	p.armFailsafeLocked(ctx, gen)
	return true
}

func (p *Presence) pauseFailsafe(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.status != domain.SessionStarting {
		return false
	}
	if p.failsafe != nil {
		p.failsafe.Stop()
		p.failsafe = nil
	}
	return true
}

func (p *Presence) owns(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.status == domain.SessionStarting
}

func (p *Presence) recordSample(gen uint64, s domain.LocationSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	switch p.status {
	case domain.SessionStarting:
		p.lastLocation = &s
	case domain.SessionActive:
		p.lastLocation = &s
		p.rescans.UpdateLocation(s)
	}
}

func (p *Presence) notify(ctx context.Context, kind domain.NotificationKind, message string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, domain.Notification{Kind: kind, Message: message, At: p.clock.Now()})
}
