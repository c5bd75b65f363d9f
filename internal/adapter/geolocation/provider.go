// Package geolocation provides a GeolocationProvider for headless
// deployments: positions are configured at startup or reported by the
// device over HTTP instead of being read from local hardware.
package geolocation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
)

const defaultWatchInterval = 10 * time.Second

var _ domain.GeolocationProvider = (*Provider)(nil)

// Provider serves the most recently reported fix. A pending prompt is
// answered with a grant, as if the user accepted the dialog.
type Provider struct {
	clock    clockwork.Clock
	interval time.Duration

	mu         sync.Mutex
	permission domain.PermissionState
	fix        *domain.LocationSample
	changed    chan struct{}
	watches    map[*watch]struct{}
}

func NewProvider(clock clockwork.Clock, permission domain.PermissionState, watchInterval time.Duration) *Provider {
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}
	if permission == domain.PermissionUnknown {
		permission = domain.PermissionPrompt
	}
	return &Provider{
		clock:      clock,
		interval:   watchInterval,
		permission: permission,
		changed:    make(chan struct{}),
		watches:    make(map[*watch]struct{}),
	}
}

func (p *Provider) CheckPermission(context.Context) (domain.PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission, nil
}

func (p *Provider) RequestPermission(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.permission == domain.PermissionPrompt {
		p.permission = domain.PermissionGranted
	}
	return p.permission == domain.PermissionGranted, nil
}

// SetPermission changes the permission state. Revoking it fails all running
// watches with ErrPermissionDenied.
func (p *Provider) SetPermission(state domain.PermissionState) {
	p.mu.Lock()
	p.permission = state
	var revoked []*watch
	if state == domain.PermissionDenied {
		for w := range p.watches {
			revoked = append(revoked, w)
		}
	}
	p.mu.Unlock()

	for _, w := range revoked {
		w.fail(domain.ErrPermissionDenied)
	}
}

// Report records a new fix and delivers it to all running watches.
func (p *Provider) Report(sample domain.LocationSample) {
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = p.clock.Now()
	}

	p.mu.Lock()
	p.fix = &sample
	close(p.changed)
	p.changed = make(chan struct{})
	targets := make([]*watch, 0, len(p.watches))
	for w := range p.watches {
		targets = append(targets, w)
	}
	p.mu.Unlock()

	slog.Debug("Location reported", "latitude", sample.Latitude, "longitude", sample.Longitude, "accuracy", sample.AccuracyMeters)
	for _, w := range targets {
		w.deliver(sample)
	}
}

// CurrentPosition returns the latest fix, waiting for a report when there is
// none or when it is older than opts.MaxAge. opts.Timeout is enforced by the
// caller's context.
func (p *Provider) CurrentPosition(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
	for {
		p.mu.Lock()
		if p.permission == domain.PermissionDenied {
			p.mu.Unlock()
			return domain.LocationSample{}, domain.ErrPermissionDenied
		}
		if p.fix != nil && (opts.MaxAge <= 0 || p.clock.Since(p.fix.CapturedAt) <= opts.MaxAge) {
			fix := *p.fix
			p.mu.Unlock()
			return fix, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.LocationSample{}, ctx.Err()
		case <-changed:
		}
	}
}

// WatchPosition delivers every reported fix. While the device is stationary
// the last fix is re-delivered each interval with a fresh timestamp.
func (p *Provider) WatchPosition(ctx context.Context, _ domain.PositionOptions, onSample func(domain.LocationSample), onError func(error)) (domain.Watch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.permission == domain.PermissionDenied {
		return nil, domain.ErrPermissionDenied
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &watch{
		provider: p,
		cancel:   cancel,
		onSample: onSample,
		onError:  onError,
		samples:  make(chan domain.LocationSample, 1),
	}
	p.watches[w] = struct{}{}

	ticker := p.clock.NewTicker(p.interval)
	w.wg.Add(1)
	go w.run(watchCtx, ticker)
	return w, nil
}

func (p *Provider) heartbeat() (domain.LocationSample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fix == nil {
		return domain.LocationSample{}, false
	}
	fix := *p.fix
	fix.CapturedAt = p.clock.Now()
	return fix, true
}

func (p *Provider) remove(w *watch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watches, w)
}

type watch struct {
	provider *Provider
	cancel   context.CancelFunc
	onSample func(domain.LocationSample)
	onError  func(error)
	samples  chan domain.LocationSample

	wg       sync.WaitGroup
	stopOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func (w *watch) run(ctx context.Context, ticker clockwork.Ticker) {
	defer w.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.errMu.Lock()
			err := w.err
			w.errMu.Unlock()
			if err != nil && w.onError != nil {
				w.onError(err)
			}
			return
		case sample := <-w.samples:
			w.onSample(sample)
		case <-ticker.Chan():
			if sample, ok := w.provider.heartbeat(); ok {
				w.onSample(sample)
			}
		}
	}
}

// deliver replaces a pending undelivered sample with the newer one.
func (w *watch) deliver(sample domain.LocationSample) {
	for {
		select {
		case w.samples <- sample:
			return
		default:
		}
		select {
		case <-w.samples:
		default:
		}
	}
}

func (w *watch) fail(err error) {
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
	w.provider.remove(w)
	w.cancel()
}

func (w *watch) Stop() {
	w.stopOnce.Do(func() {
		w.provider.remove(w)
		w.cancel()
		w.wg.Wait()
	})
}
