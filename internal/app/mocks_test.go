package app

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/nearby/internal/domain"
)

// --- Mock implementations ---

type mockWatch struct {
	stops atomic.Int32
}

func (w *mockWatch) Stop() { w.stops.Add(1) }

type mockProvider struct {
	checkPermissionFn   func(ctx context.Context) (domain.PermissionState, error)
	requestPermissionFn func(ctx context.Context) (bool, error)
	currentPositionFn   func(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error)
	watchPositionFn     func(ctx context.Context, opts domain.PositionOptions, onSample func(domain.LocationSample), onError func(error)) (domain.Watch, error)

	positionCalls atomic.Int32
	requestCalls  atomic.Int32
}

func (m *mockProvider) CheckPermission(ctx context.Context) (domain.PermissionState, error) {
	if m.checkPermissionFn != nil {
		return m.checkPermissionFn(ctx)
	}
	return domain.PermissionGranted, nil
}

func (m *mockProvider) RequestPermission(ctx context.Context) (bool, error) {
	m.requestCalls.Add(1)
	if m.requestPermissionFn != nil {
		return m.requestPermissionFn(ctx)
	}
	return true, nil
}

func (m *mockProvider) CurrentPosition(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
	m.positionCalls.Add(1)
	if m.currentPositionFn != nil {
		return m.currentPositionFn(ctx, opts)
	}
	return testSample, nil
}

func (m *mockProvider) WatchPosition(ctx context.Context, opts domain.PositionOptions, onSample func(domain.LocationSample), onError func(error)) (domain.Watch, error) {
	if m.watchPositionFn != nil {
		return m.watchPositionFn(ctx, opts, onSample, onError)
	}
	return &mockWatch{}, nil
}

type visibilityCall struct {
	visible   bool
	expiresAt *time.Time
}

type mockStore struct {
	updateLocationFn func(ctx context.Context, userID uuid.UUID, sample domain.LocationSample) error
	setVisibilityFn  func(ctx context.Context, userID uuid.UUID, visible bool, expiresAt *time.Time) error

	mu         sync.Mutex
	locations  []domain.LocationSample
	visibility []visibilityCall
}

func (m *mockStore) UpdateLocation(ctx context.Context, userID uuid.UUID, sample domain.LocationSample) error {
	m.mu.Lock()
	m.locations = append(m.locations, sample)
	m.mu.Unlock()
	if m.updateLocationFn != nil {
		return m.updateLocationFn(ctx, userID, sample)
	}
	return nil
}

func (m *mockStore) SetVisibility(ctx context.Context, userID uuid.UUID, visible bool, expiresAt *time.Time) error {
	m.mu.Lock()
	m.visibility = append(m.visibility, visibilityCall{visible: visible, expiresAt: expiresAt})
	m.mu.Unlock()
	if m.setVisibilityFn != nil {
		return m.setVisibilityFn(ctx, userID, visible, expiresAt)
	}
	return nil
}

func (m *mockStore) visibilityCalls() []visibilityCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]visibilityCall(nil), m.visibility...)
}

func (m *mockStore) locationCalls() []domain.LocationSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LocationSample(nil), m.locations...)
}

type mockFinder struct {
	findNearbyFn func(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyUser, error)

	calls atomic.Int32
	mu    sync.Mutex
	last  domain.NearbyQuery
}

func (m *mockFinder) FindNearby(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyUser, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.last = q
	m.mu.Unlock()
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, q)
	}
	return nil, nil
}

func (m *mockFinder) lastQuery() domain.NearbyQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type mockSubscription struct {
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	lost   error
}

func newMockSubscription() *mockSubscription {
	return &mockSubscription{done: make(chan struct{})}
}

func (s *mockSubscription) Done() <-chan struct{} { return s.done }

func (s *mockSubscription) Err() error {
	select {
	case <-s.done:
		return s.lost
	default:
		return nil
	}
}

func (s *mockSubscription) Close() error {
	s.closed.Store(true)
	s.once.Do(func() { close(s.done) })
	return nil
}

// drop ends delivery the way a feed does when it loses its connection.
func (s *mockSubscription) drop(err error) {
	s.once.Do(func() {
		s.lost = err
		s.closed.Store(true)
		close(s.done)
	})
}

type mockFeed struct {
	subscribeFn func(ctx context.Context, filter domain.ChangeFilter) error

	mu       sync.Mutex
	handlers []func(domain.ProfileChange)
	subs     []*mockSubscription
}

func (m *mockFeed) Subscribe(ctx context.Context, filter domain.ChangeFilter, onEvent func(domain.ProfileChange)) (domain.Subscription, error) {
	if m.subscribeFn != nil {
		if err := m.subscribeFn(ctx, filter); err != nil {
			return nil, err
		}
	}
	sub := newMockSubscription()
	m.mu.Lock()
	m.handlers = append(m.handlers, onEvent)
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return sub, nil
}

// emit delivers a change to every subscription that is still open.
func (m *mockFeed) emit(change domain.ProfileChange) {
	m.mu.Lock()
	var targets []func(domain.ProfileChange)
	for i, h := range m.handlers {
		if !m.subs[i].closed.Load() {
			targets = append(targets, h)
		}
	}
	m.mu.Unlock()
	for _, h := range targets {
		h(change)
	}
}

func (m *mockFeed) openSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if !s.closed.Load() {
			n++
		}
	}
	return n
}

// dropAll ends every open subscription as if the feed lost its connection.
func (m *mockFeed) dropAll(err error) {
	m.mu.Lock()
	subs := slices.Clone(m.subs)
	m.mu.Unlock()
	for _, s := range subs {
		s.drop(err)
	}
}

func (m *mockFeed) totalSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type mockInterests struct {
	handleInterestFn func(ctx context.Context, requesterID, targetID uuid.UUID) (string, string, error)
}

func (m *mockInterests) HandleInterest(ctx context.Context, requesterID, targetID uuid.UUID) (string, string, error) {
	if m.handleInterestFn != nil {
		return m.handleInterestFn(ctx, requesterID, targetID)
	}
	return "interest", "Interest sent", nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification)
}

func (n *recordingNotifier) kinds() []domain.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]domain.NotificationKind, 0, len(n.items))
	for _, item := range n.items {
		kinds = append(kinds, item.Kind)
	}
	return kinds
}

func (n *recordingNotifier) count(kind domain.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, item := range n.items {
		if item.Kind == kind {
			c++
		}
	}
	return c
}

// --- Fixtures ---

var testSample = domain.LocationSample{
	Latitude:       45.0,
	Longitude:      9.0,
	AccuracyMeters: 10,
	CapturedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

func fastLocatorConfig() LocatorConfig {
	return LocatorConfig{
		MaxAttempts:    3,
		AttemptTimeout: 20 * time.Millisecond,
		RetryDelay:     time.Millisecond,
		MaxAge:         5 * time.Minute,
		HighAccuracy:   true,
	}
}

func blockUntilDone(ctx context.Context, _ domain.PositionOptions) (domain.LocationSample, error) {
	<-ctx.Done()
	return domain.LocationSample{}, ctx.Err()
}
