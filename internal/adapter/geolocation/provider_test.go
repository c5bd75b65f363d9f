package geolocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/nearby/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

type sampleRecorder struct {
	mu      sync.Mutex
	samples []domain.LocationSample
	errs    []error
}

func (r *sampleRecorder) onSample(s domain.LocationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *sampleRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *sampleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *sampleRecorder) last() domain.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples[len(r.samples)-1]
}

func (r *sampleRecorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestPermission_PromptGrantedOnRequest(t *testing.T) {
	p := NewProvider(clockwork.NewFakeClock(), domain.PermissionPrompt, time.Second)
	ctx := context.Background()

	state, err := p.CheckPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionPrompt, state)

	ok, err := p.RequestPermission(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	state, _ = p.CheckPermission(ctx)
	assert.Equal(t, domain.PermissionGranted, state)
}

func TestPermission_DeniedStaysDenied(t *testing.T) {
	p := NewProvider(clockwork.NewFakeClock(), domain.PermissionDenied, time.Second)

	ok, err := p.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.CurrentPosition(context.Background(), domain.PositionOptions{})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestCurrentPosition_ReturnsLatestFix(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProvider(clock, domain.PermissionGranted, time.Second)

	p.Report(domain.LocationSample{Latitude: 45, Longitude: 9, AccuracyMeters: 10})
	p.Report(domain.LocationSample{Latitude: 46, Longitude: 10, AccuracyMeters: 5})

	got, err := p.CurrentPosition(context.Background(), domain.PositionOptions{MaxAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 46.0, got.Latitude)
	assert.Equal(t, clock.Now(), got.CapturedAt)
}

func TestCurrentPosition_WaitsForReport(t *testing.T) {
	p := NewProvider(clockwork.NewFakeClock(), domain.PermissionGranted, time.Second)

	done := make(chan domain.LocationSample)
	go func() {
		s, _ := p.CurrentPosition(context.Background(), domain.PositionOptions{})
		done <- s
	}()

	select {
	case <-done:
		t.Fatal("returned without a fix")
	case <-time.After(20 * time.Millisecond):
	}

	p.Report(domain.LocationSample{Latitude: 1, Longitude: 2})
	select {
	case s := <-done:
		assert.Equal(t, 1.0, s.Latitude)
	case <-time.After(time.Second):
		t.Fatal("report did not wake the reader")
	}
}

func TestCurrentPosition_StaleFixTimesOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProvider(clock, domain.PermissionGranted, time.Second)
	p.Report(domain.LocationSample{Latitude: 1, Longitude: 2})
	clock.Advance(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.CurrentPosition(ctx, domain.PositionOptions{MaxAge: 5 * time.Minute})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatchPosition_DeliversReportsAndHeartbeats(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := clockwork.NewFakeClock()
	p := NewProvider(clock, domain.PermissionGranted, 10*time.Second)
	rec := &sampleRecorder{}

	w, err := p.WatchPosition(context.Background(), domain.PositionOptions{}, rec.onSample, rec.onError)
	require.NoError(t, err)
	require.NoError(t, clock.BlockUntilContext(waitCtx(t), 1))

	// no fix yet: the heartbeat has nothing to send
	clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return rec.count() > 0 }, 30*time.Millisecond, 5*time.Millisecond)

	p.Report(domain.LocationSample{Latitude: 45, Longitude: 9})
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, clock.Now(), rec.last().CapturedAt)
	assert.Equal(t, 45.0, rec.last().Latitude)

	w.Stop()
	w.Stop()
	p.Report(domain.LocationSample{Latitude: 0, Longitude: 0})
	assert.Never(t, func() bool { return rec.count() > 2 }, 30*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, rec.errors())
}

func TestWatchPosition_RevokedPermissionFailsWatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProvider(clock, domain.PermissionGranted, time.Second)
	rec := &sampleRecorder{}

	w, err := p.WatchPosition(context.Background(), domain.PositionOptions{}, rec.onSample, rec.onError)
	require.NoError(t, err)

	p.SetPermission(domain.PermissionDenied)
	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.errors()[0], domain.ErrPermissionDenied)
	w.Stop()

	_, err = p.WatchPosition(context.Background(), domain.PositionOptions{}, rec.onSample, rec.onError)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}
