package beacon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdvertiser records requests and lets the test play the platform's
// asynchronous verdict.
type fakeAdvertiser struct {
	mu        sync.Mutex
	starts    int
	stops     int
	startErr  error
	stopErr   error
	callbacks []AdvertiseCallback
	data      AdvertiseData
	settings  Settings
}

func (f *fakeAdvertiser) StartAdvertising(settings Settings, data AdvertiseData, cb AdvertiseCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.settings = settings
	f.data = data
	f.callbacks = append(f.callbacks, cb)
	return nil
}

func (f *fakeAdvertiser) StopAdvertising(cb AdvertiseCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeAdvertiser) last() AdvertiseCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[len(f.callbacks)-1]
}

func (f *fakeAdvertiser) accept() {
	go f.last().OnStartSuccess(DefaultSettings())
}

func (f *fakeAdvertiser) reject(r Reason) {
	go f.last().OnStartFailure(r)
}

func (f *fakeAdvertiser) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakePlatform struct {
	adv      *fakeAdvertiser
	err      error
	acquired int
}

func (p *fakePlatform) Advertiser() (Advertiser, error) {
	p.acquired++
	if p.err != nil {
		return nil, p.err
	}
	return p.adv, nil
}

func newTestSession(t *testing.T, timeout time.Duration) (*Session, *fakePlatform) {
	t.Helper()
	platform := &fakePlatform{adv: &fakeAdvertiser{}}
	s := NewSession(platform, Config{StartTimeout: timeout})
	t.Cleanup(func() { s.Close() })
	return s, platform
}

func waitSettled(t *testing.T, s *Session) (State, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Wait(ctx)
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for session event")
	}
	return Event{}
}

func TestStartThenAcceptBecomesActive(t *testing.T) {
	s, platform := newTestSession(t, -1)
	events, cancel := s.Subscribe(8)
	defer cancel()

	require.NoError(t, s.Start("ABCDEF123456"))
	assert.Equal(t, StateStarting, s.State())
	assert.Equal(t, StateStarting, nextEvent(t, events).State)

	starts, _ := platform.adv.calls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, []byte("ABCDEF123456"), platform.adv.data.Payload)
	assert.Equal(t, DefaultCompanyID, platform.adv.data.CompanyID)
	assert.Equal(t, DefaultSettings(), platform.adv.settings)
	assert.False(t, platform.adv.settings.Connectable)

	platform.adv.accept()
	state, err := waitSettled(t, s)
	require.NoError(t, err)
	assert.Equal(t, StateActive, state)

	ev := nextEvent(t, events)
	assert.Equal(t, StateActive, ev.State)
	assert.Equal(t, "ABCDEF123456", ev.Identifier)
}

func TestStartWhileBusyReturnsAlreadyActive(t *testing.T) {
	s, platform := newTestSession(t, -1)

	require.NoError(t, s.Start("first"))
	assert.ErrorIs(t, s.Start("second"), ErrAlreadyActive, "while Starting")

	platform.adv.accept()
	_, err := waitSettled(t, s)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Start("third"), ErrAlreadyActive, "while Active")

	starts, _ := platform.adv.calls()
	assert.Equal(t, 1, starts, "only one platform start request")
	assert.Equal(t, "first", s.Status().Identifier)
}

func TestConcurrentStartsIssueOnePlatformRequest(t *testing.T) {
	s, platform := newTestSession(t, -1)

	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Start("SID")
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyActive)
		}
	}
	assert.Equal(t, 1, ok)
	starts, _ := platform.adv.calls()
	assert.Equal(t, 1, starts)
}

func TestPlatformRejectionIsReported(t *testing.T) {
	s, platform := newTestSession(t, -1)
	events, cancel := s.Subscribe(8)
	defer cancel()

	require.NoError(t, s.Start("ABCDEF123456"))
	nextEvent(t, events)
	platform.adv.reject(ReasonPayloadTooLarge)

	state, err := waitSettled(t, s)
	assert.Equal(t, StateFailed, state)
	var startErr *StartError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, ReasonPayloadTooLarge, startErr.Reason)

	ev := nextEvent(t, events)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, ReasonPayloadTooLarge, ev.Reason)
	assert.Error(t, ev.Err)
	assert.Equal(t, ReasonPayloadTooLarge, s.Status().Reason)
}

func TestStopIsIdempotent(t *testing.T) {
	s, platform := newTestSession(t, -1)

	require.NoError(t, s.Stop(), "Stop on Idle")
	_, stops := platform.adv.calls()
	assert.Equal(t, 0, stops)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start("ABCDEF123456"))
	platform.adv.accept()
	_, err := waitSettled(t, s)
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	_, stops = platform.adv.calls()
	assert.Equal(t, 1, stops)

	require.NoError(t, s.Stop(), "second Stop")
	_, stops = platform.adv.calls()
	assert.Equal(t, 1, stops, "second Stop must not reach the platform")
}

func TestStopAfterFailureSkipsPlatform(t *testing.T) {
	s, platform := newTestSession(t, -1)

	require.NoError(t, s.Start("sid"))
	platform.adv.reject(ReasonInternalPlatformError)
	_, _ = waitSettled(t, s)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	_, stops := platform.adv.calls()
	assert.Equal(t, 0, stops)
	assert.NoError(t, s.Status().Err)
}

func TestEncodingErrorMakesNoPlatformCall(t *testing.T) {
	s, platform := newTestSession(t, -1)

	err := s.Start(strings.Repeat("A", MaxIdentifierLen+1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoding)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, platform.acquired)
	starts, _ := platform.adv.calls()
	assert.Equal(t, 0, starts)
}

func TestUnsupportedDevice(t *testing.T) {
	s, platform := newTestSession(t, -1)
	platform.err = ErrUnsupported

	assert.ErrorIs(t, s.Start("sid"), ErrUnsupported)
	assert.Equal(t, StateIdle, s.State())
}

func TestPermissionDeniedIsCallerVisible(t *testing.T) {
	s, platform := newTestSession(t, -1)
	platform.adv.startErr = ErrPermissionDenied

	err := s.Start("sid")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, ReasonPermissionDenied, s.Status().Reason)

	// Granting the permission makes the session usable again
	platform.adv.mu.Lock()
	platform.adv.startErr = nil
	platform.adv.mu.Unlock()
	require.NoError(t, s.Start("sid"))
	assert.Equal(t, StateStarting, s.State())
}

func TestLocalStartErrorCarriesReason(t *testing.T) {
	s, platform := newTestSession(t, -1)
	events, cancel := s.Subscribe(8)
	defer cancel()
	platform.adv.startErr = errors.New("binder died")

	require.Error(t, s.Start("sid"))
	assert.Equal(t, StateStarting, nextEvent(t, events).State)
	ev := nextEvent(t, events)
	assert.Equal(t, StateFailed, ev.State)
	assert.Equal(t, ReasonInternalPlatformError, ev.Reason)
	assert.Equal(t, ReasonInternalPlatformError, s.Status().Reason)
}

// rejectingStopAdvertiser delivers a start rejection from inside
// StopAdvertising, the way a platform can race its own callbacks.
type rejectingStopAdvertiser struct {
	*fakeAdvertiser
}

func (r rejectingStopAdvertiser) StopAdvertising(cb AdvertiseCallback) error {
	cb.OnStartFailure(ReasonInternalPlatformError)
	return r.fakeAdvertiser.StopAdvertising(cb)
}

type staticPlatform struct{ adv Advertiser }

func (p staticPlatform) Advertiser() (Advertiser, error) { return p.adv, nil }

func TestRejectionDuringStopEndsStopped(t *testing.T) {
	adv := rejectingStopAdvertiser{&fakeAdvertiser{}}
	s := NewSession(staticPlatform{adv}, Config{StartTimeout: -1})
	defer s.Close()

	require.NoError(t, s.Start("sid"))
	require.Equal(t, StateStarting, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	_, stops := adv.calls()
	assert.Equal(t, 1, stops)
}

func TestStartTimeout(t *testing.T) {
	s, platform := newTestSession(t, 20*time.Millisecond)

	require.NoError(t, s.Start("sid"))
	state, err := waitSettled(t, s)
	assert.Equal(t, StateFailed, state)

	var startErr *StartError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, ReasonTimeout, startErr.Reason)

	assert.Eventually(t, func() bool {
		_, stops := platform.adv.calls()
		return stops == 1
	}, time.Second, 5*time.Millisecond, "timed out request is cancelled at the platform")

	// A verdict arriving after the timeout is ignored
	platform.adv.last().OnStartSuccess(DefaultSettings())
	assert.Equal(t, StateFailed, s.State())
}

func TestLateCallbackAfterStopIsDropped(t *testing.T) {
	s, platform := newTestSession(t, -1)

	require.NoError(t, s.Start("sid"))
	stale := platform.adv.last()
	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())

	stale.OnStartSuccess(DefaultSettings())
	assert.Equal(t, StateStopped, s.State())
}

func TestRestartAfterStopAndFailure(t *testing.T) {
	s, platform := newTestSession(t, -1)

	require.NoError(t, s.Start("one"))
	platform.adv.reject(ReasonTooManyConcurrentAdvertisers)
	state, _ := waitSettled(t, s)
	require.Equal(t, StateFailed, state)

	require.NoError(t, s.Start("two"), "Failed -> Starting")
	platform.adv.accept()
	state, err := waitSettled(t, s)
	require.NoError(t, err)
	require.Equal(t, StateActive, state)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start("three"), "Stopped -> Starting")
	assert.Equal(t, "three", s.Status().Identifier)
}

func TestStopErrorKeepsState(t *testing.T) {
	s, platform := newTestSession(t, -1)

	require.NoError(t, s.Start("sid"))
	platform.adv.accept()
	_, err := waitSettled(t, s)
	require.NoError(t, err)

	platform.adv.mu.Lock()
	platform.adv.stopErr = ErrPermissionDenied
	platform.adv.mu.Unlock()

	err = s.Stop()
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateActive, s.State())
}

func TestWaitHonorsContext(t *testing.T) {
	s, _ := newTestSession(t, -1)
	require.NoError(t, s.Start("sid"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	state, err := s.Wait(ctx)
	assert.Equal(t, StateStarting, state)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseEndsSession(t *testing.T) {
	platform := &fakePlatform{adv: &fakeAdvertiser{}}
	s := NewSession(platform, Config{StartTimeout: -1})
	events, _ := s.Subscribe(8)

	require.NoError(t, s.Start("sid"))
	platform.adv.accept()
	_, err := waitSettled(t, s)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Start("sid"), ErrClosed)

	// Drain: Starting, Active, Stopped, then closed
	var states []State
	for ev := range events {
		states = append(states, ev.State)
	}
	assert.Equal(t, []State{StateStarting, StateActive, StateStopped}, states)
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	s, platform := newTestSession(t, -1)
	_, cancel := s.Subscribe(1)
	defer cancel()

	require.NoError(t, s.Start("sid"))
	platform.adv.accept()
	state, err := waitSettled(t, s)
	require.NoError(t, err)
	assert.Equal(t, StateActive, state)
	require.NoError(t, s.Stop())
}
