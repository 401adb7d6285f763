package beacon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/pal-beacon/logger"
)

// DefaultStartTimeout bounds how long a start request may stay unanswered.
const DefaultStartTimeout = 5 * time.Second

// State of an advertising session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateActive:
		return "Active"
	case StateFailed:
		return "Failed"
	case StateStopped:
		return "Stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is emitted on every state transition.
type Event struct {
	State      State
	Reason     Reason
	Identifier string
	Err        error
	At         time.Time
}

// Status is a point-in-time view of the session.
type Status struct {
	State      State
	Reason     Reason
	Identifier string
	Err        error
}

// Config tunes a Session. Zero values select the defaults.
type Config struct {
	CompanyID uint16
	// StartTimeout moves Starting to Failed(Timeout). Negative disables it.
	StartTimeout time.Duration
}

// Session owns at most one outstanding advertisement on a Platform.
type Session struct {
	id       string
	platform Platform
	encoder  Encoder
	settings Settings
	timeout  time.Duration

	mu         sync.Mutex
	state      State
	reason     Reason
	lastErr    error
	identifier string
	gen        uint64
	advertiser Advertiser
	cb         *startCallback
	timer      *time.Timer
	settled    chan struct{}
	closed     bool
	subs       map[int]chan Event
	nextSub    int
}

// NewSession creates an Idle session bound to platform.
func NewSession(platform Platform, cfg Config) *Session {
	companyID := cfg.CompanyID
	if companyID == 0 {
		companyID = DefaultCompanyID
	}
	timeout := cfg.StartTimeout
	if timeout == 0 {
		timeout = DefaultStartTimeout
	}
	return &Session{
		id:       uuid.NewString(),
		platform: platform,
		encoder:  NewEncoder(companyID),
		settings: DefaultSettings(),
		timeout:  timeout,
		state:    StateIdle,
		subs:     make(map[int]chan Event),
	}
}

func (s *Session) prefix() string {
	return fmt.Sprintf("%s Beacon", s.id[:8])
}

// Start submits a broadcast of identifier. A nil return means the request
// reached the platform; its outcome arrives as an Event and through Wait.
//
// Start fails immediately with ErrAlreadyActive while Starting or Active,
// with an *EncodingError for identifiers that cannot go on air, with
// ErrUnsupported when the device has no advertiser and with
// ErrPermissionDenied when the OS refuses the request. Encoding is checked
// before the platform is touched.
func (s *Session) Start(identifier string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateStarting || s.state == StateActive {
		current := s.identifier
		s.mu.Unlock()
		logger.Warn(s.prefix(), "⚠️  Start(%q) ignored: %q already on air", identifier, current)
		return ErrAlreadyActive
	}

	data, err := s.encoder.AdvertiseData(identifier)
	if err != nil {
		s.mu.Unlock()
		logger.Error(s.prefix(), "❌ %v", err)
		return err
	}

	adv, err := s.platform.Advertiser()
	if err != nil || adv == nil {
		s.mu.Unlock()
		if err == nil {
			err = ErrUnsupported
		}
		logger.Error(s.prefix(), "❌ No LE advertiser available: %v", err)
		return err
	}

	s.gen++
	cb := &startCallback{session: s, gen: s.gen}
	s.advertiser = adv
	s.cb = cb
	s.identifier = identifier
	s.settled = make(chan struct{})
	s.transition(StateStarting, ReasonNone, nil)
	if s.timeout > 0 {
		gen := s.gen
		s.timer = time.AfterFunc(s.timeout, func() { s.expire(gen) })
	}
	s.mu.Unlock()

	logger.Debug(s.prefix(), "Advertising SID=%q (%d bytes, company 0x%04X)", identifier, len(data.Payload), data.CompanyID)
	if raw, err := s.encoder.AdvertisingData(identifier); err == nil {
		logger.TraceHex(s.prefix(), "advertising data", raw)
	}

	// The platform may invoke cb before returning, so the lock is not held here.
	if err := adv.StartAdvertising(s.settings, data, cb); err != nil {
		s.mu.Lock()
		if s.gen == cb.gen && s.state == StateStarting {
			s.stopTimer()
			s.transition(StateFailed, localReason(err), err)
			s.settle()
		}
		s.mu.Unlock()
		logger.Error(s.prefix(), "❌ Start advertising rejected locally: %v", err)
		return fmt.Errorf("beacon: start advertising: %w", err)
	}

	s.mu.Lock()
	superseded := s.gen != cb.gen
	s.mu.Unlock()
	if superseded {
		// Stop ran before the request reached the platform.
		if err := adv.StopAdvertising(cb); err != nil {
			logger.Warn(s.prefix(), "⚠️  Cancel of superseded start failed: %v", err)
		}
		return nil
	}

	logger.Info(s.prefix(), "📡 Advertising requested for SID=%q", identifier)
	return nil
}

// Stop cancels the outstanding advertisement. Stopping an Idle or Stopped
// session succeeds without touching the platform.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateStopped:
		s.mu.Unlock()
		return nil
	case StateFailed:
		// nothing on air
		s.gen++
		s.transition(StateStopped, ReasonNone, nil)
		s.mu.Unlock()
		return nil
	}
	adv, cb, gen := s.advertiser, s.cb, s.gen
	s.mu.Unlock()

	if err := adv.StopAdvertising(cb); err != nil {
		logger.Error(s.prefix(), "❌ Stop advertising failed: %v", err)
		return fmt.Errorf("beacon: stop advertising: %w", err)
	}

	s.mu.Lock()
	// A rejection delivered while the platform was stopping still ends Stopped.
	if s.gen == gen && (s.state == StateStarting || s.state == StateActive || s.state == StateFailed) {
		s.gen++
		s.stopTimer()
		s.transition(StateStopped, ReasonNone, nil)
		s.settle()
	}
	s.mu.Unlock()

	logger.Info(s.prefix(), "📡 Stopped advertising")
	return nil
}

// Wait blocks until the current start attempt leaves Starting and returns
// the resulting state. A failed attempt returns its error: a *StartError
// for platform rejections and timeouts.
func (s *Session) Wait(ctx context.Context) (State, error) {
	s.mu.Lock()
	settled := s.settled
	s.mu.Unlock()

	if settled != nil {
		select {
		case <-settled:
		case <-ctx.Done():
			return s.State(), ctx.Err()
		}
	}

	st := s.Status()
	if st.State == StateFailed {
		return st.State, st.Err
	}
	return st.State, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns state, reason, identifier and the last failure.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:      s.state,
		Reason:     s.reason,
		Identifier: s.identifier,
		Err:        s.lastErr,
	}
}

// Subscribe returns a channel of transitions and a function that cancels
// the subscription. Delivery never blocks the session: when buffer is full
// the event is dropped for that subscriber.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops advertising and ends all subscriptions. The session cannot be
// started again.
func (s *Session) Close() error {
	err := s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	s.closed = true
	s.stopTimer()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return err
}

func (s *Session) resolve(gen uint64, state State, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StateStarting {
		logger.Debug(s.prefix(), "Dropping stale %s callback (attempt %d, current %d, state %s)", state, gen, s.gen, s.state)
		return
	}
	s.stopTimer()

	var err error
	if state == StateFailed {
		err = &StartError{Identifier: s.identifier, Reason: reason}
		logger.Error(s.prefix(), "❌ BLE advertising failed: %s", reason)
	} else {
		logger.Info(s.prefix(), "✅ BLE advertising started for SID=%q", s.identifier)
	}
	s.transition(state, reason, err)
	s.settle()
}

func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	adv, cb := s.advertiser, s.cb
	s.timer = nil
	s.transition(StateFailed, ReasonTimeout, &StartError{Identifier: s.identifier, Reason: ReasonTimeout})
	s.settle()
	s.mu.Unlock()

	logger.Error(s.prefix(), "❌ No answer from platform after %s", s.timeout)
	if err := adv.StopAdvertising(cb); err != nil {
		logger.Warn(s.prefix(), "⚠️  Cancel after timeout failed: %v", err)
	}
}

// transition must be called with mu held.
func (s *Session) transition(state State, reason Reason, err error) {
	s.state = state
	s.reason = reason
	s.lastErr = err
	ev := Event{
		State:      state,
		Reason:     reason,
		Identifier: s.identifier,
		Err:        err,
		At:         time.Now(),
	}
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			logger.Warn(s.prefix(), "⚠️  Subscriber %d full, dropped %s event", id, state)
		}
	}
}

func (s *Session) settle() {
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

type startCallback struct {
	session *Session
	gen     uint64
}

func (c *startCallback) OnStartSuccess(settingsInEffect Settings) {
	c.session.resolve(c.gen, StateActive, ReasonNone)
}

func (c *startCallback) OnStartFailure(reason Reason) {
	c.session.resolve(c.gen, StateFailed, reason)
}
