package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/capvision/go-inspect/internal/log"
)

// State is the lifecycle state of the managed device.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosing State = "closing"
)

// Manager owns the single capture device. Acquire opens it on first use,
// Release is idempotent and leaves the device open for the next request,
// ForceStop tears everything down and unblocks every waiter.
type Manager struct {
	cfg  Config
	open OpenFunc

	mu      sync.Mutex
	state   State
	sess    *session
	holders int
	changed chan struct{} // closed and replaced on every state change
}

// NewManager creates a manager around the given device factory.
func NewManager(cfg Config, open OpenFunc) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		open:    open,
		state:   StateClosed,
		changed: make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Holders returns the number of unreleased handles.
func (m *Manager) Holders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holders
}

// setState must be called with m.mu held.
func (m *Manager) setState(s State) {
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})
}

// Acquire returns a handle to the open device, opening it first if
// necessary. Concurrent acquires during an in-flight open wait for that
// single attempt instead of opening the device twice. Fails with
// ErrResourceUnavailable when the device cannot be opened.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	for {
		m.mu.Lock()
		switch m.state {
		case StateOpen:
			sess := m.sess
			m.holders++
			m.mu.Unlock()
			return &Handle{m: m, sess: sess}, nil

		case StateOpening, StateClosing:
			ch := m.changed
			m.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		case StateClosed:
			m.setState(StateOpening)
			m.mu.Unlock()

			dev, err := m.open(m.cfg)

			m.mu.Lock()
			if err != nil {
				m.setState(StateClosed)
				m.mu.Unlock()
				return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
			}
			sess := newSession(dev, m.cfg)
			m.sess = sess
			m.holders++
			m.setState(StateOpen)
			m.mu.Unlock()

			sess.start()
			log.Info("camera opened",
				"device", m.cfg.DeviceIndex,
				"resolution", fmt.Sprintf("%dx%d", m.cfg.Width, m.cfg.Height))
			return &Handle{m: m, sess: sess}, nil
		}
	}
}

// ForceStop closes the device regardless of current holders. Valid from
// any state and idempotent. It returns only after every in-flight grab
// has observed the termination, so a subsequent Acquire never races a
// half-closed device.
func (m *Manager) ForceStop() {
	for {
		m.mu.Lock()
		switch m.state {
		case StateClosed:
			m.mu.Unlock()
			return

		case StateOpening, StateClosing:
			// another transition is in flight; wait for it to settle
			ch := m.changed
			m.mu.Unlock()
			<-ch

		case StateOpen:
			sess := m.sess
			m.sess = nil
			m.holders = 0
			m.setState(StateClosing)
			m.mu.Unlock()

			sess.shutdown()
			if err := sess.dev.Close(); err != nil {
				log.Warn("camera close failed", "error", err)
			}

			m.mu.Lock()
			m.setState(StateClosed)
			m.mu.Unlock()
			log.Info("camera stopped", "device", m.cfg.DeviceIndex)
			return
		}
	}
}

// Handle is a caller's lease on the open device. It never exposes the
// device itself; frame access goes through the latest-frame cache.
type Handle struct {
	m        *Manager
	sess     *session
	released atomic.Bool
}

// Grab returns the freshest available frame. It blocks at most one read
// timeout waiting for the first frame after open; a concurrent ForceStop
// aborts the wait with ErrAborted.
func (h *Handle) Grab(ctx context.Context) (Frame, error) {
	if !h.sess.enter() {
		return Frame{}, ErrAborted
	}
	defer h.sess.exit()
	return h.sess.src.latest(ctx)
}

// WaitNext blocks until a frame newer than after is available. Streaming
// consumers use it to skip straight to the freshest frame instead of
// queueing stale ones.
func (h *Handle) WaitNext(ctx context.Context, after uint64) (Frame, error) {
	if !h.sess.enter() {
		return Frame{}, ErrAborted
	}
	defer h.sess.exit()
	return h.sess.src.next(ctx, after)
}

// Release returns the handle. Idempotent and always succeeds; the device
// stays open for subsequent requests until an explicit ForceStop.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.m.mu.Lock()
	if h.m.sess == h.sess && h.m.holders > 0 {
		h.m.holders--
	}
	h.m.mu.Unlock()
}

// session is one open stretch of the device: the reader goroutine, the
// frame cache, and the grab accounting ForceStop synchronizes on.
type session struct {
	dev Device
	src *source

	done chan struct{} // closed when the session is torn down

	mu       sync.Mutex
	inflight int
	closing  bool
	idle     *sync.Cond // signaled when inflight drains to zero
}

func newSession(dev Device, cfg Config) *session {
	s := &session{
		dev:  dev,
		done: make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	s.src = newSource(dev, cfg, s.done)
	return s
}

func (s *session) start() {
	go s.src.run()
}

// enter registers an in-flight grab. It fails once shutdown has begun.
func (s *session) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight++
	return true
}

func (s *session) exit() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

// shutdown signals termination and waits for in-flight grabs and the
// reader goroutine to finish. Safe to call once per session.
func (s *session) shutdown() {
	s.mu.Lock()
	s.closing = true
	close(s.done)
	for s.inflight > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()

	<-s.src.stopped
}
