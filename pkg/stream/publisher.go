// Package stream republishes camera frames to live subscribers.
//
// Every subscriber runs its own pull loop over the shared latest-frame
// cache, so subscribers do not contend with each other and a slow one
// only drops frames for itself (freshest-frame-wins: staleness is worse
// than loss for a live feed).
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/capvision/go-inspect/internal/log"
	"github.com/capvision/go-inspect/pkg/camera"
)

// maxConsecutiveTimeouts bounds how long a stalled device keeps a feed
// alive before the sequence ends.
const maxConsecutiveTimeouts = 3

// Publisher hands out live frame subscriptions backed by the camera
// manager. A forced camera stop terminates every subscription.
type Publisher struct {
	cam *camera.Manager

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription

	subscribers prometheus.Gauge
}

// NewPublisher creates a publisher. reg may be nil to skip metrics.
func NewPublisher(cam *camera.Manager, reg prometheus.Registerer) *Publisher {
	p := &Publisher{
		cam:  cam,
		subs: make(map[uuid.UUID]*Subscription),
	}
	if reg != nil {
		p.subscribers = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "inspect",
			Name:      "stream_subscribers",
			Help:      "Currently connected live-feed subscribers.",
		})
	}
	return p
}

// Subscribe acquires the camera and starts a live feed. The sequence is
// infinite until the given context is cancelled, the subscription is
// closed, or the camera is force-stopped; it is not restartable.
func (p *Publisher) Subscribe(ctx context.Context) (*Subscription, error) {
	handle, err := p.cam.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:     uuid.New(),
		frames: make(chan camera.Frame, 1),
		cancel: cancel,
	}

	p.mu.Lock()
	p.subs[sub.id] = sub
	p.mu.Unlock()
	if p.subscribers != nil {
		p.subscribers.Inc()
	}
	log.Debug("stream subscription opened", "id", sub.id)

	go p.pump(ctx, sub, handle)
	return sub, nil
}

// Count returns the number of live subscriptions.
func (p *Publisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// pump is the per-subscriber loop: wait for a frame newer than the last
// delivered one, then hand it over, displacing an undelivered frame.
func (p *Publisher) pump(ctx context.Context, sub *Subscription, handle *camera.Handle) {
	defer func() {
		handle.Release()
		p.mu.Lock()
		delete(p.subs, sub.id)
		p.mu.Unlock()
		if p.subscribers != nil {
			p.subscribers.Dec()
		}
		close(sub.frames)
		log.Debug("stream subscription closed", "id", sub.id, "reason", sub.Err())
	}()

	var last uint64
	timeouts := 0
	for {
		frame, err := handle.WaitNext(ctx, last)
		if err != nil {
			if errors.Is(err, camera.ErrCaptureTimeout) {
				timeouts++
				if timeouts < maxConsecutiveTimeouts {
					continue
				}
			}
			sub.setErr(err)
			return
		}
		timeouts = 0
		last = frame.Seq

		select {
		case sub.frames <- frame:
		default:
			// consumer has not taken the previous frame; replace it
			select {
			case <-sub.frames:
			default:
			}
			select {
			case sub.frames <- frame:
			default:
			}
		}
	}
}

// Subscription is one consumer's live, cancellable feed of frames.
type Subscription struct {
	id     uuid.UUID
	frames chan camera.Frame
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// ID identifies the subscription.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Frames is the feed. The channel closes when the subscription ends;
// Err then reports why.
func (s *Subscription) Frames() <-chan camera.Frame { return s.frames }

// Close ends the subscription. Idempotent; other subscriptions are
// unaffected.
func (s *Subscription) Close() { s.cancel() }

// Err reports why the feed ended. A forced stop surfaces
// camera.ErrAborted, which is a graceful termination, not a failure.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
