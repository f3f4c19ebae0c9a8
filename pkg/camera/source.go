package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/capvision/go-inspect/internal/log"
)

// source is the single-slot latest-frame cache. One goroutine reads the
// device and overwrites the slot; any number of consumers copy it out.
// Consumers therefore never contend on the device driver, and a slow
// consumer can only ever miss frames, not delay them.
type source struct {
	dev      Device
	interval time.Duration
	timeout  time.Duration

	done    <-chan struct{} // session teardown signal
	stopped chan struct{}   // closed when the reader goroutine exits

	mu      sync.Mutex
	current Frame
	seq     uint64
	readErr error         // last device read failure, cleared on success
	fresh   chan struct{} // closed and replaced on every new frame
}

func newSource(dev Device, cfg Config, done <-chan struct{}) *source {
	return &source{
		dev:      dev,
		interval: time.Second / time.Duration(cfg.FPS),
		timeout:  cfg.ReadTimeout,
		done:     done,
		stopped:  make(chan struct{}),
		fresh:    make(chan struct{}),
	}
}

// run is the reader loop. It owns the device exclusively until the
// session done channel closes.
func (s *source) run() {
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		frame, err := s.dev.Read()
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			log.Warn("device read failed", "error", err)

			// back off before retrying so a wedged driver does not spin
			select {
			case <-s.done:
				return
			case <-time.After(s.timeout):
			}
			continue
		}

		s.mu.Lock()
		s.seq++
		frame.Seq = s.seq
		s.current = frame
		s.readErr = nil
		close(s.fresh)
		s.fresh = make(chan struct{})
		s.mu.Unlock()

		select {
		case <-s.done:
			return
		case <-time.After(s.interval):
		}
	}
}

// latest returns the cached frame, waiting up to one read timeout for
// the first frame after open or after a device failure.
func (s *source) latest(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	if s.seq > 0 && s.readErr == nil {
		f := s.current
		s.mu.Unlock()
		return f, nil
	}
	after := s.seq
	s.mu.Unlock()
	return s.next(ctx, after)
}

// next blocks until a frame newer than after is cached. The wait is
// bounded by one read timeout; a pending device failure upgrades the
// timeout to ErrCaptureFailed.
func (s *source) next(ctx context.Context, after uint64) (Frame, error) {
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if s.seq > after {
			f := s.current
			s.mu.Unlock()
			return f, nil
		}
		fresh := s.fresh
		readErr := s.readErr
		s.mu.Unlock()

		select {
		case <-fresh:
		case <-s.done:
			return Frame{}, ErrAborted
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-deadline.C:
			if readErr != nil {
				return Frame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, readErr)
			}
			return Frame{}, ErrCaptureTimeout
		}
	}
}
