// Package camera owns the capture device for the inspection line.
//
// The device is a single exclusive resource. Opening and closing are
// serialized through an explicit state machine; frame grabs run
// concurrently against a one-slot latest-frame cache that is written by
// exactly one reader goroutine, so consumers never touch the device
// driver directly.
package camera

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the capture path.
var (
	// ErrResourceUnavailable is returned when the device cannot be opened.
	ErrResourceUnavailable = errors.New("camera: device unavailable")

	// ErrCaptureTimeout is returned when no frame arrives within one
	// read timeout. Recoverable; the device stays open for retry.
	ErrCaptureTimeout = errors.New("camera: frame wait timed out")

	// ErrCaptureFailed is returned when the underlying device read fails.
	ErrCaptureFailed = errors.New("camera: frame capture failed")

	// ErrAborted is returned to waiters terminated by a concurrent stop.
	// It marks a graceful termination, not a failure.
	ErrAborted = errors.New("camera: stopped while waiting")
)

// Frame is one captured image, already JPEG-encoded, plus its capture
// metadata. Frames are immutable once produced and shared by reference.
type Frame struct {
	JPEG      []byte
	Width     int
	Height    int
	Timestamp time.Time

	// Seq increases monotonically per open session and orders frames
	// for the streaming path.
	Seq uint64
}

// Config holds the capture parameters applied when the device opens.
type Config struct {
	DeviceIndex int
	Width       int
	Height      int
	FPS         int           // paces the reader loop
	Quality     int           // JPEG encode quality 1-100
	ReadTimeout time.Duration // bound on a single frame wait
}

// DefaultConfig returns the inspection line's 1080p capture setup.
func DefaultConfig() Config {
	return Config{
		DeviceIndex: 0,
		Width:       1920,
		Height:      1080,
		FPS:         30,
		Quality:     85,
		ReadTimeout: 300 * time.Millisecond,
	}
}

// Validate checks the capture parameters are within usable ranges.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FPS < 1 || c.FPS > 120 {
		return fmt.Errorf("camera: fps %d out of range [1, 120]", c.FPS)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("camera: quality %d out of range [1, 100]", c.Quality)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("camera: read timeout must be positive, got %v", c.ReadTimeout)
	}
	return nil
}

// Device is one physical capture device. Read blocks until the next
// frame is available and returns it JPEG-encoded. Device implementations
// are not required to tolerate concurrent reads; the manager guarantees
// a single reader.
type Device interface {
	Read() (Frame, error)
	Close() error
}

// OpenFunc opens a capture device. The gocv implementation is
// OpenVideoDevice; tests substitute fakes.
type OpenFunc func(cfg Config) (Device, error)
