package camera

import (
	"errors"
	"sync"
	"time"
)

// FakeDevice is an in-memory Device for tests. It serves a fixed JPEG
// payload at whatever rate the reader asks for and can be switched into
// a failing mode mid-run.
type FakeDevice struct {
	mu      sync.Mutex
	payload []byte
	reads   int
	closed  bool
	failErr error
	delay   time.Duration
}

// NewFakeDevice returns a device serving the given payload.
func NewFakeDevice(payload []byte) *FakeDevice {
	return &FakeDevice{payload: payload}
}

// FailWith makes subsequent reads return err. Pass nil to recover.
func (d *FakeDevice) FailWith(err error) {
	d.mu.Lock()
	d.failErr = err
	d.mu.Unlock()
}

// SetDelay makes every read block for the given duration first.
func (d *FakeDevice) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// Reads reports how many reads the device has served.
func (d *FakeDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Closed reports whether Close has been called.
func (d *FakeDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Read implements Device.
func (d *FakeDevice) Read() (Frame, error) {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Frame{}, errors.New("fake device closed")
	}
	if d.failErr != nil {
		return Frame{}, d.failErr
	}
	d.reads++
	return Frame{
		JPEG:      d.payload,
		Width:     640,
		Height:    480,
		Timestamp: time.Now(),
	}, nil
}

// Close implements Device.
func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// FakeOpen returns an OpenFunc that hands out dev, counting attempts.
func FakeOpen(dev *FakeDevice) OpenFunc {
	return func(Config) (Device, error) {
		return dev, nil
	}
}

// FailingOpen returns an OpenFunc that always fails with err.
func FailingOpen(err error) OpenFunc {
	return func(Config) (Device, error) {
		return nil, err
	}
}
