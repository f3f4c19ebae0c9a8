package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testPayload = []byte("not-really-a-jpeg")

func testConfig() Config {
	return Config{
		DeviceIndex: 0,
		Width:       640,
		Height:      480,
		FPS:         100,
		Quality:     85,
		ReadTimeout: 200 * time.Millisecond,
	}
}

func TestAcquire_OpensDeviceOnce(t *testing.T) {
	var opens int32
	open := func(Config) (Device, error) {
		atomic.AddInt32(&opens, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return NewFakeDevice(testPayload), nil
	}

	m, err := NewManager(testConfig(), open)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.ForceStop()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			h.Release()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Acquire failed: %v", err)
	}

	if n := atomic.LoadInt32(&opens); n != 1 {
		t.Errorf("Expected exactly 1 device open, got %d", n)
	}
	if m.State() != StateOpen {
		t.Errorf("Expected state open after acquires, got %v", m.State())
	}
}

func TestAcquire_OpenFailure(t *testing.T) {
	m, err := NewManager(testConfig(), FailingOpen(errors.New("no such device")))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, err = m.Acquire(context.Background())
	if !errors.Is(err, ErrResourceUnavailable) {
		t.Errorf("Expected ErrResourceUnavailable, got %v", err)
	}
	if m.State() != StateClosed {
		t.Errorf("Expected state closed after failed open, got %v", m.State())
	}
}

func TestGrab_ReturnsLatestFrame(t *testing.T) {
	m, _ := NewManager(testConfig(), FakeOpen(NewFakeDevice(testPayload)))
	defer m.ForceStop()

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	frame, err := h.Grab(context.Background())
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if string(frame.JPEG) != string(testPayload) {
		t.Errorf("Unexpected frame payload")
	}
	if frame.Seq == 0 {
		t.Errorf("Expected nonzero frame sequence")
	}
	if frame.Timestamp.IsZero() {
		t.Errorf("Expected frame timestamp to be set")
	}
}

func TestGrab_TimeoutWhenDeviceStalls(t *testing.T) {
	dev := NewFakeDevice(testPayload)
	dev.SetDelay(time.Second) // never delivers within the read timeout

	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	m, _ := NewManager(cfg, FakeOpen(dev))
	defer m.ForceStop()

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	_, err = h.Grab(context.Background())
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Errorf("Expected ErrCaptureTimeout, got %v", err)
	}
}

func TestGrab_FailedWhenDeviceErrors(t *testing.T) {
	dev := NewFakeDevice(testPayload)
	dev.FailWith(errors.New("sensor unplugged"))

	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	m, _ := NewManager(cfg, FakeOpen(dev))
	defer m.ForceStop()

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	_, err = h.Grab(context.Background())
	if !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("Expected ErrCaptureFailed, got %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	m, _ := NewManager(testConfig(), FakeOpen(NewFakeDevice(testPayload)))
	defer m.ForceStop()

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	h.Release()
	h.Release()
	h.Release()

	if n := m.Holders(); n != 0 {
		t.Errorf("Expected 0 holders after repeated release, got %d", n)
	}
	if m.State() != StateOpen {
		t.Errorf("Release must not close the device, state is %v", m.State())
	}
}

func TestForceStop_UnblocksWaitingGrabs(t *testing.T) {
	dev := NewFakeDevice(testPayload)
	dev.SetDelay(100 * time.Millisecond)

	cfg := testConfig()
	cfg.ReadTimeout = 2 * time.Second // grabs would block a long time
	m, _ := NewManager(cfg, FakeOpen(dev))

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	grabErr := make(chan error, 1)
	go func() {
		_, err := h.Grab(context.Background())
		grabErr <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the grab start waiting

	stopDone := make(chan struct{})
	go func() {
		m.ForceStop()
		close(stopDone)
	}()

	select {
	case err := <-grabErr:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("Expected ErrAborted from interrupted grab, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Grab did not observe ForceStop within a second")
	}

	select {
	case <-stopDone:
	case <-time.After(time.Second):
		t.Fatal("ForceStop did not return")
	}

	if m.State() != StateClosed {
		t.Errorf("Expected state closed after ForceStop, got %v", m.State())
	}
	if !dev.Closed() {
		t.Errorf("Expected device to be closed")
	}
}

func TestForceStop_IdempotentAndReacquirable(t *testing.T) {
	var opens int32
	open := func(Config) (Device, error) {
		atomic.AddInt32(&opens, 1)
		return NewFakeDevice(testPayload), nil
	}
	m, _ := NewManager(testConfig(), open)

	// stopping a closed manager is a no-op
	m.ForceStop()

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Release()

	m.ForceStop()
	m.ForceStop()

	// the device is not wedged: a fresh acquire opens it again
	h, err = m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after ForceStop: %v", err)
	}
	if _, err := h.Grab(context.Background()); err != nil {
		t.Errorf("Grab after reopen: %v", err)
	}
	h.Release()
	m.ForceStop()

	if n := atomic.LoadInt32(&opens); n != 2 {
		t.Errorf("Expected 2 device opens across the stop cycle, got %d", n)
	}
}

func TestSingleOpenInvariant(t *testing.T) {
	var active, violations int32
	open := func(Config) (Device, error) {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&violations, 1)
		}
		return &countingDevice{FakeDevice: NewFakeDevice(testPayload), active: &active}, nil
	}

	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	m, _ := NewManager(cfg, open)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				switch (n + j) % 3 {
				case 0, 1:
					if h, err := m.Acquire(context.Background()); err == nil {
						h.Grab(context.Background())
						h.Release()
					}
				case 2:
					m.ForceStop()
				}
			}
		}(i)
	}
	wg.Wait()
	m.ForceStop()

	if v := atomic.LoadInt32(&violations); v != 0 {
		t.Errorf("Observed %d concurrent-open violations", v)
	}
}

// countingDevice decrements the shared open counter on Close so the
// single-open invariant can be asserted.
type countingDevice struct {
	*FakeDevice
	active *int32
}

func (d *countingDevice) Close() error {
	atomic.AddInt32(d.active, -1)
	return d.FakeDevice.Close()
}

func TestWaitNext_DeliversFresherFrame(t *testing.T) {
	m, _ := NewManager(testConfig(), FakeOpen(NewFakeDevice(testPayload)))
	defer m.ForceStop()

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	first, err := h.Grab(context.Background())
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}

	next, err := h.WaitNext(context.Background(), first.Seq)
	if err != nil {
		t.Fatalf("WaitNext: %v", err)
	}
	if next.Seq <= first.Seq {
		t.Errorf("Expected a fresher frame, got seq %d after %d", next.Seq, first.Seq)
	}
}
