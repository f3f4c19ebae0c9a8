package detect

import "sync"

// MockDetector is a Detector for tests. It returns a fixed detection set
// or a fixed error, and counts calls.
type MockDetector struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	calls      int
	notReady   bool
}

// NewMockDetector returns a ready mock serving the given detections.
func NewMockDetector(dets ...Detection) *MockDetector {
	return &MockDetector{detections: dets}
}

// Detect implements Detector.
func (m *MockDetector) Detect(jpeg []byte) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Detection, len(m.detections))
	copy(out, m.detections)
	return out, nil
}

// Ready implements Detector.
func (m *MockDetector) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.notReady
}

// Close implements Detector.
func (m *MockDetector) Close() error { return nil }

// SetDetections replaces the served detection set.
func (m *MockDetector) SetDetections(dets ...Detection) {
	m.mu.Lock()
	m.detections = dets
	m.mu.Unlock()
}

// SetError makes Detect fail with err. Pass nil to recover.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// SetReady toggles the readiness report.
func (m *MockDetector) SetReady(ready bool) {
	m.mu.Lock()
	m.notReady = !ready
	m.mu.Unlock()
}

// Calls reports how many Detect calls the mock served.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
