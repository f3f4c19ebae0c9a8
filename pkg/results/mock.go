package results

import "sync"

// MemoryLog is an in-memory Log for tests.
type MemoryLog struct {
	mu     sync.Mutex
	recs   []Record
	totals Totals
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (m *MemoryLog) Append(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	m.totals.count(rec.Status)
}

// Totals implements Log.
func (m *MemoryLog) Totals() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

// Summary implements Log.
func (m *MemoryLog) Summary() Summary {
	return summarize(m.Totals())
}

// Reset implements Log.
func (m *MemoryLog) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = nil
	m.totals = Totals{}
	return nil
}

// ReadAll implements Log.
func (m *MemoryLog) ReadAll() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.recs))
	copy(out, m.recs)
	return out, nil
}
