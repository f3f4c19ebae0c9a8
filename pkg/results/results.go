// Package results persists one record per classified frame and keeps
// the running inspection tallies.
package results

import (
	"time"

	"github.com/capvision/go-inspect/pkg/policy"
)

// Record is one classified frame, immutable once produced.
type Record struct {
	Timestamp  time.Time     `json:"timestamp"`
	Label      string        `json:"prediction"`
	Confidence *float64      `json:"confidence"` // nil when nothing was detected
	Status     policy.Status `json:"status"`
}

// Totals are the running inspection counters.
type Totals struct {
	Scanned      int `json:"total_scanned"`
	Good         int `json:"total_good"`
	Defect       int `json:"total_defect"`
	Undetermined int `json:"total_undetermined"`
}

// Summary is the counter set with derived rates for the result surface.
type Summary struct {
	Totals
	SuccessRate float64   `json:"success_rate"`
	ErrorRate   float64   `json:"error_rate"`
	LastUpdate  time.Time `json:"last_update"`
}

// Log is the result-logger collaborator the orchestration appends to.
// Append must be cheap enough to never delay camera release.
type Log interface {
	Append(Record)
	Totals() Totals
	Summary() Summary
	Reset() error
	ReadAll() ([]Record, error)
}

// summarize derives the rates from a counter set.
func summarize(t Totals) Summary {
	s := Summary{Totals: t, LastUpdate: time.Now()}
	if t.Scanned > 0 {
		s.SuccessRate = round2(float64(t.Good) / float64(t.Scanned) * 100)
		s.ErrorRate = round2(float64(t.Defect) / float64(t.Scanned) * 100)
	}
	return s
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// count applies one record to the tallies.
func (t *Totals) count(status policy.Status) {
	t.Scanned++
	switch status {
	case policy.StatusOK:
		t.Good++
	case policy.StatusDefect:
		t.Defect++
	default:
		t.Undetermined++
	}
}
