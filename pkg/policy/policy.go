// Package policy maps raw detections to a business outcome.
//
// The mapping is a pure function: no I/O, no hidden state, identical
// detections always produce the identical outcome.
package policy

import (
	"github.com/capvision/go-inspect/pkg/detect"
)

// Status is the derived pass/fail classification of one frame.
type Status string

const (
	StatusOK           Status = "ok"
	StatusDefect       Status = "defect"
	StatusUndetermined Status = "undetermined"
)

// NoDetectionLabel is recorded when no detection clears the threshold.
const NoDetectionLabel = "no_object_detected"

// Outcome is the decision for one frame.
type Outcome struct {
	Status     Status
	Label      string
	Confidence float64
}

// Policy is the fixed rule set. Labels in the pass set map to ok, all
// other detected labels map to defect. Confidence ties are broken by the
// priority list, highest priority first; labels missing from the list
// rank below every listed label.
type Policy struct {
	threshold float64
	pass      map[string]bool
	rank      map[string]int
}

// New builds a policy from a confidence threshold, the set of labels
// that count as a good part, and the tie-break priority order.
func New(threshold float64, passLabels, priority []string) Policy {
	pass := make(map[string]bool, len(passLabels))
	for _, l := range passLabels {
		pass[l] = true
	}
	rank := make(map[string]int, len(priority))
	for i, l := range priority {
		rank[l] = i
	}
	return Policy{threshold: threshold, pass: pass, rank: rank}
}

// Threshold returns the minimum confidence a detection must reach.
func (p Policy) Threshold() float64 { return p.threshold }

// Decide maps detections to an outcome. Detections below the threshold
// are ignored; with none left the frame is undetermined.
func (p Policy) Decide(dets []detect.Detection) Outcome {
	best := -1
	for i, d := range dets {
		if d.Confidence < p.threshold {
			continue
		}
		if best < 0 || p.better(d, dets[best]) {
			best = i
		}
	}

	if best < 0 {
		return Outcome{Status: StatusUndetermined, Label: NoDetectionLabel}
	}

	chosen := dets[best]
	status := StatusDefect
	if p.pass[chosen.Label] {
		status = StatusOK
	}
	return Outcome{
		Status:     status,
		Label:      chosen.Label,
		Confidence: chosen.Confidence,
	}
}

// better reports whether a should be chosen over b.
func (p Policy) better(a, b detect.Detection) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	ra, rb := p.rankOf(a.Label), p.rankOf(b.Label)
	if ra != rb {
		return ra < rb
	}
	// unlisted labels with equal confidence: lexicographic, so the
	// choice stays stable across input orderings
	return a.Label < b.Label
}

func (p Policy) rankOf(label string) int {
	if r, ok := p.rank[label]; ok {
		return r
	}
	return len(p.rank)
}
