package policy

import (
	"sync"
	"testing"

	"github.com/capvision/go-inspect/pkg/detect"
)

func testPolicy() Policy {
	return New(0.5,
		[]string{"cap_on"},
		[]string{"cap_off_wick_ng", "cap_off", "cap_on"})
}

func TestDecide_DefectWinsByConfidence(t *testing.T) {
	p := testPolicy()

	out := p.Decide([]detect.Detection{
		{Label: "cap_off_wick_ng", Confidence: 0.92},
		{Label: "cap_on", Confidence: 0.40},
	})

	if out.Status != StatusDefect {
		t.Errorf("Expected status defect, got %v", out.Status)
	}
	if out.Label != "cap_off_wick_ng" {
		t.Errorf("Expected label cap_off_wick_ng, got %v", out.Label)
	}
	if out.Confidence != 0.92 {
		t.Errorf("Expected confidence 0.92, got %v", out.Confidence)
	}
}

func TestDecide_EmptyIsUndetermined(t *testing.T) {
	p := testPolicy()

	out := p.Decide(nil)
	if out.Status != StatusUndetermined {
		t.Errorf("Expected undetermined for empty detections, got %v", out.Status)
	}
	if out.Label != NoDetectionLabel {
		t.Errorf("Expected label %q, got %q", NoDetectionLabel, out.Label)
	}
}

func TestDecide_BelowThresholdIsUndetermined(t *testing.T) {
	p := testPolicy()

	out := p.Decide([]detect.Detection{
		{Label: "cap_on", Confidence: 0.49},
		{Label: "cap_off", Confidence: 0.30},
	})
	if out.Status != StatusUndetermined {
		t.Errorf("Expected undetermined below threshold, got %v", out.Status)
	}
}

func TestDecide_PassLabelMapsToOK(t *testing.T) {
	p := testPolicy()

	out := p.Decide([]detect.Detection{
		{Label: "cap_on", Confidence: 0.88},
	})
	if out.Status != StatusOK {
		t.Errorf("Expected ok for pass label, got %v", out.Status)
	}
}

func TestDecide_UnknownLabelMapsToDefect(t *testing.T) {
	p := testPolicy()

	out := p.Decide([]detect.Detection{
		{Label: "mystery_object", Confidence: 0.95},
	})
	if out.Status != StatusDefect {
		t.Errorf("Expected defect for unlisted label, got %v", out.Status)
	}
}

func TestDecide_TieBreaksByPriority(t *testing.T) {
	p := testPolicy()

	// equal confidence: cap_off_wick_ng outranks cap_on regardless of
	// detection order
	out := p.Decide([]detect.Detection{
		{Label: "cap_on", Confidence: 0.80},
		{Label: "cap_off_wick_ng", Confidence: 0.80},
	})
	if out.Label != "cap_off_wick_ng" {
		t.Errorf("Expected tie to pick cap_off_wick_ng, got %v", out.Label)
	}

	out = p.Decide([]detect.Detection{
		{Label: "cap_off_wick_ng", Confidence: 0.80},
		{Label: "cap_on", Confidence: 0.80},
	})
	if out.Label != "cap_off_wick_ng" {
		t.Errorf("Expected tie to pick cap_off_wick_ng in reversed order, got %v", out.Label)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	p := testPolicy()
	dets := []detect.Detection{
		{Label: "cap_off", Confidence: 0.71},
		{Label: "cap_on", Confidence: 0.71},
		{Label: "cap_off_wick_ng", Confidence: 0.33},
	}

	first := p.Decide(dets)
	for i := 0; i < 100; i++ {
		if got := p.Decide(dets); got != first {
			t.Fatalf("Decide not deterministic: %v vs %v on call %d", got, first, i)
		}
	}
}

func TestDecide_DeterministicUnderConcurrency(t *testing.T) {
	p := testPolicy()
	dets := []detect.Detection{
		{Label: "cap_off_wick_ng", Confidence: 0.92},
		{Label: "cap_on", Confidence: 0.40},
	}
	want := p.Decide(dets)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := p.Decide(dets); got != want {
					errs <- "concurrent Decide diverged"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}
