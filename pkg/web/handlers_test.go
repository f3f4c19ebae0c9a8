package web

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/capvision/go-inspect/pkg/camera"
	"github.com/capvision/go-inspect/pkg/detect"
	"github.com/capvision/go-inspect/pkg/inspection"
	"github.com/capvision/go-inspect/pkg/policy"
	"github.com/capvision/go-inspect/pkg/results"
	"github.com/capvision/go-inspect/pkg/stream"
)

func testServer(t *testing.T, dev *camera.FakeDevice, det detect.Detector) (*Server, *inspection.Service) {
	t.Helper()
	cam, err := camera.NewManager(camera.Config{
		Width:       640,
		Height:      480,
		FPS:         100,
		Quality:     85,
		ReadTimeout: 200 * time.Millisecond,
	}, camera.FakeOpen(dev))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	pol := policy.New(0.5,
		[]string{"cap_on"},
		[]string{"cap_off_wick_ng", "cap_off", "cap_on"})
	svc := inspection.New(cam, det, pol, results.NewMemoryLog())
	t.Cleanup(svc.Stop)

	return NewServer("0", svc, stream.NewPublisher(cam, nil), nil), svc
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		t.Fatalf("Decode response body: %v", err)
	}
	return body
}

func TestHealth_DegradedWithoutModel(t *testing.T) {
	srv, _ := testServer(t, camera.NewFakeDevice([]byte("jpeg")), nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp.Body)
	if body["status"] != "degraded" {
		t.Errorf("Expected degraded status, got %v", body["status"])
	}
	if body["model_loaded"] != false {
		t.Errorf("Expected model_loaded false, got %v", body["model_loaded"])
	}
}

func TestPredict_ReturnsClassification(t *testing.T) {
	det := detect.NewMockDetector(
		detect.Detection{Label: "cap_off", Confidence: 0.87},
	)
	srv, _ := testServer(t, camera.NewFakeDevice([]byte("jpeg")), det)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/predict", nil), 5000)
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp.Body)
	if body["prediction"] != "cap_off" {
		t.Errorf("Expected prediction cap_off, got %v", body["prediction"])
	}
	if body["status"] != string(policy.StatusDefect) {
		t.Errorf("Expected defect status, got %v", body["status"])
	}
}

func TestPredict_ModelNotLoadedIs503(t *testing.T) {
	srv, _ := testServer(t, camera.NewFakeDevice([]byte("jpeg")), nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/predict", nil))
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 503 {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp.Body)
	if body["category"] != "model_not_loaded" {
		t.Errorf("Expected model_not_loaded category, got %v", body["category"])
	}
}

func TestPredict_CameraFailureIs500(t *testing.T) {
	dev := camera.NewFakeDevice([]byte("jpeg"))
	dev.FailWith(io.ErrUnexpectedEOF)
	det := detect.NewMockDetector()
	srv, _ := testServer(t, dev, det)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/predict", nil), 5000)
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 500 {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp.Body)
	if body["category"] != "capture_failed" {
		t.Errorf("Expected capture_failed category, got %v", body["category"])
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	det := detect.NewMockDetector(
		detect.Detection{Label: "cap_on", Confidence: 0.9},
	)
	srv, svc := testServer(t, camera.NewFakeDevice([]byte("jpeg")), det)

	// open the camera first
	if resp, err := srv.App().Test(httptest.NewRequest("GET", "/predict", nil), 5000); err != nil {
		t.Fatalf("Test request: %v", err)
	} else {
		resp.Body.Close()
	}

	for i := 0; i < 2; i++ {
		resp, err := srv.App().Test(httptest.NewRequest("GET", "/stop", nil), 5000)
		if err != nil {
			t.Fatalf("Test request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Errorf("Stop #%d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	if svc.Camera().State() != camera.StateClosed {
		t.Errorf("Expected camera closed after stop, got %v", svc.Camera().State())
	}
}

func TestResultAndReset(t *testing.T) {
	det := detect.NewMockDetector(
		detect.Detection{Label: "cap_on", Confidence: 0.9},
	)
	srv, _ := testServer(t, camera.NewFakeDevice([]byte("jpeg")), det)

	if resp, err := srv.App().Test(httptest.NewRequest("GET", "/predict", nil), 5000); err != nil {
		t.Fatalf("Test request: %v", err)
	} else {
		resp.Body.Close()
	}

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/result", nil))
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	body := decodeBody(t, resp.Body)
	resp.Body.Close()
	if body["total_scanned"] != float64(1) || body["total_good"] != float64(1) {
		t.Errorf("Unexpected result body: %v", body)
	}

	resp, err = srv.App().Test(httptest.NewRequest("POST", "/reset", nil))
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("Expected 200 from reset, got %d", resp.StatusCode)
	}

	resp, err = srv.App().Test(httptest.NewRequest("GET", "/result", nil))
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	body = decodeBody(t, resp.Body)
	resp.Body.Close()
	if body["total_scanned"] != float64(0) {
		t.Errorf("Expected zeroed totals after reset, got %v", body)
	}
}

func TestReport_ListsDefectsOnly(t *testing.T) {
	det := detect.NewMockDetector(
		detect.Detection{Label: "cap_off_wick_ng", Confidence: 0.93},
	)
	srv, _ := testServer(t, camera.NewFakeDevice([]byte("jpeg")), det)

	if resp, err := srv.App().Test(httptest.NewRequest("GET", "/predict", nil), 5000); err != nil {
		t.Fatalf("Test request: %v", err)
	} else {
		resp.Body.Close()
	}
	det.SetDetections(detect.Detection{Label: "cap_on", Confidence: 0.9})
	if resp, err := srv.App().Test(httptest.NewRequest("GET", "/predict", nil), 5000); err != nil {
		t.Fatalf("Test request: %v", err)
	} else {
		resp.Body.Close()
	}

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/report", nil))
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	defer resp.Body.Close()

	var report inspection.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("Decode report: %v", err)
	}
	if report.Summary.Scanned != 2 {
		t.Errorf("Expected 2 scanned, got %d", report.Summary.Scanned)
	}
	if len(report.Defects) != 1 || report.Defects[0].Label != "cap_off_wick_ng" {
		t.Errorf("Expected one cap_off_wick_ng defect, got %+v", report.Defects)
	}
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	srv, _ := testServer(t, camera.NewFakeDevice([]byte("jpeg")), nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/ws/frame", nil))
	if err != nil {
		t.Fatalf("Test request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 426 {
		t.Errorf("Expected 426 Upgrade Required, got %d", resp.StatusCode)
	}
}
