// Package inspection orchestrates one classification pass: camera,
// model, decision policy and result log, with the camera release
// guaranteed on every exit path.
package inspection

import (
	"context"
	"errors"
	"time"

	"github.com/capvision/go-inspect/internal/log"
	"github.com/capvision/go-inspect/pkg/camera"
	"github.com/capvision/go-inspect/pkg/detect"
	"github.com/capvision/go-inspect/pkg/policy"
	"github.com/capvision/go-inspect/pkg/results"
)

// ErrModelNotLoaded is returned while the detection model is missing.
// The service stays alive but never reports ready.
var ErrModelNotLoaded = errors.New("inspection: detection model not loaded")

// Result is one classified frame plus the running totals, the record
// the snapshot surface returns.
type Result struct {
	Timestamp  time.Time          `json:"timestamp"`
	Label      string             `json:"prediction"`
	Confidence *float64           `json:"confidence"`
	Status     policy.Status      `json:"status"`
	Detections []detect.Detection `json:"detections"`
	results.Totals
}

// Health is the service readiness snapshot, computed per request.
type Health struct {
	ModelLoaded bool `json:"model_loaded"`
	CameraReady bool `json:"camera_ready"`
	Ready       bool `json:"ready"`
}

// Service wires the collaborators together.
type Service struct {
	cam      *camera.Manager
	detector detect.Detector // nil when the model failed to load
	policy   policy.Policy
	results  results.Log
}

// New creates the service. detector may be nil; the service then serves
// health and streaming but fails snapshots until restarted with a model.
func New(cam *camera.Manager, detector detect.Detector, pol policy.Policy, resultLog results.Log) *Service {
	return &Service{
		cam:      cam,
		detector: detector,
		policy:   pol,
		results:  resultLog,
	}
}

// Camera exposes the manager for the streaming publisher.
func (s *Service) Camera() *camera.Manager { return s.cam }

// Snapshot performs one classification: acquire, grab, infer, decide,
// log, release. Release runs on every exit path; any capture or
// inference failure short-circuits with the camera still released.
func (s *Service) Snapshot(ctx context.Context) (Result, error) {
	if s.detector == nil || !s.detector.Ready() {
		return Result{}, ErrModelNotLoaded
	}

	handle, err := s.cam.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer handle.Release()

	frame, err := handle.Grab(ctx)
	if err != nil {
		return Result{}, err
	}

	dets, err := s.detector.Detect(frame.JPEG)
	if err != nil {
		return Result{}, err
	}

	outcome := s.policy.Decide(dets)

	rec := results.Record{
		// completion time, which is what orders the log
		Timestamp: time.Now(),
		Label:     outcome.Label,
		Status:    outcome.Status,
	}
	if outcome.Status != policy.StatusUndetermined {
		conf := outcome.Confidence
		rec.Confidence = &conf
	}
	s.results.Append(rec)

	log.Info("snapshot classified",
		"label", outcome.Label,
		"confidence", outcome.Confidence,
		"status", outcome.Status)

	return Result{
		Timestamp:  rec.Timestamp,
		Label:      rec.Label,
		Confidence: rec.Confidence,
		Status:     rec.Status,
		Detections: dets,
		Totals:     s.results.Totals(),
	}, nil
}

// Health reports the three independent readiness states, computed at
// request time.
func (s *Service) Health() Health {
	model := s.detector != nil && s.detector.Ready()
	cam := s.cam.State() == camera.StateOpen
	return Health{
		ModelLoaded: model,
		CameraReady: cam,
		Ready:       model && cam,
	}
}

// Stop force-closes the camera and terminates all live feeds.
// Idempotent: succeeds even when already closed.
func (s *Service) Stop() {
	s.cam.ForceStop()
}

// Summary returns the running totals with derived rates.
func (s *Service) Summary() results.Summary {
	return s.results.Summary()
}

// Reset clears the counters and the result log.
func (s *Service) Reset() error {
	return s.results.Reset()
}

// Report is the inspection report assembled from the result log.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Summary     results.Summary  `json:"summary"`
	Defects     []results.Record `json:"defects"`
}

// BuildReport reads the full log and collects the defective items.
func (s *Service) BuildReport() (Report, error) {
	recs, err := s.results.ReadAll()
	if err != nil {
		return Report{}, err
	}
	var defects []results.Record
	for _, r := range recs {
		if r.Status == policy.StatusDefect {
			defects = append(defects, r)
		}
	}
	return Report{
		GeneratedAt: time.Now(),
		Summary:     s.results.Summary(),
		Defects:     defects,
	}, nil
}
