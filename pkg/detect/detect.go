// Package detect runs the object-detection model over captured frames.
package detect

import (
	"errors"
	"image"
)

// Sentinel errors for the inference path. Both are recoverable per call.
var (
	// ErrInvalidFrame is returned for an empty or undecodable frame.
	ErrInvalidFrame = errors.New("detect: invalid frame")

	// ErrInferenceFailed is returned when the model runtime fails.
	ErrInferenceFailed = errors.New("detect: inference failed")
)

// Detection is one labeled, confidence-scored, localized model output.
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"` // pixel coordinates in the source frame
}

// Detector is the interface for detection backends. Detect must be safe
// to call concurrently: the snapshot and streaming paths both invoke it.
type Detector interface {
	// Detect finds objects in the JPEG image.
	Detect(jpeg []byte) ([]Detection, error)

	// Ready reports whether the model is loaded and usable.
	Ready() bool

	// Close releases model resources.
	Close() error
}
