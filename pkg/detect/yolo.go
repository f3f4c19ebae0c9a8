package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/capvision/go-inspect/internal/log"
)

// YOLODetector runs a YOLOv8-family ONNX model through the OpenCV DNN
// backend. The net is not safe for concurrent forward passes, so calls
// are serialized with a mutex; that keeps the snapshot and streaming
// paths safe to run at once.
type YOLODetector struct {
	net       gocv.Net
	config    YOLOConfig
	mu        sync.Mutex
	inputSize image.Point
}

// YOLOConfig holds YOLO detector configuration.
type YOLOConfig struct {
	ModelPath        string
	Classes          []string // class names in training order
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOConfig returns production defaults for the cap-inspection
// model.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/best.onnx",
		Classes:          []string{"cap_on", "cap_off", "cap_off_wick_ng"},
		ConfidenceThresh: 0.25,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// NewYOLO loads the ONNX model and returns a ready detector.
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if len(cfg.Classes) == 0 {
		return nil, fmt.Errorf("detect: model needs a class list")
	}
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("detect: model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("detect: failed to load model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Ready implements Detector.
func (d *YOLODetector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.net.Empty()
}

// Detect finds objects in the JPEG image.
func (d *YOLODetector) Detect(jpeg []byte) ([]Detection, error) {
	if len(jpeg) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidFrame, err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("%w: decoded to empty image", ErrInvalidFrame)
	}

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("%w: model produced no output", ErrInferenceFailed)
	}

	dets, err := d.parseOutput(output, imgW, imgH)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}

	if len(dets) > 0 {
		log.Debug("detections", "count", len(dets))
	}
	return dets, nil
}

// parseOutput parses the YOLOv8 output tensor.
// Shape: [1, 4+C, N] - 4 bbox values plus one score per class, N anchors.
func (d *YOLODetector) parseOutput(output gocv.Mat, imgW, imgH float32) ([]Detection, error) {
	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	rows := output.Cols() // N anchors
	cols := output.Rows() // 4 + number of classes

	if cols != 4+len(d.config.Classes) {
		return nil, fmt.Errorf("output shape [%d, %d] does not match %d classes",
			cols, rows, len(d.config.Classes))
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %v", err)
	}

	for i := 0; i < rows; i++ {
		// class scores start at index 4
		maxScore := float32(0)
		maxClassID := 0

		for c := 4; c < cols; c++ {
			score := data[c*rows+i]
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}

		if maxScore < d.config.ConfidenceThresh {
			continue
		}

		// bbox is center x, center y, width, height in model input space
		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x1 := int((cx - w/2) * imgW / float32(d.config.InputWidth))
		y1 := int((cy - h/2) * imgH / float32(d.config.InputHeight))
		x2 := int((cx + w/2) * imgW / float32(d.config.InputWidth))
		y2 := int((cy + h/2) * imgH / float32(d.config.InputHeight))

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	var detections []Detection
	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)
	for _, idx := range indices {
		detections = append(detections, Detection{
			Label:      d.config.Classes[classIDs[idx]],
			Confidence: float64(confidences[idx]),
			Box:        boxes[idx],
		})
	}

	return detections, nil
}

// Close releases the detector resources.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
