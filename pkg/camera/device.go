package camera

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// videoDevice wraps a gocv VideoCapture. Reads are not safe for
// concurrent use; the manager's single reader goroutine is the only
// caller.
type videoDevice struct {
	cap     *gocv.VideoCapture
	mat     gocv.Mat
	quality int
}

// OpenVideoDevice opens the capture device at cfg.DeviceIndex and
// applies the configured resolution and frame rate. It is the production
// OpenFunc.
func OpenVideoDevice(cfg Config) (Device, error) {
	cap, err := gocv.OpenVideoCapture(cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", cfg.DeviceIndex, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("device %d did not open", cfg.DeviceIndex)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	cap.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))

	return &videoDevice{
		cap:     cap,
		mat:     gocv.NewMat(),
		quality: cfg.Quality,
	}, nil
}

// Read captures the next frame and returns it JPEG-encoded.
func (d *videoDevice) Read() (Frame, error) {
	if ok := d.cap.Read(&d.mat); !ok {
		return Frame{}, errors.New("device read returned no frame")
	}
	if d.mat.Empty() {
		return Frame{}, errors.New("device returned an empty frame")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.mat,
		[]int{gocv.IMWriteJpegQuality, d.quality})
	if err != nil {
		return Frame{}, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	// the buffer is reused by gocv, take our own copy
	jpeg := make([]byte, buf.Len())
	copy(jpeg, buf.GetBytes())

	return Frame{
		JPEG:      jpeg,
		Width:     d.mat.Cols(),
		Height:    d.mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// Close releases the capture device and its scratch buffer.
func (d *videoDevice) Close() error {
	d.mat.Close()
	return d.cap.Close()
}
