package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"

	"github.com/capvision/go-inspect/pkg/camera"
	"github.com/capvision/go-inspect/pkg/detect"
	"github.com/capvision/go-inspect/pkg/hub"
	"github.com/capvision/go-inspect/pkg/inspection"
)

// handleRoot returns the service banner.
func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"service": "inspectd", "message": "quality inspection service"})
}

// handleHealth reports the readiness states plus the running totals.
// Everything is computed at request time, nothing is cached.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	health := s.svc.Health()
	summary := s.svc.Summary()

	status := "degraded"
	if health.Ready {
		status = "running"
	}
	return c.JSON(fiber.Map{
		"status":        status,
		"model_loaded":  health.ModelLoaded,
		"camera_ready":  health.CameraReady,
		"ready":         health.Ready,
		"total_scanned": summary.Scanned,
		"total_good":    summary.Good,
		"total_defect":  summary.Defect,
		"error_rate":    summary.ErrorRate,
	})
}

// handlePredict runs one snapshot classification.
func (s *Server) handlePredict(c *fiber.Ctx) error {
	result, err := s.svc.Snapshot(c.UserContext())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(result)
}

// handleFrame serves the live MJPEG feed. The response runs until the
// client disconnects or the camera is force-stopped.
func (s *Server) handleFrame(c *fiber.Ctx) error {
	sub, err := s.pub.Subscribe(context.Background())
	if err != nil {
		return s.errorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary=frame")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		for frame := range sub.Frames() {
			if _, err := fmt.Fprintf(w,
				"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
				len(frame.JPEG)); err != nil {
				return
			}
			if _, err := w.Write(frame.JPEG); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			// a failed flush means the client is gone
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}

// handleFrameWS serves the websocket frame feed through the hub.
func (s *Server) handleFrameWS(c *websocket.Conn) {
	client := hub.NewClient(s.frameHub, c)
	client.Run()
}

// handleStop force-closes the camera. Idempotent.
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.svc.Stop()
	return c.JSON(fiber.Map{"status": "camera stopped"})
}

// handleResult returns the running totals and rates.
func (s *Server) handleResult(c *fiber.Ctx) error {
	return c.JSON(s.svc.Summary())
}

// handleReset clears the counters and the result log.
func (s *Server) handleReset(c *fiber.Ctx) error {
	if err := s.svc.Reset(); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"status":  "reset_success",
		"message": "All counters and logs have been reset.",
	})
}

// handleReport returns the inspection report assembled from the log.
func (s *Server) handleReport(c *fiber.Ctx) error {
	report, err := s.svc.BuildReport()
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(report)
}

// errorResponse maps the error taxonomy to a status code and a
// structured body with a stable category.
func (s *Server) errorResponse(c *fiber.Ctx, err error) error {
	code, category := classify(err)
	return c.Status(code).JSON(fiber.Map{
		"error":    err.Error(),
		"category": category,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, inspection.ErrModelNotLoaded):
		return fiber.StatusServiceUnavailable, "model_not_loaded"
	case errors.Is(err, camera.ErrResourceUnavailable):
		return fiber.StatusServiceUnavailable, "resource_unavailable"
	case errors.Is(err, camera.ErrCaptureTimeout):
		return fiber.StatusGatewayTimeout, "capture_timeout"
	case errors.Is(err, camera.ErrCaptureFailed):
		return fiber.StatusInternalServerError, "capture_failed"
	case errors.Is(err, camera.ErrAborted):
		return fiber.StatusConflict, "aborted"
	case errors.Is(err, detect.ErrInvalidFrame):
		return fiber.StatusUnprocessableEntity, "invalid_frame"
	case errors.Is(err, detect.ErrInferenceFailed):
		return fiber.StatusInternalServerError, "inference_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "request_cancelled"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}
