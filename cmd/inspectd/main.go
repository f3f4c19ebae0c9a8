// inspectd - quality-inspection service for the bottling line.
//
// Captures frames from the line camera, classifies them with the
// detection model, and serves the live feed and snapshot surfaces.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/capvision/go-inspect/internal/config"
	"github.com/capvision/go-inspect/internal/log"
	"github.com/capvision/go-inspect/pkg/camera"
	"github.com/capvision/go-inspect/pkg/detect"
	"github.com/capvision/go-inspect/pkg/inspection"
	"github.com/capvision/go-inspect/pkg/policy"
	"github.com/capvision/go-inspect/pkg/results"
	"github.com/capvision/go-inspect/pkg/stream"
	"github.com/capvision/go-inspect/pkg/web"
)

func main() {
	godotenv.Load() // optional .env, absence is fine

	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	labels, err := config.LoadLabels(cfg.LabelFile)
	if err != nil {
		log.Fatal("label configuration failed", "error", err)
	}

	cam, err := camera.NewManager(camera.Config{
		DeviceIndex: cfg.DeviceIndex,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		Quality:     cfg.Quality,
		ReadTimeout: cfg.ReadTimeout,
	}, camera.OpenVideoDevice)
	if err != nil {
		log.Fatal("camera configuration failed", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	resultLog, err := results.NewCSV(cfg.LogFile, results.NewMetrics(registry))
	if err != nil {
		log.Fatal("result log failed", "error", err)
	}
	defer resultLog.Close()

	// a missing model leaves the service alive but never ready; the
	// health surface keeps reporting it so the line sees the problem
	var detector detect.Detector
	yoloCfg := detect.DefaultYOLOConfig()
	yoloCfg.ModelPath = cfg.ModelPath
	yoloCfg.Classes = labels.Classes
	if yolo, err := detect.NewYOLO(yoloCfg); err != nil {
		log.Error("model load failed, serving degraded", "error", err)
	} else {
		detector = yolo
		defer yolo.Close()
		log.Info("model loaded", "path", cfg.ModelPath, "classes", len(labels.Classes))
	}

	svc := inspection.New(
		cam,
		detector,
		policy.New(labels.Threshold, labels.PassLabels, labels.Priority),
		resultLog,
	)
	pub := stream.NewPublisher(cam, registry)
	server := web.NewServer(cfg.Port, svc, pub, registry)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		server.Shutdown()
	}()

	if err := server.Listen(); err != nil {
		log.Fatal("server failed", "error", err)
	}
	svc.Stop()
}

// parseFlags resolves configuration from defaults, environment, then
// command line flags.
func parseFlags() config.Config {
	cfg := config.Default()
	cfg.FromEnv()

	port := flag.String("port", cfg.Port, "HTTP listen port")
	device := flag.Int("device", cfg.DeviceIndex, "camera device index")
	width := flag.Int("width", cfg.Width, "capture width")
	height := flag.Int("height", cfg.Height, "capture height")
	fps := flag.Int("fps", cfg.FPS, "capture frame rate")
	quality := flag.Int("quality", cfg.Quality, "JPEG quality 1-100")
	model := flag.String("model", cfg.ModelPath, "ONNX detection model path")
	labelFile := flag.String("labels", cfg.LabelFile, "JSON label configuration path")
	logFile := flag.String("log-file", cfg.LogFile, "CSV result log path")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	readTimeout := flag.Duration("read-timeout", cfg.ReadTimeout, "bound on a single frame wait")
	flag.Parse()

	cfg.Port = *port
	cfg.DeviceIndex = *device
	cfg.Width = *width
	cfg.Height = *height
	cfg.FPS = *fps
	cfg.Quality = *quality
	cfg.ModelPath = *model
	cfg.LabelFile = *labelFile
	cfg.LogFile = *logFile
	cfg.LogLevel = *logLevel
	cfg.ReadTimeout = *readTimeout
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 300 * time.Millisecond
	}
	return cfg
}
