// Package web exposes the inspection service over HTTP: health,
// snapshot classification, the live MJPEG and websocket feeds, and the
// result/report surfaces.
package web

import (
	"context"
	"sync"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capvision/go-inspect/internal/log"
	"github.com/capvision/go-inspect/pkg/hub"
	"github.com/capvision/go-inspect/pkg/inspection"
	"github.com/capvision/go-inspect/pkg/stream"
)

// Server is the HTTP front of the inspection service.
type Server struct {
	app  *fiber.App
	port string

	svc      *inspection.Service
	pub      *stream.Publisher
	frameHub *hub.Hub

	// pump feeds the websocket hub while at least one client watches
	pumpMu  sync.Mutex
	pumpSub *stream.Subscription
}

// NewServer builds the fiber app and wires the routes.
func NewServer(port string, svc *inspection.Service, pub *stream.Publisher, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		port:     port,
		svc:      svc,
		pub:      pub,
		frameHub: hub.New("frames"),
	}
	s.frameHub.OnFirstClient = s.startHubPump
	s.frameHub.OnLastClient = s.stopHubPump

	app := fiber.New(fiber.Config{
		AppName:               "inspectd",
		DisableStartupMessage: true,
	})

	// the line dashboard is served from another origin
	app.Use(cors.New())

	app.Get("/", s.handleRoot)
	app.Get("/health", s.handleHealth)
	app.Get("/frame", s.handleFrame)
	app.Get("/predict", s.handlePredict)
	app.Get("/stop", s.handleStop)
	app.Get("/result", s.handleResult)
	app.Post("/reset", s.handleReset)
	app.Get("/report", s.handleReport)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/frame", websocket.New(s.handleFrameWS))

	s.app = app
	return s
}

// Listen serves until Shutdown.
func (s *Server) Listen() error {
	go s.frameHub.Run()
	log.Info("http server listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	s.stopHubPump()
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// startHubPump opens one camera subscription and fans its frames into
// the websocket hub. Runs only while clients are connected.
func (s *Server) startHubPump() {
	s.pumpMu.Lock()
	defer s.pumpMu.Unlock()
	if s.pumpSub != nil {
		return
	}

	sub, err := s.pub.Subscribe(context.Background())
	if err != nil {
		log.Warn("ws feed unavailable", "error", err)
		return
	}
	s.pumpSub = sub

	go func() {
		for frame := range sub.Frames() {
			s.frameHub.Broadcast(frame.JPEG)
		}
		s.pumpMu.Lock()
		if s.pumpSub == sub {
			s.pumpSub = nil
		}
		s.pumpMu.Unlock()
	}()
}

func (s *Server) stopHubPump() {
	s.pumpMu.Lock()
	defer s.pumpMu.Unlock()
	if s.pumpSub != nil {
		s.pumpSub.Close()
		s.pumpSub = nil
	}
}
