// Package web serves the Miniscope stream and settings over HTTP and
// websockets.
package web

import (
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/hub"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFrameTimeout bounds how long /api/frame.jpg waits for a frame.
func WithFrameTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.frameTimeout = d
		}
	}
}

// WithJPEGQuality sets the encoder quality for served frames.
func WithJPEGQuality(q int) Option {
	return func(s *Server) {
		s.quality = q
	}
}

// WithStreamBuffer sets the per-websocket frame queue length.
func WithStreamBuffer(n int) Option {
	return func(s *Server) {
		s.streamBuffer = n
	}
}

// Server is the HTTP front end for one hub.
type Server struct {
	app    *fiber.App
	logger *slog.Logger

	hub    *hub.Hub
	camera *camera.Manager

	frameTimeout time.Duration
	quality      int
	streamBuffer int
}

// NewServer creates a server for the given hub and settings.
func NewServer(h *hub.Hub, cam *camera.Manager, opts ...Option) *Server {
	s := &Server{
		logger:       slog.Default(),
		hub:          h,
		camera:       cam,
		frameTimeout: 5 * time.Second,
		quality:      80,
		streamBuffer: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")

	app := fiber.New(fiber.Config{
		AppName:               "Miniscope",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)
	api.Get("/camera/capabilities", s.handleCapabilities)
	api.Get("/camera/presets", s.handleListPresets)
	api.Post("/camera/presets/:name", s.handleApplyPreset)
	api.Get("/frame.jpg", s.handleFrameJPEG)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
