// Package web provides the operational HTTP plane for the bridge:
// health, metrics, and read-only session inspection. It never touches
// the audio path.
package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-voicebridge/pkg/session"
)

// Server is the operational API server.
type Server struct {
	app       *fiber.App
	manager   *session.Manager
	addr      string
	startedAt time.Time
}

// NewServer creates the API server around a session manager.
func NewServer(manager *session.Manager, addr string) *Server {
	s := &Server{
		manager:   manager,
		addr:      addr,
		startedAt: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicebridge",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/sessions", s.handleSessions)
	api.Get("/sessions/:id", s.handleSession)

	s.app = app
	return s
}

// Start serves the API. Blocks until Shutdown.
func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
