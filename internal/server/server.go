// Package server assembles the Fiber application: middleware, the
// WebSocket upgrade route for room clients, and graceful shutdown of
// both the HTTP listener and the in-memory room registry.
package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"babblefish/internal/config"
	"babblefish/internal/langreg"
	"babblefish/internal/pipeline"
	"babblefish/internal/room"
	"babblefish/internal/transport"
)

// Server wraps the Fiber app together with the collaborators a
// connection needs once upgraded to a WebSocket.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	manager *room.Manager
	pipe    *pipeline.Pipeline
	langs   *langreg.Registry
}

// New builds the translation pipeline and the room registry, and wires
// both behind the Fiber app's WebSocket route.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	langs := langreg.New()

	pipe, err := pipeline.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	roomCfg := room.Config{
		MaxParticipants:         cfg.Room.MaxParticipantsPerRoom,
		UtteranceHardCapSeconds: cfg.Room.UtteranceHardCapSeconds,
		SendQueueCapacity:       cfg.WebSocket.SendQueueSize,
		RoomTimeout:             time.Duration(cfg.Room.RoomTimeoutSeconds) * time.Second,
	}
	manager := room.NewManager(ctx, roomCfg, cfg.Room.MaxRooms, pipe)

	app := fiber.New(fiber.Config{
		AppName:       "Babblefish Room Hub",
		ServerHeader:  "Fiber",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		Prefork:       false, // incompatible with long-lived WebSocket upgrades
	})

	s := &Server{app: app, cfg: cfg, manager: manager, pipe: pipe, langs: langs}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"pipeline": s.pipe.Health(),
		})
	})

	s.app.Use("/ws/client", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	deps := transport.Deps{
		Manager: s.manager,
		Langs:   s.langs,
		Config: transport.Config{
			IdleConnectionTimeout: s.cfg.WebSocket.IdleConnectionTimeout,
		},
	}

	s.app.Get("/ws/client", websocket.New(func(c *websocket.Conn) {
		transport.HandleConnection(c, deps)
	}, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start runs the listener until a termination signal arrives, then
// drains rooms before the HTTP server stops accepting connections.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("shutting down")
		s.manager.Shutdown()
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("babblefish room hub starting on %s", s.cfg.Server.Port)
	log.Printf("websocket endpoint: ws://localhost%s/ws/client", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown drains rooms and stops the HTTP listener outside the signal
// path, for callers (such as tests) that manage their own lifecycle.
func (s *Server) Shutdown() error {
	s.manager.Shutdown()
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
