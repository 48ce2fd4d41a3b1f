package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"watcher-hub/internal/botmgr"
	log "watcher-hub/internal/infra/log"
	"watcher-hub/internal/watcher"
)

// BotService is the slice of the session manager the HTTP surface needs.
type BotService interface {
	TestCredential(credential string) (botmgr.BotInfo, error)
	SendTestMessage(ctx context.Context, credential string, chatID int64) error
}

// Server exposes the control surface over HTTP. Every response is JSON;
// failures come back as {"success": false, "error": "..."} with a 4xx/5xx
// status, never as a raw panic or stack trace.
type Server struct {
	app      *fiber.App
	registry *watcher.Registry
	bots     BotService
	addr     string
}

// Config holds server configuration.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg Config, registry *watcher.Registry, bots BotService) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			log.LogError("HTTP error",
				zap.Int("code", code),
				zap.String("path", c.Path()),
				zap.Error(err))
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	s := &Server{
		app:      app,
		registry: registry,
		bots:     bots,
		addr:     cfg.ListenAddr,
	}

	app.Get("/health", s.handleHealth)

	app.Post("/bot/test", s.handleBotTest)
	app.Post("/bot/test-message", s.handleBotTestMessage)

	app.Post("/watchers/register", s.handleRegister)
	app.Post("/watchers/:id/stop", s.handleStop)
	app.Post("/watchers/:id/resume", s.handleResume)
	app.Get("/watchers/:id/logs", s.handleLogs)
	app.Delete("/watchers/:id", s.handleUnregister)

	return s
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	log.LogInfo("Starting control server", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.LogInfo("Shutting down control server")
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type botTestRequest struct {
	Credential string `json:"credential"`
}

func (s *Server) handleBotTest(c *fiber.Ctx) error {
	var req botTestRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Credential == "" {
		return fail(c, fiber.StatusBadRequest, "credential is required")
	}

	info, err := s.bots.TestCredential(req.Credential)
	if err != nil {
		return fail(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"id":       info.ID,
		"username": info.Username,
		"name":     info.Name,
	})
}

type botTestMessageRequest struct {
	Credential  string `json:"credential"`
	Destination int64  `json:"destination"`
}

func (s *Server) handleBotTestMessage(c *fiber.Ctx) error {
	var req botTestMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Credential == "" {
		return fail(c, fiber.StatusBadRequest, "credential is required")
	}
	if req.Destination == 0 {
		return fail(c, fiber.StatusBadRequest, "destination is required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()
	if err := s.bots.SendTestMessage(ctx, req.Credential, req.Destination); err != nil {
		return fail(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var cfg watcher.RegisterConfig
	if err := c.BodyParser(&cfg); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := s.registry.Register(cfg); err != nil {
		status := fiber.StatusBadRequest
		if !errors.Is(err, watcher.ErrRegistration) {
			status = fiber.StatusInternalServerError
		}
		return fail(c, status, err.Error())
	}
	return c.JSON(fiber.Map{
		"success": true,
		"id":      cfg.ID,
	})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.registry.Stop(c.Params("id")); err != nil {
		return fail(c, statusFor(err), err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleResume(c *fiber.Ctx) error {
	if err := s.registry.Resume(c.Params("id")); err != nil {
		return fail(c, statusFor(err), err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

// handleLogs always succeeds; an unknown watcher id yields an empty list.
func (s *Server) handleLogs(c *fiber.Ctx) error {
	logs := s.registry.Logs(c.Params("id"))
	return c.JSON(fiber.Map{
		"success": true,
		"logs":    logs,
	})
}

func (s *Server) handleUnregister(c *fiber.Ctx) error {
	if err := s.registry.Unregister(c.Params("id")); err != nil {
		return fail(c, statusFor(err), err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

func statusFor(err error) int {
	if errors.Is(err, watcher.ErrUnknownWatcher) {
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}
