// Package server exposes the WhatsApp webhook, the probes and the
// management API over Fiber.
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/conversation"
	"github.com/p-blackswan/checkin-agent/internal/health"
	"github.com/p-blackswan/checkin-agent/internal/metrics"
	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/requestid"
	"github.com/p-blackswan/checkin-agent/internal/scheduler"
	"github.com/p-blackswan/checkin-agent/internal/store"
	"github.com/p-blackswan/checkin-agent/internal/whatsapp"
)

// Config holds the HTTP server configuration.
type Config struct {
	ListenAddr  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
	// VerifyToken answers the webhook subscription handshake.
	VerifyToken string
	// AppSecret signs webhook bodies; empty disables the check.
	AppSecret string
}

// Dispatcher handles one inbound event.
type Dispatcher interface {
	Handle(ctx context.Context, ev agent.InboundEvent) (agent.Result, error)
}

// SweepRunner triggers a prompt sweep on demand.
type SweepRunner interface {
	RunNow(ctx context.Context, kind conversation.PromptKind) (scheduler.Sweep, error)
}

// Reader is the read side of storage the management API needs.
type Reader interface {
	GetSession(ctx context.Context, scope models.Scope) (*models.Session, error)
	LoadTaskList(ctx context.Context, scope models.Scope, day models.Day) (*models.TaskList, error)
	ListAudit(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error)
}

var _ Reader = (store.Repository)(nil)

// Deps are the collaborators the server routes to. Scheduler and Metrics
// may be nil.
type Deps struct {
	Agent     Dispatcher
	Repo      Reader
	Parser    *whatsapp.Parser
	Health    *health.Checker
	Metrics   *metrics.Metrics
	Scheduler SweepRunner
	Started   time.Time
}

// Server is the Fiber application.
type Server struct {
	app     *fiber.App
	deps    Deps
	limiter *rateLimiter
	stop    chan struct{}
	logger  zerolog.Logger
	config  Config
}

// New creates and configures the server.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	s := &Server{
		app:    app,
		deps:   deps,
		stop:   make(chan struct{}),
		logger: logger.With().Str("component", "server").Logger(),
		config: cfg,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit)
		go s.limiter.run(s.stop)
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(cfg)
	return s
}

func (s *Server) setupMiddleware(cfg Config) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID: honour the caller's, otherwise mint one.
	s.app.Use(func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		id := c.Get(requestid.Header)
		if id != "" {
			ctx = requestid.WithRequestID(ctx, id)
		} else {
			ctx, id = requestid.New(ctx)
		}
		c.SetUserContext(ctx)
		c.Set(requestid.Header, id)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}
}

func (s *Server) setupRoutes(cfg Config) {
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler(s.deps.Started)))
	if s.deps.Health != nil {
		s.app.Get("/readyz", adaptor.HTTPHandlerFunc(s.deps.Health.ReadinessHandler()))
	}
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	s.app.Get("/webhook", s.verifyWebhook)
	s.app.Post("/webhook", s.receiveWebhook)

	v1 := s.app.Group("/api/v1")
	if s.limiter != nil {
		v1.Use(s.limiter.handler())
	}
	v1.Use(NewAuthMiddleware(cfg.Auth, s.logger))
	v1.Use(func(c *fiber.Ctx) error {
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Str("request_id", requestid.FromContext(c.UserContext())).
			Msg("api request")
		return c.Next()
	})

	scope := v1.Group("/instances/:instance/users/:user")
	scope.Get("/session", s.getSession)
	scope.Get("/tasks", s.getTasks)
	scope.Get("/metrics", s.getMetrics)
	scope.Get("/audit", s.getAudit)
	scope.Post("/events", requireRole(RoleOperator), s.postEvent)

	v1.Post("/scheduler/:kind", requireRole(RoleOperator), s.runSweep)
}

// Start listens on the configured address. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("server shutting down")
	s.Close()
	return s.app.ShutdownWithContext(ctx)
}

// Close stops the background limiter sweep. It is safe to call twice.
func (s *Server) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}
