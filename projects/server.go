package projects

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/klarnow/tracker/common/dto"
	"github.com/klarnow/tracker/common/errors"
	"github.com/klarnow/tracker/pkg/config"
	"github.com/klarnow/tracker/pkg/email"
	"github.com/klarnow/tracker/pkg/middleware"
	"github.com/klarnow/tracker/pkg/storage"
	"github.com/klarnow/tracker/projects/phases"
)

// Deps are the server's collaborators. Nil Redis disables cross-instance
// notifications and upload rate limiting; nil Objects disables uploads;
// nil Mailer disables client e-mails.
type Deps struct {
	Store    Store
	Redis    *redis.Client
	Objects  storage.ObjectStore
	Notifier Notifier
	Limiter  RateLimiter
	Mailer   Mailer
	Registry *phases.Registry
}

// Server represents the tracker API server
type Server struct {
	app      *fiber.App
	config   *config.Config
	deps     Deps
	registry *prometheus.Registry
	events   *EventsHandler
}

// NewServer connects to the configured backends and creates the server
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	store, err := initStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deps := Deps{Store: store}

	redisClient, err := initRedis(cfg.Redis)
	switch {
	case err == nil:
		deps.Redis = redisClient
		deps.Notifier = NewRedisNotifier(redisClient)
		deps.Limiter = NewRedisRateLimiter(redisClient, "upload-rate", cfg.Upload.RatePerHour, time.Hour)
	case cfg.IsProduction():
		store.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	default:
		log.Warn().Err(err).Msg("redis unavailable, using in-process notifications")
	}

	if cfg.Storage.Enabled() {
		objects, err := storage.New(ctx, storage.Config{
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			PathStyle:     cfg.Storage.PathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to configure object storage: %w", err)
		}
		deps.Objects = objects
	} else {
		log.Warn().Msg("S3_BUCKET not set, uploads disabled")
	}

	if cfg.Email.Enabled() {
		deps.Mailer = email.NewClient(cfg.Email.ResendAPIKey, cfg.Email.From)
	}

	return NewServerWithDeps(cfg, deps), nil
}

// NewServerWithDeps creates a server on already constructed collaborators
func NewServerWithDeps(cfg *config.Config, deps Deps) *Server {
	if deps.Notifier == nil {
		deps.Notifier = NewMemoryNotifier()
	}
	if deps.Registry == nil {
		deps.Registry = phases.DefaultRegistry()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := &Server{
		config:   cfg,
		deps:     deps,
		registry: reg,
	}

	server.app = server.createApp()
	server.registerRoutes()

	return server
}

func (s *Server) createApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "klarnow-tracker",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
		// Room for the multipart envelope around a maximum size upload
		BodyLimit: int(s.config.Upload.MaxBytes) + 1<<20,
	})

	// Global middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace:  true,
		StackTraceHandler: middleware.LogPanic,
	}))
	app.Use(middleware.RequestLogger("/health", "/metrics"))
	app.Use(middleware.NewHTTPMetrics(s.registry).Handler())
	app.Use(compress.New(compress.Config{
		// Compression buffers the body, which would stall event streams
		Next: func(c *fiber.Ctx) bool { return c.Path() == "/api/v1/my-project/events" },
	}))
	app.Use(helmet.New())
	app.Use(middleware.CORS(s.config.IsDevelopment(), s.config.Server.AllowedOrigins))

	return app
}

func (s *Server) registerRoutes() {
	// Health check and metrics
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/metrics", middleware.MetricsEndpoint(s.registry))

	metrics := NewMetrics(s.registry)
	service := NewService(s.deps.Store, s.deps.Registry, s.deps.Notifier, metrics)
	if s.deps.Mailer != nil {
		service.SetMailer(s.deps.Mailer, s.config.Email.AppBaseURL)
	}

	// API v1
	v1 := s.app.Group("/api/v1")

	// Dev login is the only unauthenticated route
	if s.config.IsDevelopment() {
		authHandler := NewAuthHandler(s.config)
		v1.Post("/auth/dev-login", authHandler.DevLogin)
	}

	v1.Use(middleware.Auth(middleware.AuthConfig{
		JWTSecret:          s.config.Auth.JWTSecret,
		SkipPaths:          []string{"/api/v1/auth/"},
		QueryTokenSuffixes: []string{"/my-project/events"},
	}))

	// Client routes
	projectHandler := NewProjectHandler(service)
	s.events = NewEventsHandler(service, s.deps.Notifier, metrics)
	my := v1.Group("/my-project")
	my.Get("", projectHandler.MyProject)
	my.Patch("/phases", projectHandler.ToggleChecklist)
	my.Get("/progress", projectHandler.Progress)
	my.Get("/events", s.events.Stream)

	onboardingHandler := NewOnboardingHandler(service)
	onboarding := v1.Group("/onboarding")
	onboarding.Get("/steps", onboardingHandler.ListSteps)
	onboarding.Put("/steps/:step_number", onboardingHandler.SaveStep)
	onboarding.Post("/complete", onboardingHandler.Complete)

	uploadHandler := NewUploadHandler(s.deps.Objects, s.deps.Limiter, s.config.Upload.MaxBytes, metrics)
	v1.Post("/uploads", uploadHandler.Upload)

	// Admin routes
	adminHandler := NewAdminHandler(service)
	admin := v1.Group("/admin", middleware.RequireAdmin())
	admin.Get("/clients", adminHandler.ListClients)
	admin.Get("/projects/:id", adminHandler.GetProject)
	admin.Patch("/projects/:id", adminHandler.UpdateProject)
	admin.Patch("/projects/:id/phases/:phase_id", adminHandler.UpdatePhaseStatus)
	admin.Patch("/projects/:id/phases/:phase_id/checklist", adminHandler.ToggleChecklist)
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	services := make(map[string]string)

	// Check database
	if err := s.deps.Store.Ping(c.Context()); err != nil {
		services["database"] = "error"
	} else {
		services["database"] = "ok"
	}

	// Check Redis
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(c.Context()).Err(); err != nil {
			services["redis"] = "error"
		} else {
			services["redis"] = "ok"
		}
	}

	status := "healthy"
	for _, v := range services {
		if v == "error" {
			status = "unhealthy"
			break
		}
	}

	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(dto.HealthResponse{
		Status:   status,
		Version:  "1.0.0",
		Services: services,
	})
}

// App exposes the fiber app, for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// ShutdownWithContext gracefully shuts down the server
func (s *Server) ShutdownWithContext(ctx context.Context) error {
	if s.events != nil {
		s.events.Close()
	}
	err := s.app.ShutdownWithContext(ctx)
	if s.deps.Store != nil {
		s.deps.Store.Close()
	}
	if s.deps.Redis != nil {
		_ = s.deps.Redis.Close()
	}
	return err
}

func initStore(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	if cfg.IsSQLite() {
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return OpenSQLite(cfg.SQLitePath)
	}
	return OpenPostgres(ctx, cfg)
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Address())
	if err != nil {
		opt = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	message := err.Error()
	if code == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		message = "internal server error"
	}
	return c.Status(code).JSON(dto.Fail(dto.CodeForStatus(code), message, nil))
}
