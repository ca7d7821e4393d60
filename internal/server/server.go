package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tasktrack/apiserver/config"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/db"
	"github.com/tasktrack/apiserver/internal/events"
	"github.com/tasktrack/apiserver/internal/handlers"
	"github.com/tasktrack/apiserver/internal/metrics"
	"github.com/tasktrack/apiserver/internal/mq"
	"github.com/tasktrack/apiserver/internal/ratelimit"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/store"
)

const requestTimeout = 60 * time.Second

// Deps are the collaborators the HTTP handler is built from.
type Deps struct {
	Users  services.UserRepository
	Tasks  services.TaskRepository
	Tokens *auth.TokenService
	Hasher auth.PasswordHasher

	// Limiter may be nil to disable rate limiting.
	Limiter   ratelimit.Limiter
	RateLimit config.RateLimitConfig

	Metrics *metrics.Metrics
	Events  events.Publisher
	Logger  *slog.Logger
	// DB is pinged by the health check when non-nil.
	DB handlers.Pinger
	// TrustProxy rewrites the client address from forwarding headers before
	// rate limiting and logging.
	TrustProxy bool
}

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     http.Handler
	db         *sql.DB
	limiter    ratelimit.Limiter
	queue      *mq.MQ
	logger     *slog.Logger
}

// New opens every backing service named by cfg and constructs a Server.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Server{db: dbConn, logger: logger}

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		limiter, err := ratelimit.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.limiter = limiter
	} else {
		s.limiter = ratelimit.NewMemory()
	}

	var publisher events.Publisher = events.Discard{}
	queue, err := mq.Open(ctx, cfg.Events)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		logger.Info("event publishing disabled")
	case err != nil:
		s.close()
		return nil, err
	default:
		s.queue = queue
		publisher = events.NewBrokerPublisher(queue, cfg.Events.Channel)
	}

	s.router = NewHandler(Deps{
		Users:      store.NewUserRepository(dbConn),
		Tasks:      store.NewTaskRepository(dbConn),
		Tokens:     auth.NewTokenService(jwtSecret, cfg.Auth.TokenTTL),
		Hasher:     auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		Limiter:    s.limiter,
		RateLimit:  cfg.RateLimit,
		Metrics:    metrics.New(),
		Events:     publisher,
		Logger:     logger,
		DB:         dbConn,
		TrustProxy: cfg.TrustProxy,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return s, nil
}

// NewHandler builds the routed HTTP handler from deps.
func NewHandler(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	opts := handlers.Options{
		Logger:   logger,
		Events:   deps.Events,
		Observer: m,
	}

	userService := services.NewUserService(deps.Users, deps.Hasher, deps.Tokens)
	taskService := services.NewTaskService(deps.Tasks)
	authMiddleware := handlers.RequireAuth(auth.NewGuard(deps.Tokens, deps.Users), opts)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if deps.TrustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(
		requestLogger(logger),
		middleware.Recoverer,
		securityHeaders,
		m.Middleware,
		middleware.RequestSize(handlers.MaxBodyBytes),
		middleware.Timeout(requestTimeout),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	router.Get("/healthz", handlers.Healthz(deps.DB))
	router.Get("/health", handlers.Healthz(deps.DB))
	router.Method(http.MethodGet, "/metrics", m.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(ratelimit.Middleware(deps.Limiter, deps.RateLimit.Requests, deps.RateLimit.Window, m.RateLimited))
		r.Route("/v1", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				handlers.AuthRouter(r, userService, opts, authMiddleware)
			})
			r.Route("/tasks", func(r chi.Router) {
				handlers.TaskRouter(r, taskService, opts, authMiddleware)
			})
		})
	})

	return router
}

// Router exposes the routed handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases backing services.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.limiter != nil {
		_ = s.limiter.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
