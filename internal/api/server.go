package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/handlers"
	"github.com/eshaffer321/mpesa-reconciler/internal/api/middleware"
	"github.com/eshaffer321/mpesa-reconciler/internal/application/reconcile"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8085,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
	workflow   *reconcile.Workflow
	reporter   handlers.Reporter
}

// NewServer creates a new API server.
// If reporter is nil, the report endpoint is not available.
func NewServer(cfg Config, workflow *reconcile.Workflow, reporter handlers.Reporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	useJSONFieldNames()

	s := &Server{
		config:   cfg,
		router:   gin.New(),
		logger:   logger,
		workflow: workflow,
		reporter: reporter,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestID())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.config.AllowedOrigins
	s.router.Use(middleware.CORS(corsConfig))

	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Actor())
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler()
	s.router.GET("/health", healthHandler.Handle)

	api := s.router.Group("/api")
	{
		paymentsHandler := handlers.NewPaymentsHandler(s.workflow, s.logger)
		api.GET("/payments/unmatched", paymentsHandler.List)
		api.POST("/payments/bulk-reconcile", paymentsHandler.BulkReconcile)
		api.GET("/payments/:id/suggestions", paymentsHandler.Suggestions)
		api.POST("/payments/:id/reconcile", paymentsHandler.Reconcile)
		api.POST("/payments/:id/auto-reconcile", paymentsHandler.AutoReconcile)
		api.GET("/payments/:id/history", paymentsHandler.History)
		api.POST("/payments/:id/link-student", paymentsHandler.LinkStudent)

		studentsHandler := handlers.NewStudentsHandler(s.workflow, s.logger)
		api.GET("/students/lookup-by-phone", studentsHandler.LookupByPhone)

		bankHandler := handlers.NewBankHandler(s.workflow, s.logger)
		api.POST("/bank-transactions/reload", bankHandler.Reload)
		api.GET("/reconciliation/status", bankHandler.Status)

		if s.reporter != nil {
			reportsHandler := handlers.NewReportsHandler(s.reporter, s.logger)
			api.GET("/reconciliation/report", reportsHandler.Get)
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin engine for testing.
func (s *Server) Router() http.Handler {
	return s.router
}

// useJSONFieldNames makes binding errors name fields the way clients send
// them.
func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
}
