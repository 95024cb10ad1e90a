package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/projectpulse/internal/alert"
	"github.com/projectpulse/internal/auth"
	"github.com/projectpulse/internal/cache"
	"github.com/projectpulse/internal/engine"
	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/report"
	"github.com/projectpulse/internal/scheduler"
	"github.com/projectpulse/internal/store"
	"github.com/projectpulse/internal/visibility"
)

type Deps struct {
	Store     store.Store
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Policies  alert.PolicySource
	Cache     cache.ScoreCache
	JWTSecret string
	Logger    *zap.Logger
	// ReportStates limits the portfolio report; empty means every project.
	ReportStates []models.ProjectState
}

type Server struct {
	store        store.Store
	engine       *engine.Engine
	scheduler    *scheduler.Scheduler
	policies     alert.PolicySource
	cache        cache.ScoreCache
	filter       *visibility.Filter
	reports      *report.ReportGenerator
	reportStates []models.ProjectState
	jwtSecret    string
	logger       *zap.Logger
	router       *gin.Engine
	httpServer   *http.Server
	now          func() time.Time
}

func NewServer(d Deps) *Server {
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	server := &Server{
		store:        d.Store,
		engine:       d.Engine,
		scheduler:    d.Scheduler,
		policies:     d.Policies,
		cache:        d.Cache,
		filter:       visibility.New(),
		reports:      report.NewReportGenerator(d.Store),
		reportStates: d.ReportStates,
		jwtSecret:    d.JWTSecret,
		logger:       d.Logger.Named("api"),
		router:       gin.New(),
		now:          time.Now,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), requestLogger(s.logger))

	// Public routes
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected routes (require authentication)
	api := s.router.Group("/api/v1")
	api.Use(auth.AuthMiddleware(s.jwtSecret))

	api.POST("/evaluate/:projectId", s.triggerEvaluation)
	api.GET("/evaluations/:handle", s.getEvaluation)

	api.GET("/scores/:projectId", s.getScore)
	api.GET("/scores/:projectId/history", s.getScoreHistory)

	api.GET("/alerts/summary", auth.RequireRole(models.RoleAdmin), s.alertSummary)
	api.GET("/alerts/:projectId", s.listAlerts)
	api.POST("/alerts/:alertId/acknowledge", s.acknowledgeAlert)

	// Admin endpoints
	admin := api.Group("")
	admin.Use(auth.RequireRole(models.RoleAdmin))
	admin.GET("/policy", s.getPolicy)
	admin.POST("/policy/validate", s.validatePolicy)
	admin.POST("/policy/reload", s.reloadPolicy)
	admin.GET("/reports/portfolio", s.portfolioReport)
	admin.POST("/projects/import", s.importProjects)
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server starting", zap.Int("port", port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorStatus maps domain sentinels to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scheduler.ErrUnknownHandle):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrConcurrentEvaluation), errors.Is(err, alert.ErrAlertResolved):
		return http.StatusConflict
	case store.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	msg := err.Error()
	if status == http.StatusNotFound {
		msg = "not found"
	}
	c.JSON(status, gin.H{"error": msg})
}
