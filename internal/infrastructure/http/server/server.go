package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"
	"github.com/niciki/system-design/internal/infrastructure/http/handlers"
	"github.com/niciki/system-design/internal/infrastructure/http/middleware"
	"github.com/niciki/system-design/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(
	orderHandler *handlers.OrderHandler,
	identity repository.IdentityProvider,
	metrics observability.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Error("Failed to set trusted proxies", zap.Error(err))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(metrics))
	r.Use(gin.Recovery())

	server := &Server{
		logger: logger,
		router: r,
	}
	server.setupRoutes(orderHandler, identity, gatherer)
	return server
}

func (s *Server) setupRoutes(orderHandler *handlers.OrderHandler, identity repository.IdentityProvider, gatherer prometheus.Gatherer) {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(observability.Handler(gatherer)))

	orders := s.router.Group("/orders", middleware.Auth(identity, s.logger))
	clientOnly := middleware.RequireRole(model.RoleClient)

	orders.POST("", clientOnly, orderHandler.Create)
	orders.GET("", clientOnly, orderHandler.List)
	orders.GET("/:order_id", orderHandler.Get)
	orders.PUT("/:order_id/status", orderHandler.UpdateStatus)
	orders.DELETE("/:order_id", clientOnly, orderHandler.Delete)
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
