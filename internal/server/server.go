package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"connector-queue-manager/api"
	"connector-queue-manager/internal/config"
	"connector-queue-manager/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	requestTimeout    = 30 * time.Second
	readHeaderTimeout = 5 * time.Second
)

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	svc    api.ConnectorService
	http   *http.Server
	logger *slog.Logger
}

// New builds the HTTP server. svc may be nil, in which case only the
// health and metrics endpoints answer successfully.
func New(cfg config.Config, svc api.ConnectorService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger), middleware.CORS(), middleware.Timeout(requestTimeout))

	s := &Server{
		engine: r,
		cfg:    cfg,
		svc:    svc,
		logger: logger.With("component", "server"),
	}

	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.RegisterRoutes(r, svc, cfg.ExpectedBrokerVersion)

	return s
}

// health reports 200 while the broker connection is up and 503 otherwise
func (s *Server) health(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	hs := s.svc.Health()
	if !hs.OK {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "broker": hs.Details})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "broker": hs.Details})
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("http listening", "addr", s.cfg.Addr())
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Engine returns the underlying Gin engine (for testing)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
