package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/erarta/api.c0r.ai/internal/config"
	"github.com/erarta/api.c0r.ai/internal/handler"
	"github.com/erarta/api.c0r.ai/internal/metrics"
	"github.com/erarta/api.c0r.ai/internal/repository"
	"github.com/erarta/api.c0r.ai/internal/service"
	"github.com/erarta/api.c0r.ai/internal/vision"
)

type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	log        *zap.Logger
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	store, err := repository.NewS3Repository(ctx, &cfg.S3, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 repository: %w", err)
	}

	recorder, err := newUsageRecorder(cfg, log)
	if err != nil {
		return nil, err
	}

	analyzer := vision.NewClient(&cfg.Vision, log)
	analysisService := service.NewAnalysisService(store, analyzer, recorder, log)
	h := handler.NewHandler(analysisService, cfg.App.MaxUploadSize, log)

	server := &Server{
		httpServer: &http.Server{
			Addr:           cfg.Addr(),
			Handler:        NewRouter(h, log),
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   90 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		cfg: cfg,
		log: log,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("usage_backend", cfg.Datastore.Backend))

	return server, nil
}

func newUsageRecorder(cfg *config.Config, log *zap.Logger) (repository.UsageRecorder, error) {
	switch cfg.Datastore.Backend {
	case config.UsageBackendPostgres:
		recorder, err := repository.NewPostgresUsageRecorder(cfg.Datastore.DSN, cfg.Vision.Model, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage recorder: %w", err)
		}
		return recorder, nil
	default:
		return repository.NewRestUsageRecorder(&cfg.Datastore, cfg.Vision.Model, log), nil
	}
}

// NewRouter registers the public routes on a fresh gin engine.
func NewRouter(h *handler.Handler, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", h.Analyze)
	}

	return router
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		metrics.RequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), strconv.Itoa(status)).Inc()
		log.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) Run() error {
	s.log.Info("Server is running",
		zap.String("host", s.cfg.Server.Host),
		zap.String("port", s.cfg.Server.Port),
		zap.String("address", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}
