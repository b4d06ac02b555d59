// Package server exposes the diagnostics HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"graphdoctor/src/logger"
	"graphdoctor/src/service"
)

// Server wraps the gin engine and its listener lifecycle.
type Server struct {
	svc    *service.Service
	log    logger.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds the router. registry backs the /metrics endpoint.
func New(svc *service.Service, registry *prometheus.Registry, log logger.Logger, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		svc:    svc,
		log:    log,
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/history", s.handleHistory)
		v1.GET("/health", s.handleHealth)
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/chat", s.handleChat)
		v1.POST("/history/status", s.handleHistoryStatus)
		v1.POST("/verify", s.handleVerify)
		v1.POST("/models", s.handleModels)
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening on %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
