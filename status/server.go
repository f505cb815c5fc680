// Package status serves read-only diagnostics for the node: health, the
// current reports, Prometheus metrics and a live stream of writes.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Uranury/hommie-node/report"
)

type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Session is the part of the backend session the health endpoint reports on.
type Session interface {
	Authenticated() bool
}

type Server struct {
	cfg     Config
	handler http.Handler
	srv     *http.Server
	logger  *zap.SugaredLogger
}

func NewServer(cfg Config, state *report.State, session Session, reg *prometheus.Registry, hub *Hub, logger *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		authenticated := session.Authenticated()
		code := http.StatusOK
		if !authenticated {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"authenticated": authenticated,
			"last_publish":  state.LastPublish(),
		})
	})
	r.GET("/api/v1/reports", func(c *gin.Context) {
		c.JSON(http.StatusOK, state.Snapshot())
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	r.GET("/ws", hub.handleWebSocket)

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)

	return &Server{
		cfg:     cfg,
		handler: handler,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves in the background; listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Infow("Status server starting", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Status server stopped", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugw("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
