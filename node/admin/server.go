package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ringmesh/ringmesh/pkg/log"
)

// KV is the local key-value interface exposed on the admin API. Writes
// apply locally and propagate to the rest of the cluster via gossip.
type KV interface {
	Put(key, value string)
	Get(key string) (string, bool)
	Delete(key string)
}

// Handler registers status routes exposing the state of a component.
type Handler interface {
	// Register registers routes on the given group for the handler.
	Register(group *gin.RouterGroup)
}

// Server is the admin HTTP server, which exposes endpoints for metrics,
// health, the key-value store and inspecting the node status.
type Server struct {
	kv KV

	registry *prometheus.Registry

	httpServer *http.Server

	router *gin.Engine

	logger log.Logger
}

func NewServer(
	kv KV,
	registry *prometheus.Registry,
	logger log.Logger,
) *Server {
	logger = logger.WithSubsystem("admin")

	router := gin.New()
	server := &Server{
		kv:       kv,
		registry: registry,
		httpServer: &http.Server{
			Handler:  router,
			ErrorLog: logger.StdLogger(zapcore.WarnLevel),
		},
		router: router,
		logger: logger,
	}

	// Recover from panics.
	router.Use(gin.CustomRecoveryWithWriter(nil, server.panicRoute))

	server.registerRoutes(router)

	return server
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info(
		"starting admin server",
		zap.String("addr", ln.Addr().String()),
	)

	err := s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown attempts to gracefully shutdown the server by waiting for
// pending requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// AddStatus registers a status handler under /status/<route>.
func (s *Server) AddStatus(route string, handler Handler) {
	group := s.router.Group("/status").Group(route)
	handler.Register(group)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.healthRoute)

	if s.registry != nil {
		router.GET("/metrics", s.metricsHandler())
	}

	if s.kv != nil {
		kv := router.Group("/kv")
		kv.GET("/:key", s.getKeyRoute)
		kv.PUT("/:key", s.putKeyRoute)
		kv.DELETE("/:key", s.deleteKeyRoute)
	}
}

func (s *Server) healthRoute(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) getKeyRoute(c *gin.Context) {
	key := c.Param("key")
	value, ok := s.kv.Get(key)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
	})
}

func (s *Server) putKeyRoute(c *gin.Context) {
	key := c.Param("key")
	value, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	s.kv.Put(key, string(value))
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteKeyRoute(c *gin.Context) {
	key := c.Param("key")
	s.kv.Delete(key)
	c.Status(http.StatusNoContent)
}

func (s *Server) panicRoute(c *gin.Context, err any) {
	s.logger.Error(
		"handler panic",
		zap.String("path", c.FullPath()),
		zap.Any("err", err),
	)
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (s *Server) metricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{Registry: s.registry},
	)
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func init() {
	// Disable Gin debug logs.
	gin.SetMode(gin.ReleaseMode)
}
