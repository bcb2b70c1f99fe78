package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nsauth/datasrc/internal/builder"
)

// ServerConfig holds the configuration for the HTTP management server.
type ServerConfig struct {
	Listen    string
	AuthToken string // Bearer token; empty disables auth.
}

// Server is the HTTP management API server.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
}

// NewServer creates a new HTTP management server wired to bld.
func NewServer(cfg ServerConfig, bld *builder.Builder) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware())

	// Public endpoints (no auth).
	engine.GET("/health", HealthHandler)
	engine.GET("/status", StatusHandler)

	// Authenticated command-submission endpoints.
	cmdGroup := engine.Group("/commands")
	cmdGroup.Use(AuthMiddleware(cfg.AuthToken))
	{
		h := NewCommandHandler(bld)
		cmdGroup.POST("/reconfigure", h.Reconfigure)
		cmdGroup.POST("/loadzone", h.LoadZone)
		cmdGroup.POST("/updatezone", h.UpdateZone)
		cmdGroup.POST("/segment-info-update", h.SegmentInfoUpdate)
		cmdGroup.POST("/release-segments", h.ReleaseSegments)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Listen,
			Handler: engine,
		},
		engine: engine,
	}
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	slog.Info("HTTP management server starting", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server with a 5-second deadline.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}

// Engine returns the underlying Gin engine (useful for testing).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
