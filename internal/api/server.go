// Package api serves the published network snapshot over HTTP and a
// websocket feed, plus the admin goal routes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/store"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/internal/core/service"
	"github.com/TeneoProtocolAI/agent-network/internal/observability"
)

// Scheduler is the part of service.Scheduler the API drives.
type Scheduler interface {
	Trigger() bool
	Last() (*service.RunResult, error)
	Runs() int
}

// History lists archived snapshots.
type History interface {
	Recent(ctx context.Context, limit int) ([]store.ArchivedSnapshot, error)
}

type Options struct {
	Store     domain.SnapshotStore
	Scheduler Scheduler
	History   History // optional
	Feed      *Feed   // optional
	Metrics   *observability.Metrics

	// AdminSecret signs admin tokens. Admin routes are not mounted when empty.
	AdminSecret string
	Now         func() time.Time
}

type Server struct {
	opts   Options
	router *gin.Engine
	srv    *http.Server
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts}
	s.router = s.newRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          10 * time.Minute,
	}))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))

	network := r.Group("/api/network")
	{
		network.GET("", s.network)
		network.GET("/swaps", s.swaps)
		network.GET("/trigger", s.trigger)
		network.GET("/history", s.history)
		if s.opts.Feed != nil {
			network.GET("/ws", s.opts.Feed.Serve)
		}
	}

	if s.opts.AdminSecret != "" {
		admin := r.Group("/api/admin", requireAdmin(s.opts.AdminSecret))
		{
			admin.GET("/goal", s.getGoal)
			admin.PUT("/goal", s.putGoal)
			admin.DELETE("/goal", s.deleteGoal)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes the feed and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Feed != nil {
		s.opts.Feed.Close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
