// Package controlplane implements the HTTP facade: repo registration,
// run submission with the idempotency protocol, and read projections.
package controlplane

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/arasmith/signalbox/internal/config"
	"github.com/arasmith/signalbox/internal/queue"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Server holds the control plane's dependencies.
type Server struct {
	db    *gorm.DB
	queue queue.Publisher
	cfg   *config.Config
}

// New builds a Server.
func New(db *gorm.DB, q queue.Publisher, cfg *config.Config) *Server {
	return &Server{db: db, queue: q, cfg: cfg}
}

// Router assembles the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "service": s.cfg.Service})
	})

	v1 := router.Group("/v1", requireBearer(s.cfg.Auth.APIToken))
	v1.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "message": "pong"})
	})
	v1.POST("/repos", s.handleRegisterRepo)
	v1.GET("/repos", s.handleListRepos)
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)

	return router
}

// Start launches the control plane HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	if port <= 0 {
		port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("controlplane: serve: %w", err)
	}
	return nil
}

// requireBearer guards a route group with a shared bearer token.
func requireBearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
