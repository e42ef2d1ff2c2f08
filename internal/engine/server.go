package engine

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServerOpts configures the engine's local HTTP surface. The consume
// endpoint exists for single-process testing: it pushes a message body
// through the same path a queue delivery takes.
type ServerOpts struct {
	Port   int
	Secret string
}

// StartServer launches the local endpoint. It blocks until ctx is
// cancelled, then shuts down gracefully.
func (w *Worker) StartServer(ctx context.Context, opts ServerOpts) error {
	if opts.Secret == "" {
		return fmt.Errorf("engine: consume secret is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8081
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	w.registerRoutes(router, opts.Secret)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("engine: serve: %w", err)
	}
	return nil
}

func (w *Worker) registerRoutes(router *gin.Engine, secret string) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "service": "signalbox-engine"})
	})

	router.POST("/__queue/consume", func(c *gin.Context) {
		provided := c.GetHeader("x-shared-secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		outcome := w.HandleMessage(c.Request.Context(), body)
		if outcome == OutcomeRetry {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "outcome": string(OutcomeRetry)})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "outcome": string(outcome)})
	})
}
